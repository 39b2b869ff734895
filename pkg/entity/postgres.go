package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/faults"
)

// PostgresStore is the production entity store. Profiles and merge
// records are stored as JSONB documents; identifiers and relationships
// are relational so the resolver and graph can query them directly.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the schema if absent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			data_origin TEXT NOT NULL,
			names JSONB NOT NULL DEFAULT '[]',
			date_of_birth TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			merged_into TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS entities_tenant_kind ON entities (tenant_id, kind)`,
		`CREATE TABLE IF NOT EXISTS entity_identifiers (
			entity_id TEXT NOT NULL REFERENCES entities(id),
			tenant_id TEXT NOT NULL,
			type TEXT NOT NULL,
			value TEXT NOT NULL,
			normalized TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			source TEXT NOT NULL,
			first_seen TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (entity_id, type, normalized)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS identifiers_strong
			ON entity_identifiers (tenant_id, type, normalized)
			WHERE type IN ('ssn', 'ein', 'passport')`,
		`CREATE TABLE IF NOT EXISTS entity_relationships (
			tenant_id TEXT NOT NULL,
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			strength DOUBLE PRECISION NOT NULL,
			first_seen TIMESTAMPTZ NOT NULL,
			sources JSONB NOT NULL DEFAULT '[]',
			PRIMARY KEY (tenant_id, from_id, to_id, kind)
		)`,
		`CREATE INDEX IF NOT EXISTS relationships_to ON entity_relationships (tenant_id, to_id)`,
		`CREATE TABLE IF NOT EXISTS entity_duplicates (
			tenant_id TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			candidate_id TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, entity_id, candidate_id)
		)`,
		`CREATE TABLE IF NOT EXISTS entity_profiles (
			entity_id TEXT NOT NULL REFERENCES entities(id),
			tenant_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			doc JSONB NOT NULL,
			PRIMARY KEY (entity_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS entity_merges (
			tenant_id TEXT NOT NULL,
			canonical_id TEXT NOT NULL,
			absorbed_id TEXT NOT NULL,
			doc JSONB NOT NULL,
			PRIMARY KEY (tenant_id, canonical_id, absorbed_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("entity migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateEntity(ctx context.Context, e *Entity) error {
	names, _ := json.Marshal(e.Names)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("entity create: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO entities (id, tenant_id, kind, data_origin, names, date_of_birth, address, merged_into, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, '', $8)`,
		e.ID, e.TenantID, e.Kind, e.DataOrigin, names, e.DateOfBirth, e.Address, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("entity create: %w", err)
	}
	for _, ident := range e.Identifiers {
		if err := insertIdentifier(ctx, tx, e.TenantID, ident); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("entity create: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEntity(ctx context.Context, tenantID, id string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, kind, data_origin, names, date_of_birth, address, merged_into, created_at
		 FROM entities WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	e, err := scanEntity(row)
	if err != nil {
		return nil, err
	}
	idents, err := s.identifiers(ctx, tenantID, e.ID)
	if err != nil {
		return nil, err
	}
	e.Identifiers = idents
	return e, nil
}

func (s *PostgresStore) UpdateEntity(ctx context.Context, e *Entity) error {
	names, _ := json.Marshal(e.Names)
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET names = $1, date_of_birth = $2, address = $3, merged_into = $4
		 WHERE id = $5 AND tenant_id = $6`,
		names, e.DateOfBirth, e.Address, e.MergedInto, e.ID, e.TenantID)
	if err != nil {
		return fmt.Errorf("entity update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.New(faults.KindNotFound, "entity.update", "entity not found")
	}
	return nil
}

func (s *PostgresStore) ListEntities(ctx context.Context, tenantID string, kind Kind) ([]*Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, kind, data_origin, names, date_of_birth, address, merged_into, created_at
		 FROM entities WHERE tenant_id = $1 AND kind = $2 AND merged_into = ''`, tenantID, kind)
	if err != nil {
		return nil, fmt.Errorf("entity list: %w", err)
	}
	defer rows.Close()
	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindByStrongIdentifier(ctx context.Context, tenantID string, typ contracts.IdentifierType, normalized string) (*Entity, error) {
	if !typ.Strong() {
		return nil, faults.New(faults.KindValidation, "entity.find_strong", "identifier type is not strong")
	}
	var entityID string
	err := s.db.QueryRowContext(ctx,
		`SELECT entity_id FROM entity_identifiers
		 WHERE tenant_id = $1 AND type = $2 AND normalized = $3`,
		tenantID, typ, normalized).Scan(&entityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("entity find strong: %w", err)
	}
	// Follow the merge chain to the live canonical entity.
	for {
		e, err := s.GetEntity(ctx, tenantID, entityID)
		if err != nil {
			return nil, err
		}
		if e.MergedInto == "" {
			return e, nil
		}
		entityID = e.MergedInto
	}
}

func (s *PostgresStore) AddIdentifier(ctx context.Context, tenantID string, ident Identifier) error {
	return insertIdentifier(ctx, s.db, tenantID, ident)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertIdentifier(ctx context.Context, db execer, tenantID string, ident Identifier) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO entity_identifiers (entity_id, tenant_id, type, value, normalized, confidence, source, first_seen)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (entity_id, type, normalized) DO UPDATE
		 SET confidence = GREATEST(entity_identifiers.confidence, EXCLUDED.confidence)`,
		ident.EntityID, tenantID, ident.Type, ident.Value, ident.Normalized,
		ident.Confidence, ident.Source, ident.FirstSeen)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return faults.New(faults.KindDataIntegrity, "entity.add_identifier",
			"strong identifier already bound to another entity")
	}
	if err != nil {
		return fmt.Errorf("entity add identifier: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddRelationship(ctx context.Context, tenantID string, rel Relationship) error {
	sources, _ := json.Marshal(rel.Sources)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_relationships (tenant_id, from_id, to_id, kind, strength, first_seen, sources)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tenant_id, from_id, to_id, kind) DO UPDATE
		 SET strength = GREATEST(entity_relationships.strength, EXCLUDED.strength),
		     sources = (
		       SELECT jsonb_agg(DISTINCT x) FROM jsonb_array_elements(entity_relationships.sources || EXCLUDED.sources) AS t(x)
		     )`,
		tenantID, rel.FromID, rel.ToID, rel.Kind, rel.Strength, rel.FirstSeen, sources)
	if err != nil {
		return fmt.Errorf("entity add relationship: %w", err)
	}
	return nil
}

func (s *PostgresStore) Relationships(ctx context.Context, tenantID, entityID string) ([]Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_id, to_id, kind, strength, first_seen, sources
		 FROM entity_relationships
		 WHERE tenant_id = $1 AND (from_id = $2 OR to_id = $2)`, tenantID, entityID)
	if err != nil {
		return nil, fmt.Errorf("entity relationships: %w", err)
	}
	defer rows.Close()
	var out []Relationship
	for rows.Next() {
		var rel Relationship
		var sources []byte
		if err := rows.Scan(&rel.FromID, &rel.ToID, &rel.Kind, &rel.Strength, &rel.FirstSeen, &sources); err != nil {
			return nil, fmt.Errorf("entity relationships: %w", err)
		}
		_ = json.Unmarshal(sources, &rel.Sources)
		out = append(out, rel)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RemoveRelationships(ctx context.Context, tenantID, entityID string) ([]Relationship, error) {
	removed, err := s.Relationships(ctx, tenantID, entityID)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM entity_relationships WHERE tenant_id = $1 AND (from_id = $2 OR to_id = $2)`,
		tenantID, entityID)
	if err != nil {
		return nil, fmt.Errorf("entity remove relationships: %w", err)
	}
	return removed, nil
}

func (s *PostgresStore) RecordDuplicate(ctx context.Context, tenantID string, d DuplicateCandidate) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_duplicates (tenant_id, entity_id, candidate_id, score, recorded_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_id, entity_id, candidate_id) DO UPDATE SET score = EXCLUDED.score`,
		tenantID, d.EntityID, d.CandidateID, d.Score, d.RecordedAt)
	if err != nil {
		return fmt.Errorf("entity record duplicate: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestProfile(ctx context.Context, tenantID, entityID string) (*Profile, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM entity_profiles
		 WHERE tenant_id = $1 AND entity_id = $2
		 ORDER BY version DESC LIMIT 1`, tenantID, entityID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("entity latest profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, faults.Wrap(faults.KindDataIntegrity, "entity.latest_profile", "corrupt profile document", err)
	}
	return &p, nil
}

// CommitProfile relies on the (entity_id, version) primary key for the
// compare-and-set: a concurrent writer that claimed the same version
// surfaces as a unique violation.
func (s *PostgresStore) CommitProfile(ctx context.Context, tenantID string, p *Profile) error {
	latest, err := s.LatestProfile(ctx, tenantID, p.EntityID)
	if err != nil {
		return err
	}
	want := 1
	if latest != nil {
		want = latest.Version + 1
	}
	if p.Version != want {
		return faults.New(faults.KindConcurrencyConflict, "entity.commit_profile",
			fmt.Sprintf("version conflict: want %d, got %d", want, p.Version))
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("entity commit profile: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entity_profiles (entity_id, tenant_id, version, doc) VALUES ($1, $2, $3, $4)`,
		p.EntityID, tenantID, p.Version, doc)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return faults.New(faults.KindConcurrencyConflict, "entity.commit_profile",
			fmt.Sprintf("version %d already committed", p.Version))
	}
	if err != nil {
		return fmt.Errorf("entity commit profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) Profiles(ctx context.Context, tenantID, entityID string) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM entity_profiles
		 WHERE tenant_id = $1 AND entity_id = $2 ORDER BY version ASC`, tenantID, entityID)
	if err != nil {
		return nil, fmt.Errorf("entity profiles: %w", err)
	}
	defer rows.Close()
	var out []*Profile
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("entity profiles: %w", err)
		}
		var p Profile
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, faults.Wrap(faults.KindDataIntegrity, "entity.profiles", "corrupt profile document", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecordMerge(ctx context.Context, tenantID string, m MergeRecord) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("entity record merge: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entity_merges (tenant_id, canonical_id, absorbed_id, doc)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, canonical_id, absorbed_id) DO UPDATE SET doc = EXCLUDED.doc`,
		tenantID, m.CanonicalID, m.AbsorbedID, doc)
	if err != nil {
		return fmt.Errorf("entity record merge: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMerge(ctx context.Context, tenantID, canonicalID, absorbedID string) (*MergeRecord, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM entity_merges
		 WHERE tenant_id = $1 AND canonical_id = $2 AND absorbed_id = $3`,
		tenantID, canonicalID, absorbedID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.New(faults.KindNotFound, "entity.get_merge", "merge record not found")
	}
	if err != nil {
		return nil, fmt.Errorf("entity get merge: %w", err)
	}
	var m MergeRecord
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, faults.Wrap(faults.KindDataIntegrity, "entity.get_merge", "corrupt merge record", err)
	}
	return &m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	var names []byte
	err := row.Scan(&e.ID, &e.TenantID, &e.Kind, &e.DataOrigin, &names,
		&e.DateOfBirth, &e.Address, &e.MergedInto, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.New(faults.KindNotFound, "entity.get", "entity not found")
	}
	if err != nil {
		return nil, fmt.Errorf("entity scan: %w", err)
	}
	_ = json.Unmarshal(names, &e.Names)
	return &e, nil
}

func (s *PostgresStore) identifiers(ctx context.Context, tenantID, entityID string) ([]Identifier, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, type, value, normalized, confidence, source, first_seen
		 FROM entity_identifiers WHERE tenant_id = $1 AND entity_id = $2`, tenantID, entityID)
	if err != nil {
		return nil, fmt.Errorf("entity identifiers: %w", err)
	}
	defer rows.Close()
	var out []Identifier
	for rows.Next() {
		var ident Identifier
		if err := rows.Scan(&ident.EntityID, &ident.Type, &ident.Value, &ident.Normalized,
			&ident.Confidence, &ident.Source, &ident.FirstSeen); err != nil {
			return nil, fmt.Errorf("entity identifiers: %w", err)
		}
		out = append(out, ident)
	}
	return out, rows.Err()
}
