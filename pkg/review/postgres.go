package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cleargate/vantage/pkg/faults"
)

// PostgresStore is the production task store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the schema if absent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS review_tasks (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			candidate_id TEXT NOT NULL DEFAULT '',
			score DOUBLE PRECISION NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			payload JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			decided_at TIMESTAMPTZ,
			decided_by TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT ''
		)`)
	if err != nil {
		return fmt.Errorf("review migrate: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS review_tasks_open ON review_tasks (tenant_id, status, created_at)`)
	if err != nil {
		return fmt.Errorf("review migrate index: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, t *Task) error {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return faults.Wrap(faults.KindDataIntegrity, "review.insert", "payload not serializable", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO review_tasks (id, tenant_id, kind, status, entity_id, candidate_id, score, reason, payload, created_at, decided_by, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '', '')`,
		t.ID, t.TenantID, t.Kind, t.Status, t.EntityID, t.CandidateID, t.Score, t.Reason, payload, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("review insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, kind, status, entity_id, candidate_id, score, reason, payload, created_at, decided_at, decided_by, note
		FROM review_tasks
		WHERE id = $1 AND tenant_id = $2`,
		id, tenantID)
	return scanTask(row)
}

func (s *PostgresStore) Open(ctx context.Context, tenantID string, kind Kind, limit int) ([]*Task, error) {
	query := `
		SELECT id, tenant_id, kind, status, entity_id, candidate_id, score, reason, payload, created_at, decided_at, decided_by, note
		FROM review_tasks
		WHERE tenant_id = $1 AND status = $2 AND ($3 = '' OR kind = $3)
		ORDER BY created_at ASC, id ASC
		LIMIT $4`
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, query, tenantID, StatusOpen, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("review open: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, t *Task) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE review_tasks
		SET status = $3, decided_at = $4, decided_by = $5, note = $6
		WHERE id = $1 AND tenant_id = $2`,
		t.ID, t.TenantID, t.Status, t.DecidedAt, t.DecidedBy, t.Note)
	if err != nil {
		return fmt.Errorf("review update: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return faults.New(faults.KindNotFound, "review.update", "task not found")
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t       Task
		payload []byte
		decided sql.NullTime
	)
	err := row.Scan(&t.ID, &t.TenantID, &t.Kind, &t.Status, &t.EntityID, &t.CandidateID,
		&t.Score, &t.Reason, &payload, &t.CreatedAt, &decided, &t.DecidedBy, &t.Note)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.New(faults.KindNotFound, "review.get", "task not found")
	}
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if jerr := json.Unmarshal(payload, &t.Payload); jerr != nil {
			return nil, faults.Wrap(faults.KindDataIntegrity, "review.get", "corrupt task payload", jerr)
		}
	}
	if decided.Valid {
		t.DecidedAt = decided.Time
	}
	return &t, nil
}
