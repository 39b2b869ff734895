package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cleargate/vantage/pkg/faults"
)

// PostgresStore is the production request store.
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
		CREATE TABLE IF NOT EXISTS screening_requests (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			idempotency_key TEXT NOT NULL DEFAULT '',
			employee_ref TEXT NOT NULL DEFAULT '',
			subject JSONB NOT NULL,
			locale TEXT NOT NULL,
			role TEXT NOT NULL,
			tier TEXT NOT NULL,
			degree TEXT NOT NULL,
			vigilance TEXT NOT NULL,
			callback_url TEXT NOT NULL DEFAULT '',
			priority INT NOT NULL DEFAULT 0,
			trigger_kind TEXT NOT NULL,
			budget_cents BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			entity_id TEXT NOT NULL DEFAULT '',
			profile_id TEXT NOT NULL DEFAULT '',
			risk_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			risk_level TEXT NOT NULL DEFAULT '',
			partial BOOLEAN NOT NULL DEFAULT FALSE,
			failure_code TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("orchestrator migrate: %w", err)
	}
	for _, idx := range []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS screening_requests_idem ON screening_requests (tenant_id, idempotency_key) WHERE idempotency_key <> ''`,
		`CREATE INDEX IF NOT EXISTS screening_requests_employee ON screening_requests (tenant_id, employee_ref, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS screening_requests_list ON screening_requests (tenant_id, status, created_at DESC)`,
	} {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("orchestrator migrate index: %w", err)
		}
	}
	return nil
}

const requestColumns = `id, tenant_id, idempotency_key, employee_ref, subject, locale, role, tier, degree, vigilance,
	callback_url, priority, trigger_kind, budget_cents, status, entity_id, profile_id, risk_score, risk_level,
	partial, failure_code, created_at, updated_at`

func (s *PostgresStore) Insert(ctx context.Context, r *Request) error {
	subject, err := json.Marshal(r.Subject)
	if err != nil {
		return faults.Wrap(faults.KindDataIntegrity, "orchestrator.store.insert", "subject not serializable", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO screening_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		r.ID, r.TenantID, r.IdempotencyKey, r.EmployeeRef, subject, r.Locale, r.Role, r.Tier, r.Degree, r.Vigilance,
		r.CallbackURL, r.Priority, r.Trigger, r.BudgetCents, r.Status, r.EntityID, r.ProfileID, r.RiskScore, r.RiskLevel,
		r.Partial, r.FailureCode, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("orchestrator insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, r *Request) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE screening_requests
		SET status = $3, entity_id = $4, profile_id = $5, risk_score = $6, risk_level = $7,
			partial = $8, failure_code = $9, updated_at = $10
		WHERE id = $1 AND tenant_id = $2`,
		r.ID, r.TenantID, r.Status, r.EntityID, r.ProfileID, r.RiskScore, r.RiskLevel,
		r.Partial, r.FailureCode, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("orchestrator update: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return faults.New(faults.KindNotFound, "orchestrator.store.update", "request not found")
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM screening_requests
		WHERE id = $1 AND tenant_id = $2`,
		id, tenantID)
	return scanRequest(row)
}

func (s *PostgresStore) ByIdempotencyKey(ctx context.Context, tenantID, key string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM screening_requests
		WHERE tenant_id = $1 AND idempotency_key = $2`,
		tenantID, key)
	return scanRequest(row)
}

func (s *PostgresStore) ByEmployee(ctx context.Context, tenantID, employeeRef string) ([]*Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM screening_requests
		WHERE tenant_id = $1 AND employee_ref = $2
		ORDER BY created_at DESC, id DESC`,
		tenantID, employeeRef)
	if err != nil {
		return nil, fmt.Errorf("orchestrator by employee: %w", err)
	}
	return collectRequests(rows)
}

func (s *PostgresStore) List(ctx context.Context, tenantID string, f ListFilter) ([]*Request, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM screening_requests
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		tenantID, string(f.Status), limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("orchestrator list: %w", err)
	}
	return collectRequests(rows)
}

func collectRequests(rows *sql.Rows) ([]*Request, error) {
	defer func() { _ = rows.Close() }()
	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var (
		r       Request
		subject []byte
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.IdempotencyKey, &r.EmployeeRef, &subject, &r.Locale, &r.Role, &r.Tier,
		&r.Degree, &r.Vigilance, &r.CallbackURL, &r.Priority, &r.Trigger, &r.BudgetCents, &r.Status, &r.EntityID,
		&r.ProfileID, &r.RiskScore, &r.RiskLevel, &r.Partial, &r.FailureCode, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.New(faults.KindNotFound, "orchestrator.store.get", "request not found")
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(subject, &r.Subject); err != nil {
		return nil, faults.Wrap(faults.KindDataIntegrity, "orchestrator.store.get", "corrupt subject", err)
	}
	return &r, nil
}
