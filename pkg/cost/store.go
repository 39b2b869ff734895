package cost

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/cleargate/vantage/pkg/contracts"
)

// MemoryStore keeps counters in memory for tests and the dev binary.
type MemoryStore struct {
	mu     sync.Mutex
	usage  map[DayKey]*Usage
	limits map[string]Limits
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		usage:  make(map[DayKey]*Usage),
		limits: make(map[string]Limits),
	}
}

func (s *MemoryStore) Add(_ context.Context, key DayKey, providerID string, check contracts.CheckType, spentCents, savedCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.usage[key]
	if u == nil {
		u = &Usage{
			TenantID:   key.TenantID,
			Day:        key.Day,
			ByProvider: make(map[string]int64),
			ByCheck:    make(map[contracts.CheckType]int64),
		}
		s.usage[key] = u
	}
	u.SpentCents += spentCents
	u.SavedCents += savedCents
	if spentCents > 0 {
		u.ByProvider[providerID] += spentCents
		u.ByCheck[check] += spentCents
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key DayKey) (*Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.usage[key]
	if u == nil {
		return nil, nil
	}
	cp := *u
	cp.ByProvider = make(map[string]int64, len(u.ByProvider))
	for k, v := range u.ByProvider {
		cp.ByProvider[k] = v
	}
	cp.ByCheck = make(map[contracts.CheckType]int64, len(u.ByCheck))
	for k, v := range u.ByCheck {
		cp.ByCheck[k] = v
	}
	return &cp, nil
}

func (s *MemoryStore) Limits(_ context.Context, tenantID string) (Limits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limits[tenantID], nil
}

func (s *MemoryStore) SetLimits(_ context.Context, tenantID string, l Limits) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[tenantID] = l
	return nil
}

func (s *MemoryStore) MonthToDate(_ context.Context, tenantID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := now.UTC().Format("2006-01")
	var total int64
	for key, u := range s.usage {
		if key.TenantID == tenantID && strings.HasPrefix(key.Day, prefix) {
			total += u.SpentCents
		}
	}
	return total, nil
}

// PostgresStore persists counters with upserts; increments are atomic at
// the row level.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate ensures the cost tables exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cost_usage (
			tenant_id   TEXT NOT NULL,
			day         TEXT NOT NULL,
			spent_cents BIGINT NOT NULL DEFAULT 0,
			saved_cents BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant_id, day)
		)`,
		`CREATE TABLE IF NOT EXISTS cost_breakdown (
			tenant_id   TEXT NOT NULL,
			day         TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			check_type  TEXT NOT NULL,
			spent_cents BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant_id, day, provider_id, check_type)
		)`,
		`CREATE TABLE IF NOT EXISTS cost_limits (
			tenant_id           TEXT PRIMARY KEY,
			daily_warn_cents    BIGINT NOT NULL DEFAULT 0,
			monthly_warn_cents  BIGINT NOT NULL DEFAULT 0,
			daily_ceiling_cents BIGINT NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("cost migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Add(ctx context.Context, key DayKey, providerID string, check contracts.CheckType, spentCents, savedCents int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_usage (tenant_id, day, spent_cents, saved_cents)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, day) DO UPDATE SET
			spent_cents = cost_usage.spent_cents + EXCLUDED.spent_cents,
			saved_cents = cost_usage.saved_cents + EXCLUDED.saved_cents`,
		key.TenantID, key.Day, spentCents, savedCents)
	if err != nil {
		return fmt.Errorf("cost: upsert usage: %w", err)
	}
	if spentCents > 0 {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO cost_breakdown (tenant_id, day, provider_id, check_type, spent_cents)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (tenant_id, day, provider_id, check_type) DO UPDATE SET
				spent_cents = cost_breakdown.spent_cents + EXCLUDED.spent_cents`,
			key.TenantID, key.Day, providerID, string(check), spentCents)
		if err != nil {
			return fmt.Errorf("cost: upsert breakdown: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key DayKey) (*Usage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT spent_cents, saved_cents FROM cost_usage WHERE tenant_id = $1 AND day = $2`,
		key.TenantID, key.Day)
	u := &Usage{
		TenantID:   key.TenantID,
		Day:        key.Day,
		ByProvider: make(map[string]int64),
		ByCheck:    make(map[contracts.CheckType]int64),
	}
	err := row.Scan(&u.SpentCents, &u.SavedCents)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cost: get usage: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT provider_id, check_type, spent_cents FROM cost_breakdown WHERE tenant_id = $1 AND day = $2`,
		key.TenantID, key.Day)
	if err != nil {
		return nil, fmt.Errorf("cost: get breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var provider, check string
		var cents int64
		if err := rows.Scan(&provider, &check, &cents); err != nil {
			return nil, fmt.Errorf("cost: scan breakdown: %w", err)
		}
		u.ByProvider[provider] += cents
		u.ByCheck[contracts.CheckType(check)] += cents
	}
	return u, rows.Err()
}

func (s *PostgresStore) Limits(ctx context.Context, tenantID string) (Limits, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT daily_warn_cents, monthly_warn_cents, daily_ceiling_cents FROM cost_limits WHERE tenant_id = $1`,
		tenantID)
	var l Limits
	err := row.Scan(&l.DailyWarnCents, &l.MonthlyWarnCents, &l.DailyCeilingCents)
	if err == sql.ErrNoRows {
		return Limits{}, nil
	}
	if err != nil {
		return Limits{}, fmt.Errorf("cost: get limits: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) SetLimits(ctx context.Context, tenantID string, l Limits) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_limits (tenant_id, daily_warn_cents, monthly_warn_cents, daily_ceiling_cents)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id) DO UPDATE SET
			daily_warn_cents = EXCLUDED.daily_warn_cents,
			monthly_warn_cents = EXCLUDED.monthly_warn_cents,
			daily_ceiling_cents = EXCLUDED.daily_ceiling_cents`,
		tenantID, l.DailyWarnCents, l.MonthlyWarnCents, l.DailyCeilingCents)
	if err != nil {
		return fmt.Errorf("cost: set limits: %w", err)
	}
	return nil
}

func (s *PostgresStore) MonthToDate(ctx context.Context, tenantID string, now time.Time) (int64, error) {
	prefix := now.UTC().Format("2006-01") + "%"
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(spent_cents), 0) FROM cost_usage WHERE tenant_id = $1 AND day LIKE $2`,
		tenantID, prefix)
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("cost: month to date: %w", err)
	}
	return total, nil
}
