// Package cost accounts for provider spend per tenant. Counters are kept
// per (tenant, day) with per-provider and per-check breakdowns, plus a
// cache-savings line: what the tenant would have paid had every cache hit
// been a miss. Soft thresholds warn; the hard ceiling is enforced at the
// request context's budget assertion.
package cost

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/contracts"
)

// DayKey buckets counters by UTC day.
type DayKey struct {
	TenantID string
	Day      string // YYYY-MM-DD
}

// DayFor returns the bucket for an instant.
func DayFor(tenantID string, t time.Time) DayKey {
	return DayKey{TenantID: tenantID, Day: t.UTC().Format("2006-01-02")}
}

// Usage is one tenant-day of accounting.
type Usage struct {
	TenantID   string                        `json:"tenant_id"`
	Day        string                        `json:"day"`
	SpentCents int64                         `json:"spent_cents"`
	SavedCents int64                         `json:"saved_cents"` // cache savings
	ByProvider map[string]int64              `json:"by_provider"`
	ByCheck    map[contracts.CheckType]int64 `json:"by_check"`
}

// Limits are a tenant's configured thresholds. Zero means unset.
type Limits struct {
	DailyWarnCents    int64 `json:"daily_warn_cents"`
	MonthlyWarnCents  int64 `json:"monthly_warn_cents"`
	DailyCeilingCents int64 `json:"daily_ceiling_cents"`
}

// Store persists usage counters. Increments must be atomic per tenant-day.
type Store interface {
	Add(ctx context.Context, key DayKey, providerID string, check contracts.CheckType, spentCents, savedCents int64) error
	Get(ctx context.Context, key DayKey) (*Usage, error)
	Limits(ctx context.Context, tenantID string) (Limits, error)
	SetLimits(ctx context.Context, tenantID string, l Limits) error
	// MonthToDate sums spend for the tenant's current UTC month.
	MonthToDate(ctx context.Context, tenantID string, now time.Time) (int64, error)
}

// Service is the cost accounting front end.
type Service struct {
	store Store
	log   *zap.Logger
	clock func() time.Time
}

// NewService creates a cost service.
func NewService(store Store, log *zap.Logger) *Service {
	return &Service{store: store, log: log.Named("cost"), clock: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the clock for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// RecordSpend books a provider call against the tenant and warns on soft
// thresholds. Enforcement of hard per-request ceilings happens earlier at
// the context gate; this is the ledger.
func (s *Service) RecordSpend(ctx context.Context, tenantID, providerID string, check contracts.CheckType, cents int64) error {
	now := s.clock()
	if err := s.store.Add(ctx, DayFor(tenantID, now), providerID, check, cents, 0); err != nil {
		return fmt.Errorf("cost: record spend: %w", err)
	}

	limits, err := s.store.Limits(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("cost: limits: %w", err)
	}
	if limits.DailyWarnCents > 0 {
		usage, err := s.store.Get(ctx, DayFor(tenantID, now))
		if err != nil {
			return err
		}
		if usage != nil && usage.SpentCents >= limits.DailyWarnCents {
			s.log.Warn("daily spend over soft threshold",
				zap.String("tenant", tenantID),
				zap.Int64("spent_cents", usage.SpentCents),
				zap.Int64("warn_cents", limits.DailyWarnCents))
		}
	}
	if limits.MonthlyWarnCents > 0 {
		mtd, err := s.store.MonthToDate(ctx, tenantID, now)
		if err != nil {
			return err
		}
		if mtd >= limits.MonthlyWarnCents {
			s.log.Warn("monthly spend over soft threshold",
				zap.String("tenant", tenantID),
				zap.Int64("month_to_date_cents", mtd),
				zap.Int64("warn_cents", limits.MonthlyWarnCents))
		}
	}
	return nil
}

// RecordSaving books the cost a cache hit avoided.
func (s *Service) RecordSaving(ctx context.Context, tenantID, providerID string, check contracts.CheckType, cents int64) error {
	if err := s.store.Add(ctx, DayFor(tenantID, s.clock()), providerID, check, 0, cents); err != nil {
		return fmt.Errorf("cost: record saving: %w", err)
	}
	return nil
}

// DailyCeiling returns the tenant's hard ceiling, 0 when unset. The
// request context combines this with any per-request budget.
func (s *Service) DailyCeiling(ctx context.Context, tenantID string) (int64, error) {
	limits, err := s.store.Limits(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return limits.DailyCeilingCents, nil
}

// Usage returns the tenant's counters for a day.
func (s *Service) Usage(ctx context.Context, tenantID string, day time.Time) (*Usage, error) {
	return s.store.Get(ctx, DayFor(tenantID, day))
}

// SetLimits updates thresholds.
func (s *Service) SetLimits(ctx context.Context, tenantID string, l Limits) error {
	return s.store.SetLimits(ctx, tenantID, l)
}
