// Package cache implements the tier-aware cache-aside layer for provider
// results. Rows move FRESH -> STALE -> EXPIRED by clock; the tier policy
// decides whether a STALE row is served with a flag or blocked pending
// refresh. Shared-scope lookups never surface customer-provided rows —
// that is a server-side refusal, not a filter.
package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/config"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/faults"
	"github.com/cleargate/vantage/pkg/kms"
)

// Row is one cached provider result. Rows are immutable: a refresh writes
// a new row, it never updates in place.
type Row struct {
	EntityID    string               `json:"entity_id"`
	ProviderID  string               `json:"provider_id"`
	CheckType   contracts.CheckType  `json:"check_type"`
	DataOrigin  contracts.DataOrigin `json:"data_origin"`
	TenantScope string               `json:"tenant_scope,omitempty"` // "" = shared
	AcquiredAt  time.Time            `json:"acquired_at"`
	FreshUntil  time.Time            `json:"fresh_until"`
	StaleUntil  time.Time            `json:"stale_until"` // zero = no stale bound
	RawSealed   kms.Sealed           `json:"raw_sealed"`
	Normalized  map[string]any       `json:"normalized"`
	CostCents   int64                `json:"cost_cents"`
}

// State is the lifecycle position of a row at some instant.
type State string

const (
	StateFresh   State = "FRESH"
	StateStale   State = "STALE"
	StateExpired State = "EXPIRED"
)

// StateAt computes the row's lifecycle state.
func (r *Row) StateAt(now time.Time) State {
	if !now.After(r.FreshUntil) {
		return StateFresh
	}
	if r.StaleUntil.IsZero() || !now.After(r.StaleUntil) {
		return StateStale
	}
	return StateExpired
}

// Key identifies a cache partition row. An empty TenantScope is the
// shared partition.
type Key struct {
	EntityID    string
	CheckType   contracts.CheckType
	TenantScope string
}

// Store persists rows. Concurrent readers; a single writer per key with
// last-writer-wins by acquired_at.
type Store interface {
	Put(ctx context.Context, key Key, row Row) error
	// Latest returns the newest row for the key, or nil.
	Latest(ctx context.Context, key Key) (*Row, error)
	// Discard drops the newest row for a key after an integrity failure.
	Discard(ctx context.Context, key Key) error
}

// Hit is a successful lookup.
type Hit struct {
	Row     *Row
	State   State
	Flagged bool // true when a STALE row was served under USE_AND_FLAG
	Raw     []byte
}

// Cache binds a store, the freshness config, and the key manager.
type Cache struct {
	store Store
	cfg   *config.Config
	keys  kms.Manager
	log   *zap.Logger
	clock func() time.Time

	// refresh is invoked (best-effort, not awaited) when a stale row is
	// served under USE_AND_FLAG. Wired by the gateway.
	refresh func(key Key, providerID string)
}

// New creates the cache layer.
func New(store Store, cfg *config.Config, keys kms.Manager, log *zap.Logger) *Cache {
	return &Cache{
		store: store,
		cfg:   cfg,
		keys:  keys,
		log:   log.Named("cache"),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock for tests.
func (c *Cache) WithClock(clock func() time.Time) *Cache {
	c.clock = clock
	return c
}

// SetRefreshFunc wires the async refresh hook.
func (c *Cache) SetRefreshFunc(fn func(key Key, providerID string)) {
	c.refresh = fn
}

// Lookup resolves a key for a tier. Returns (nil, nil) on miss or when
// policy blocks stale use; faults only on real failures.
func (c *Cache) Lookup(ctx context.Context, key Key, tier contracts.Tier) (*Hit, error) {
	row, err := c.store.Latest(ctx, key)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	// Server-side isolation check: a shared read must never see a
	// customer-provided row, regardless of how it got written.
	if key.TenantScope == "" && row.DataOrigin == contracts.OriginCustomerProvided {
		c.log.Error("customer-provided row found in shared partition, refusing",
			zap.String("entity", key.EntityID), zap.String("check", string(key.CheckType)))
		return nil, faults.New(faults.KindInternalInvariant, "cache.lookup",
			"customer-provided row in shared cache partition")
	}
	if key.TenantScope != "" && row.TenantScope != key.TenantScope {
		return nil, faults.New(faults.KindInternalInvariant, "cache.lookup",
			"cross-tenant row surfaced for tenant-scoped key")
	}

	now := c.clock()
	switch row.StateAt(now) {
	case StateFresh:
		return c.open(ctx, key, row, StateFresh, false)
	case StateStale:
		policy, ok := c.cfg.TierPolicies[key.CheckType]
		if !ok {
			return nil, faults.New(faults.KindInternalInvariant, "cache.lookup",
				"no tier policy for check "+string(key.CheckType))
		}
		if policy.For(tier) == config.StaleBlockAndRefresh {
			return nil, nil
		}
		if c.refresh != nil {
			// Queued, never awaited. The caller gets the stale row now.
			go c.refresh(key, row.ProviderID)
		}
		return c.open(ctx, key, row, StateStale, true)
	default:
		return nil, nil
	}
}

// open decrypts the raw payload. Integrity failures discard the row and
// report a miss so the gateway refreshes from the provider.
func (c *Cache) open(ctx context.Context, key Key, row *Row, state State, flagged bool) (*Hit, error) {
	raw, err := c.keys.Open(row.RawSealed)
	if err != nil {
		if faults.IsKind(err, faults.KindDataIntegrity) {
			c.log.Warn("discarding corrupt cache row",
				zap.String("entity", key.EntityID),
				zap.String("check", string(key.CheckType)),
				zap.Error(err))
			if derr := c.store.Discard(ctx, key); derr != nil {
				return nil, derr
			}
			return nil, nil
		}
		return nil, err
	}
	return &Hit{Row: row, State: state, Flagged: flagged, Raw: raw}, nil
}

// Put seals and writes a new row for a fresh provider result. Origin and
// scope must be consistent: customer-provided data may only live in a
// tenant partition.
func (c *Cache) Put(ctx context.Context, key Key, result contracts.ProviderResult, origin contracts.DataOrigin) error {
	if origin == contracts.OriginCustomerProvided && key.TenantScope == "" {
		return faults.New(faults.KindInternalInvariant, "cache.put",
			"refusing to write customer-provided data to the shared partition")
	}

	window, ok := c.cfg.Freshness[key.CheckType]
	if !ok {
		return faults.New(faults.KindInternalInvariant, "cache.put",
			"no freshness window for check "+string(key.CheckType))
	}

	sealed, err := c.keys.Seal(result.Raw)
	if err != nil {
		return err
	}

	now := c.clock()
	row := Row{
		EntityID:    key.EntityID,
		ProviderID:  result.ProviderID,
		CheckType:   key.CheckType,
		DataOrigin:  origin,
		TenantScope: key.TenantScope,
		AcquiredAt:  now,
		FreshUntil:  now.Add(window.Fresh),
		Normalized:  result.Normalized,
		RawSealed:   sealed,
		CostCents:   result.CostCents,
	}
	if !window.NoStaleBound {
		row.StaleUntil = now.Add(window.Stale)
	}
	return c.store.Put(ctx, key, row)
}
