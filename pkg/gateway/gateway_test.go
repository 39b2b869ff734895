package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/audit"
	"github.com/cleargate/vantage/pkg/cache"
	"github.com/cleargate/vantage/pkg/compliance"
	"github.com/cleargate/vantage/pkg/config"
	"github.com/cleargate/vantage/pkg/consent"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/cost"
	"github.com/cleargate/vantage/pkg/faults"
	"github.com/cleargate/vantage/pkg/kms"
	"github.com/cleargate/vantage/pkg/provider"
	"github.com/cleargate/vantage/pkg/reqctx"
	"github.com/cleargate/vantage/pkg/resiliency"
)

// stubAdapter is a scriptable provider for routing tests.
type stubAdapter struct {
	info  provider.Info
	calls atomic.Int64
	exec  func(ctx context.Context, q provider.Query) (contracts.ProviderResult, error)
}

func (s *stubAdapter) Info() provider.Info { return s.info }

func (s *stubAdapter) ExecuteCheck(ctx context.Context, q provider.Query) (contracts.ProviderResult, error) {
	s.calls.Add(1)
	return s.exec(ctx, q)
}

func (s *stubAdapter) HealthCheck(context.Context) provider.Health {
	return provider.Health{Status: provider.HealthHealthy, CheckedAt: time.Now()}
}

func okAdapter(id string, costCents int64, checks ...contracts.CheckType) *stubAdapter {
	return &stubAdapter{
		info: provider.Info{
			ID: id, Name: id, Category: compliance.SourceCore,
			Checks: checks, CostCents: costCents, RateRPS: 100, RateBurst: 100,
		},
		exec: func(_ context.Context, q provider.Query) (contracts.ProviderResult, error) {
			return contracts.ProviderResult{
				Raw:        []byte(`{"from":"` + id + `"}`),
				Normalized: map[string]any{"source": id},
			}, nil
		},
	}
}

type harness struct {
	gw       *Gateway
	registry *provider.Registry
	costs    *cost.Service
	cfg      *config.Config
}

func newHarness(t *testing.T, adapters ...*stubAdapter) *harness {
	t.Helper()
	log := zap.NewNop()
	cfg := config.Default()
	cfg.Retry = config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 1}
	cfg.ProviderTimeout = time.Second

	registry := provider.NewRegistry()
	limiters := resiliency.NewLimiterSet(100 * time.Millisecond)
	for _, a := range adapters {
		registry.Register(a)
		limiters.Configure(a.info.ID, a.info.RateRPS, a.info.RateBurst)
	}

	keys, err := kms.NewLocalManager(nil)
	require.NoError(t, err)
	resultCache := cache.New(cache.NewMemoryStore(), cfg, keys, log)
	costs := cost.NewService(cost.NewMemoryStore(), log)
	trail := audit.NewTrail([]byte("audit-key"), audit.NewMemoryStore())
	breakers := resiliency.NewBreakerSet(cfg.Breaker, log)

	gw := New(registry, breakers, limiters, resultCache, costs, trail, cfg, log)
	return &harness{gw: gw, registry: registry, costs: costs, cfg: cfg}
}

func (h *harness) context(t *testing.T, budget int64) *reqctx.Context {
	t.Helper()
	csvc := consent.NewService([]byte("consent-key"))
	now := time.Now().UTC()
	token, err := csvc.Issue(consent.Grant{
		TenantID:  "acme",
		Scope:     consent.Scope(contracts.AllCheckTypes),
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	})
	require.NoError(t, err)
	rules, err := compliance.NewRuleset(nil)
	require.NoError(t, err)

	b := &reqctx.Builder{
		Rules:          rules,
		Consent:        csvc,
		Trail:          audit.NewTrail([]byte("audit-key"), audit.NewMemoryStore()),
		ResolveSources: h.registry.IDsByCategory,
		ConfigHash:     "test-hash",
	}
	rc, err := b.Build(context.Background(), reqctx.Params{
		TenantID:     "acme",
		Actor:        "api",
		Locale:       "US-CA",
		Role:         "general",
		Tier:         contracts.TierStandard,
		Degree:       contracts.DegreeD1,
		Vigilance:    contracts.VigilanceV0,
		ConsentToken: token,
		BudgetCents:  budget,
	})
	require.NoError(t, err)
	return rc
}

func identityQuery() provider.Query {
	return provider.Query{
		Check:   contracts.CheckIdentity,
		Subject: contracts.Subject{FullName: "Jane Smith"},
		Locale:  "US-CA",
	}
}

func TestRouteCallsProviderAndCaches(t *testing.T) {
	a := okAdapter("sim-bureau", 30, contracts.CheckIdentity)
	h := newHarness(t, a)
	rc := h.context(t, 0)

	res, err := h.gw.Route(context.Background(), rc, "ent-1", identityQuery())
	require.NoError(t, err)
	assert.Equal(t, "sim-bureau", res.ProviderID)
	assert.False(t, res.FromCache)
	assert.Equal(t, int64(30), res.Payload.CostCents)

	// Second call is served from cache without touching the adapter.
	res, err = h.gw.Route(context.Background(), rc, "ent-1", identityQuery())
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, int64(1), a.calls.Load())

	day := time.Now().UTC()
	u, err := h.costs.Usage(context.Background(), "acme", day)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, int64(30), u.SpentCents)
	assert.Equal(t, int64(30), u.SavedCents)
}

func TestRoutePrefersCheaperProvider(t *testing.T) {
	cheap := okAdapter("sim-cheap", 10, contracts.CheckIdentity)
	costly := okAdapter("sim-costly", 50, contracts.CheckIdentity)
	h := newHarness(t, costly, cheap)
	rc := h.context(t, 0)

	res, err := h.gw.Route(context.Background(), rc, "ent-1", identityQuery())
	require.NoError(t, err)
	assert.Equal(t, "sim-cheap", res.ProviderID)
	assert.Zero(t, costly.calls.Load())
}

func TestRouteFallsBackOnPersistentFailure(t *testing.T) {
	broken := okAdapter("sim-broken", 10, contracts.CheckIdentity)
	broken.exec = func(context.Context, provider.Query) (contracts.ProviderResult, error) {
		return contracts.ProviderResult{}, faults.New(faults.KindPermanentProvider, "stub", "record not found")
	}
	backup := okAdapter("sim-backup", 50, contracts.CheckIdentity)
	h := newHarness(t, broken, backup)
	rc := h.context(t, 0)

	res, err := h.gw.Route(context.Background(), rc, "ent-1", identityQuery())
	require.NoError(t, err)
	assert.Equal(t, "sim-backup", res.ProviderID)
	// Permanent failures do not retry.
	assert.Equal(t, int64(1), broken.calls.Load())
}

func TestRouteRetriesTransientFailures(t *testing.T) {
	flaky := okAdapter("sim-flaky", 10, contracts.CheckIdentity)
	var n atomic.Int64
	flaky.exec = func(context.Context, provider.Query) (contracts.ProviderResult, error) {
		if n.Add(1) < 3 {
			return contracts.ProviderResult{}, faults.New(faults.KindTransientProvider, "stub", "upstream 503")
		}
		return contracts.ProviderResult{Raw: []byte(`{}`), Normalized: map[string]any{}}, nil
	}
	h := newHarness(t, flaky)
	rc := h.context(t, 0)

	res, err := h.gw.Route(context.Background(), rc, "ent-1", identityQuery())
	require.NoError(t, err)
	assert.Equal(t, "sim-flaky", res.ProviderID)
	assert.Equal(t, int64(3), flaky.calls.Load())
}

func TestRouteExhaustedIsTypedAbsence(t *testing.T) {
	h := newHarness(t, okAdapter("sim-bureau", 30, contracts.CheckCriminal))
	rc := h.context(t, 0)

	// No adapter serves civil.
	res, err := h.gw.Route(context.Background(), rc, "ent-1", provider.Query{
		Check: contracts.CheckCivil, Locale: "US-CA",
	})
	require.NoError(t, err)
	assert.True(t, res.Incomplete)
	assert.NotEmpty(t, res.FailReason)
}

func TestRouteSanctionsExhaustionIsFatal(t *testing.T) {
	h := newHarness(t)
	rc := h.context(t, 0)

	_, err := h.gw.Route(context.Background(), rc, "ent-1", provider.Query{
		Check: contracts.CheckSanctions, Locale: "US-CA",
	})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindCheckUnavailable))
	assert.True(t, faults.KindOf(err).Fatal())

	var f *faults.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "sanctions_unavailable", f.Code)
}

func TestRouteBudgetExceededIsFatal(t *testing.T) {
	a := okAdapter("sim-bureau", 30, contracts.CheckIdentity)
	h := newHarness(t, a)
	rc := h.context(t, 40)

	_, err := h.gw.Route(context.Background(), rc, "ent-1", identityQuery())
	require.NoError(t, err)

	// Cached result costs nothing; a different entity forces a paid call
	// that the remaining budget cannot cover.
	_, err = h.gw.Route(context.Background(), rc, "ent-2", identityQuery())
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindBudgetExceeded))
}

func TestRouteReleasesBudgetOnFailure(t *testing.T) {
	broken := okAdapter("sim-broken", 30, contracts.CheckIdentity)
	broken.exec = func(context.Context, provider.Query) (contracts.ProviderResult, error) {
		return contracts.ProviderResult{}, faults.New(faults.KindPermanentProvider, "stub", "down")
	}
	good := okAdapter("sim-good", 35, contracts.CheckIdentity)
	h := newHarness(t, broken, good)
	rc := h.context(t, 40)

	// The failed candidate's reservation must be released or the fallback
	// would trip the budget gate.
	res, err := h.gw.Route(context.Background(), rc, "ent-1", identityQuery())
	require.NoError(t, err)
	assert.Equal(t, "sim-good", res.ProviderID)
}

func TestRouteSkipsUnpermittedCheck(t *testing.T) {
	h := newHarness(t, okAdapter("sim-bureau", 30, contracts.CheckIdentity))
	rules, err := compliance.NewRuleset([]compliance.Rule{{
		ID: "us-credit-ban", Locale: "US", CheckType: contracts.CheckCredit, Permitted: false,
	}})
	require.NoError(t, err)

	csvc := consent.NewService([]byte("consent-key"))
	now := time.Now().UTC()
	token, err := csvc.Issue(consent.Grant{
		TenantID: "acme", Scope: consent.Scope(contracts.AllCheckTypes),
		IssuedAt: now, ExpiresAt: now.Add(time.Hour),
	})
	require.NoError(t, err)

	b := &reqctx.Builder{
		Rules: rules, Consent: csvc,
		Trail:          audit.NewTrail([]byte("k"), audit.NewMemoryStore()),
		ResolveSources: h.registry.IDsByCategory,
		ConfigHash:     "test-hash",
	}
	rc, err := b.Build(context.Background(), reqctx.Params{
		TenantID: "acme", Actor: "api", Locale: "US-CA", Role: "general",
		Tier: contracts.TierStandard, Degree: contracts.DegreeD1,
		Vigilance: contracts.VigilanceV0, ConsentToken: token,
	})
	require.NoError(t, err)

	_, err = h.gw.Route(context.Background(), rc, "ent-1", provider.Query{
		Check: contracts.CheckCredit, Locale: "US-CA",
	})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindComplianceBlocked))
}

func TestRouteBatchCollectsResults(t *testing.T) {
	a := okAdapter("sim-bureau", 10, contracts.CheckIdentity, contracts.CheckCriminal)
	h := newHarness(t, a)
	rc := h.context(t, 0)

	items := []BatchItem{
		{EntityID: "ent-1", Query: identityQuery()},
		{EntityID: "ent-1", Query: provider.Query{Check: contracts.CheckCriminal, Locale: "US-CA"}},
	}
	results, err := h.gw.RouteBatch(context.Background(), rc, items)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.NotNil(t, r)
		assert.False(t, r.Incomplete)
	}
}

func TestRouteRawAdapterErrorRetriesAsTransient(t *testing.T) {
	raw := okAdapter("sim-raw", 10, contracts.CheckIdentity)
	raw.exec = func(context.Context, provider.Query) (contracts.ProviderResult, error) {
		return contracts.ProviderResult{}, errors.New("connection reset")
	}
	h := newHarness(t, raw)
	rc := h.context(t, 0)

	res, err := h.gw.Route(context.Background(), rc, "ent-1", identityQuery())
	require.NoError(t, err)
	assert.True(t, res.Incomplete)
	assert.Equal(t, int64(3), raw.calls.Load())
}
