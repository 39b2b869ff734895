// Package gateway routes checks to providers. It layers the compliance
// gates, the cache-aside lookup, rate limiting, circuit breaking, retry
// with backoff, and fallback across the candidate list, and accounts every
// cent of spend. All candidates exhausted is not an error for ordinary
// checks — the caller receives a typed absence and the investigation
// proceeds. Sanctions and PEP are the exception.
package gateway

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/audit"
	"github.com/cleargate/vantage/pkg/cache"
	"github.com/cleargate/vantage/pkg/config"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/cost"
	"github.com/cleargate/vantage/pkg/faults"
	"github.com/cleargate/vantage/pkg/provider"
	"github.com/cleargate/vantage/pkg/reqctx"
	"github.com/cleargate/vantage/pkg/resiliency"
)

// Result is the outcome of routing one check.
type Result struct {
	Check        contracts.CheckType
	ProviderID   string
	Payload      *contracts.ProviderResult
	FromCache    bool
	StaleFlagged bool
	// Incomplete marks a typed absence: every candidate was exhausted.
	Incomplete bool
	FailReason string
}

// Gateway wires the provider registry to the resiliency and cache layers.
type Gateway struct {
	registry *provider.Registry
	breakers *resiliency.BreakerSet
	limiters *resiliency.LimiterSet
	cache    *cache.Cache
	costs    *cost.Service
	trail    *audit.Trail
	cfg      *config.Config
	log      *zap.Logger
	metrics  *metrics
}

// New creates a gateway and wires the registry's circuit probe and the
// cache's refresh hook.
func New(registry *provider.Registry, breakers *resiliency.BreakerSet, limiters *resiliency.LimiterSet,
	resultCache *cache.Cache, costs *cost.Service, trail *audit.Trail, cfg *config.Config, log *zap.Logger) *Gateway {
	g := &Gateway{
		registry: registry,
		breakers: breakers,
		limiters: limiters,
		cache:    resultCache,
		costs:    costs,
		trail:    trail,
		cfg:      cfg,
		log:      log.Named("gateway"),
		metrics:  newMetrics(),
	}
	registry.SetCircuitProbe(breakers.Open)
	resultCache.SetRefreshFunc(g.asyncRefresh)
	return g
}

// Route executes one (entity, check) against the best available provider.
func (g *Gateway) Route(ctx context.Context, rc *reqctx.Context, entityID string, q provider.Query) (*Result, error) {
	ctx, span := otel.Tracer("vantage/gateway").Start(ctx, "gateway.route")
	defer span.End()
	span.SetAttributes(
		attribute.String("check", string(q.Check)),
		attribute.String("entity", entityID),
	)

	if err := rc.AssertConsentValid(ctx, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := rc.AssertCheckPermitted(ctx, q.Check); err != nil {
		return nil, err
	}

	// Cache first.
	key := g.cacheKey(rc, entityID, q.Check)
	hit, err := g.cache.Lookup(ctx, key, rc.Tier)
	if err != nil {
		return nil, err
	}
	if hit != nil {
		g.metrics.cacheHits.WithLabelValues(string(q.Check)).Inc()
		evt := audit.EventCacheHit
		if hit.Flagged {
			evt = audit.EventCacheStaleUse
		}
		_, _ = g.trail.Record(ctx, rc.TenantID, rc.RequestID, rc.Actor, evt, map[string]any{
			"check": string(q.Check), "provider": hit.Row.ProviderID, "state": string(hit.State),
		})
		if err := g.costs.RecordSaving(ctx, rc.TenantID, hit.Row.ProviderID, q.Check, hit.Row.CostCents); err != nil {
			g.log.Warn("cache saving not recorded", zap.Error(err))
		}
		payload := &contracts.ProviderResult{
			ProviderID: hit.Row.ProviderID,
			CheckType:  q.Check,
			Raw:        hit.Raw,
			Normalized: hit.Row.Normalized,
			CostCents:  hit.Row.CostCents,
			AcquiredAt: hit.Row.AcquiredAt,
		}
		return &Result{
			Check: q.Check, ProviderID: hit.Row.ProviderID, Payload: payload,
			FromCache: true, StaleFlagged: hit.Flagged,
		}, nil
	}
	g.metrics.cacheMisses.WithLabelValues(string(q.Check)).Inc()

	candidates := g.registry.Select(provider.Selection{
		Check:            q.Check,
		Locale:           q.Locale,
		Tier:             rc.Tier,
		PermittedSources: rc.PermittedSources,
	})
	if len(candidates) == 0 {
		return g.exhausted(ctx, rc, q.Check, "no candidate providers")
	}

	var lastErr error
	for _, cand := range candidates {
		info := cand.Info()
		if err := rc.AssertSourcePermitted(ctx, info.ID); err != nil {
			continue
		}

		res, err := g.tryCandidate(ctx, rc, cand, q)
		if err == nil {
			if cerr := g.cache.Put(ctx, key, *res, contracts.OriginPaidExternal); cerr != nil {
				g.log.Warn("cache write failed", zap.String("provider", info.ID), zap.Error(cerr))
			}
			return &Result{Check: q.Check, ProviderID: info.ID, Payload: res}, nil
		}

		lastErr = err
		if faults.KindOf(err) == faults.KindBudgetExceeded || faults.KindOf(err) == faults.KindConsentExpired {
			return nil, err
		}
		// Persistent failure or open circuit: next candidate.
	}

	reason := "all candidates failed"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	return g.exhausted(ctx, rc, q.Check, reason)
}

// tryCandidate runs one provider with rate limiting, budget reservation,
// circuit breaking, and transient-error retry.
func (g *Gateway) tryCandidate(ctx context.Context, rc *reqctx.Context, cand provider.Adapter, q provider.Query) (*contracts.ProviderResult, error) {
	info := cand.Info()

	if err := g.limiters.Acquire(ctx, info.ID); err != nil {
		return nil, err
	}

	// Reserve budget before the call; release it if the candidate fails.
	if err := rc.AssertBudgetAvailable(ctx, info.CostCents); err != nil {
		return nil, err
	}
	reserved := info.CostCents

	retry := g.cfg.Retry
	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		start := time.Now()
		out, err := g.breakers.For(info.ID).Execute(func() (any, error) {
			callCtx, cancel := context.WithTimeout(ctx, g.cfg.ProviderTimeout)
			defer cancel()
			return cand.ExecuteCheck(callCtx, q)
		})
		elapsed := time.Since(start)
		g.registry.RecordOutcome(info.ID, err != nil, elapsed)

		if err == nil {
			res := out.(contracts.ProviderResult)
			res.ProviderID = info.ID
			res.CheckType = q.Check
			if res.AcquiredAt.IsZero() {
				res.AcquiredAt = time.Now().UTC()
			}
			if res.CostCents == 0 {
				res.CostCents = info.CostCents
			}
			g.metrics.providerCalls.WithLabelValues(info.ID, "success").Inc()
			_, _ = g.trail.Record(ctx, rc.TenantID, rc.RequestID, rc.Actor, audit.EventProviderCall, map[string]any{
				"provider": info.ID, "check": string(q.Check), "cost_cents": res.CostCents,
				"latency_ms": elapsed.Milliseconds(),
			})
			if serr := g.costs.RecordSpend(ctx, rc.TenantID, info.ID, q.Check, res.CostCents); serr != nil {
				g.log.Warn("spend not recorded", zap.Error(serr))
			}
			return &res, nil
		}

		lastErr = err
		g.metrics.providerCalls.WithLabelValues(info.ID, "failure").Inc()
		_, _ = g.trail.Record(ctx, rc.TenantID, rc.RequestID, rc.Actor, audit.EventProviderFailure, map[string]any{
			"provider": info.ID, "check": string(q.Check), "attempt": attempt, "error": err.Error(),
		})

		kind := classify(err)
		if kind == faults.KindCircuitOpen || !kind.Transient() || attempt == retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			rc.ReleaseCost(reserved)
			return nil, ctx.Err()
		case <-time.After(backoff(retry, attempt)):
		}
	}

	rc.ReleaseCost(reserved)
	return nil, lastErr
}

// classify maps raw adapter errors to the taxonomy. Adapters returning
// Faults keep their kind; everything else defaults by shape.
func classify(err error) faults.Kind {
	if kind := faults.KindOf(err); kind != "" {
		return kind
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return faults.KindCircuitOpen
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return faults.KindTransientProvider
	}
	return faults.KindTransientProvider
}

// backoff computes attempt delay: base * factor^(n-1) + jitter, capped.
func backoff(cfg config.RetryConfig, attempt int) time.Duration {
	d := time.Duration(float64(cfg.BaseDelay) * math.Pow(cfg.Factor, float64(attempt-1)))
	if cfg.JitterMax > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(cfg.JitterMax))); err == nil {
			d += time.Duration(n.Int64())
		}
	}
	return d
}

// exhausted returns the typed absence, or a fatal fault for high-priority
// checks.
func (g *Gateway) exhausted(ctx context.Context, rc *reqctx.Context, check contracts.CheckType, reason string) (*Result, error) {
	if check.HighPriority() {
		_, _ = g.trail.Record(ctx, rc.TenantID, rc.RequestID, rc.Actor, audit.EventInvestigationFailed, map[string]any{
			"check": string(check), "reason": reason,
		})
		f := faults.New(faults.KindCheckUnavailable, "gateway.route",
			string(check)+" check unavailable: "+reason).WithRequest(rc.RequestID, "")
		f.Code = string(check) + "_unavailable"
		return nil, f
	}
	g.log.Info("check incomplete",
		zap.String("check", string(check)),
		zap.String("reason", reason))
	return &Result{Check: check, Incomplete: true, FailReason: reason}, nil
}

func (g *Gateway) cacheKey(rc *reqctx.Context, entityID string, check contracts.CheckType) cache.Key {
	key := cache.Key{EntityID: entityID, CheckType: check}
	if rc.CacheScope == reqctx.CacheTenant {
		key.TenantScope = rc.TenantID
	}
	return key
}

// asyncRefresh re-queries the provider that produced a stale row. Best
// effort: errors are logged, never surfaced.
func (g *Gateway) asyncRefresh(key cache.Key, providerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.ProviderTimeout)
	defer cancel()

	adapter, err := g.registry.Get(providerID)
	if err != nil {
		return
	}
	res, err := adapter.ExecuteCheck(ctx, provider.Query{
		Check:  key.CheckType,
		Params: map[string]string{"entity_id": key.EntityID},
	})
	if err != nil {
		g.log.Debug("async refresh failed",
			zap.String("provider", providerID),
			zap.String("check", string(key.CheckType)),
			zap.Error(err))
		return
	}
	res.ProviderID = providerID
	if err := g.cache.Put(ctx, key, res, contracts.OriginPaidExternal); err != nil {
		g.log.Debug("async refresh cache write failed", zap.Error(err))
	}
}
