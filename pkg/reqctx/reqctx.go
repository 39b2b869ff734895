// Package reqctx builds the immutable request context that flows through
// every call of an investigation. The context carries the compliance
// decision, consent grant, tier, degree, and budget; its four assertions
// are the only gates the rest of the system trusts.
package reqctx

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cleargate/vantage/pkg/audit"
	"github.com/cleargate/vantage/pkg/compliance"
	"github.com/cleargate/vantage/pkg/consent"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/faults"
	"github.com/cleargate/vantage/pkg/ids"
)

// CacheScope selects which cache partition a request reads.
type CacheScope string

const (
	CacheShared CacheScope = "SHARED"
	CacheTenant CacheScope = "TENANT"
)

// Params are the authenticated inputs to context construction.
type Params struct {
	TenantID     string
	Actor        string
	Locale       string
	Role         compliance.RoleCategory
	Tier         contracts.Tier
	Degree       contracts.Degree
	Vigilance    contracts.Vigilance
	ConsentToken string
	BudgetCents  int64 // 0 = no hard limit
	CacheScope   CacheScope
}

// Context is the frozen request context. Everything except the accumulated
// cost is immutable after construction; the cost may only grow.
type Context struct {
	RequestID   string
	TenantID    string
	Actor       string
	Locale      string
	Role        compliance.RoleCategory
	Tier        contracts.Tier
	Degree      contracts.Degree
	Vigilance   contracts.Vigilance
	Decision    *compliance.Decision
	Grant       *consent.Grant
	InitiatedAt time.Time
	BudgetCents int64
	CacheScope  CacheScope
	ConfigHash  string

	// PermittedSources is resolved from the decision's source categories
	// by the provider registry at construction.
	PermittedSources map[string]bool

	trail *audit.Trail
	cost  atomic.Int64
}

// Builder wires the collaborators needed to construct contexts.
type Builder struct {
	Rules   *compliance.Ruleset
	Consent *consent.Service
	Trail   *audit.Trail
	// ResolveSources maps permitted source categories to provider ids.
	ResolveSources func(categories []compliance.SourceCategory) []string
	ConfigHash     string
}

// Build validates the request, verifies consent, evaluates compliance, and
// freezes the context. D3 on Standard tier is rejected here: it must never
// reach the planner.
func (b *Builder) Build(ctx context.Context, p Params) (*Context, error) {
	if !p.Tier.Valid() {
		return nil, faults.New(faults.KindValidation, "reqctx.build", fmt.Sprintf("unknown tier %q", p.Tier))
	}
	if !p.Degree.Valid() {
		return nil, faults.New(faults.KindValidation, "reqctx.build", fmt.Sprintf("unknown degree %q", p.Degree))
	}
	if p.Degree == contracts.DegreeD3 && p.Tier != contracts.TierEnhanced {
		return nil, faults.New(faults.KindValidation, "reqctx.build", "degree D3 requires the Enhanced tier")
	}
	if p.TenantID == "" {
		return nil, faults.New(faults.KindValidation, "reqctx.build", "tenant id required")
	}

	grant, err := b.Consent.Verify(p.ConsentToken)
	if err != nil {
		return nil, err
	}
	if grant.TenantID != p.TenantID {
		return nil, faults.New(faults.KindValidation, "reqctx.build", "consent token issued for another tenant")
	}

	decision, err := b.Rules.Evaluate(compliance.Request{
		Locale:       p.Locale,
		Tier:         p.Tier,
		Role:         p.Role,
		ConsentScope: grant.Scope,
	})
	if err != nil {
		return nil, fmt.Errorf("reqctx: compliance evaluation: %w", err)
	}
	if len(decision.PermittedChecks) == 0 {
		return nil, faults.New(faults.KindComplianceBlocked, "reqctx.build",
			"compliance rules exclude every check for this tier and locale")
	}

	rc := &Context{
		RequestID:        ids.New(),
		TenantID:         p.TenantID,
		Actor:            p.Actor,
		Locale:           p.Locale,
		Role:             p.Role,
		Tier:             p.Tier,
		Degree:           p.Degree,
		Vigilance:        p.Vigilance,
		Decision:         decision,
		Grant:            grant,
		InitiatedAt:      time.Now().UTC(),
		BudgetCents:      p.BudgetCents,
		CacheScope:       p.CacheScope,
		ConfigHash:       b.ConfigHash,
		PermittedSources: make(map[string]bool),
		trail:            b.Trail,
	}
	if rc.CacheScope == "" {
		rc.CacheScope = CacheShared
	}
	if b.ResolveSources != nil {
		for _, id := range b.ResolveSources(decision.SourceCategories) {
			rc.PermittedSources[id] = true
		}
	}

	_, err = b.Trail.Record(ctx, rc.TenantID, rc.RequestID, rc.Actor, audit.EventRequestSubmitted, map[string]any{
		"tier": string(p.Tier), "degree": string(p.Degree), "locale": p.Locale,
		"config_hash": b.ConfigHash,
	})
	if err != nil {
		return nil, err
	}
	return rc, nil
}

// CostAccumulated returns the running cost in cents.
func (c *Context) CostAccumulated() int64 {
	return c.cost.Load()
}

// AddCost increments the accumulated cost. The only mutation the context
// permits.
func (c *Context) AddCost(cents int64) {
	if cents > 0 {
		c.cost.Add(cents)
	}
}

// ReleaseCost reverses a budget reservation whose provider call failed.
// It exists only for the gateway's reserve-then-invoke discipline; actual
// spend is never released.
func (c *Context) ReleaseCost(cents int64) {
	if cents > 0 {
		c.cost.Add(-cents)
	}
}

// AssertCheckPermitted gates every check before planning or execution.
func (c *Context) AssertCheckPermitted(ctx context.Context, check contracts.CheckType) error {
	if c.Decision.Permits(check) {
		_, _ = c.trail.Record(ctx, c.TenantID, c.RequestID, c.Actor, audit.EventCheckPermitted,
			map[string]any{"check": string(check)})
		return nil
	}
	_, _ = c.trail.Record(ctx, c.TenantID, c.RequestID, c.Actor, audit.EventCheckBlocked,
		map[string]any{"check": string(check), "rule": c.Decision.Blocked[check]})
	return faults.New(faults.KindComplianceBlocked, "reqctx.assert_check",
		fmt.Sprintf("check %s blocked by compliance", check)).WithRequest(c.RequestID, "")
}

// AssertSourcePermitted gates every provider before invocation.
func (c *Context) AssertSourcePermitted(ctx context.Context, providerID string) error {
	if c.PermittedSources[providerID] {
		_, _ = c.trail.Record(ctx, c.TenantID, c.RequestID, c.Actor, audit.EventSourcePermitted,
			map[string]any{"provider": providerID})
		return nil
	}
	_, _ = c.trail.Record(ctx, c.TenantID, c.RequestID, c.Actor, audit.EventSourceBlocked,
		map[string]any{"provider": providerID})
	return faults.New(faults.KindComplianceBlocked, "reqctx.assert_source",
		fmt.Sprintf("provider %s not permitted", providerID)).WithRequest(c.RequestID, "")
}

// AssertBudgetAvailable gates spend. The check and the reservation are a
// single critical section: on success the cost is already accumulated.
func (c *Context) AssertBudgetAvailable(ctx context.Context, cents int64) error {
	if c.BudgetCents <= 0 {
		c.AddCost(cents)
		return nil
	}
	for {
		cur := c.cost.Load()
		if cur+cents > c.BudgetCents {
			_, _ = c.trail.Record(ctx, c.TenantID, c.RequestID, c.Actor, audit.EventBudgetExceeded,
				map[string]any{"accumulated": cur, "requested": cents, "limit": c.BudgetCents})
			return faults.New(faults.KindBudgetExceeded, "reqctx.assert_budget",
				fmt.Sprintf("budget %d exceeded: %d accumulated + %d requested", c.BudgetCents, cur, cents)).
				WithRequest(c.RequestID, "")
		}
		if c.cost.CompareAndSwap(cur, cur+cents) {
			_, _ = c.trail.Record(ctx, c.TenantID, c.RequestID, c.Actor, audit.EventBudgetApproved,
				map[string]any{"accumulated": cur + cents, "limit": c.BudgetCents})
			return nil
		}
	}
}

// AssertConsentValid gates every boundary against consent expiry.
func (c *Context) AssertConsentValid(ctx context.Context, now time.Time) error {
	if c.Grant.Valid(now) {
		return nil
	}
	_, _ = c.trail.Record(ctx, c.TenantID, c.RequestID, c.Actor, audit.EventConsentExpired,
		map[string]any{"expired_at": c.Grant.ExpiresAt})
	return faults.New(faults.KindConsentExpired, "reqctx.assert_consent",
		"consent expired mid-investigation").WithRequest(c.RequestID, "")
}

// PermittedChecks returns the permitted check set as a slice, for
// planners that iterate.
func (c *Context) PermittedChecks() []contracts.CheckType {
	out := make([]contracts.CheckType, 0, len(c.Decision.PermittedChecks))
	for _, ct := range contracts.AllCheckTypes {
		if c.Decision.Permits(ct) {
			out = append(out, ct)
		}
	}
	return out
}

// Lookback returns the effective lookback in years for a check, 0 when
// unrestricted.
func (c *Context) Lookback(check contracts.CheckType) int {
	return c.Decision.PermittedChecks[check].LookbackYears
}
