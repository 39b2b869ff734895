// Package compliance evaluates jurisdictional screening rules. Rules are
// data, not code: they are loaded from JSON bundles at startup, optionally
// carry CEL conditions, and map (locale, role, tier, check type) to a
// permitted/blocked decision with lookback limits and disclosure duties.
//
// Locale lookup falls back through a parent chain (US-CA -> US -> default),
// so a state rule overrides a federal one which overrides the global
// baseline.
package compliance

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/cleargate/vantage/pkg/contracts"
)

// RoleCategory buckets job roles for rule applicability.
type RoleCategory string

const (
	RoleGeneral   RoleCategory = "general"
	RoleFinance   RoleCategory = "finance"
	RoleHealth    RoleCategory = "healthcare"
	RoleChildcare RoleCategory = "childcare"
	RoleExecutive RoleCategory = "executive"
	RoleRegulated RoleCategory = "regulated"
)

// SourceCategory buckets providers for rule applicability.
type SourceCategory string

const (
	SourceCore    SourceCategory = "CORE"
	SourcePremium SourceCategory = "PREMIUM"
)

// Rule is one jurisdictional constraint, as loaded from a bundle.
type Rule struct {
	ID             string              `json:"id"`
	Locale         string              `json:"locale"`
	CheckType      contracts.CheckType `json:"check_type"`
	RoleCategories []RoleCategory      `json:"role_categories,omitempty"` // empty = all roles
	Tiers          []contracts.Tier    `json:"tiers,omitempty"`           // empty = all tiers
	SourceCategory SourceCategory      `json:"source_category,omitempty"` // empty = all sources
	Permitted      bool                `json:"permitted"`
	Conditions     []string            `json:"conditions,omitempty"` // CEL; all must hold for the rule to apply
	LookbackYears  int                 `json:"lookback_years,omitempty"`
	Disclosures    []string            `json:"required_disclosures,omitempty"`
	Restrictions   []string            `json:"data_restrictions,omitempty"`
	NeedsConsent   bool                `json:"requires_explicit_consent,omitempty"`
	ExcludedRoles  []RoleCategory      `json:"excluded_categories,omitempty"`

	programs []cel.Program
}

// Request is one evaluation input.
type Request struct {
	Locale       string
	Tier         contracts.Tier
	Role         RoleCategory
	ConsentScope []contracts.CheckType
}

// CheckDecision is the per-check outcome of evaluation.
type CheckDecision struct {
	Permitted     bool
	BlockedBy     string // rule id when blocked
	LookbackYears int    // 0 = unrestricted
	Disclosures   []string
	Restrictions  []string
}

// Decision is the full evaluation result, computed once at context
// construction and frozen into the request context.
type Decision struct {
	PermittedChecks map[contracts.CheckType]CheckDecision
	Blocked         map[contracts.CheckType]string // check -> blocking rule id
	// SourceCategories lists the provider categories the tier + locale
	// admit; the provider registry resolves these to concrete ids.
	SourceCategories []SourceCategory
}

// Permits reports whether the check survived evaluation.
func (d *Decision) Permits(check contracts.CheckType) bool {
	_, ok := d.PermittedChecks[check]
	return ok
}

// Ruleset is a compiled, immutable rule collection.
type Ruleset struct {
	mu    sync.RWMutex
	rules map[string][]*Rule // locale -> rules
	env   *cel.Env
}

// NewRuleset compiles a rule list. Invalid CEL in any condition fails the
// whole load; a half-compiled ruleset must never gate real traffic.
func NewRuleset(rules []Rule) (*Ruleset, error) {
	env, err := cel.NewEnv(
		cel.Variable("locale", cel.StringType),
		cel.Variable("tier", cel.StringType),
		cel.Variable("role", cel.StringType),
		cel.Variable("consent_scope", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("compliance: cel env: %w", err)
	}

	rs := &Ruleset{rules: make(map[string][]*Rule), env: env}
	for i := range rules {
		r := rules[i]
		for _, cond := range r.Conditions {
			ast, issues := env.Compile(cond)
			if issues != nil && issues.Err() != nil {
				return nil, fmt.Errorf("compliance: rule %s condition %q: %w", r.ID, cond, issues.Err())
			}
			prog, err := env.Program(ast)
			if err != nil {
				return nil, fmt.Errorf("compliance: rule %s program: %w", r.ID, err)
			}
			r.programs = append(r.programs, prog)
		}
		rs.rules[r.Locale] = append(rs.rules[r.Locale], &r)
	}
	return rs, nil
}

// LoadFile reads a JSON rule bundle from disk.
func LoadFile(path string) (*Ruleset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("compliance: read %s: %w", path, err)
	}
	var bundle struct {
		Rules []Rule `json:"rules"`
	}
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, fmt.Errorf("compliance: parse %s: %w", path, err)
	}
	return NewRuleset(bundle.Rules)
}

// localeChain expands "US-CA" into ["US-CA", "US", "default"].
func localeChain(locale string) []string {
	chain := []string{}
	cur := locale
	for cur != "" {
		chain = append(chain, cur)
		idx := strings.LastIndex(cur, "-")
		if idx < 0 {
			break
		}
		cur = cur[:idx]
	}
	return append(chain, "default")
}

// Evaluate computes the permitted check set for a request. The result is
// deterministic for identical inputs (compliance idempotence).
func (rs *Ruleset) Evaluate(req Request) (*Decision, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	d := &Decision{
		PermittedChecks: make(map[contracts.CheckType]CheckDecision),
		Blocked:         make(map[contracts.CheckType]string),
	}

	for _, check := range contracts.AllCheckTypes {
		cd, blockedBy, err := rs.evaluateCheck(req, check)
		if err != nil {
			return nil, err
		}
		if blockedBy != "" {
			d.Blocked[check] = blockedBy
			continue
		}
		if cd != nil {
			d.PermittedChecks[check] = *cd
		}
	}

	d.SourceCategories = []SourceCategory{SourceCore}
	if req.Tier == contracts.TierEnhanced {
		d.SourceCategories = append(d.SourceCategories, SourcePremium)
	}
	return d, nil
}

// evaluateCheck walks the locale chain for one check. The most specific
// locale with matching rules wins; within a locale a block beats a permit.
// Effective lookback is the minimum across matching rules; disclosures are
// unioned across the whole chain.
func (rs *Ruleset) evaluateCheck(req Request, check contracts.CheckType) (*CheckDecision, string, error) {
	var (
		decided     bool
		permitted   bool
		blockedBy   string
		lookback    int
		disclosures []string
		restricts   []string
	)

	for _, locale := range localeChain(req.Locale) {
		for _, r := range rs.rules[locale] {
			if r.CheckType != check {
				continue
			}
			match, err := rs.ruleApplies(r, req, check)
			if err != nil {
				return nil, "", err
			}
			if !match {
				continue
			}

			disclosures = union(disclosures, r.Disclosures)
			restricts = union(restricts, r.Restrictions)
			if r.LookbackYears > 0 && (lookback == 0 || r.LookbackYears < lookback) {
				lookback = r.LookbackYears
			}

			if !decided {
				decided = true
				permitted = r.Permitted
				if !r.Permitted {
					blockedBy = r.ID
				}
			} else if permitted && !r.Permitted {
				// A block at the same specificity level wins.
				permitted = false
				blockedBy = r.ID
			}
		}
		if decided {
			break
		}
	}

	if !decided {
		// No rule anywhere in the chain: default-deny only for checks
		// that require explicit permission, otherwise permit.
		permitted = true
	}
	if !permitted {
		return nil, blockedBy, nil
	}
	return &CheckDecision{
		Permitted:     true,
		LookbackYears: lookback,
		Disclosures:   disclosures,
		Restrictions:  restricts,
	}, "", nil
}

func (rs *Ruleset) ruleApplies(r *Rule, req Request, check contracts.CheckType) (bool, error) {
	if len(r.Tiers) > 0 && !containsTier(r.Tiers, req.Tier) {
		return false, nil
	}
	if len(r.RoleCategories) > 0 && !containsRole(r.RoleCategories, req.Role) {
		return false, nil
	}
	if containsRole(r.ExcludedRoles, req.Role) {
		return false, nil
	}
	if r.NeedsConsent && !scopeCovers(req.ConsentScope, check) {
		// Without explicit consent a permitting rule does not apply; a
		// blocking rule still does.
		if r.Permitted {
			return false, nil
		}
	}

	scope := make([]string, len(req.ConsentScope))
	for i, c := range req.ConsentScope {
		scope[i] = string(c)
	}
	vars := map[string]any{
		"locale":        req.Locale,
		"tier":          string(req.Tier),
		"role":          string(req.Role),
		"consent_scope": scope,
	}
	for _, prog := range r.programs {
		out, _, err := prog.Eval(vars)
		if err != nil {
			return false, fmt.Errorf("compliance: rule %s eval: %w", r.ID, err)
		}
		ok, isBool := out.Value().(bool)
		if !isBool || !ok {
			return false, nil
		}
	}
	return true, nil
}

func containsTier(ts []contracts.Tier, t contracts.Tier) bool {
	for _, v := range ts {
		if v == t {
			return true
		}
	}
	return false
}

func containsRole(rs []RoleCategory, r RoleCategory) bool {
	for _, v := range rs {
		if v == r {
			return true
		}
	}
	return false
}

func scopeCovers(scope []contracts.CheckType, check contracts.CheckType) bool {
	for _, c := range scope {
		if c == check {
			return true
		}
	}
	return false
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, v := range a {
		seen[v] = true
	}
	for _, v := range b {
		if !seen[v] {
			a = append(a, v)
			seen[v] = true
		}
	}
	return a
}
