package adapters

import (
	"context"

	"github.com/cleargate/vantage/pkg/compliance"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/provider"
)

// License is one simulated professional-license record.
type License struct {
	Name       string
	Board      string
	Number     string
	Status     string // active, expired, revoked
	Discipline bool
}

// RegulatoryAction is one simulated regulator enforcement entry.
type RegulatoryAction struct {
	Name      string
	Regulator string
	Action    string
	Date      string
}

// CreditSummary is one simulated credit-header summary. Score bands only,
// never raw tradelines.
type CreditSummary struct {
	Name        string
	Band        string // good, fair, poor
	Bankruptcy  bool
	Collections int
}

// CorporateRole is one simulated company-registry officership.
type CorporateRole struct {
	Name    string
	Company string
	Role    string
	Active  bool
}

// Registry simulates public-records sources: licensing boards, regulator
// actions, credit headers and corporate registries behind one adapter.
type Registry struct {
	info      provider.Info
	licenses  map[string][]License
	actions   map[string][]RegulatoryAction
	credit    map[string]CreditSummary
	corporate map[string][]CorporateRole
}

// NewRegistry seeds the simulated public-record fixtures.
func NewRegistry(lics []License, acts []RegulatoryAction, credit []CreditSummary, roles []CorporateRole) *Registry {
	r := &Registry{
		info: provider.Info{
			ID:       "sim-registry",
			Name:     "Simulated Public Records Registry",
			Category: compliance.SourceCore,
			Checks: []contracts.CheckType{
				contracts.CheckLicenses, contracts.CheckRegulatory,
				contracts.CheckCredit, contracts.CheckCorporate,
			},
			CostCents: 60,
			RateRPS:   20,
			RateBurst: 40,
		},
		licenses:  make(map[string][]License),
		actions:   make(map[string][]RegulatoryAction),
		credit:    make(map[string]CreditSummary),
		corporate: make(map[string][]CorporateRole),
	}
	for _, l := range lics {
		r.licenses[key(l.Name)] = append(r.licenses[key(l.Name)], l)
	}
	for _, a := range acts {
		r.actions[key(a.Name)] = append(r.actions[key(a.Name)], a)
	}
	for _, c := range credit {
		r.credit[key(c.Name)] = c
	}
	for _, role := range roles {
		r.corporate[key(role.Name)] = append(r.corporate[key(role.Name)], role)
	}
	return r
}

func (r *Registry) Info() provider.Info { return r.info }

func (r *Registry) ExecuteCheck(_ context.Context, q provider.Query) (contracts.ProviderResult, error) {
	name := key(queryName(q))
	switch q.Check {
	case contracts.CheckLicenses:
		lics := r.licenses[name]
		out := make([]map[string]any, 0, len(lics))
		for _, l := range lics {
			out = append(out, map[string]any{
				"board": l.Board, "number": l.Number,
				"status": l.Status, "discipline": l.Discipline,
			})
		}
		return result(r.info, q.Check, map[string]any{"licenses": out}), nil
	case contracts.CheckRegulatory:
		acts := r.actions[name]
		out := make([]map[string]any, 0, len(acts))
		for _, a := range acts {
			out = append(out, map[string]any{
				"regulator": a.Regulator, "action": a.Action, "date": a.Date,
			})
		}
		return result(r.info, q.Check, map[string]any{"actions": out, "clear": len(out) == 0}), nil
	case contracts.CheckCredit:
		c, ok := r.credit[name]
		if !ok {
			return result(r.info, q.Check, map[string]any{"found": false}), nil
		}
		return result(r.info, q.Check, map[string]any{
			"found": true, "band": c.Band,
			"bankruptcy": c.Bankruptcy, "collections": c.Collections,
		}), nil
	case contracts.CheckCorporate:
		roles := r.corporate[name]
		out := make([]map[string]any, 0, len(roles))
		for _, role := range roles {
			if company := q.Params["company"]; company != "" && key(company) != key(role.Company) {
				continue
			}
			out = append(out, map[string]any{
				"company": role.Company, "role": role.Role, "active": role.Active,
			})
		}
		return result(r.info, q.Check, map[string]any{"officerships": out}), nil
	}
	return result(r.info, q.Check, map[string]any{"found": false}), nil
}

func (r *Registry) HealthCheck(context.Context) provider.Health { return healthy(r.info.ID) }
