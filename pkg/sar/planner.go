package sar

import (
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/knowledge"
)

// Planner enumerates queries for one type iteration from the type's
// templates enriched with everything the knowledge base has confirmed so
// far. Queries already executed in this cycle are dropped.
type Planner struct {
	kb *knowledge.Base
}

// NewPlanner creates a planner over the investigation's knowledge base.
func NewPlanner(kb *knowledge.Base) *Planner {
	return &Planner{kb: kb}
}

// Plan returns the deduplicated query set for the type's next SEARCH.
func (p *Planner) Plan(t InfoType, subject contracts.Subject, state *TypeState) []Query {
	checks, _, _ := Spec(t)
	var planned []Query
	p.kb.Read(func(v *knowledge.View) {
		for _, check := range checks {
			planned = append(planned, p.templates(check, subject, v)...)
		}
	})
	return dedupe(planned, state)
}

// templates expands one check into concrete queries.
func (p *Planner) templates(check contracts.CheckType, subject contracts.Subject, v *knowledge.View) []Query {
	base := map[string]string{"name": subject.FullName}
	if dob := v.DOB(); dob != "" {
		base["dob"] = dob
	} else if subject.DateOfBirth != "" {
		base["dob"] = subject.DateOfBirth
	}

	var out []Query
	switch check {
	case contracts.CheckIdentity:
		out = append(out, Query{Check: check, Params: base})

	case contracts.CheckEmployment:
		// One verification query per confirmed employer, plus a general
		// history query.
		out = append(out, Query{Check: check, Params: base})
		for _, rec := range v.Employment() {
			out = append(out, Query{Check: check, Params: merge(base, map[string]string{
				"employer": rec.Employer,
			})})
		}

	case contracts.CheckEducation:
		out = append(out, Query{Check: check, Params: base})
		for _, rec := range v.Education() {
			out = append(out, Query{Check: check, Params: merge(base, map[string]string{
				"institution": rec.Institution,
			})})
		}

	case contracts.CheckCriminal, contracts.CheckCivil:
		// One query per known jurisdiction; nationwide when none known.
		jurisdictions := v.Jurisdictions()
		if len(jurisdictions) == 0 {
			out = append(out, Query{Check: check, Params: merge(base, map[string]string{"scope": "nationwide"})})
		}
		for _, j := range jurisdictions {
			out = append(out, Query{Check: check, Params: merge(base, map[string]string{"jurisdiction": j})})
		}

	case contracts.CheckSanctions, contracts.CheckPEP, contracts.CheckAdverseMedia:
		// Every confirmed name variant is screened.
		variants := v.NameVariants()
		if len(variants) == 0 {
			variants = []string{subject.FullName}
		}
		for _, name := range variants {
			out = append(out, Query{Check: check, Params: merge(base, map[string]string{"name": name})})
		}

	case contracts.CheckCorporate:
		// One query per discovered organization plus the subject itself.
		out = append(out, Query{Check: check, Params: base})
		for _, d := range v.Discoveries() {
			out = append(out, Query{Check: check, Params: merge(base, map[string]string{
				"organization": d.Name,
			})})
		}

	default:
		out = append(out, Query{Check: check, Params: base})
	}
	return out
}

// RefineQueries generates gap-targeted queries: one strategy per gap
// kind, bounded per gap and in total.
func (p *Planner) RefineQueries(t InfoType, subject contracts.Subject, state *TypeState, perGap, total int) []Query {
	var out []Query
	p.kb.Read(func(v *knowledge.View) {
		for _, gap := range state.Gaps {
			if len(out) >= total {
				break
			}
			qs := p.gapStrategy(t, gap, subject, v)
			if len(qs) > perGap {
				qs = qs[:perGap]
			}
			out = append(out, qs...)
		}
	})
	if len(out) > total {
		out = out[:total]
	}
	return dedupe(out, state)
}

// gapStrategy picks one retargeting approach per missing fact kind.
func (p *Planner) gapStrategy(t InfoType, gap string, subject contracts.Subject, v *knowledge.View) []Query {
	checks, _, _ := Spec(t)
	if len(checks) == 0 {
		return nil
	}
	check := checks[0]
	base := map[string]string{"name": subject.FullName, "target": gap}

	switch gap {
	case "identity.address":
		return []Query{{Check: check, Params: merge(base, map[string]string{"depth": "address_history"})}}
	case "employment.end", "employment.start":
		var out []Query
		for _, rec := range v.Employment() {
			if rec.End == "" || rec.Start == "" {
				out = append(out, Query{Check: check, Params: merge(base, map[string]string{
					"employer": rec.Employer, "depth": "dates",
				})})
			}
		}
		if len(out) == 0 {
			out = []Query{{Check: check, Params: merge(base, map[string]string{"depth": "dates"})}}
		}
		return out
	case "education.year", "education.degree":
		return []Query{{Check: check, Params: merge(base, map[string]string{"depth": "registrar"})}}
	case "criminal.disposition":
		return []Query{{Check: check, Params: merge(base, map[string]string{"depth": "court_records"})}}
	default:
		return []Query{{Check: check, Params: base}}
	}
}

func dedupe(qs []Query, state *TypeState) []Query {
	seen := make(map[string]bool, len(qs))
	out := make([]Query, 0, len(qs))
	for _, q := range qs {
		key := q.CanonicalKey()
		if seen[key] || state.Executed[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}

func merge(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
