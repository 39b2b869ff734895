package adapters

import (
	"context"

	"github.com/cleargate/vantage/pkg/compliance"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/provider"
)

// EmploymentRecord is one simulated verified engagement.
type EmploymentRecord struct {
	Name     string
	Employer string
	Title    string
	Start    string // YYYY-MM
	End      string // YYYY-MM, "" = current
}

// EducationRecord is one simulated registrar confirmation.
type EducationRecord struct {
	Name        string
	Institution string
	Degree      string
	Field       string
	Year        string
}

// Verifier simulates an employment and education verification bureau.
type Verifier struct {
	info       provider.Info
	employment map[string][]EmploymentRecord
	education  map[string][]EducationRecord
}

// NewVerifier seeds the simulated verification data.
func NewVerifier(jobs []EmploymentRecord, schools []EducationRecord) *Verifier {
	v := &Verifier{
		info: provider.Info{
			ID:        "sim-verify",
			Name:      "Simulated Verification Bureau",
			Category:  compliance.SourceCore,
			Checks:    []contracts.CheckType{contracts.CheckEmployment, contracts.CheckEducation},
			CostCents: 200,
			RateRPS:   5,
			RateBurst: 10,
		},
		employment: make(map[string][]EmploymentRecord),
		education:  make(map[string][]EducationRecord),
	}
	for _, j := range jobs {
		v.employment[key(j.Name)] = append(v.employment[key(j.Name)], j)
	}
	for _, s := range schools {
		v.education[key(s.Name)] = append(v.education[key(s.Name)], s)
	}
	return v
}

func (v *Verifier) Info() provider.Info { return v.info }

func (v *Verifier) ExecuteCheck(_ context.Context, q provider.Query) (contracts.ProviderResult, error) {
	name := key(queryName(q))
	switch q.Check {
	case contracts.CheckEmployment:
		employer := q.Params["employer"]
		var out []map[string]any
		for _, j := range v.employment[name] {
			if employer != "" && key(j.Employer) != key(employer) {
				continue
			}
			out = append(out, map[string]any{
				"employer": j.Employer,
				"title":    j.Title,
				"start":    j.Start,
				"end":      j.End,
				"verified": true,
			})
		}
		return result(v.info, q.Check, map[string]any{"engagements": out}), nil

	default: // education
		institution := q.Params["institution"]
		var out []map[string]any
		for _, s := range v.education[name] {
			if institution != "" && key(s.Institution) != key(institution) {
				continue
			}
			out = append(out, map[string]any{
				"institution": s.Institution,
				"degree":      s.Degree,
				"field":       s.Field,
				"year":        s.Year,
				"verified":    true,
			})
		}
		return result(v.info, q.Check, map[string]any{"credentials": out}), nil
	}
}

func (v *Verifier) HealthCheck(context.Context) provider.Health { return healthy(v.info.ID) }
