package adapters

import (
	"context"

	"github.com/cleargate/vantage/pkg/compliance"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/provider"
)

// CourtRecord is one simulated criminal or civil record.
type CourtRecord struct {
	Name         string
	Jurisdiction string
	Offense      string // criminal
	CaseKind     string // civil, e.g. "contract_dispute"
	Role         string // civil party role
	Disposition  string
	Date         string // YYYY-MM-DD
}

// Courts simulates a court-records aggregator covering criminal and
// civil checks, filterable by jurisdiction.
type Courts struct {
	info    provider.Info
	records map[string][]CourtRecord
}

// NewCourts seeds the simulated docket.
func NewCourts(records []CourtRecord) *Courts {
	byName := make(map[string][]CourtRecord)
	for _, r := range records {
		byName[key(r.Name)] = append(byName[key(r.Name)], r)
	}
	return &Courts{
		info: provider.Info{
			ID:        "sim-courts",
			Name:      "Simulated Court Records",
			Category:  compliance.SourceCore,
			Checks:    []contracts.CheckType{contracts.CheckCriminal, contracts.CheckCivil},
			CostCents: 120,
			RateRPS:   10,
			RateBurst: 20,
		},
		records: byName,
	}
}

func (c *Courts) Info() provider.Info { return c.info }

func (c *Courts) ExecuteCheck(_ context.Context, q provider.Query) (contracts.ProviderResult, error) {
	jurisdiction := q.Params["jurisdiction"]
	var hits []map[string]any
	for _, r := range c.records[key(queryName(q))] {
		criminal := r.Offense != ""
		if (q.Check == contracts.CheckCriminal) != criminal {
			continue
		}
		if jurisdiction != "" && r.Jurisdiction != jurisdiction {
			continue
		}
		hit := map[string]any{
			"jurisdiction": r.Jurisdiction,
			"disposition":  r.Disposition,
			"date":         r.Date,
		}
		if criminal {
			hit["offense"] = r.Offense
		} else {
			hit["case"] = r.CaseKind
			hit["role"] = r.Role
		}
		hits = append(hits, hit)
	}
	return result(c.info, q.Check, map[string]any{
		"scope":   scopeOf(jurisdiction),
		"records": hits,
		"clear":   len(hits) == 0,
	}), nil
}

func scopeOf(jurisdiction string) string {
	if jurisdiction == "" {
		return "nationwide"
	}
	return jurisdiction
}

func (c *Courts) HealthCheck(context.Context) provider.Health { return healthy(c.info.ID) }
