package adapters

import (
	"context"

	"github.com/cleargate/vantage/pkg/compliance"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/provider"
)

// WatchlistEntry is one simulated sanctions or PEP listing.
type WatchlistEntry struct {
	Name    string
	List    string // e.g. "OFAC_SDN", "EU_CONSOLIDATED"
	PEP     bool
	Country string
}

// Sanctions simulates a global screening bureau covering sanctions and
// PEP checks.
type Sanctions struct {
	info    provider.Info
	entries map[string][]WatchlistEntry
}

// NewSanctions seeds the simulated watchlist.
func NewSanctions(entries []WatchlistEntry) *Sanctions {
	byName := make(map[string][]WatchlistEntry)
	for _, e := range entries {
		byName[key(e.Name)] = append(byName[key(e.Name)], e)
	}
	return &Sanctions{
		info: provider.Info{
			ID:        "sim-sanctions",
			Name:      "Simulated Global Screening",
			Category:  compliance.SourceCore,
			Checks:    []contracts.CheckType{contracts.CheckSanctions, contracts.CheckPEP},
			CostCents: 40,
			RateRPS:   20,
			RateBurst: 40,
		},
		entries: byName,
	}
}

func (s *Sanctions) Info() provider.Info { return s.info }

func (s *Sanctions) ExecuteCheck(_ context.Context, q provider.Query) (contracts.ProviderResult, error) {
	name := queryName(q)
	var matches []map[string]any
	for _, e := range s.entries[key(name)] {
		if q.Check == contracts.CheckPEP && !e.PEP {
			continue
		}
		if q.Check == contracts.CheckSanctions && e.PEP {
			continue
		}
		matches = append(matches, map[string]any{
			"name":    e.Name,
			"list":    e.List,
			"country": e.Country,
		})
	}

	normalized := map[string]any{
		"screened_name": name,
		"match":         len(matches) > 0,
		"matches":       matches,
	}
	if q.Check == contracts.CheckPEP {
		normalized["pep_status"] = "none"
		if len(matches) > 0 {
			normalized["pep_status"] = "confirmed"
		}
	} else if len(matches) > 0 {
		normalized["list"] = matches[0]["list"]
	}
	return result(s.info, q.Check, normalized), nil
}

func (s *Sanctions) HealthCheck(context.Context) provider.Health { return healthy(s.info.ID) }
