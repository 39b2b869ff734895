// Package adapters holds the in-tree simulated data sources used by
// tests and the dev binary. Each adapter is deterministic: results come
// from seeded fixtures keyed by the normalized subject name, so a rerun
// of the same investigation sees the same world.
package adapters

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/provider"
)

func key(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func result(info provider.Info, check contracts.CheckType, normalized map[string]any) contracts.ProviderResult {
	raw, _ := json.Marshal(normalized)
	return contracts.ProviderResult{
		ProviderID: info.ID,
		CheckType:  check,
		Raw:        raw,
		Normalized: normalized,
		CostCents:  info.CostCents,
		AcquiredAt: time.Now().UTC(),
	}
}

func healthy(id string) provider.Health {
	return provider.Health{Status: provider.HealthHealthy, CheckedAt: time.Now().UTC(), Detail: id + " simulated"}
}

// queryName prefers the SAR-enriched name parameter over the subject's
// primary name, so alias screening actually screens the alias.
func queryName(q provider.Query) string {
	if n := q.Params["name"]; n != "" {
		return n
	}
	return q.Subject.FullName
}
