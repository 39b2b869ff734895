package risk

import (
	"fmt"

	"github.com/cleargate/vantage/pkg/config"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/findings"
	"github.com/cleargate/vantage/pkg/ids"
)

// ConnectedRisk is one risky entity in the subject's network with its
// intrinsic risk (sanctions hit, PEP status, shell structure) assessed
// independently of the subject.
type ConnectedRisk struct {
	EntityID  string   `json:"entity_id"`
	Name      string   `json:"name"`
	Hop       int      `json:"hop"` // 1 = direct connection
	Strength  float64  `json:"strength"`
	Intrinsic float64  `json:"intrinsic"` // 0..1
	Degree    int      `json:"degree"`    // edge count, centrality proxy
	Reason    string   `json:"reason"`
	Path      []string `json:"path"` // subject ... risky entity
}

// PropagateNetwork converts connected risks into a score adjustment and
// network findings. Risk decays per hop and is weighted by tie strength
// and a centrality factor favoring well-connected intermediaries.
func PropagateNetwork(subjectEntityID string, risks []ConnectedRisk, cfg config.RiskConfig) (float64, []findings.Finding) {
	var adjustment float64
	var out []findings.Finding

	for _, r := range risks {
		decay := 0.0
		switch r.Hop {
		case 1:
			decay = cfg.HopDecayD2
		case 2:
			decay = cfg.HopDecayD3
		default:
			continue // beyond the supported depth
		}
		centrality := 1.0
		if r.Degree > 3 {
			centrality = 1.2
		}
		contribution := r.Intrinsic * decay * r.Strength * centrality * 20
		if contribution <= 0 {
			continue
		}
		adjustment += contribution

		sev := contracts.SeverityMedium
		if r.Intrinsic >= 0.8 && r.Hop == 1 {
			sev = contracts.SeverityHigh
		}
		out = append(out, findings.Finding{
			ID:             ids.New(),
			Category:       "network",
			SubCategory:    "risky_connection",
			Summary:        fmt.Sprintf("connection to %s (%d hop): %s", r.Name, r.Hop, r.Reason),
			Severity:       sev,
			Confidence:     r.Strength,
			Sources:        []string{"network-analysis"},
			SubjectEntity:  subjectEntityID,
			ConnectionPath: r.Path,
		})
	}
	if adjustment > 25 {
		adjustment = 25
	}
	return adjustment, out
}
