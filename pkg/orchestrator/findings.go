package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cleargate/vantage/pkg/findings"
	"github.com/cleargate/vantage/pkg/ids"
	"github.com/cleargate/vantage/pkg/sar"
)

// adverseFacts maps fact types worth surfacing as findings to the
// summary prefix the classifier keys on. Benign facts (names, addresses,
// verified engagements) stay in the knowledge base only.
var adverseFacts = map[string]string{
	"criminal.offense":      "conviction record",
	"criminal.disposition":  "criminal disposition",
	"sanctions.list":        "sanctions list match",
	"sanctions.match":       "sanctions match",
	"pep.status":            "politically exposed person status",
	"regulatory.action":     "regulatory enforcement action",
	"civil.case":            "civil lawsuit",
	"adverse_media.article": "adverse media coverage",
	"adverse_media.topic":   "adverse media coverage",
	"credit.bankruptcies":   "bankruptcy on record",
	"credit.liens":          "lien on record",
}

var benignValues = map[string]bool{
	"": true, "clear": true, "none": true, "false": true, "0": true, "no": true, "n/a": true,
}

// factFindings converts the adverse facts accumulated across SAR cycles
// into raw findings for risk classification. Category and severity are
// left blank for the classifier.
func factFindings(entityID string, states map[sar.InfoType]*sar.TypeState) []findings.Finding {
	types := make([]sar.InfoType, 0, len(states))
	for t := range states {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	seen := map[string]bool{}
	var out []findings.Finding
	for _, t := range types {
		for _, f := range states[t].Facts {
			prefix, adverse := adverseFacts[f.Type]
			if !adverse || benignValues[strings.ToLower(strings.TrimSpace(f.Value))] {
				continue
			}
			key := f.Type + "|" + f.Value
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, findings.Finding{
				ID:            ids.New(),
				Summary:       fmt.Sprintf("%s: %s", prefix, f.Value),
				Confidence:    f.Confidence,
				Sources:       []string{f.Source},
				Corroborated:  f.Corroborated,
				FindingDate:   f.Date,
				DiscoveredAt:  time.Now().UTC(),
				SubjectEntity: entityID,
			})
		}
	}
	return out
}
