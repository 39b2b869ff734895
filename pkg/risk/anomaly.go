package risk

import (
	"fmt"
	"sort"
	"time"

	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/findings"
)

// Anomaly is one detected pattern with its score adjustment.
type Anomaly struct {
	Kind       string  `json:"kind"`
	Detail     string  `json:"detail"`
	Adjustment float64 `json:"adjustment"`
}

// DetectAnomalies scans a finding set for trajectory and distribution
// patterns that individual findings do not capture.
func DetectAnomalies(fs []findings.Finding) []Anomaly {
	var out []Anomaly
	if a := escalation(fs); a != nil {
		out = append(out, *a)
	}
	if a := frequencyBurst(fs); a != nil {
		out = append(out, *a)
	}
	if a := crossCategorySaturation(fs); a != nil {
		out = append(out, *a)
	}
	if a := credentialInflation(fs); a != nil {
		out = append(out, *a)
	}
	return out
}

// escalation fires when severity rises over time across dated findings.
func escalation(fs []findings.Finding) *Anomaly {
	type dated struct {
		t time.Time
		w float64
	}
	var seq []dated
	for _, f := range fs {
		if f.FindingDate == "" {
			continue
		}
		if d, err := time.Parse("2006-01-02", f.FindingDate); err == nil {
			seq = append(seq, dated{d, f.Severity.Weight()})
		}
	}
	if len(seq) < 3 {
		return nil
	}
	sort.Slice(seq, func(i, j int) bool { return seq[i].t.Before(seq[j].t) })
	rising := 0
	for i := 1; i < len(seq); i++ {
		if seq[i].w > seq[i-1].w {
			rising++
		}
	}
	if float64(rising)/float64(len(seq)-1) < 0.6 {
		return nil
	}
	return &Anomaly{
		Kind:       "escalation",
		Detail:     fmt.Sprintf("severity rising across %d dated findings", len(seq)),
		Adjustment: 8,
	}
}

// frequencyBurst fires when three or more findings share a 12-month
// window.
func frequencyBurst(fs []findings.Finding) *Anomaly {
	var dates []time.Time
	for _, f := range fs {
		if f.FindingDate == "" {
			continue
		}
		if d, err := time.Parse("2006-01-02", f.FindingDate); err == nil {
			dates = append(dates, d)
		}
	}
	if len(dates) < 3 {
		return nil
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	for i := 0; i+2 < len(dates); i++ {
		if dates[i+2].Sub(dates[i]) <= 365*24*time.Hour {
			return &Anomaly{
				Kind:       "frequency_burst",
				Detail:     fmt.Sprintf("3+ findings within twelve months starting %s", dates[i].Format("2006-01-02")),
				Adjustment: 6,
			}
		}
	}
	return nil
}

// crossCategorySaturation fires when material findings span four or
// more categories.
func crossCategorySaturation(fs []findings.Finding) *Anomaly {
	cats := map[string]bool{}
	for _, f := range fs {
		if f.Severity == contracts.SeverityMedium || f.Severity == contracts.SeverityHigh || f.Severity == contracts.SeverityCritical {
			cats[f.Category] = true
		}
	}
	if len(cats) < 4 {
		return nil
	}
	return &Anomaly{
		Kind:       "cross_category_saturation",
		Detail:     fmt.Sprintf("material findings across %d categories", len(cats)),
		Adjustment: 10,
	}
}

// credentialInflation fires on multiple education/deception credential
// findings, a stronger signal than either alone.
func credentialInflation(fs []findings.Finding) *Anomaly {
	n := 0
	for _, f := range fs {
		if f.SubCategory == "credential" || (f.Category == "deception" && f.SubCategory == "misrepresentation") {
			n++
		}
	}
	if n < 2 {
		return nil
	}
	return &Anomaly{
		Kind:       "credential_inflation",
		Detail:     fmt.Sprintf("%d credential or misrepresentation findings", n),
		Adjustment: 7,
	}
}

// TotalAdjustment sums anomaly adjustments with a cap so stacked
// anomalies cannot dominate the composite score.
func TotalAdjustment(anomalies []Anomaly) float64 {
	var sum float64
	for _, a := range anomalies {
		sum += a.Adjustment
	}
	if sum > 20 {
		sum = 20
	}
	return sum
}
