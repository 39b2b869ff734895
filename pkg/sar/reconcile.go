package sar

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/config"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/findings"
	"github.com/cleargate/vantage/pkg/ids"
	"github.com/cleargate/vantage/pkg/knowledge"
)

// InconsistencyKind names one recognized deception signal.
type InconsistencyKind string

const (
	KindDateMismatch         InconsistencyKind = "date_mismatch"
	KindTitleMismatch        InconsistencyKind = "title_mismatch"
	KindDegreeMismatch       InconsistencyKind = "degree_mismatch"
	KindInstitutionMismatch  InconsistencyKind = "institution_mismatch"
	KindHiddenEmploymentGap  InconsistencyKind = "hidden_employment_gap"
	KindEducationInflation   InconsistencyKind = "education_inflation"
	KindFabricatedEmployer   InconsistencyKind = "fabricated_employer"
	KindImpossibleTimeline   InconsistencyKind = "impossible_timeline"
	KindMultipleIdentities   InconsistencyKind = "multiple_identities"
	KindDOBConflict          InconsistencyKind = "dob_conflict"
	KindAddressConflict      InconsistencyKind = "address_conflict"
	KindLicenseStatusClaim   InconsistencyKind = "license_status_claim"
	KindJurisdictionConflict InconsistencyKind = "jurisdiction_conflict"
	KindSystematicPattern    InconsistencyKind = "systematic_pattern"
)

// baseScores are per-kind deception points before pattern multipliers.
var baseScores = map[InconsistencyKind]float64{
	KindDateMismatch:         2,
	KindTitleMismatch:        3,
	KindDegreeMismatch:       4,
	KindInstitutionMismatch:  4,
	KindHiddenEmploymentGap:  4,
	KindEducationInflation:   5,
	KindFabricatedEmployer:   8,
	KindImpossibleTimeline:   6,
	KindMultipleIdentities:   7,
	KindDOBConflict:          5,
	KindAddressConflict:      2,
	KindLicenseStatusClaim:   4,
	KindJurisdictionConflict: 2,
	KindSystematicPattern:    6,
}

// ClassifiedInconsistency is one raw inconsistency with its kind and
// score attached.
type ClassifiedInconsistency struct {
	Inconsistency
	Kind  InconsistencyKind `json:"kind"`
	Score float64           `json:"score"`
}

// DeceptionReport is reconciliation's output.
type DeceptionReport struct {
	Inconsistencies []ClassifiedInconsistency `json:"inconsistencies"`
	Multiplier      float64                   `json:"multiplier"`
	Score           float64                   `json:"score"` // multiplied total
	Findings        []findings.Finding        `json:"findings"`
}

// Reconciler is the terminal phase: classify inconsistencies, derive the
// ones only visible across types, score deception, and dedup findings.
type Reconciler struct {
	cfg config.DeceptionConfig
	log *zap.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(cfg config.DeceptionConfig, log *zap.Logger) *Reconciler {
	return &Reconciler{cfg: cfg, log: log.Named("reconciler")}
}

// Reconcile processes every type's inconsistencies plus cross-type
// signals from the knowledge base.
func (r *Reconciler) Reconcile(subjectEntityID string, states map[InfoType]*TypeState, kb *knowledge.Base) DeceptionReport {
	var classified []ClassifiedInconsistency
	for _, state := range states {
		for _, inc := range state.Inconsistencies {
			kind := classifyInconsistency(inc)
			classified = append(classified, ClassifiedInconsistency{
				Inconsistency: inc,
				Kind:          kind,
				Score:         baseScores[kind],
			})
		}
	}
	classified = append(classified, r.derived(kb)...)

	multiplier := r.multiplier(classified)
	var total float64
	for _, c := range classified {
		total += c.Score
	}
	report := DeceptionReport{
		Inconsistencies: classified,
		Multiplier:      multiplier,
		Score:           total * multiplier,
	}
	report.Findings = r.toFindings(subjectEntityID, classified)

	r.log.Info("reconciliation complete",
		zap.Int("inconsistencies", len(classified)),
		zap.Float64("multiplier", multiplier),
		zap.Float64("deception_score", report.Score))
	return report
}

// classifyInconsistency maps a raw field conflict to its kind.
func classifyInconsistency(inc Inconsistency) InconsistencyKind {
	switch {
	case strings.HasSuffix(inc.Field, ".start") || strings.HasSuffix(inc.Field, ".end") ||
		strings.HasSuffix(inc.Field, ".date") || strings.HasSuffix(inc.Field, ".year"):
		return KindDateMismatch
	case inc.Field == "employment.title":
		return KindTitleMismatch
	case inc.Field == "education.degree":
		return KindDegreeMismatch
	case inc.Field == "education.institution":
		return KindInstitutionMismatch
	case inc.Field == "identity.dob":
		return KindDOBConflict
	case inc.Field == "identity.address":
		return KindAddressConflict
	case inc.Field == "identity.name":
		return KindMultipleIdentities
	case inc.Field == "license.status":
		return KindLicenseStatusClaim
	case strings.HasSuffix(inc.Field, ".jurisdiction"):
		return KindJurisdictionConflict
	default:
		return KindDateMismatch
	}
}

// derived detects the signals only visible across the assembled
// knowledge: hidden gaps, overlapping employment, fabricated employers.
func (r *Reconciler) derived(kb *knowledge.Base) []ClassifiedInconsistency {
	var out []ClassifiedInconsistency
	kb.Read(func(v *knowledge.View) {
		spans := employmentSpans(v.Employment())

		// Hidden gap: more than a year between consecutive spans.
		for i := 1; i < len(spans); i++ {
			gap := spans[i].start.Sub(spans[i-1].end)
			if spans[i-1].end.IsZero() || spans[i].start.IsZero() {
				continue
			}
			if gap > 365*24*time.Hour {
				out = append(out, ClassifiedInconsistency{
					Inconsistency: Inconsistency{
						Field:   "employment.history",
						Type:    TypeEmployment,
						ValueA:  spans[i-1].employer + " ending " + spans[i-1].end.Format("2006-01"),
						SourceA: "knowledge",
						ValueB:  spans[i].employer + " starting " + spans[i].start.Format("2006-01"),
						SourceB: "knowledge",
					},
					Kind:  KindHiddenEmploymentGap,
					Score: baseScores[KindHiddenEmploymentGap],
				})
			}
		}

		// Impossible timeline: two full spans overlapping by over a year.
		for i := 0; i < len(spans); i++ {
			for j := i + 1; j < len(spans); j++ {
				if overlap(spans[i], spans[j]) > 365*24*time.Hour {
					out = append(out, ClassifiedInconsistency{
						Inconsistency: Inconsistency{
							Field:   "employment.history",
							Type:    TypeEmployment,
							ValueA:  spans[i].employer,
							SourceA: "knowledge",
							ValueB:  spans[j].employer,
							SourceB: "knowledge",
						},
						Kind:  KindImpossibleTimeline,
						Score: baseScores[KindImpossibleTimeline],
					})
				}
			}
		}

		// Fabricated employer: a claimed employer no source corroborated.
		for _, rec := range v.Employment() {
			if len(rec.Sources) == 1 && rec.Sources[0] == "subject" && rec.Confidence < 0.3 {
				out = append(out, ClassifiedInconsistency{
					Inconsistency: Inconsistency{
						Field:   "employment.employer",
						Type:    TypeEmployment,
						ValueA:  rec.Employer,
						SourceA: "subject",
						ValueB:  "no record",
						SourceB: "providers",
					},
					Kind:  KindFabricatedEmployer,
					Score: baseScores[KindFabricatedEmployer],
				})
			}
		}
	})
	return out
}

// multiplier applies the pattern modifiers. All applicable modifiers
// multiply together.
func (r *Reconciler) multiplier(incs []ClassifiedInconsistency) float64 {
	if len(incs) < 2 {
		return 1.0
	}
	byField := map[string]int{}
	types := map[InfoType]bool{}
	favoring := 0
	for _, c := range incs {
		byField[c.Field]++
		types[c.Type] = true
		if c.Favoring == "subject" {
			favoring++
		}
	}

	m := 1.0
	switch {
	case len(incs) >= 4:
		m *= r.cfg.Many
	case len(byField) >= 2:
		m *= r.cfg.DiffFieldSmall
	default:
		// 2-3 inconsistencies in one field.
		m *= r.cfg.SameFieldSmall
	}
	if len(types) >= 3 {
		m *= r.cfg.CrossType
	}
	if favoring*2 > len(incs) {
		m *= r.cfg.DirectionalBias
	}
	return m
}

// toFindings converts inconsistencies into deduplicated deception
// findings, one per (kind, field, values) triple.
func (r *Reconciler) toFindings(subjectEntityID string, incs []ClassifiedInconsistency) []findings.Finding {
	seen := map[string]bool{}
	var out []findings.Finding
	for _, c := range incs {
		a, b := c.ValueA, c.ValueB
		if a > b {
			a, b = b, a
		}
		key := string(c.Kind) + "|" + c.Field + "|" + a + "|" + b
		if seen[key] {
			continue
		}
		seen[key] = true

		sev := contracts.SeverityMedium
		if c.Score >= 6 {
			sev = contracts.SeverityHigh
		}
		out = append(out, findings.Finding{
			ID:            ids.New(),
			Category:      "deception",
			SubCategory:   string(c.Kind),
			Summary:       fmt.Sprintf("%s: %q (%s) vs %q (%s)", c.Kind, c.ValueA, c.SourceA, c.ValueB, c.SourceB),
			Severity:      sev,
			Confidence:    0.8,
			Sources:       sourcesOf(c),
			SubjectEntity: subjectEntityID,
			DiscoveredAt:  time.Now().UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Summary < out[j].Summary })
	return out
}

func sourcesOf(c ClassifiedInconsistency) []string {
	if c.SourceA == c.SourceB {
		return []string{c.SourceA}
	}
	return []string{c.SourceA, c.SourceB}
}

type span struct {
	employer   string
	start, end time.Time
}

func employmentSpans(recs []knowledge.EmploymentRecord) []span {
	var out []span
	for _, rec := range recs {
		s := span{employer: rec.Employer}
		if t, err := time.Parse("2006-01", rec.Start); err == nil {
			s.start = t
		}
		if t, err := time.Parse("2006-01", rec.End); err == nil {
			s.end = t
		}
		if s.start.IsZero() {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start.Before(out[j].start) })
	return out
}

func overlap(a, b span) time.Duration {
	if a.end.IsZero() || b.end.IsZero() {
		return 0
	}
	start := a.start
	if b.start.After(start) {
		start = b.start
	}
	end := a.end
	if b.end.Before(end) {
		end = b.end
	}
	if end.Before(start) {
		return 0
	}
	return end.Sub(start)
}
