package sar

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/config"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/entity"
	"github.com/cleargate/vantage/pkg/findings"
	"github.com/cleargate/vantage/pkg/knowledge"
)

// FactExtractor is the extractor surface the assessor needs.
type FactExtractor interface {
	Extract(ctx context.Context, tenantID, requestID string, check contracts.CheckType, subject string, payloads []map[string]any) []findings.Fact
}

// Assessor turns one SEARCH iteration's results into facts, confidence,
// gaps, knowledge, discoveries, and inconsistencies.
type Assessor struct {
	extractor FactExtractor
	kb        *knowledge.Base
	weights   config.Weights
	log       *zap.Logger
}

// NewAssessor creates an assessor.
func NewAssessor(extractor FactExtractor, kb *knowledge.Base, weights config.Weights, log *zap.Logger) *Assessor {
	return &Assessor{extractor: extractor, kb: kb, weights: weights, log: log.Named("assessor")}
}

// Assess processes the iteration's results in place on the state: new
// facts are appended, the knowledge base is fed, and confidence, gain
// rate, and gaps are recomputed.
func (a *Assessor) Assess(ctx context.Context, tenantID, requestID, subjectName string, state *TypeState, results []QueryResult) {
	state.Results = append(state.Results, results...)

	byCheck := map[contracts.CheckType][]map[string]any{}
	queriesRun, queriesFailed := 0, 0
	for _, r := range results {
		queriesRun++
		if !r.Succeeded {
			queriesFailed++
			continue
		}
		if r.Payload != nil {
			payload := r.Payload
			if _, ok := payload["provider_id"]; !ok && r.ProviderID != "" {
				payload = clonePayload(payload)
				payload["provider_id"] = r.ProviderID
			}
			byCheck[r.Query.Check] = append(byCheck[r.Query.Check], payload)
		}
	}
	state.QueriesRun += queriesRun
	state.QueriesFailed += queriesFailed

	var newFacts []findings.Fact
	for check, payloads := range byCheck {
		newFacts = append(newFacts, a.extractor.Extract(ctx, tenantID, requestID, check, subjectName, payloads)...)
	}

	// Corroboration and inconsistency detection compare against what was
	// already known before this iteration.
	prior := state.Facts
	state.Inconsistencies = append(state.Inconsistencies, detectConflicts(state.Type, prior, newFacts)...)
	state.Facts = append(state.Facts, newFacts...)

	a.feedKnowledge(state, newFacts)

	if queriesRun > 0 {
		state.InfoGainRate = float64(len(newFacts)) / float64(queriesRun)
	} else {
		state.InfoGainRate = 0
	}
	state.Gaps = a.gaps(state)
	state.observeConfidence(a.confidence(state))

	a.log.Debug("type assessed",
		zap.String("type", string(state.Type)),
		zap.Int("iteration", state.Iteration),
		zap.Int("new_facts", len(newFacts)),
		zap.Float64("confidence", state.Confidence),
		zap.Float64("gain_rate", state.InfoGainRate),
		zap.Strings("gaps", state.Gaps))
}

// confidence is the weighted sum over the five components.
func (a *Assessor) confidence(state *TypeState) float64 {
	_, expected, _ := Spec(state.Type)

	observedTypes := map[string]bool{}
	sources := map[string]bool{}
	valueSources := map[string]map[string]bool{} // type|value -> sources
	var confSum float64
	for _, f := range state.Facts {
		observedTypes[f.Type] = true
		sources[f.Source] = true
		confSum += f.Confidence
		key := f.Type + "|" + strings.ToLower(f.Value)
		if valueSources[key] == nil {
			valueSources[key] = map[string]bool{}
		}
		valueSources[key][f.Source] = true
	}

	completeness := 0.0
	if len(expected) > 0 {
		hit := 0
		for _, e := range expected {
			if observedTypes[e] {
				hit++
			}
		}
		completeness = float64(hit) / float64(len(expected))
	}

	corroboration := 0.0
	if len(valueSources) > 0 {
		multi := 0
		for _, srcs := range valueSources {
			if len(srcs) >= 2 {
				multi++
			}
		}
		corroboration = float64(multi) / float64(len(valueSources))
	}

	querySuccess := 0.0
	if state.QueriesRun > 0 {
		querySuccess = float64(state.QueriesRun-state.QueriesFailed) / float64(state.QueriesRun)
	}

	meanConf := 0.0
	if len(state.Facts) > 0 {
		meanConf = confSum / float64(len(state.Facts))
	}

	diversity := math.Min(1.0, float64(len(sources))/3.0)

	w := a.weights
	return w.Completeness*completeness +
		w.Corroboration*corroboration +
		w.QuerySuccess*querySuccess +
		w.FactConfidence*meanConf +
		w.SourceDiversity*diversity
}

// gaps lists expected fact types not yet observed.
func (a *Assessor) gaps(state *TypeState) []string {
	_, expected, _ := Spec(state.Type)
	observed := map[string]bool{}
	for _, f := range state.Facts {
		observed[f.Type] = true
	}
	var out []string
	for _, e := range expected {
		if !observed[e] {
			out = append(out, e)
		}
	}
	return out
}

// feedKnowledge commits this iteration's facts to the knowledge base
// atomically for the type, and queues discoveries for the network phase.
func (a *Assessor) feedKnowledge(state *TypeState, facts []findings.Fact) {
	rows := groupFacts(facts)
	a.kb.Write(func(w *knowledge.Writer) {
		for _, row := range rows {
			switch {
			case row.fields["identity.name"] != "":
				w.AddNameVariant(row.fields["identity.name"])
			}
			if dob := row.fields["identity.dob"]; dob != "" {
				if conflict := w.SetDOB(dob); conflict {
					state.Inconsistencies = append(state.Inconsistencies, Inconsistency{
						Field: "identity.dob", Type: state.Type,
						ValueA: dob, SourceA: row.source,
						ValueB: "previously confirmed", SourceB: "knowledge",
					})
				}
			}
			if addr := row.fields["identity.address"]; addr != "" {
				w.AddAddress(addr)
			}
			if j := row.fields["criminal.jurisdiction"]; j != "" {
				w.AddJurisdiction(j)
			}
			if emp := row.fields["employment.employer"]; emp != "" {
				w.AddEmployment(knowledge.EmploymentRecord{
					Employer:   emp,
					Title:      row.fields["employment.title"],
					Start:      row.fields["employment.start"],
					End:        row.fields["employment.end"],
					Sources:    []string{row.source},
					Confidence: row.confidence,
				})
				state.Discoveries = append(state.Discoveries, knowledge.Discovery{
					Name: emp, Kind: entity.KindOrganization,
					Relation: entity.RelEmployer, Strength: row.confidence, Source: row.source,
				})
			}
			if inst := row.fields["education.institution"]; inst != "" {
				w.AddEducation(knowledge.EducationRecord{
					Institution: inst,
					Degree:      row.fields["education.degree"],
					Field:       row.fields["education.field"],
					Year:        row.fields["education.year"],
					Sources:     []string{row.source},
					Confidence:  row.confidence,
				})
			}
			if auth := row.fields["license.authority"]; auth != "" {
				w.AddLicense(knowledge.LicenseRecord{
					Authority: auth,
					Kind:      row.fields["license.kind"],
					Number:    row.fields["license.number"],
					Status:    row.fields["license.status"],
					Sources:   []string{row.source},
				})
			}
			if org := row.fields["corporate.affiliation"]; org != "" {
				d := knowledge.Discovery{
					Name: org, Kind: entity.KindOrganization,
					Relation: entity.RelBusinessPartner, Strength: row.confidence, Source: row.source,
				}
				w.AddDiscovery(d)
				state.Discoveries = append(state.Discoveries, d)
			}
		}
	})
}

// factRow re-groups flat facts by source so related fields extracted
// from one payload reassemble into one record.
type factRow struct {
	source     string
	confidence float64
	fields     map[string]string
}

func groupFacts(facts []findings.Fact) []*factRow {
	bySource := map[string]*factRow{}
	var order []string
	for _, f := range facts {
		row, ok := bySource[f.Source]
		if !ok {
			row = &factRow{source: f.Source, fields: map[string]string{}}
			bySource[f.Source] = row
			order = append(order, f.Source)
		}
		if _, exists := row.fields[f.Type]; !exists {
			row.fields[f.Type] = f.Value
		}
		if f.Confidence > row.confidence {
			row.confidence = f.Confidence
		}
	}
	out := make([]*factRow, 0, len(order))
	for _, src := range order {
		out = append(out, bySource[src])
	}
	return out
}

// detectConflicts finds same-field different-value pairs across sources.
func detectConflicts(t InfoType, prior, fresh []findings.Fact) []Inconsistency {
	known := map[string]findings.Fact{} // fact type -> first observation
	for _, f := range prior {
		if _, ok := known[f.Type]; !ok {
			known[f.Type] = f
		}
	}
	var out []Inconsistency
	for _, f := range fresh {
		old, ok := known[f.Type]
		if !ok {
			known[f.Type] = f
			continue
		}
		if old.Source != f.Source && !strings.EqualFold(strings.TrimSpace(old.Value), strings.TrimSpace(f.Value)) {
			out = append(out, Inconsistency{
				Field: f.Type, Type: t,
				ValueA: old.Value, SourceA: old.Source,
				ValueB: f.Value, SourceB: f.Source,
			})
		}
	}
	return out
}

func clonePayload(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
