// Package sar implements the Search-Assess-Refine investigation engine:
// per-information-type iterative cycles with confidence-driven
// termination, sequenced into phases with dependency gating.
package sar

import (
	"sort"
	"strings"

	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/findings"
	"github.com/cleargate/vantage/pkg/knowledge"
)

// InfoType is one information type investigated by its own SAR cycle.
type InfoType string

const (
	TypeIdentity         InfoType = "IDENTITY"
	TypeEmployment       InfoType = "EMPLOYMENT"
	TypeEducation        InfoType = "EDUCATION"
	TypeCriminal         InfoType = "CRIMINAL"
	TypeCivil            InfoType = "CIVIL"
	TypeFinancial        InfoType = "FINANCIAL"
	TypeLicenses         InfoType = "LICENSES"
	TypeRegulatory       InfoType = "REGULATORY"
	TypeSanctions        InfoType = "SANCTIONS"
	TypeAdverseMedia     InfoType = "ADVERSE_MEDIA"
	TypeDigitalFootprint InfoType = "DIGITAL_FOOTPRINT"
	TypeD2Connections    InfoType = "D2_CONNECTIONS"
	TypeD3Network        InfoType = "D3_NETWORK"
)

// Phase is the per-type state machine phase. SEARCH → ASSESS → REFINE
// may loop; COMPLETE, CAPPED, and DIMINISHED are terminal.
type Phase string

const (
	PhaseSearch     Phase = "SEARCH"
	PhaseAssess     Phase = "ASSESS"
	PhaseRefine     Phase = "REFINE"
	PhaseComplete   Phase = "COMPLETE"
	PhaseCapped     Phase = "CAPPED"
	PhaseDiminished Phase = "DIMINISHED"
)

// Terminal reports whether the phase ends the type's cycle.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseCapped || p == PhaseDiminished
}

// typeSpec is the static declaration of one information type.
type typeSpec struct {
	Checks        []contracts.CheckType
	ExpectedFacts []string
	Dependencies  []InfoType
	Foundation    bool
	EnhancedOnly  bool
}

var typeSpecs = map[InfoType]typeSpec{
	TypeIdentity: {
		Checks:        []contracts.CheckType{contracts.CheckIdentity},
		ExpectedFacts: []string{"identity.name", "identity.dob", "identity.address"},
		Foundation:    true,
	},
	TypeEmployment: {
		Checks:        []contracts.CheckType{contracts.CheckEmployment},
		ExpectedFacts: []string{"employment.employer", "employment.title", "employment.start", "employment.end"},
		Dependencies:  []InfoType{TypeIdentity},
		Foundation:    true,
	},
	TypeEducation: {
		Checks:        []contracts.CheckType{contracts.CheckEducation},
		ExpectedFacts: []string{"education.institution", "education.degree", "education.year"},
		Dependencies:  []InfoType{TypeIdentity},
		Foundation:    true,
	},
	TypeCriminal: {
		Checks:        []contracts.CheckType{contracts.CheckCriminal},
		ExpectedFacts: []string{"criminal.offense", "criminal.disposition", "criminal.jurisdiction"},
		Dependencies:  []InfoType{TypeIdentity, TypeEmployment, TypeEducation},
	},
	TypeCivil: {
		Checks:        []contracts.CheckType{contracts.CheckCivil},
		ExpectedFacts: []string{"civil.case", "civil.role", "civil.outcome"},
		Dependencies:  []InfoType{TypeIdentity, TypeEmployment, TypeEducation},
	},
	TypeFinancial: {
		Checks:        []contracts.CheckType{contracts.CheckCredit},
		ExpectedFacts: []string{"credit.standing", "credit.bankruptcies", "credit.liens"},
		Dependencies:  []InfoType{TypeIdentity, TypeEmployment, TypeEducation},
	},
	TypeLicenses: {
		Checks:        []contracts.CheckType{contracts.CheckLicenses},
		ExpectedFacts: []string{"license.authority", "license.kind", "license.status"},
		Dependencies:  []InfoType{TypeIdentity, TypeEmployment, TypeEducation},
	},
	TypeRegulatory: {
		Checks:        []contracts.CheckType{contracts.CheckRegulatory},
		ExpectedFacts: []string{"regulatory.action", "regulatory.authority"},
		Dependencies:  []InfoType{TypeIdentity, TypeEmployment, TypeEducation},
	},
	TypeSanctions: {
		Checks:        []contracts.CheckType{contracts.CheckSanctions, contracts.CheckPEP},
		ExpectedFacts: []string{"sanctions.list", "sanctions.match", "pep.status"},
		Dependencies:  []InfoType{TypeIdentity, TypeEmployment, TypeEducation},
	},
	TypeAdverseMedia: {
		Checks:        []contracts.CheckType{contracts.CheckAdverseMedia},
		ExpectedFacts: []string{"adverse_media.article", "adverse_media.topic"},
		Dependencies:  []InfoType{TypeCriminal, TypeCivil, TypeFinancial, TypeLicenses, TypeRegulatory, TypeSanctions},
	},
	TypeDigitalFootprint: {
		Checks:        []contracts.CheckType{contracts.CheckOSINT, contracts.CheckBehavioral},
		ExpectedFacts: []string{"osint.presence", "osint.alias", "behavioral.signal"},
		Dependencies:  []InfoType{TypeCriminal, TypeCivil, TypeFinancial, TypeLicenses, TypeRegulatory, TypeSanctions},
		EnhancedOnly:  true,
	},
	TypeD2Connections: {
		Checks:        []contracts.CheckType{contracts.CheckCorporate},
		ExpectedFacts: []string{"corporate.affiliation", "corporate.role"},
		Dependencies:  []InfoType{TypeAdverseMedia},
	},
	TypeD3Network: {
		Checks:        []contracts.CheckType{contracts.CheckCorporate},
		ExpectedFacts: []string{"corporate.affiliation"},
		Dependencies:  []InfoType{TypeD2Connections},
		EnhancedOnly:  true,
	},
}

// Spec returns the static declaration for a type.
func Spec(t InfoType) (checks []contracts.CheckType, expected []string, foundation bool) {
	s := typeSpecs[t]
	return s.Checks, s.ExpectedFacts, s.Foundation
}

// Dependencies returns the types that must terminate before t begins.
func Dependencies(t InfoType) []InfoType {
	return typeSpecs[t].Dependencies
}

// EligibleFor reports whether the tier may run the type.
func EligibleFor(t InfoType, tier contracts.Tier) bool {
	if typeSpecs[t].EnhancedOnly {
		return tier == contracts.TierEnhanced
	}
	return true
}

// Query is one planned gateway call.
type Query struct {
	Check  contracts.CheckType
	Params map[string]string
}

// CanonicalKey is the dedup key: check plus sorted params.
func (q Query) CanonicalKey() string {
	keys := make([]string, 0, len(q.Params))
	for k := range q.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(string(q.Check))
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(q.Params[k])
	}
	return b.String()
}

// QueryResult pairs a query with its gateway outcome.
type QueryResult struct {
	Query      Query          `json:"query"`
	ProviderID string         `json:"provider_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	FromCache  bool           `json:"from_cache"`
	Stale      bool           `json:"stale"`
	Succeeded  bool           `json:"succeeded"`
}

// Inconsistency is raw material for reconciliation: two observations
// that disagree.
type Inconsistency struct {
	Field    string   `json:"field"` // e.g. "employment.start"
	Type     InfoType `json:"info_type"`
	ValueA   string   `json:"value_a"`
	SourceA  string   `json:"source_a"`
	ValueB   string   `json:"value_b"`
	SourceB  string   `json:"source_b"`
	Favoring string   `json:"favoring,omitempty"` // "subject" when the error flatters the subject
}

// TypeState is the per-type SAR state. Invariants: iteration strictly
// increments, confidence never decreases, terminal phases are final.
type TypeState struct {
	Type       InfoType `json:"type"`
	Iteration  int      `json:"iteration"`
	Phase      Phase    `json:"phase"`
	Confidence float64  `json:"confidence"`
	// PriorConfidence is the confidence after the previous iteration,
	// used for the diminishing-returns test.
	PriorConfidence float64               `json:"prior_confidence"`
	InfoGainRate    float64               `json:"info_gain_rate"`
	Gaps            []string              `json:"gaps,omitempty"`
	Executed        map[string]bool       `json:"executed"` // canonical query keys
	Facts           []findings.Fact       `json:"facts,omitempty"`
	Results         []QueryResult         `json:"results,omitempty"`
	Inconsistencies []Inconsistency       `json:"inconsistencies,omitempty"`
	Discoveries     []knowledge.Discovery `json:"discoveries,omitempty"`
	QueriesRun      int                   `json:"queries_run"`
	QueriesFailed   int                   `json:"queries_failed"`
}

// NewTypeState starts a cycle at iteration 1 in SEARCH.
func NewTypeState(t InfoType) *TypeState {
	return &TypeState{
		Type:      t,
		Iteration: 1,
		Phase:     PhaseSearch,
		Executed:  make(map[string]bool),
	}
}

// advance moves to the next phase, enforcing one-way transitions except
// the REFINE → SEARCH loop.
func (s *TypeState) advance(next Phase) {
	if s.Phase.Terminal() {
		return
	}
	if next == PhaseSearch && s.Phase == PhaseRefine {
		s.Iteration++
	}
	s.Phase = next
}

// observeConfidence enforces monotonicity: a later iteration that would
// score lower keeps the higher prior value.
func (s *TypeState) observeConfidence(c float64) {
	s.PriorConfidence = s.Confidence
	if c > s.Confidence {
		s.Confidence = c
	}
}
