package sar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleargate/vantage/pkg/knowledge"
)

func newTestRefiner() *Refiner {
	return NewRefiner(NewPlanner(knowledge.New("Jane Smith")), testSARCfg())
}

func TestDecideCompleteAtThreshold(t *testing.T) {
	r := newTestRefiner()
	state := NewTypeState(TypeCriminal)
	state.Confidence = 0.86

	assert.Equal(t, PhaseComplete, r.Decide(TypeCriminal, testSubject(), state).Next)
}

func TestDecideFoundationThresholdIsStricter(t *testing.T) {
	r := newTestRefiner()

	criminal := NewTypeState(TypeCriminal)
	criminal.Confidence = 0.86
	assert.Equal(t, PhaseComplete, r.Decide(TypeCriminal, testSubject(), criminal).Next)

	identity := NewTypeState(TypeIdentity)
	identity.Confidence = 0.86
	assert.NotEqual(t, PhaseComplete, r.Decide(TypeIdentity, testSubject(), identity).Next)
}

func TestDecideCappedAtMaxIterations(t *testing.T) {
	r := newTestRefiner()
	state := NewTypeState(TypeCriminal)
	state.Iteration = 3
	state.Confidence = 0.5
	state.InfoGainRate = 0.8

	assert.Equal(t, PhaseCapped, r.Decide(TypeCriminal, testSubject(), state).Next)
}

func TestDecideDiminishedOnLowGainAndImprovement(t *testing.T) {
	r := newTestRefiner()
	state := NewTypeState(TypeCriminal)
	state.Iteration = 2
	state.Confidence = 0.50
	state.PriorConfidence = 0.495
	state.InfoGainRate = 0.05
	state.Gaps = []string{"criminal.disposition"}

	assert.Equal(t, PhaseDiminished, r.Decide(TypeCriminal, testSubject(), state).Next)
}

func TestDecideContinuesWithGapQueries(t *testing.T) {
	r := newTestRefiner()
	state := NewTypeState(TypeCriminal)
	state.Confidence = 0.5
	state.InfoGainRate = 0.6
	state.Gaps = []string{"criminal.disposition"}

	d := r.Decide(TypeCriminal, testSubject(), state)
	assert.Equal(t, PhaseSearch, d.Next)
	require.Len(t, d.Queries, 1)
	assert.Equal(t, "court_records", d.Queries[0].Params["depth"])
}

// exhaustRefinements runs one Decide and marks its queries executed so
// the next Decide has nothing left to ask.
func exhaustRefinements(t *testing.T, r *Refiner, state *TypeState) {
	t.Helper()
	d := r.Decide(TypeCriminal, testSubject(), state)
	require.NotEmpty(t, d.Queries)
	for _, q := range d.Queries {
		state.Executed[q.CanonicalKey()] = true
	}
}

func TestDecideCappedWhenNothingLeftToAskButStillGaining(t *testing.T) {
	r := newTestRefiner()
	state := NewTypeState(TypeCriminal)
	state.Confidence = 0.5
	state.InfoGainRate = 0.6
	state.Gaps = []string{"criminal.disposition"}
	exhaustRefinements(t, r, state)

	// Information was still flowing; running out of queries is a cap,
	// not diminishing returns.
	assert.Equal(t, PhaseCapped, r.Decide(TypeCriminal, testSubject(), state).Next)
}

func TestDecideDiminishedWhenNothingLeftToAskAndGainIsLow(t *testing.T) {
	r := newTestRefiner()
	state := NewTypeState(TypeCriminal)
	state.Confidence = 0.5
	state.PriorConfidence = 0.495
	state.InfoGainRate = 0.6
	state.Gaps = []string{"criminal.disposition"}
	exhaustRefinements(t, r, state)

	state.InfoGainRate = 0.05
	assert.Equal(t, PhaseDiminished, r.Decide(TypeCriminal, testSubject(), state).Next)
}

func TestAdvanceTerminalIsFinal(t *testing.T) {
	state := NewTypeState(TypeCriminal)
	state.advance(PhaseAssess)
	state.advance(PhaseComplete)
	state.advance(PhaseSearch)
	assert.Equal(t, PhaseComplete, state.Phase)
	assert.Equal(t, 1, state.Iteration)
}

func TestAdvanceRefineLoopIncrementsIteration(t *testing.T) {
	state := NewTypeState(TypeCriminal)
	state.advance(PhaseAssess)
	state.advance(PhaseRefine)
	state.advance(PhaseSearch)
	assert.Equal(t, 2, state.Iteration)
}
