package sar

import (
	"github.com/cleargate/vantage/pkg/config"
	"github.com/cleargate/vantage/pkg/contracts"
)

// Decision is the REFINE step's verdict for one iteration.
type Decision struct {
	Next Phase
	// Queries is the gap-targeted set when Next is SEARCH.
	Queries []Query
}

// Refiner applies the termination rules and, when the cycle continues,
// asks the planner for gap-targeted queries.
type Refiner struct {
	planner *Planner
	cfg     config.SARConfig
}

// NewRefiner creates a refiner.
func NewRefiner(planner *Planner, cfg config.SARConfig) *Refiner {
	return &Refiner{planner: planner, cfg: cfg}
}

// typeConfig returns the iteration controls for the type.
func (r *Refiner) typeConfig(t InfoType) config.SARTypeConfig {
	_, _, foundation := Spec(t)
	if foundation {
		return r.cfg.Foundation
	}
	return r.cfg.Default
}

// Decide applies, in order: completion, iteration cap, diminishing
// returns, continue.
func (r *Refiner) Decide(t InfoType, subject contracts.Subject, state *TypeState) Decision {
	tc := r.typeConfig(t)

	if state.Confidence >= tc.Threshold {
		return Decision{Next: PhaseComplete}
	}
	if state.Iteration >= tc.MaxIterations {
		return Decision{Next: PhaseCapped}
	}
	improvement := state.Confidence - state.PriorConfidence
	if state.Iteration > 1 && state.InfoGainRate < tc.MinGainRate && improvement < tc.MinImprovement {
		return Decision{Next: PhaseDiminished}
	}

	queries := r.planner.RefineQueries(t, subject, state, r.cfg.MaxQueriesPerGap, r.cfg.MaxRefineQueries)
	if len(queries) == 0 {
		// Nothing left to ask. DIMINISHED is reserved for low-gain
		// iterations; a cycle still gaining information that has simply
		// run out of distinct queries ends as capped.
		if state.InfoGainRate < tc.MinGainRate && improvement < tc.MinImprovement {
			return Decision{Next: PhaseDiminished}
		}
		return Decision{Next: PhaseCapped}
	}
	return Decision{Next: PhaseSearch, Queries: queries}
}
