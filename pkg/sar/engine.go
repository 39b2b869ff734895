package sar

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/audit"
	"github.com/cleargate/vantage/pkg/config"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/faults"
	"github.com/cleargate/vantage/pkg/findings"
	"github.com/cleargate/vantage/pkg/knowledge"
	"github.com/cleargate/vantage/pkg/reqctx"
)

// Investigation is the working state of one run: owned by the engine for
// its lifetime, checkpointable at phase and type boundaries.
type Investigation struct {
	ID       string
	RC       *reqctx.Context
	Subject  contracts.Subject
	EntityID string
	KB       *knowledge.Base

	States          map[InfoType]*TypeState
	CompletedPhases []string
	Deception       *DeceptionReport
}

// NewInvestigation starts fresh working state.
func NewInvestigation(id string, rc *reqctx.Context, subject contracts.Subject, entityID string) *Investigation {
	return &Investigation{
		ID:       id,
		RC:       rc,
		Subject:  subject,
		EntityID: entityID,
		KB:       knowledge.New(subject.FullName),
		States:   make(map[InfoType]*TypeState),
	}
}

// State returns the type's state, creating it on first use.
func (inv *Investigation) State(t InfoType) *TypeState {
	s, ok := inv.States[t]
	if !ok {
		s = NewTypeState(t)
		inv.States[t] = s
	}
	return s
}

// PhaseDone reports whether a phase already completed (set on resume).
func (inv *Investigation) PhaseDone(name string) bool {
	for _, p := range inv.CompletedPhases {
		if p == name {
			return true
		}
	}
	return false
}

// Findings collects every finding surfaced during the run.
func (inv *Investigation) Findings() []findings.Finding {
	var out []findings.Finding
	if inv.Deception != nil {
		out = append(out, inv.Deception.Findings...)
	}
	return out
}

// PhaseHandler runs one phase of the investigation.
type PhaseHandler interface {
	Name() string
	Run(ctx context.Context, e *Engine, inv *Investigation) error
}

// Checkpointer persists investigation state at configured points.
type Checkpointer interface {
	Save(ctx context.Context, inv *Investigation, point, status string) error
}

// Engine sequences phase handlers with dependency gating, investigation
// wall-clock caps, checkpoints, and cooperative cancellation.
type Engine struct {
	cfg      config.SARConfig
	runner   *Runner
	recon    *Reconciler
	ckpt     Checkpointer
	trail    *audit.Trail
	handlers []PhaseHandler
	log      *zap.Logger
}

// NewEngine assembles the engine. ckpt may be nil (no persistence).
func NewEngine(cfg config.SARConfig, runner *Runner, recon *Reconciler, ckpt Checkpointer, trail *audit.Trail, handlers []PhaseHandler, log *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		runner:   runner,
		recon:    recon,
		ckpt:     ckpt,
		trail:    trail,
		handlers: handlers,
		log:      log.Named("engine"),
	}
}

// Config exposes the engine's SAR configuration to phase handlers.
func (e *Engine) Config() config.SARConfig { return e.cfg }

// Reconciler exposes the terminal-phase reconciler to its handler.
func (e *Engine) Reconciler() *Reconciler { return e.recon }

// Outcome is the engine's result.
type Outcome struct {
	States           map[InfoType]*TypeState
	Deception        *DeceptionReport
	IncompleteChecks []contracts.CheckType
	Partial          bool
	Reason           string
}

// Run drives every phase in order. Partial outcomes (foundation gate,
// wall-clock cap, budget exhaustion) are returned without error; fatal
// faults and cancellation return the error after a checkpoint is written.
func (e *Engine) Run(ctx context.Context, inv *Investigation) (*Outcome, error) {
	wallCap := e.cfg.StandardInvestCap
	if inv.RC.Tier == contracts.TierEnhanced {
		wallCap = e.cfg.EnhancedInvestCap
	}
	if wallCap > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wallCap)
		defer cancel()
	}

	out := &Outcome{States: inv.States}
	for _, h := range e.handlers {
		if inv.PhaseDone(h.Name()) {
			continue
		}
		err := h.Run(ctx, e, inv)
		switch {
		case err == nil:
		case isFoundationGate(err):
			out.Partial = true
			out.Reason = err.Error()
			e.checkpoint(ctx, inv, "phase:"+h.Name(), "BLOCKED")
			e.finish(out, inv)
			return out, nil
		case faults.IsKind(err, faults.KindBudgetExceeded):
			// Budget exhaustion aborts cleanly: the phases that ran become
			// a partial profile instead of a failed run.
			out.Partial = true
			out.Reason = err.Error()
			e.checkpoint(context.WithoutCancel(ctx), inv, "phase:"+h.Name(), "BUDGET_EXCEEDED")
			e.finish(out, inv)
			return out, nil
		case ctx.Err() == context.DeadlineExceeded:
			// Investigation cap: abort remaining phases, keep what ran.
			out.Partial = true
			out.Reason = "investigation wall-clock cap exceeded"
			e.checkpoint(context.WithoutCancel(ctx), inv, "phase:"+h.Name(), "CAPPED")
			e.finish(out, inv)
			return out, nil
		case ctx.Err() == context.Canceled:
			e.checkpoint(context.WithoutCancel(ctx), inv, "phase:"+h.Name(), "CANCELLED")
			return nil, faults.Wrap(faults.KindInternalInvariant, "sar.run", "investigation cancelled", err)
		default:
			e.checkpoint(context.WithoutCancel(ctx), inv, "phase:"+h.Name(), "FAILED")
			return nil, err
		}
		inv.CompletedPhases = append(inv.CompletedPhases, h.Name())
		e.checkpoint(ctx, inv, "phase:"+h.Name(), "RUNNING")
	}
	e.finish(out, inv)
	return out, nil
}

func (e *Engine) finish(out *Outcome, inv *Investigation) {
	out.States = inv.States
	out.Deception = inv.Deception
	out.IncompleteChecks = incompleteChecks(inv.States)
}

// RunTypes executes the given types honoring dependency gating and tier
// eligibility. sequential=false bounds concurrency at the phase level.
func (e *Engine) RunTypes(ctx context.Context, inv *Investigation, sequential bool, types ...InfoType) error {
	eligible := make([]InfoType, 0, len(types))
	for _, t := range types {
		if !EligibleFor(t, inv.RC.Tier) {
			continue // dropped, not failed
		}
		eligible = append(eligible, t)
	}

	if sequential {
		for _, t := range eligible {
			if err := e.runOne(ctx, inv, t, true); err != nil {
				return err
			}
		}
		return nil
	}

	// Parallel within the phase, bounded. States are created up front so
	// goroutines never write the map; type-boundary checkpoints are
	// deferred to the phase boundary to keep serialization race-free.
	for _, t := range eligible {
		inv.State(t)
	}
	sem := make(chan struct{}, e.cfg.PhaseConcurrency)
	errc := make(chan error, len(eligible))
	for _, t := range eligible {
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			errc <- e.runOne(ctx, inv, t, false)
		}()
	}
	var first error
	for range eligible {
		if err := <-errc; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// runOne gates on dependencies and runs the type's full cycle.
func (e *Engine) runOne(ctx context.Context, inv *Investigation, t InfoType, checkpointAfter bool) error {
	for _, dep := range Dependencies(t) {
		if !EligibleFor(dep, inv.RC.Tier) {
			continue
		}
		depState, ok := inv.States[dep]
		if !ok || !depState.Phase.Terminal() {
			return faults.New(faults.KindInternalInvariant, "sar.run_type",
				"type "+string(t)+" scheduled before dependency "+string(dep)+" terminated")
		}
	}
	state := inv.State(t)
	if state.Phase.Terminal() {
		return nil // restored checkpoint already finished this type
	}
	err := e.runner.RunType(ctx, inv.RC, inv.EntityID, inv.Subject, state)
	if err == nil && checkpointAfter {
		e.checkpoint(ctx, inv, "type:"+string(t), "RUNNING")
	}
	return err
}

func (e *Engine) checkpoint(ctx context.Context, inv *Investigation, point, status string) {
	if e.ckpt == nil {
		return
	}
	if err := e.ckpt.Save(ctx, inv, point, status); err != nil {
		e.log.Warn("checkpoint not saved", zap.String("point", point), zap.Error(err))
		return
	}
	if e.trail != nil {
		_, _ = e.trail.Record(ctx, inv.RC.TenantID, inv.RC.RequestID, "system",
			audit.EventCheckpointSaved, map[string]any{"point": point, "status": status})
	}
}

// foundationGateErr marks the foundation can_proceed failure.
type foundationGateErr struct{ *faults.Fault }

// FoundationGate builds the error a foundation handler returns when
// confidence is below the can_proceed floor.
func FoundationGate(confidence, floor float64) error {
	return foundationGateErr{faults.New(faults.KindValidation, "sar.foundation",
		fmt.Sprintf("foundation confidence %.2f below can_proceed floor %.2f; records phases blocked", confidence, floor))}
}

func isFoundationGate(err error) bool {
	_, ok := err.(foundationGateErr)
	return ok
}

// incompleteChecks lists checks where every query was exhausted without
// a successful result.
func incompleteChecks(states map[InfoType]*TypeState) []contracts.CheckType {
	succeeded := map[contracts.CheckType]bool{}
	attempted := map[contracts.CheckType]bool{}
	for _, s := range states {
		for _, r := range s.Results {
			attempted[r.Query.Check] = true
			if r.Succeeded {
				succeeded[r.Query.Check] = true
			}
		}
	}
	var out []contracts.CheckType
	for _, c := range contracts.AllCheckTypes {
		if attempted[c] && !succeeded[c] {
			out = append(out, c)
		}
	}
	return out
}

// FoundationConfidence is the minimum confidence across the terminated
// foundation types.
func FoundationConfidence(inv *Investigation) float64 {
	min := 1.0
	for _, t := range []InfoType{TypeIdentity, TypeEmployment, TypeEducation} {
		if s, ok := inv.States[t]; ok && s.Confidence < min {
			min = s.Confidence
		}
	}
	return min
}
