package sar

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/faults"
)

// fakeHandler is a scriptable phase.
type fakeHandler struct {
	name string
	run  func(ctx context.Context, e *Engine, inv *Investigation) error
}

func (f *fakeHandler) Name() string { return f.name }
func (f *fakeHandler) Run(ctx context.Context, e *Engine, inv *Investigation) error {
	if f.run == nil {
		return nil
	}
	return f.run(ctx, e, inv)
}

// memCheckpointer records every save as "point/status".
type memCheckpointer struct {
	mu    sync.Mutex
	saves []string
}

func (m *memCheckpointer) Save(_ context.Context, _ *Investigation, point, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, point+"/"+status)
	return nil
}

func newTestEngine(ckpt Checkpointer, handlers ...PhaseHandler) *Engine {
	return NewEngine(testSARCfg(), nil, newTestReconciler(), ckpt, nil, handlers, zap.NewNop())
}

func newTestInvestigation() *Investigation {
	return NewInvestigation("inv-1", testRC(), testSubject(), "ent-1")
}

func TestEngineRunsPhasesInOrder(t *testing.T) {
	var order []string
	mk := func(name string) *fakeHandler {
		return &fakeHandler{name: name, run: func(context.Context, *Engine, *Investigation) error {
			order = append(order, name)
			return nil
		}}
	}
	e := newTestEngine(nil, mk("foundation"), mk("records"), mk("reconciliation"))

	out, err := e.Run(context.Background(), newTestInvestigation())
	require.NoError(t, err)
	assert.False(t, out.Partial)
	assert.Equal(t, []string{"foundation", "records", "reconciliation"}, order)
}

func TestEngineSkipsCompletedPhasesOnResume(t *testing.T) {
	var order []string
	mk := func(name string) *fakeHandler {
		return &fakeHandler{name: name, run: func(context.Context, *Engine, *Investigation) error {
			order = append(order, name)
			return nil
		}}
	}
	e := newTestEngine(nil, mk("foundation"), mk("records"))
	inv := newTestInvestigation()
	inv.CompletedPhases = []string{"foundation"}

	_, err := e.Run(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, []string{"records"}, order)
}

func TestEngineFoundationGateYieldsPartialOutcome(t *testing.T) {
	ckpt := &memCheckpointer{}
	gate := &fakeHandler{name: "foundation", run: func(context.Context, *Engine, *Investigation) error {
		return FoundationGate(0.41, 0.60)
	}}
	after := &fakeHandler{name: "records", run: func(context.Context, *Engine, *Investigation) error {
		t.Fatal("records must not run after a foundation gate")
		return nil
	}}
	e := newTestEngine(ckpt, gate, after)

	out, err := e.Run(context.Background(), newTestInvestigation())
	require.NoError(t, err)
	assert.True(t, out.Partial)
	assert.Contains(t, out.Reason, "can_proceed")
	assert.Contains(t, ckpt.saves, "phase:foundation/BLOCKED")
}

func TestEngineWallClockCapYieldsPartialOutcome(t *testing.T) {
	cfg := testSARCfg()
	cfg.StandardInvestCap = time.Millisecond
	ckpt := &memCheckpointer{}
	slow := &fakeHandler{name: "records", run: func(ctx context.Context, _ *Engine, _ *Investigation) error {
		time.Sleep(10 * time.Millisecond)
		return ctx.Err()
	}}
	e := NewEngine(cfg, nil, newTestReconciler(), ckpt, nil, []PhaseHandler{slow}, zap.NewNop())

	out, err := e.Run(context.Background(), newTestInvestigation())
	require.NoError(t, err)
	assert.True(t, out.Partial)
	assert.Contains(t, out.Reason, "wall-clock")
	assert.Contains(t, ckpt.saves, "phase:records/CAPPED")
}

func TestEngineBudgetExhaustionYieldsPartialOutcome(t *testing.T) {
	ckpt := &memCheckpointer{}
	burn := &fakeHandler{name: "records", run: func(context.Context, *Engine, *Investigation) error {
		return faults.New(faults.KindBudgetExceeded, "reqctx.assert_budget",
			"budget 5000 exceeded: 4980 accumulated + 45 requested")
	}}
	after := &fakeHandler{name: "intelligence", run: func(context.Context, *Engine, *Investigation) error {
		t.Fatal("intelligence must not run once the budget is spent")
		return nil
	}}
	e := newTestEngine(ckpt, burn, after)

	out, err := e.Run(context.Background(), newTestInvestigation())
	require.NoError(t, err)
	assert.True(t, out.Partial)
	assert.Contains(t, out.Reason, "budget")
	assert.Contains(t, ckpt.saves, "phase:records/BUDGET_EXCEEDED")
}

func TestEngineCancellationCheckpointsAndFails(t *testing.T) {
	ckpt := &memCheckpointer{}
	h := &fakeHandler{name: "records", run: func(ctx context.Context, _ *Engine, _ *Investigation) error {
		return ctx.Err()
	}}
	e := newTestEngine(ckpt, h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Run(ctx, newTestInvestigation())
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindInternalInvariant))
	assert.Contains(t, ckpt.saves, "phase:records/CANCELLED")
}

func TestEngineFailureCheckpoints(t *testing.T) {
	ckpt := &memCheckpointer{}
	h := &fakeHandler{name: "records", run: func(context.Context, *Engine, *Investigation) error {
		return errors.New("provider meltdown")
	}}
	e := newTestEngine(ckpt, h)

	_, err := e.Run(context.Background(), newTestInvestigation())
	require.Error(t, err)
	assert.Contains(t, ckpt.saves, "phase:records/FAILED")
}

func TestRunTypesRejectsUnmetDependency(t *testing.T) {
	e := newTestEngine(nil)
	inv := newTestInvestigation()

	err := e.RunTypes(context.Background(), inv, true, TypeEmployment)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindInternalInvariant))
}

func TestRunTypesDropsIneligibleTypes(t *testing.T) {
	e := newTestEngine(nil)
	inv := newTestInvestigation() // Standard tier

	err := e.RunTypes(context.Background(), inv, false, TypeDigitalFootprint)
	require.NoError(t, err)
	assert.Empty(t, inv.States)
}

func TestRunTypesSkipsRestoredTerminalState(t *testing.T) {
	e := newTestEngine(nil) // nil runner: any cycle attempt would panic
	inv := newTestInvestigation()
	state := inv.State(TypeIdentity)
	state.Phase = PhaseComplete
	state.Confidence = 0.95

	err := e.RunTypes(context.Background(), inv, true, TypeIdentity)
	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, inv.States[TypeIdentity].Phase)
}

func TestFoundationConfidenceIsMinimum(t *testing.T) {
	inv := newTestInvestigation()
	for typ, conf := range map[InfoType]float64{
		TypeIdentity:   0.9,
		TypeEmployment: 0.7,
		TypeEducation:  0.8,
	} {
		s := inv.State(typ)
		s.Confidence = conf
		s.Phase = PhaseComplete
	}
	assert.InDelta(t, 0.7, FoundationConfidence(inv), 1e-9)
}

func TestIncompleteChecksListsExhaustedChecks(t *testing.T) {
	inv := newTestInvestigation()
	crim := inv.State(TypeCriminal)
	crim.Results = []QueryResult{
		{Query: Query{Check: contracts.CheckCriminal}, Succeeded: false},
	}
	ident := inv.State(TypeIdentity)
	ident.Results = []QueryResult{
		{Query: Query{Check: contracts.CheckIdentity}, Succeeded: true},
	}

	out := incompleteChecks(inv.States)
	assert.Equal(t, []contracts.CheckType{contracts.CheckCriminal}, out)
}
