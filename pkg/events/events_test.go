package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/config"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/faults"
)

func testRetry() config.RetryConfig {
	return config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2}
}

// flakySink fails a fixed number of times before succeeding.
type flakySink struct {
	failures int32
	kind     faults.Kind
	got      atomic.Int32
}

func (s *flakySink) Deliver(context.Context, Outbound) error {
	n := s.got.Add(1)
	if n <= atomic.LoadInt32(&s.failures) {
		return faults.New(s.kind, "test.deliver", "induced failure")
	}
	return nil
}

func TestPublisherRetriesTransientFailures(t *testing.T) {
	sink := &flakySink{failures: 2, kind: faults.KindTransientProvider}
	p := NewPublisher(sink, testRetry(), zap.NewNop())

	err := p.Emit(context.Background(), "acme", "req-1", ScreeningComplete, map[string]any{"risk_level": "LOW"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), sink.got.Load())
}

func TestPublisherStopsOnPermanentFailure(t *testing.T) {
	sink := &flakySink{failures: 10, kind: faults.KindPermanentProvider}
	p := NewPublisher(sink, testRetry(), zap.NewNop())

	err := p.Emit(context.Background(), "acme", "req-1", ScreeningStarted, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), sink.got.Load())
}

func TestPublisherGivesUpAfterMaxAttempts(t *testing.T) {
	sink := &flakySink{failures: 10, kind: faults.KindTransientProvider}
	p := NewPublisher(sink, testRetry(), zap.NewNop())

	err := p.Emit(context.Background(), "acme", "req-1", AlertGenerated, nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), sink.got.Load())
}

func TestDispatcherRoutesKnownTypes(t *testing.T) {
	var got []Inbound
	sink := inboundFunc(func(_ context.Context, ev Inbound) error {
		got = append(got, ev)
		return nil
	})
	d := NewDispatcher(sink, nil, zap.NewNop())

	err := d.Dispatch(context.Background(), Inbound{
		TenantID:    "acme",
		Type:        HireInitiated,
		EmployeeRef: "emp-42",
		Subject:     contracts.Subject{FullName: "Jane Smith"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].ReceivedAt.IsZero())
}

func TestDispatcherRejectsUnknownType(t *testing.T) {
	d := NewDispatcher(inboundFunc(func(context.Context, Inbound) error {
		t.Fatal("must not dispatch")
		return nil
	}), nil, zap.NewNop())

	err := d.Dispatch(context.Background(), Inbound{TenantID: "acme", Type: "payroll.updated"})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindValidation))
}

func TestDispatcherRequiresTenant(t *testing.T) {
	d := NewDispatcher(inboundFunc(func(context.Context, Inbound) error { return nil }), nil, zap.NewNop())

	err := d.Dispatch(context.Background(), Inbound{Type: ConsentGranted})
	assert.True(t, faults.IsKind(err, faults.KindValidation))
}

type inboundFunc func(ctx context.Context, ev Inbound) error

func (f inboundFunc) HandleHRISEvent(ctx context.Context, ev Inbound) error { return f(ctx, ev) }

func TestWebhookSinkClassifiesResponses(t *testing.T) {
	var status atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.Client(), func(string) string { return srv.URL })
	ev := Outbound{ID: "ev-1", TenantID: "acme", Type: ScreeningProgress}

	status.Store(http.StatusOK)
	assert.NoError(t, sink.Deliver(context.Background(), ev))

	status.Store(http.StatusBadGateway)
	err := sink.Deliver(context.Background(), ev)
	assert.True(t, faults.IsKind(err, faults.KindTransientProvider))

	status.Store(http.StatusBadRequest)
	err = sink.Deliver(context.Background(), ev)
	assert.True(t, faults.IsKind(err, faults.KindPermanentProvider))
}

func TestWebhookSinkSkipsUnregisteredTenant(t *testing.T) {
	sink := NewWebhookSink(nil, func(string) string { return "" })
	assert.NoError(t, sink.Deliver(context.Background(), Outbound{TenantID: "acme"}))
}
