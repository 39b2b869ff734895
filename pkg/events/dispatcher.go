package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/audit"
	"github.com/cleargate/vantage/pkg/faults"
	"github.com/cleargate/vantage/pkg/ids"
)

var inboundTypes = map[InboundType]bool{
	HireInitiated:      true,
	ConsentGranted:     true,
	PositionChanged:    true,
	EmployeeTerminated: true,
	RehireInitiated:    true,
}

// Dispatcher normalizes and routes inbound HRIS events to the
// orchestrator.
type Dispatcher struct {
	sink  InboundSink
	trail *audit.Trail
	log   *zap.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(sink InboundSink, trail *audit.Trail, log *zap.Logger) *Dispatcher {
	return &Dispatcher{sink: sink, trail: trail, log: log.Named("dispatcher")}
}

// Dispatch validates the event and hands it to the orchestrator.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Inbound) error {
	if !inboundTypes[ev.Type] {
		return faults.New(faults.KindValidation, "events.dispatch",
			"unknown event type "+string(ev.Type))
	}
	if ev.TenantID == "" {
		return faults.New(faults.KindValidation, "events.dispatch", "missing tenant id")
	}
	if ev.ID == "" {
		ev.ID = ids.New()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}

	if d.trail != nil {
		_, _ = d.trail.Record(ctx, ev.TenantID, ev.ID, "hris",
			audit.EventRequestSubmitted, map[string]any{
				"event_type":   string(ev.Type),
				"employee_ref": ev.EmployeeRef,
			})
	}
	d.log.Info("hris event dispatched",
		zap.String("type", string(ev.Type)),
		zap.String("tenant", ev.TenantID),
		zap.String("event", ev.ID))
	return d.sink.HandleHRISEvent(ctx, ev)
}
