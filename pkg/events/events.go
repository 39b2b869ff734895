// Package events carries the HRIS boundary: normalized inbound events
// dispatched to the orchestrator, and outbound lifecycle events
// published with retry and backoff.
package events

import (
	"context"
	"time"

	"github.com/cleargate/vantage/pkg/contracts"
)

// InboundType is a normalized HRIS event kind.
type InboundType string

const (
	HireInitiated      InboundType = "hire.initiated"
	ConsentGranted     InboundType = "consent.granted"
	PositionChanged    InboundType = "position.changed"
	EmployeeTerminated InboundType = "employee.terminated"
	RehireInitiated    InboundType = "rehire.initiated"
)

// Inbound is one normalized event from an HRIS system.
type Inbound struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	Type        InboundType       `json:"type"`
	EmployeeRef string            `json:"employee_ref"`
	Subject     contracts.Subject `json:"subject"`
	Payload     map[string]any    `json:"payload,omitempty"`
	ReceivedAt  time.Time         `json:"received_at"`
}

// OutboundType is a published lifecycle event kind.
type OutboundType string

const (
	ScreeningStarted     OutboundType = "screening.started"
	ScreeningProgress    OutboundType = "screening.progress"
	ScreeningComplete    OutboundType = "screening.complete"
	ReviewRequired       OutboundType = "review.required"
	AdverseActionPending OutboundType = "adverse_action.pending"
	AlertGenerated       OutboundType = "alert.generated"
)

// Outbound is one event published to the tenant's callback.
type Outbound struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	RequestID  string         `json:"request_id"`
	Type       OutboundType   `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Sink delivers one outbound event to its destination (webhook, queue).
// A transient fault means the delivery may be retried.
type Sink interface {
	Deliver(ctx context.Context, ev Outbound) error
}

// InboundSink receives normalized HRIS events; the orchestrator
// implements it.
type InboundSink interface {
	HandleHRISEvent(ctx context.Context, ev Inbound) error
}
