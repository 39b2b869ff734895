// Package orchestrator glues the investigation lifecycle together: it
// accepts screening requests, freezes the request context, resolves the
// subject entity, drives the phase engine, scores risk, commits the
// profile version, and publishes lifecycle events.
package orchestrator

import (
	"context"
	"time"

	"github.com/cleargate/vantage/pkg/compliance"
	"github.com/cleargate/vantage/pkg/contracts"
)

// Trigger values recorded on a request and its profile version.
const (
	TriggerInitial        = "initial"
	TriggerRehire         = "rehire"
	TriggerPositionChange = "position_change"
	TriggerMonitoring     = "monitoring"
)

// Request is one screening request through its lifecycle.
type Request struct {
	ID             string                  `json:"id"`
	TenantID       string                  `json:"tenant_id"`
	IdempotencyKey string                  `json:"idempotency_key,omitempty"`
	EmployeeRef    string                  `json:"employee_ref,omitempty"`
	Subject        contracts.Subject       `json:"subject"`
	Locale         string                  `json:"locale"`
	Role           compliance.RoleCategory `json:"role"`
	Tier           contracts.Tier          `json:"tier"`
	Degree         contracts.Degree        `json:"degree"`
	Vigilance      contracts.Vigilance     `json:"vigilance"`
	CallbackURL    string                  `json:"callback_url,omitempty"`
	Priority       int                     `json:"priority"`
	Trigger        string                  `json:"trigger"`
	BudgetCents    int64                   `json:"budget_cents,omitempty"`

	Status      contracts.RequestStatus `json:"status"`
	EntityID    string                  `json:"entity_id,omitempty"`
	ProfileID   string                  `json:"profile_id,omitempty"`
	RiskScore   float64                 `json:"risk_score,omitempty"`
	RiskLevel   contracts.RiskLevel     `json:"risk_level,omitempty"`
	Partial     bool                    `json:"partial,omitempty"`
	FailureCode string                  `json:"failure_code,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ConsentToken is held only until the investigation starts; it is
	// never serialized or persisted.
	ConsentToken string `json:"-"`

	actor string
}

func (r *Request) clone() *Request {
	cp := *r
	return &cp
}

// ListFilter narrows and pages tenant-scoped listings.
type ListFilter struct {
	Status contracts.RequestStatus // "" = all
	Limit  int
	Offset int
}

// Store persists screening requests. Every read is tenant-scoped.
type Store interface {
	Insert(ctx context.Context, r *Request) error
	Update(ctx context.Context, r *Request) error
	Get(ctx context.Context, tenantID, id string) (*Request, error)
	ByIdempotencyKey(ctx context.Context, tenantID, key string) (*Request, error)
	// ByEmployee returns the employee's requests newest-first.
	ByEmployee(ctx context.Context, tenantID, employeeRef string) ([]*Request, error)
	List(ctx context.Context, tenantID string, f ListFilter) ([]*Request, error)
}
