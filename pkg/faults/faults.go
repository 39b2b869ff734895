// Package faults defines the error taxonomy shared by every subsystem.
// Errors are values carrying a kind, a request/audit reference, and a cause
// chain; gate assertions return these rather than panicking.
package faults

import (
	"errors"
	"fmt"
)

// Kind is the abstract category of a failure. Callers branch on kinds, not
// on message text.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindComplianceBlocked   Kind = "compliance_blocked"
	KindConsentExpired      Kind = "consent_expired"
	KindBudgetExceeded      Kind = "budget_exceeded"
	KindTransientProvider   Kind = "transient_provider"
	KindPermanentProvider   Kind = "permanent_provider"
	KindCheckUnavailable    Kind = "check_unavailable"
	KindRateLimited         Kind = "rate_limited"
	KindCircuitOpen         Kind = "circuit_open"
	KindDataIntegrity       Kind = "data_integrity"
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindAIUnavailable       Kind = "ai_unavailable"
	KindNotFound            Kind = "not_found"
	KindInternalInvariant   Kind = "internal_invariant"
)

// Fault is a structured error. RequestID and AuditID tie the failure back
// to the audit stream; Cause preserves the chain for errors.Is/As.
type Fault struct {
	Kind      Kind
	Op        string // operation that failed, e.g. "gateway.route"
	RequestID string
	AuditID   string
	Code      string // stable machine-readable code for external callers
	Msg       string
	Cause     error
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Op, f.Msg, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Op, f.Msg)
}

func (f *Fault) Unwrap() error { return f.Cause }

// Is matches another Fault by kind, so errors.Is(err, &Fault{Kind: k})
// style probes work alongside sentinel comparisons.
func (f *Fault) Is(target error) bool {
	var t *Fault
	if errors.As(target, &t) {
		return t.Kind == f.Kind
	}
	return false
}

// New builds a Fault with no cause.
func New(kind Kind, op, msg string) *Fault {
	return &Fault{Kind: kind, Op: op, Msg: msg, Code: string(kind)}
}

// Wrap builds a Fault around a cause.
func Wrap(kind Kind, op, msg string, cause error) *Fault {
	return &Fault{Kind: kind, Op: op, Msg: msg, Code: string(kind), Cause: cause}
}

// WithRequest annotates the fault with request and audit identifiers.
func (f *Fault) WithRequest(requestID, auditID string) *Fault {
	f.RequestID = requestID
	f.AuditID = auditID
	return f
}

// KindOf extracts the Kind from any error in the chain, or "" when the
// error carries no taxonomy.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Fatal reports whether the kind aborts an in-flight investigation rather
// than degrading it.
func (k Kind) Fatal() bool {
	switch k {
	case KindConsentExpired, KindBudgetExceeded, KindCheckUnavailable, KindInternalInvariant:
		return true
	}
	return false
}

// Transient reports whether a retry of the same operation may succeed.
func (k Kind) Transient() bool {
	switch k {
	case KindTransientProvider, KindRateLimited, KindConcurrencyConflict:
		return true
	}
	return false
}
