// Package audit records an append-only, HMAC-chained event stream. Every
// compliance gate decision and every external call lands here; each event's
// chain value covers the previous event, so truncation or tampering is
// detectable by replaying the chain.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/cleargate/vantage/pkg/ids"
)

// EventType names the audited action.
type EventType string

const (
	EventRequestSubmitted    EventType = "request.submitted"
	EventRequestCancelled    EventType = "request.cancelled"
	EventCheckPermitted      EventType = "check.permitted"
	EventCheckBlocked        EventType = "check_blocked_by_compliance"
	EventSourcePermitted     EventType = "source.permitted"
	EventSourceBlocked       EventType = "source_blocked_by_compliance"
	EventBudgetApproved      EventType = "budget.approved"
	EventBudgetExceeded      EventType = "budget.exceeded"
	EventConsentValid        EventType = "consent.valid"
	EventConsentExpired      EventType = "consent.expired"
	EventProviderCall        EventType = "provider.call"
	EventProviderFailure     EventType = "provider.failure"
	EventCacheHit            EventType = "cache.hit"
	EventCacheStaleUse       EventType = "cache.stale_use"
	EventBreakerTransition   EventType = "breaker.transition"
	EventEntityResolved      EventType = "entity.resolved"
	EventEntityMerged        EventType = "entity.merged"
	EventEntitySplit         EventType = "entity.split"
	EventProfileCommitted    EventType = "profile.committed"
	EventCheckpointSaved     EventType = "checkpoint.saved"
	EventCheckpointRestored  EventType = "checkpoint.restored"
	EventInvestigationDone   EventType = "investigation.complete"
	EventInvestigationFailed EventType = "investigation.failed"
	EventAICall              EventType = "ai.call"
	EventAIFallback          EventType = "ai.fallback"
	EventReviewQueued        EventType = "review.queued"
	EventReviewDecided       EventType = "review.decided"
	EventConfigLoaded        EventType = "config.loaded"
)

// Event is one audit record. Chain is HMAC(key, canonical(event) || prev
// chain); the first event in a stream chains from the empty string.
type Event struct {
	AuditID   string         `json:"audit_id"`
	RequestID string         `json:"request_id"`
	TenantID  string         `json:"tenant_id"`
	Actor     string         `json:"actor"`
	TS        time.Time      `json:"ts"`
	Type      EventType      `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Chain     string         `json:"hmac_chain"`
}

// Store persists audit events. Append-only; there is no delete.
type Store interface {
	Append(ctx context.Context, e Event) error
	// ByRequest returns the events for one request in append order.
	ByRequest(ctx context.Context, tenantID, requestID string) ([]Event, error)
}

// Trail is the write side of the audit stream for one process.
type Trail struct {
	mu    sync.Mutex
	key   []byte
	store Store
	last  map[string]string // request id -> last chain value
}

// NewTrail creates a Trail signing with the given HMAC key.
func NewTrail(key []byte, store Store) *Trail {
	return &Trail{key: key, store: store, last: make(map[string]string)}
}

// Record appends an event, computing its chain value from the previous
// event of the same request stream.
func (t *Trail) Record(ctx context.Context, tenantID, requestID, actor string, typ EventType, payload map[string]any) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := Event{
		AuditID:   ids.NewAuditID(),
		RequestID: requestID,
		TenantID:  tenantID,
		Actor:     actor,
		TS:        time.Now().UTC(),
		Type:      typ,
		Payload:   payload,
	}

	chain, err := t.chainValue(e, t.last[requestID])
	if err != nil {
		return "", err
	}
	e.Chain = chain

	if err := t.store.Append(ctx, e); err != nil {
		return "", fmt.Errorf("audit: append: %w", err)
	}
	t.last[requestID] = chain
	return e.AuditID, nil
}

func (t *Trail) chainValue(e Event, prev string) (string, error) {
	e.Chain = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("audit: marshal event: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize event: %w", err)
	}
	mac := hmac.New(sha256.New, t.key)
	mac.Write(canonical)
	mac.Write([]byte(prev))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify replays a request's event stream and checks every chain value.
func (t *Trail) Verify(ctx context.Context, tenantID, requestID string) (bool, error) {
	events, err := t.store.ByRequest(ctx, tenantID, requestID)
	if err != nil {
		return false, err
	}
	prev := ""
	for _, e := range events {
		want, err := t.chainValue(e, prev)
		if err != nil {
			return false, err
		}
		if !hmac.Equal([]byte(want), []byte(e.Chain)) {
			return false, nil
		}
		prev = e.Chain
	}
	return true, nil
}
