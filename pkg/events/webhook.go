package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/cleargate/vantage/pkg/faults"
)

// CallbackResolver returns the delivery URL for a tenant's events, or
// "" when the tenant has no callback registered.
type CallbackResolver func(tenantID string) string

// WebhookSink posts events as JSON to tenant callbacks. HTTP 5xx and
// network failures are transient; 4xx responses are permanent.
type WebhookSink struct {
	client   *http.Client
	resolver CallbackResolver
}

// NewWebhookSink creates a sink over the given client.
func NewWebhookSink(client *http.Client, resolver CallbackResolver) *WebhookSink {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookSink{client: client, resolver: resolver}
}

func (s *WebhookSink) Deliver(ctx context.Context, ev Outbound) error {
	url := s.resolver(ev.TenantID)
	if url == "" {
		// No callback registered: delivery is a no-op, not a failure.
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return faults.Wrap(faults.KindDataIntegrity, "events.deliver", "event not serializable", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return faults.Wrap(faults.KindValidation, "events.deliver", "bad callback url", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Vantage-Event", string(ev.Type))

	resp, err := s.client.Do(req)
	if err != nil {
		return faults.Wrap(faults.KindTransientProvider, "events.deliver", "callback unreachable", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return faults.New(faults.KindTransientProvider, "events.deliver",
			fmt.Sprintf("callback returned %d", resp.StatusCode))
	default:
		return faults.New(faults.KindPermanentProvider, "events.deliver",
			fmt.Sprintf("callback rejected event with %d", resp.StatusCode))
	}
}

// MemorySink records delivered events; tests and the dev binary use it.
type MemorySink struct {
	mu     sync.Mutex
	events []Outbound
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Deliver(_ context.Context, ev Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of everything delivered so far.
func (s *MemorySink) Events() []Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Outbound(nil), s.events...)
}
