package events

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/config"
	"github.com/cleargate/vantage/pkg/faults"
	"github.com/cleargate/vantage/pkg/ids"
)

// Publisher delivers outbound events through a sink, retrying transient
// delivery failures with exponential backoff.
type Publisher struct {
	sink  Sink
	retry config.RetryConfig
	log   *zap.Logger
}

// NewPublisher creates a publisher.
func NewPublisher(sink Sink, retry config.RetryConfig, log *zap.Logger) *Publisher {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Publisher{sink: sink, retry: retry, log: log.Named("publisher")}
}

// Emit builds and publishes an event. Delivery is attempted inline;
// callers that cannot block use Go.
func (p *Publisher) Emit(ctx context.Context, tenantID, requestID string, typ OutboundType, payload map[string]any) error {
	ev := Outbound{
		ID:         ids.New(),
		TenantID:   tenantID,
		RequestID:  requestID,
		Type:       typ,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
	return p.publish(ctx, ev)
}

// Go publishes asynchronously; failures after retries are logged, not
// surfaced. Lifecycle events must never stall an investigation.
func (p *Publisher) Go(ctx context.Context, tenantID, requestID string, typ OutboundType, payload map[string]any) {
	go func() {
		// Delivery outlives the investigation's own deadline.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := p.Emit(dctx, tenantID, requestID, typ, payload); err != nil {
			p.log.Warn("outbound event dropped",
				zap.String("type", string(typ)),
				zap.String("request", requestID),
				zap.Error(err))
		}
	}()
}

func (p *Publisher) publish(ctx context.Context, ev Outbound) error {
	var lastErr error
	for attempt := 1; attempt <= p.retry.MaxAttempts; attempt++ {
		lastErr = p.sink.Deliver(ctx, ev)
		if lastErr == nil {
			return nil
		}
		if !faults.KindOf(lastErr).Transient() || attempt == p.retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff(attempt)):
		}
	}
	return faults.Wrap(faults.KindTransientProvider, "events.publish",
		"event delivery failed after retries", lastErr)
}

func (p *Publisher) backoff(attempt int) time.Duration {
	d := time.Duration(float64(p.retry.BaseDelay) * math.Pow(p.retry.Factor, float64(attempt-1)))
	if p.retry.JitterMax > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(p.retry.JitterMax))); err == nil {
			d += time.Duration(n.Int64())
		}
	}
	return d
}
