// Package resiliency provides the per-provider circuit breakers and token
// bucket rate limiters the gateway consults before every call.
package resiliency

import (
	"sync"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/config"
)

// BreakerSet manages one circuit breaker per provider.
type BreakerSet struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	cfg      config.BreakerConfig
	log      *zap.Logger
}

// NewBreakerSet creates a set with the given constants.
func NewBreakerSet(cfg config.BreakerConfig, log *zap.Logger) *BreakerSet {
	return &BreakerSet{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		cfg:      cfg,
		log:      log.Named("breaker"),
	}
}

// For returns the breaker for a provider, creating it on first use.
func (s *BreakerSet) For(providerID string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[providerID]; ok {
		return cb
	}

	cfg := s.cfg
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: providerID,
		// In HALF_OPEN, admit exactly the probe budget; gobreaker closes
		// after that many consecutive successes.
		MaxRequests: uint32(cfg.HalfOpenSuccesses),
		// Interval stays zero: the trip condition keeps its own rolling
		// window, so gobreaker must not clear counts while CLOSED.
		Timeout:     cfg.CoolDown,
		ReadyToTrip: rollingTrip(cfg),
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.log.Warn("circuit state change",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	s.breakers[providerID] = cb
	return cb
}

// rollingTrip builds a ReadyToTrip that applies the failure-rate
// threshold over the last Window call outcomes instead of gobreaker's
// cumulative counts. gobreaker invokes it under the breaker's lock, once
// per failure while CLOSED, so the closure's state needs no locking of
// its own.
func rollingTrip(cfg config.BreakerConfig) func(gobreaker.Counts) bool {
	window := cfg.Window
	if window < 1 {
		window = 1
	}
	var (
		ring []bool // oldest first, true marks a failure
		prev gobreaker.Counts
	)
	return func(counts gobreaker.Counts) bool {
		if counts.Requests < prev.Requests {
			// Counts were cleared by a state change; the window restarts
			// with the breaker.
			ring = ring[:0]
			prev = gobreaker.Counts{}
		}
		// Replay outcomes since the previous evaluation. Every call
		// lands on a failure, so the successes in between come first.
		for i := prev.TotalSuccesses; i < counts.TotalSuccesses; i++ {
			ring = append(ring, false)
		}
		for i := prev.TotalFailures; i < counts.TotalFailures; i++ {
			ring = append(ring, true)
		}
		if len(ring) > window {
			ring = ring[len(ring)-window:]
		}
		prev = counts

		if len(ring) < cfg.MinVolume {
			return false
		}
		failed := 0
		for _, f := range ring {
			if f {
				failed++
			}
		}
		return float64(failed)/float64(len(ring)) >= cfg.FailureRate
	}
}

// Open reports whether the provider's circuit currently rejects calls.
// Providers with no recorded calls are closed.
func (s *BreakerSet) Open(providerID string) bool {
	s.mu.Lock()
	cb, ok := s.breakers[providerID]
	s.mu.Unlock()
	return ok && cb.State() == gobreaker.StateOpen
}
