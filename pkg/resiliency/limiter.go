package resiliency

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cleargate/vantage/pkg/faults"
)

// LimiterSet manages one token bucket per provider. State is per-process;
// when a SharedLimiter is attached, a local token must also clear the
// cluster-wide bucket before the call proceeds.
type LimiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rates    map[string]bucketRate
	shared   *SharedLimiter
	slack    time.Duration // max time a call may wait for a token
}

type bucketRate struct {
	rps   float64
	burst int
}

// NewLimiterSet creates a set. slack is the budget a caller may block
// waiting for a token before failing fast.
func NewLimiterSet(slack time.Duration) *LimiterSet {
	return &LimiterSet{
		limiters: make(map[string]*rate.Limiter),
		rates:    make(map[string]bucketRate),
		slack:    slack,
	}
}

// SetShared attaches the cluster-wide bucket. Nil detaches it.
func (s *LimiterSet) SetShared(shared *SharedLimiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shared = shared
}

// Configure installs the bucket for a provider. Called at registration.
func (s *LimiterSet) Configure(providerID string, rps float64, burst int) {
	if rps <= 0 {
		rps = 1
	}
	if burst < 1 {
		burst = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiters[providerID] = rate.NewLimiter(rate.Limit(rps), burst)
	s.rates[providerID] = bucketRate{rps: rps, burst: burst}
}

// Acquire takes one token, waiting up to the configured slack. Beyond the
// slack it fails fast with a RateLimited fault rather than queueing.
func (s *LimiterSet) Acquire(ctx context.Context, providerID string) error {
	s.mu.Lock()
	lim, ok := s.limiters[providerID]
	r := s.rates[providerID]
	shared := s.shared
	s.mu.Unlock()
	if !ok {
		// Unconfigured providers are not throttled locally.
		return nil
	}
	if !lim.Allow() {
		waitCtx, cancel := context.WithTimeout(ctx, s.slack)
		err := lim.Wait(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return faults.Wrap(faults.KindRateLimited, "limiter.acquire",
				"rate limit wait budget exhausted for "+providerID, err)
		}
	}
	if shared == nil {
		return nil
	}
	allowed, err := shared.Allow(ctx, providerID, r.rps, r.burst)
	if err != nil {
		// Redis trouble must not stall investigations; the local bucket
		// already throttled this node.
		return nil
	}
	if !allowed {
		return faults.New(faults.KindRateLimited, "limiter.acquire",
			"cluster rate limit exhausted for "+providerID)
	}
	return nil
}
