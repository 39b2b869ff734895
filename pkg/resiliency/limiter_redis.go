package resiliency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// providerBucketScript runs the token bucket atomically in Redis so every
// node in the cluster draws from the same per-provider allowance.
// KEYS[1] = bucket key, ARGV[1] = refill rate/sec, ARGV[2] = capacity,
// ARGV[3] = cost, ARGV[4] = now (seconds, fractional).
var providerBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// SharedLimiter is a cluster-wide token bucket backed by Redis. When all
// orchestrator nodes hit the same upstream contract, the local LimiterSet
// is not enough.
type SharedLimiter struct {
	client *redis.Client
}

// NewSharedLimiter wraps a Redis client.
func NewSharedLimiter(client *redis.Client) *SharedLimiter {
	return &SharedLimiter{client: client}
}

// Allow consumes one token from the provider's shared bucket.
func (s *SharedLimiter) Allow(ctx context.Context, providerID string, rps float64, burst int) (bool, error) {
	key := fmt.Sprintf("vantage:limiter:%s", providerID)
	now := float64(time.Now().UnixMicro()) / 1e6
	res, err := providerBucketScript.Run(ctx, s.client, []string{key}, rps, burst, 1, now).Int64()
	if err != nil {
		return false, fmt.Errorf("shared limiter: %w", err)
	}
	return res == 1, nil
}
