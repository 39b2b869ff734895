package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryStore is the in-process store used by tests and the dev binary.
// Rows are appended per key; Latest is last-writer-wins by acquired_at.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string][]Row
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string][]Row)}
}

func keyString(k Key) string {
	scope := k.TenantScope
	if scope == "" {
		scope = "@shared"
	}
	return scope + "|" + k.EntityID + "|" + string(k.CheckType)
}

func (s *MemoryStore) Put(_ context.Context, key Key, row Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[keyString(key)] = append(s.rows[keyString(key)], row)
	return nil
}

func (s *MemoryStore) Latest(_ context.Context, key Key) (*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.rows[keyString(key)]
	if len(rows) == 0 {
		return nil, nil
	}
	latest := rows[0]
	for _, r := range rows[1:] {
		if r.AcquiredAt.After(latest.AcquiredAt) {
			latest = r
		}
	}
	return &latest, nil
}

func (s *MemoryStore) Discard(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.rows[keyString(key)]
	if len(rows) == 0 {
		return nil
	}
	// Drop the newest row; older history stays for audit.
	newest := 0
	for i, r := range rows {
		if r.AcquiredAt.After(rows[newest].AcquiredAt) {
			newest = i
		}
	}
	s.rows[keyString(key)] = append(rows[:newest], rows[newest+1:]...)
	return nil
}

// RedisStore keeps row history in a capped Redis list per key, newest
// first. Writes push, never rewrite, matching the append-only row model.
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	history int64
}

// NewRedisStore wraps a Redis client. ttl bounds how long a key's history
// survives without writes.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, history: 10}
}

func redisKey(k Key) string {
	return "vantage:cache:" + keyString(k)
}

func (s *RedisStore) Put(ctx context.Context, key Key, row Row) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("cache: marshal row: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, redisKey(key), raw)
	pipe.LTrim(ctx, redisKey(key), 0, s.history-1)
	if s.ttl > 0 {
		pipe.Expire(ctx, redisKey(key), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	return nil
}

func (s *RedisStore) Latest(ctx context.Context, key Key) (*Row, error) {
	raw, err := s.client.LIndex(ctx, redisKey(key), 0).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: latest: %w", err)
	}
	var row Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("cache: unmarshal row: %w", err)
	}
	return &row, nil
}

func (s *RedisStore) Discard(ctx context.Context, key Key) error {
	if err := s.client.LPop(ctx, redisKey(key)).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("cache: discard: %w", err)
	}
	return nil
}
