package orchestrator

import (
	"context"
	"sort"
	"sync"

	"github.com/cleargate/vantage/pkg/faults"
)

// MemoryStore is the in-memory request store used by tests and the dev
// binary.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*Request
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*Request)}
}

func (s *MemoryStore) Insert(_ context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return faults.New(faults.KindConcurrencyConflict, "orchestrator.store.insert", "request id already exists")
	}
	cp := *r
	s.requests[r.ID] = &cp
	return nil
}

func (s *MemoryStore) Update(_ context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.requests[r.ID]
	if !ok || cur.TenantID != r.TenantID {
		return faults.New(faults.KindNotFound, "orchestrator.store.update", "request not found")
	}
	cp := *r
	s.requests[r.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tenantID, id string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok || r.TenantID != tenantID {
		return nil, faults.New(faults.KindNotFound, "orchestrator.store.get", "request not found")
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ByIdempotencyKey(_ context.Context, tenantID, key string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.requests {
		if r.TenantID == tenantID && r.IdempotencyKey == key {
			cp := *r
			return &cp, nil
		}
	}
	return nil, faults.New(faults.KindNotFound, "orchestrator.store.idempotency", "no request for key")
}

func (s *MemoryStore) ByEmployee(_ context.Context, tenantID, employeeRef string) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Request
	for _, r := range s.requests {
		if r.TenantID == tenantID && r.EmployeeRef == employeeRef {
			cp := *r
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) List(_ context.Context, tenantID string, f ListFilter) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Request
	for _, r := range s.requests {
		if r.TenantID != tenantID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sortNewestFirst(out)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func sortNewestFirst(rs []*Request) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.After(rs[j].CreatedAt)
		}
		return rs[i].ID > rs[j].ID
	})
}
