package review

import (
	"context"
	"sort"
	"sync"

	"github.com/cleargate/vantage/pkg/faults"
)

// MemoryStore is the in-process implementation used by tests and the
// dev binary.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task // id -> task
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

func (s *MemoryStore) Insert(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return faults.New(faults.KindDataIntegrity, "review.insert", "task "+t.ID+" already exists")
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tenantID, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok || t.TenantID != tenantID {
		return nil, faults.New(faults.KindNotFound, "review.get", "task not found")
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Open(_ context.Context, tenantID string, kind Kind, limit int) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Task
	for _, t := range s.tasks {
		if t.TenantID != tenantID || t.Status != StatusOpen {
			continue
		}
		if kind != "" && t.Kind != kind {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.ID]
	if !ok || cur.TenantID != t.TenantID {
		return faults.New(faults.KindNotFound, "review.update", "task not found")
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}
