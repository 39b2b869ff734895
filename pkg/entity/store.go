package entity

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/faults"
)

// Store persists entities, identifiers, relationships, and profiles.
// Every query takes the tenant as a first-class predicate; implementations
// must refuse cross-tenant access server-side, not merely filter.
type Store interface {
	CreateEntity(ctx context.Context, e *Entity) error
	GetEntity(ctx context.Context, tenantID, id string) (*Entity, error)
	UpdateEntity(ctx context.Context, e *Entity) error
	ListEntities(ctx context.Context, tenantID string, kind Kind) ([]*Entity, error)
	// FindByStrongIdentifier returns the entity holding a confirmed
	// strong identifier, or nil.
	FindByStrongIdentifier(ctx context.Context, tenantID string, typ contracts.IdentifierType, normalized string) (*Entity, error)
	AddIdentifier(ctx context.Context, tenantID string, ident Identifier) error

	AddRelationship(ctx context.Context, tenantID string, rel Relationship) error
	Relationships(ctx context.Context, tenantID, entityID string) ([]Relationship, error)
	RemoveRelationships(ctx context.Context, tenantID, entityID string) ([]Relationship, error)

	RecordDuplicate(ctx context.Context, tenantID string, d DuplicateCandidate) error

	LatestProfile(ctx context.Context, tenantID, entityID string) (*Profile, error)
	// CommitProfile writes version p.Version if and only if it is exactly
	// one past the stored latest (compare-and-set). Returns a
	// ConcurrencyConflict fault otherwise.
	CommitProfile(ctx context.Context, tenantID string, p *Profile) error
	Profiles(ctx context.Context, tenantID, entityID string) ([]*Profile, error)

	RecordMerge(ctx context.Context, tenantID string, m MergeRecord) error
	GetMerge(ctx context.Context, tenantID, canonicalID, absorbedID string) (*MergeRecord, error)
}

// MemoryStore is the in-process implementation used by tests and the dev
// binary. Mutations take a per-entity lock; reads are snapshot copies.
type MemoryStore struct {
	mu         sync.RWMutex
	entities   map[string]*Entity              // id -> entity
	byStrongID map[string]string               // tenant|type|normalized -> entity id
	relations  map[string][]Relationship       // from id -> edges
	profiles   map[string][]*Profile           // entity id -> versions ascending
	duplicates map[string][]DuplicateCandidate // tenant -> candidates
	merges     map[string][]MergeRecord        // tenant -> records

	locks sync.Map // entity id -> *sync.Mutex
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:   make(map[string]*Entity),
		byStrongID: make(map[string]string),
		relations:  make(map[string][]Relationship),
		profiles:   make(map[string][]*Profile),
		duplicates: make(map[string][]DuplicateCandidate),
		merges:     make(map[string][]MergeRecord),
	}
}

func strongKey(tenantID string, typ contracts.IdentifierType, normalized string) string {
	return tenantID + "|" + string(typ) + "|" + normalized
}

func (s *MemoryStore) entityLock(id string) *sync.Mutex {
	l, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (s *MemoryStore) CreateEntity(_ context.Context, e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// No two entities in a tenant may share a confirmed strong identifier.
	for _, ident := range e.Identifiers {
		if ident.Type.Strong() {
			if existing, ok := s.byStrongID[strongKey(e.TenantID, ident.Type, ident.Normalized)]; ok && existing != e.ID {
				return faults.New(faults.KindValidation, "entity.create",
					"strong identifier already bound to entity "+existing)
			}
		}
	}
	cp := cloneEntity(e)
	s.entities[e.ID] = cp
	for _, ident := range cp.Identifiers {
		if ident.Type.Strong() {
			s.byStrongID[strongKey(cp.TenantID, ident.Type, ident.Normalized)] = cp.ID
		}
	}
	return nil
}

func (s *MemoryStore) GetEntity(_ context.Context, tenantID, id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, faults.New(faults.KindNotFound, "entity.get", "entity "+id+" not found")
	}
	if e.TenantID != tenantID {
		// Server-side refusal: the row exists, the tenant may not know.
		return nil, faults.New(faults.KindNotFound, "entity.get", "entity "+id+" not found")
	}
	return cloneEntity(e), nil
}

func (s *MemoryStore) UpdateEntity(_ context.Context, e *Entity) error {
	lock := s.entityLock(e.ID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entities[e.ID]
	if !ok || cur.TenantID != e.TenantID {
		return faults.New(faults.KindNotFound, "entity.update", "entity "+e.ID+" not found")
	}
	s.entities[e.ID] = cloneEntity(e)
	for _, ident := range e.Identifiers {
		if ident.Type.Strong() {
			s.byStrongID[strongKey(e.TenantID, ident.Type, ident.Normalized)] = e.ID
		}
	}
	return nil
}

func (s *MemoryStore) ListEntities(_ context.Context, tenantID string, kind Kind) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Entity
	for _, e := range s.entities {
		if e.TenantID != tenantID || e.MergedInto != "" {
			continue
		}
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, cloneEntity(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) FindByStrongIdentifier(_ context.Context, tenantID string, typ contracts.IdentifierType, normalized string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byStrongID[strongKey(tenantID, typ, normalized)]
	if !ok {
		return nil, nil
	}
	e := s.entities[id]
	if e == nil || e.TenantID != tenantID {
		return nil, nil
	}
	// Follow the merge chain to the canonical entity.
	for e.MergedInto != "" {
		next := s.entities[e.MergedInto]
		if next == nil {
			break
		}
		e = next
	}
	return cloneEntity(e), nil
}

func (s *MemoryStore) AddIdentifier(_ context.Context, tenantID string, ident Identifier) error {
	lock := s.entityLock(ident.EntityID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[ident.EntityID]
	if !ok || e.TenantID != tenantID {
		return faults.New(faults.KindNotFound, "entity.add_identifier", "entity not found")
	}
	if ident.Type.Strong() {
		if existing, taken := s.byStrongID[strongKey(tenantID, ident.Type, ident.Normalized)]; taken && existing != ident.EntityID {
			return faults.New(faults.KindValidation, "entity.add_identifier",
				"strong identifier already bound to entity "+existing)
		}
		s.byStrongID[strongKey(tenantID, ident.Type, ident.Normalized)] = ident.EntityID
	}
	e.Identifiers = append(e.Identifiers, ident)
	return nil
}

func (s *MemoryStore) AddRelationship(_ context.Context, tenantID string, rel Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entities[rel.FromID]; !ok || e.TenantID != tenantID {
		return faults.New(faults.KindNotFound, "entity.add_relationship", "from entity not found")
	}
	// Same edge from the same kind: merge sources, keep max strength.
	edges := s.relations[rel.FromID]
	for i, existing := range edges {
		if existing.ToID == rel.ToID && existing.Kind == rel.Kind {
			if rel.Strength > existing.Strength {
				edges[i].Strength = rel.Strength
			}
			edges[i].Sources = unionStrings(existing.Sources, rel.Sources)
			return nil
		}
	}
	s.relations[rel.FromID] = append(edges, rel)
	return nil
}

func (s *MemoryStore) Relationships(_ context.Context, tenantID, entityID string) ([]Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entities[entityID]; !ok || e.TenantID != tenantID {
		return nil, faults.New(faults.KindNotFound, "entity.relationships", "entity not found")
	}
	out := make([]Relationship, len(s.relations[entityID]))
	copy(out, s.relations[entityID])
	return out, nil
}

func (s *MemoryStore) RemoveRelationships(_ context.Context, tenantID, entityID string) ([]Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entities[entityID]; !ok || e.TenantID != tenantID {
		return nil, faults.New(faults.KindNotFound, "entity.remove_relationships", "entity not found")
	}
	removed := s.relations[entityID]
	delete(s.relations, entityID)
	return removed, nil
}

func (s *MemoryStore) RecordDuplicate(_ context.Context, tenantID string, d DuplicateCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duplicates[tenantID] = append(s.duplicates[tenantID], d)
	return nil
}

// Duplicates returns recorded duplicate candidates. Test helper.
func (s *MemoryStore) Duplicates(tenantID string) []DuplicateCandidate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DuplicateCandidate, len(s.duplicates[tenantID]))
	copy(out, s.duplicates[tenantID])
	return out
}

func (s *MemoryStore) LatestProfile(_ context.Context, tenantID, entityID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entities[entityID]; !ok || e.TenantID != tenantID {
		return nil, faults.New(faults.KindNotFound, "entity.latest_profile", "entity not found")
	}
	versions := s.profiles[entityID]
	if len(versions) == 0 {
		return nil, nil
	}
	cp := *versions[len(versions)-1]
	return &cp, nil
}

func (s *MemoryStore) CommitProfile(_ context.Context, tenantID string, p *Profile) error {
	lock := s.entityLock(p.EntityID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entities[p.EntityID]; !ok || e.TenantID != tenantID {
		return faults.New(faults.KindNotFound, "entity.commit_profile", "entity not found")
	}
	versions := s.profiles[p.EntityID]
	want := len(versions) + 1
	if p.Version != want {
		return faults.New(faults.KindConcurrencyConflict, "entity.commit_profile",
			"version conflict: want "+strconv.Itoa(want)+", got "+strconv.Itoa(p.Version))
	}
	cp := *p
	s.profiles[p.EntityID] = append(versions, &cp)
	return nil
}

func (s *MemoryStore) Profiles(_ context.Context, tenantID, entityID string) ([]*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entities[entityID]; !ok || e.TenantID != tenantID {
		return nil, faults.New(faults.KindNotFound, "entity.profiles", "entity not found")
	}
	versions := s.profiles[entityID]
	out := make([]*Profile, len(versions))
	for i, p := range versions {
		cp := *p
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) RecordMerge(_ context.Context, tenantID string, m MergeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merges[tenantID] = append(s.merges[tenantID], m)
	return nil
}

func (s *MemoryStore) GetMerge(_ context.Context, tenantID, canonicalID, absorbedID string) (*MergeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.merges[tenantID]) - 1; i >= 0; i-- {
		m := s.merges[tenantID][i]
		if m.CanonicalID == canonicalID && m.AbsorbedID == absorbedID {
			cp := m
			return &cp, nil
		}
	}
	return nil, faults.New(faults.KindNotFound, "entity.get_merge", "merge record not found")
}

func cloneEntity(e *Entity) *Entity {
	cp := *e
	cp.Names = append([]string(nil), e.Names...)
	cp.Identifiers = append([]Identifier(nil), e.Identifiers...)
	return &cp
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, v := range a {
		seen[v] = true
	}
	for _, v := range b {
		if !seen[v] {
			a = append(a, v)
			seen[v] = true
		}
	}
	return a
}
