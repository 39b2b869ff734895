package provider

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cleargate/vantage/pkg/compliance"
	"github.com/cleargate/vantage/pkg/contracts"
)

// ErrNotRegistered is returned when a provider id is unknown.
var ErrNotRegistered = errors.New("provider not registered")

// stats is a rolling window of call outcomes per provider, used as a
// selection tie-breaker.
type stats struct {
	mu        sync.Mutex
	outcomes  []outcome
	windowCap int
}

type outcome struct {
	failed  bool
	latency time.Duration
}

func (s *stats) record(failed bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome{failed: failed, latency: latency})
	if len(s.outcomes) > s.windowCap {
		s.outcomes = s.outcomes[len(s.outcomes)-s.windowCap:]
	}
}

func (s *stats) errorRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outcomes) == 0 {
		return 0
	}
	failed := 0
	for _, o := range s.outcomes {
		if o.failed {
			failed++
		}
	}
	return float64(failed) / float64(len(s.outcomes))
}

func (s *stats) p95Latency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outcomes) == 0 {
		return 0
	}
	lats := make([]time.Duration, len(s.outcomes))
	for i, o := range s.outcomes {
		lats[i] = o.latency
	}
	sort.Slice(lats, func(i, j int) bool { return lats[i] < lats[j] })
	idx := (len(lats) * 95) / 100
	if idx >= len(lats) {
		idx = len(lats) - 1
	}
	return lats[idx]
}

// Registry is the source of truth for registered adapters. Thread-safe;
// built at process start and injected where needed.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	stats    map[string]*stats
	// openCircuit reports whether the provider's breaker currently
	// excludes it from selection. Wired by the gateway.
	openCircuit func(providerID string) bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		stats:    make(map[string]*stats),
	}
}

// SetCircuitProbe wires the breaker-state probe used during selection.
func (r *Registry) SetCircuitProbe(probe func(providerID string) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openCircuit = probe
}

// Register adds an adapter. Re-registering an id replaces it.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := a.Info().ID
	r.adapters[id] = a
	if r.stats[id] == nil {
		r.stats[id] = &stats{windowCap: 100}
	}
}

// Get returns an adapter by id.
func (r *Registry) Get(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	if !ok {
		return nil, ErrNotRegistered
	}
	return a, nil
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// IDsByCategory resolves source categories to concrete provider ids, used
// at context construction to freeze permitted_sources.
func (r *Registry) IDsByCategory(categories []compliance.SourceCategory) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	allowed := make(map[compliance.SourceCategory]bool, len(categories))
	for _, c := range categories {
		allowed[c] = true
	}
	var out []string
	for id, a := range r.adapters {
		if allowed[a.Info().Category] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// RecordOutcome feeds the rolling stats used for tie-breaking.
func (r *Registry) RecordOutcome(providerID string, failed bool, latency time.Duration) {
	r.mu.RLock()
	s := r.stats[providerID]
	r.mu.RUnlock()
	if s != nil {
		s.record(failed, latency)
	}
}

// Selection is the input to candidate selection.
type Selection struct {
	Check            contracts.CheckType
	Locale           string
	Tier             contracts.Tier
	PermittedSources map[string]bool
}

// Select produces the ordered candidate list for a check: primary first,
// fallbacks after. Providers with open circuits are excluded; PREMIUM
// providers require the Enhanced tier; the permitted-source set filters
// everything else. Order: cost ascending, then error rate, then p95.
func (r *Registry) Select(sel Selection) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type candidate struct {
		a       Adapter
		cost    int64
		errRate float64
		p95     time.Duration
	}
	var cands []candidate
	for id, a := range r.adapters {
		info := a.Info()
		if !info.Supports(sel.Check) || !info.ServesLocale(sel.Locale) {
			continue
		}
		if info.Category == compliance.SourcePremium && sel.Tier != contracts.TierEnhanced {
			continue
		}
		if sel.PermittedSources != nil && !sel.PermittedSources[id] {
			continue
		}
		if r.openCircuit != nil && r.openCircuit(id) {
			continue
		}
		st := r.stats[id]
		cands = append(cands, candidate{
			a:       a,
			cost:    info.CostCents,
			errRate: st.errorRate(),
			p95:     st.p95Latency(),
		})
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].cost != cands[j].cost {
			return cands[i].cost < cands[j].cost
		}
		if cands[i].errRate != cands[j].errRate {
			return cands[i].errRate < cands[j].errRate
		}
		if cands[i].p95 != cands[j].p95 {
			return cands[i].p95 < cands[j].p95
		}
		return cands[i].a.Info().ID < cands[j].a.Info().ID
	})

	out := make([]Adapter, len(cands))
	for i, c := range cands {
		out[i] = c.a
	}
	return out
}
