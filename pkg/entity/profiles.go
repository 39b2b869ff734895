package entity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/audit"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/findings"
	"github.com/cleargate/vantage/pkg/ids"
)

// Draft carries everything a new profile version is built from.
type Draft struct {
	EntityID         string
	Trigger          string
	Findings         []findings.Finding
	RiskScore        float64
	RiskLevel        contracts.RiskLevel
	Connections      []Relationship
	SourcesUsed      []string
	StaleSources     []string
	IncompleteChecks []contracts.CheckType
	Partial          bool
}

// Profiles builds and commits versioned profiles with deltas.
type Profiles struct {
	store Store
	trail *audit.Trail
	log   *zap.Logger
	now   func() time.Time
}

// NewProfiles creates a profile manager.
func NewProfiles(store Store, trail *audit.Trail, log *zap.Logger) *Profiles {
	return &Profiles{store: store, trail: trail, log: log.Named("profiles"), now: time.Now}
}

// WithClock overrides the clock. Tests only.
func (p *Profiles) WithClock(now func() time.Time) *Profiles {
	p.now = now
	return p
}

// Commit computes the delta against the latest version and appends the
// new profile. The version check is compare-and-swap: a concurrent
// commit for the same entity loses with KindConcurrencyConflict and the
// caller re-reads and retries with the refreshed base.
func (p *Profiles) Commit(ctx context.Context, tenantID, requestID string, d Draft) (*Profile, error) {
	prev, err := p.store.LatestProfile(ctx, tenantID, d.EntityID)
	if err != nil {
		return nil, err
	}

	prof := &Profile{
		ID:               ids.New(),
		EntityID:         d.EntityID,
		Version:          1,
		CreatedAt:        p.now().UTC(),
		Trigger:          d.Trigger,
		Findings:         d.Findings,
		RiskScore:        d.RiskScore,
		RiskLevel:        d.RiskLevel,
		Connections:      d.Connections,
		SourcesUsed:      d.SourcesUsed,
		StaleSources:     d.StaleSources,
		IncompleteChecks: d.IncompleteChecks,
		Partial:          d.Partial,
	}
	if prev != nil {
		prof.Version = prev.Version + 1
		prof.PreviousID = prev.ID
		prof.Delta = computeDelta(prev, prof)
		prof.EvolutionSignals = prof.Delta.EvolutionSignals
	}

	if err := p.store.CommitProfile(ctx, tenantID, prof); err != nil {
		return nil, err
	}
	p.log.Info("profile committed",
		zap.String("entity_id", d.EntityID),
		zap.Int("version", prof.Version),
		zap.String("trigger", d.Trigger))
	if p.trail != nil {
		_, _ = p.trail.Record(ctx, tenantID, requestID, "system", audit.EventProfileCommitted, map[string]any{
			"entity_id": d.EntityID,
			"version":   prof.Version,
			"trigger":   d.Trigger,
			"partial":   d.Partial,
		})
	}
	return prof, nil
}

// computeDelta matches findings across versions by (category, first
// source, finding date) and diffs connections by (peer, kind).
func computeDelta(prev, next *Profile) *Delta {
	d := &Delta{ScoreChange: next.RiskScore - prev.RiskScore}

	prevByKey := make(map[findings.Key]findings.Finding, len(prev.Findings))
	for _, f := range prev.Findings {
		prevByKey[f.MatchKey()] = f
	}
	seen := make(map[findings.Key]bool, len(next.Findings))
	for _, f := range next.Findings {
		key := f.MatchKey()
		seen[key] = true
		old, ok := prevByKey[key]
		if !ok {
			d.New = append(d.New, f)
			continue
		}
		if old.Severity != f.Severity || old.Detail != f.Detail {
			d.Changed = append(d.Changed, ChangedFinding{Before: old, After: f})
		}
	}
	for key, f := range prevByKey {
		if !seen[key] {
			d.Resolved = append(d.Resolved, f)
		}
	}

	prevConn := connSet(prev.Connections)
	nextConn := connSet(next.Connections)
	for key, rel := range nextConn {
		if _, ok := prevConn[key]; !ok {
			d.NewConnections = append(d.NewConnections, rel)
		}
	}
	for key, rel := range prevConn {
		if _, ok := nextConn[key]; !ok {
			d.LostConnections = append(d.LostConnections, rel)
		}
	}
	d.ConnectionDiff = len(next.Connections) - len(prev.Connections)

	d.EvolutionSignals = evolutionSignals(prev, next, d)
	return d
}

func connSet(rels []Relationship) map[string]Relationship {
	m := make(map[string]Relationship, len(rels))
	for _, r := range rels {
		m[r.ToID+"|"+string(r.Kind)] = r
	}
	return m
}

// evolutionSignals names trajectory patterns worth a reviewer's eye.
func evolutionSignals(prev, next *Profile, d *Delta) []string {
	var sigs []string
	if d.ScoreChange >= 15 {
		sigs = append(sigs, fmt.Sprintf("risk score rose %.0f points since version %d", d.ScoreChange, prev.Version))
	}
	if sevCount(d.New, contracts.SeverityCritical) > 0 {
		sigs = append(sigs, "new critical finding since the previous review")
	}
	if len(d.NewConnections) >= 3 {
		sigs = append(sigs, fmt.Sprintf("%d new network connections appeared", len(d.NewConnections)))
	}
	if prev.RiskLevel != next.RiskLevel && next.RiskLevel == contracts.RiskCritical {
		sigs = append(sigs, "risk level crossed into CRITICAL")
	}
	for _, c := range d.Changed {
		if c.After.Severity.Weight() > c.Before.Severity.Weight() {
			sigs = append(sigs, fmt.Sprintf("finding in %s escalated from %s to %s", c.After.Category, c.Before.Severity, c.After.Severity))
		}
	}
	return sigs
}

// History returns all versions for an entity in ascending order.
func (p *Profiles) History(ctx context.Context, tenantID, entityID string) ([]*Profile, error) {
	return p.store.Profiles(ctx, tenantID, entityID)
}

// Latest returns the newest profile version.
func (p *Profiles) Latest(ctx context.Context, tenantID, entityID string) (*Profile, error) {
	return p.store.LatestProfile(ctx, tenantID, entityID)
}

func sevCount(fs []findings.Finding, sev contracts.Severity) int {
	n := 0
	for _, f := range fs {
		if f.Severity == sev {
			n++
		}
	}
	return n
}
