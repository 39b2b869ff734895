package entity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/faults"
	"github.com/cleargate/vantage/pkg/findings"
	"github.com/cleargate/vantage/pkg/ids"
)

func finding(category, source, date string, sev contracts.Severity) findings.Finding {
	return findings.Finding{
		ID:          ids.New(),
		Category:    category,
		Summary:     category + " finding",
		Severity:    sev,
		Confidence:  0.9,
		Sources:     []string{source},
		FindingDate: date,
	}
}

func TestProfilesVersioningAndDelta(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	e := seedEntity(t, store, "t1", "Delta Subject", "1991-02-03", "")
	mgr := NewProfiles(store, nil, zap.NewNop())

	kept := finding("criminal", "prov-a", "2019-05-01", contracts.SeverityMedium)
	dropped := finding("financial", "prov-b", "2021-01-10", contracts.SeverityLow)

	v1, err := mgr.Commit(ctx, "t1", "req-1", Draft{
		EntityID:  e.ID,
		Trigger:   "initial",
		Findings:  []findings.Finding{kept, dropped},
		RiskScore: 30,
		RiskLevel: contracts.RiskModerate,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.Nil(t, v1.Delta)

	escalated := kept
	escalated.Severity = contracts.SeverityCritical
	escalated.Detail = "upgraded after corroboration"
	fresh := finding("sanctions", "prov-c", "2024-11-20", contracts.SeverityCritical)

	v2, err := mgr.Commit(ctx, "t1", "req-2", Draft{
		EntityID:  e.ID,
		Trigger:   "monitoring",
		Findings:  []findings.Finding{escalated, fresh},
		RiskScore: 72,
		RiskLevel: contracts.RiskHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, v1.ID, v2.PreviousID)

	d := v2.Delta
	require.NotNil(t, d)
	require.Len(t, d.New, 1)
	assert.Equal(t, "sanctions", d.New[0].Category)
	require.Len(t, d.Resolved, 1)
	assert.Equal(t, "financial", d.Resolved[0].Category)
	require.Len(t, d.Changed, 1)
	assert.Equal(t, contracts.SeverityMedium, d.Changed[0].Before.Severity)
	assert.Equal(t, contracts.SeverityCritical, d.Changed[0].After.Severity)
	assert.InDelta(t, 42, d.ScoreChange, 0.001)
	assert.NotEmpty(t, v2.EvolutionSignals)

	history, err := mgr.History(ctx, "t1", e.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Version)
	assert.Equal(t, 2, history[1].Version)
}

func TestProfilesCommitConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	e := seedEntity(t, store, "t1", "Conflict Subject", "", "")

	p1 := &Profile{ID: ids.New(), EntityID: e.ID, Version: 1, CreatedAt: time.Now(), Trigger: "initial"}
	require.NoError(t, store.CommitProfile(ctx, "t1", p1))

	stale := &Profile{ID: ids.New(), EntityID: e.ID, Version: 1, CreatedAt: time.Now(), Trigger: "retry"}
	err := store.CommitProfile(ctx, "t1", stale)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindConcurrencyConflict))
}

func TestMergeAndSplit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := seedEntity(t, store, "t1", "Canonical Person", "1985-05-05", "222-33-4444")
	b := seedEntity(t, store, "t1", "Duplicate Person", "1985-05-05", "")
	other := seedEntity(t, store, "t1", "Third Party", "", "")

	require.NoError(t, store.AddRelationship(ctx, "t1", Relationship{
		FromID: b.ID, ToID: other.ID, Kind: RelEmployer,
		Strength: 0.8, FirstSeen: time.Now(), Sources: []string{"prov-e"},
	}))

	m := NewMerger(store, nil, zap.NewNop())
	// Argument order must not matter; the older id wins.
	rec, err := m.Merge(ctx, "t1", "req-1", "reviewer-9", b.ID, a.ID)
	require.NoError(t, err)
	canonical, absorbed := a.ID, b.ID
	if ids.Older(b.ID, a.ID) {
		canonical, absorbed = b.ID, a.ID
	}
	assert.Equal(t, canonical, rec.CanonicalID)
	assert.Equal(t, absorbed, rec.AbsorbedID)

	merged, err := store.GetEntity(ctx, "t1", absorbed)
	require.NoError(t, err)
	assert.Equal(t, canonical, merged.MergedInto)

	// The absorbed entity's edge now hangs off the canonical one.
	rels, err := store.Relationships(ctx, "t1", canonical)
	require.NoError(t, err)
	found := false
	for _, rel := range rels {
		if rel.Kind == RelEmployer {
			found = true
		}
	}
	if absorbed == b.ID {
		assert.True(t, found, "employer edge should follow the merge")
	}

	// Strong-identifier lookup follows the merge chain.
	resolved, err := store.FindByStrongIdentifier(ctx, "t1", contracts.IdentSSN, "222334444")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, canonical, resolved.ID)

	require.NoError(t, m.Split(ctx, "t1", "req-2", "reviewer-9", canonical, absorbed))
	split, err := store.GetEntity(ctx, "t1", absorbed)
	require.NoError(t, err)
	assert.Empty(t, split.MergedInto)
}

func TestMergeRejectsSelfAndRepeat(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := seedEntity(t, store, "t1", "Solo Person", "", "")
	b := seedEntity(t, store, "t1", "Other Person", "", "")

	m := NewMerger(store, nil, zap.NewNop())
	_, err := m.Merge(ctx, "t1", "req-1", "reviewer", a.ID, a.ID)
	assert.True(t, faults.IsKind(err, faults.KindValidation))

	_, err = m.Merge(ctx, "t1", "req-1", "reviewer", a.ID, b.ID)
	require.NoError(t, err)
	_, err = m.Merge(ctx, "t1", "req-2", "reviewer", a.ID, b.ID)
	assert.True(t, faults.IsKind(err, faults.KindValidation))
}
