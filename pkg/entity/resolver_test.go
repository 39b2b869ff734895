package entity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/config"
	"github.com/cleargate/vantage/pkg/contracts"
)

func testFuzzyConfig() config.FuzzyMatchConfig {
	return config.Default().Fuzzy
}

type recordingReview struct {
	tasks []string
}

func (r *recordingReview) EnqueueEntityReview(_ context.Context, _, entityID, candidateID string, _ float64) error {
	r.tasks = append(r.tasks, entityID+"->"+candidateID)
	return nil
}

func seedSubject(t *testing.T, store Store, tenant string, subject contracts.Subject) *Entity {
	t.Helper()
	r := NewResolver(store, testFuzzyConfig(), nil, zap.NewNop())
	res, err := r.ResolveOrCreate(context.Background(), tenant, contracts.TierStandard, subject, contracts.OriginPaidExternal)
	require.NoError(t, err)
	e, err := store.GetEntity(context.Background(), tenant, res.EntityID)
	require.NoError(t, err)
	return e
}

func seedEntity(t *testing.T, store Store, tenant, name, dob, ssn string) *Entity {
	t.Helper()
	subject := contracts.Subject{FullName: name, DateOfBirth: dob}
	if ssn != "" {
		subject.Identifiers = map[contracts.IdentifierType]string{contracts.IdentSSN: ssn}
	}
	return seedSubject(t, store, tenant, subject)
}

func TestResolverExactStrongIdentifier(t *testing.T) {
	store := NewMemoryStore()
	existing := seedEntity(t, store, "t1", "Jane Smith", "1988-04-02", "123-45-6789")

	r := NewResolver(store, testFuzzyConfig(), nil, zap.NewNop())
	res, err := r.ResolveOrCreate(context.Background(), "t1", contracts.TierStandard, contracts.Subject{
		FullName: "J. Smythe", // name differs; the SSN decides
		Identifiers: map[contracts.IdentifierType]string{
			contracts.IdentSSN: "123 45 6789",
		},
	}, contracts.OriginPaidExternal)
	require.NoError(t, err)
	assert.Equal(t, MatchExact, res.MatchType)
	assert.Equal(t, existing.ID, res.EntityID)
}

func TestResolverAutoMatchAboveBand(t *testing.T) {
	store := NewMemoryStore()
	existing := seedSubject(t, store, "t1", contracts.Subject{
		FullName:    "Jonathan Andersen",
		DateOfBirth: "1990-01-15",
		Address:     "12 Harbor Lane, Portland OR",
	})

	r := NewResolver(store, testFuzzyConfig(), nil, zap.NewNop())
	res, err := r.ResolveOrCreate(context.Background(), "t1", contracts.TierStandard, contracts.Subject{
		FullName:    "Jonathan Andersen",
		DateOfBirth: "1990-01-15",
		Address:     "12 Harbor Lane, Portland OR",
	}, contracts.OriginPaidExternal)
	require.NoError(t, err)
	assert.Equal(t, MatchAuto, res.MatchType)
	assert.Equal(t, existing.ID, res.EntityID)
	assert.GreaterOrEqual(t, res.Score, 0.95)
}

func TestResolverReviewBandByTier(t *testing.T) {
	ctx := context.Background()
	// Name and DOB match but the incoming subject carries no address, so
	// the score lands on the review band below auto-match.
	subject := contracts.Subject{FullName: "Maria Gonzalez", DateOfBirth: "1975-09-30"}

	t.Run("standard flags and proceeds on the candidate", func(t *testing.T) {
		store := NewMemoryStore()
		existing := seedSubject(t, store, "t1", contracts.Subject{
			FullName: "Maria Gonzalez", DateOfBirth: "1975-09-30", Address: "8 Rue de Lyon, Geneva",
		})
		r := NewResolver(store, testFuzzyConfig(), nil, zap.NewNop())

		res, err := r.ResolveOrCreate(ctx, "t1", contracts.TierStandard, subject, contracts.OriginPaidExternal)
		require.NoError(t, err)
		assert.Equal(t, MatchFlagged, res.MatchType)
		assert.Equal(t, existing.ID, res.EntityID)
	})

	t.Run("enhanced soft-links and queues review", func(t *testing.T) {
		store := NewMemoryStore()
		existing := seedSubject(t, store, "t1", contracts.Subject{
			FullName: "Maria Gonzalez", DateOfBirth: "1975-09-30", Address: "8 Rue de Lyon, Geneva",
		})
		review := &recordingReview{}
		r := NewResolver(store, testFuzzyConfig(), review, zap.NewNop())

		res, err := r.ResolveOrCreate(ctx, "t1", contracts.TierEnhanced, subject, contracts.OriginPaidExternal)
		require.NoError(t, err)
		assert.Equal(t, MatchSoftLink, res.MatchType)
		assert.NotEqual(t, existing.ID, res.EntityID)
		assert.Equal(t, existing.ID, res.SoftLinkedTo)
		assert.True(t, res.ReviewPending)
		assert.Len(t, review.tasks, 1)
	})
}

func TestResolverDuplicateBandCreatesNewEntity(t *testing.T) {
	store := NewMemoryStore()
	existing := seedSubject(t, store, "t1", contracts.Subject{
		FullName:    "Priya Raman",
		DateOfBirth: "1982-06-17",
		Address:     "44 Lake View Drive, Austin TX",
	})

	r := NewResolver(store, testFuzzyConfig(), nil, zap.NewNop())
	// Name and address agree but no DOB was supplied: the score falls in
	// the possible-duplicate band, so a new entity is created and the
	// near-match is recorded for later review.
	res, err := r.ResolveOrCreate(context.Background(), "t1", contracts.TierStandard, contracts.Subject{
		FullName: "Priya Raman",
		Address:  "44 Lake View Drive, Austin TX",
	}, contracts.OriginPaidExternal)
	require.NoError(t, err)
	assert.Equal(t, MatchNew, res.MatchType)
	assert.NotEqual(t, existing.ID, res.EntityID)
	assert.GreaterOrEqual(t, res.Score, 0.70)
	assert.Less(t, res.Score, 0.85)
}

func TestResolverStableAcrossRepeats(t *testing.T) {
	store := NewMemoryStore()
	r := NewResolver(store, testFuzzyConfig(), nil, zap.NewNop())
	subject := contracts.Subject{
		FullName: "Chen Wei",
		Identifiers: map[contracts.IdentifierType]string{
			contracts.IdentSSN: "987-65-4321",
		},
	}

	first, err := r.ResolveOrCreate(context.Background(), "t1", contracts.TierStandard, subject, contracts.OriginPaidExternal)
	require.NoError(t, err)
	assert.Equal(t, MatchNew, first.MatchType)

	second, err := r.ResolveOrCreate(context.Background(), "t1", contracts.TierStandard, subject, contracts.OriginPaidExternal)
	require.NoError(t, err)
	assert.Equal(t, MatchExact, second.MatchType)
	assert.Equal(t, first.EntityID, second.EntityID)
}

func TestResolverTenantIsolation(t *testing.T) {
	store := NewMemoryStore()
	seedEntity(t, store, "t1", "Ibrahim Khan", "1980-03-03", "111-22-3333")

	r := NewResolver(store, testFuzzyConfig(), nil, zap.NewNop())
	res, err := r.ResolveOrCreate(context.Background(), "t2", contracts.TierStandard, contracts.Subject{
		FullName:    "Ibrahim Khan",
		DateOfBirth: "1980-03-03",
		Identifiers: map[contracts.IdentifierType]string{
			contracts.IdentSSN: "111-22-3333",
		},
	}, contracts.OriginPaidExternal)
	require.NoError(t, err)
	// The other tenant's entity is invisible; a fresh one is created.
	assert.Equal(t, MatchNew, res.MatchType)
}

func TestNormalizeIdentifier(t *testing.T) {
	cases := []struct {
		typ  contracts.IdentifierType
		in   string
		want string
	}{
		{contracts.IdentSSN, "123-45-6789", "123456789"},
		{contracts.IdentSSN, "123 45 6789", "123456789"},
		{contracts.IdentEmail, "Jane.Doe@Example.COM ", "jane.doe@example.com"},
		{contracts.IdentPassport, "ab 123456", "AB123456"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeIdentifier(tc.typ, tc.in), "%s %q", tc.typ, tc.in)
	}
}

func TestNormalizeNameFoldsDiacritics(t *testing.T) {
	assert.Equal(t, "jose garcia", NormalizeName("  José   García "))
	assert.Equal(t, "soren kierkegaard", NormalizeName("Søren Kierkegaard"))
}

func TestGraphExpandRespectsDegreeAndCap(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	mk := func(name string) *Entity {
		return seedEntity(t, store, "t1", name, "", "")
	}
	root := mk("Root Person")
	hop1a, hop1b, hop1c := mk("Hop One A"), mk("Hop One B"), mk("Hop One C")
	hop2 := mk("Hop Two")

	add := func(from, to *Entity, strength float64) {
		require.NoError(t, store.AddRelationship(ctx, "t1", Relationship{
			FromID: from.ID, ToID: to.ID, Kind: RelAssociate,
			Strength: strength, FirstSeen: time.Now(), Sources: []string{"test"},
		}))
	}
	add(root, hop1a, 0.9)
	add(root, hop1b, 0.8)
	add(root, hop1c, 0.2)
	add(hop1a, hop2, 0.7)

	g := NewGraph(store)

	d1, err := g.Expand(ctx, "t1", root.ID, contracts.DegreeD1, 10)
	require.NoError(t, err)
	assert.Empty(t, d1)

	// Cap of 2 per hop drops the weakest tie.
	d2, err := g.Expand(ctx, "t1", root.ID, contracts.DegreeD2, 2)
	require.NoError(t, err)
	require.Len(t, d2, 2)
	assert.Equal(t, hop1a.ID, d2[0].Entity.ID)
	assert.Equal(t, 1, d2[0].Hop)

	d3, err := g.Expand(ctx, "t1", root.ID, contracts.DegreeD3, 2)
	require.NoError(t, err)
	var hops []int
	for _, n := range d3 {
		hops = append(hops, n.Hop)
	}
	assert.Contains(t, hops, 2)
}

func TestGraphShortestPath(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := seedEntity(t, store, "t1", "Alpha One", "", "")
	b := seedEntity(t, store, "t1", "Bravo Two", "", "")
	c := seedEntity(t, store, "t1", "Charlie Three", "", "")
	for _, pair := range [][2]*Entity{{a, b}, {b, c}} {
		require.NoError(t, store.AddRelationship(ctx, "t1", Relationship{
			FromID: pair[0].ID, ToID: pair[1].ID, Kind: RelBusinessPartner,
			Strength: 0.5, FirstSeen: time.Now(),
		}))
	}

	g := NewGraph(store)
	path, err := g.ShortestPath(ctx, "t1", a.ID, c.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, path)

	none, err := g.ShortestPath(ctx, "t1", a.ID, "missing", 4)
	require.NoError(t, err)
	assert.Nil(t, none)
}
