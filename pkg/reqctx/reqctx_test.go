package reqctx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleargate/vantage/pkg/audit"
	"github.com/cleargate/vantage/pkg/compliance"
	"github.com/cleargate/vantage/pkg/consent"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/faults"
)

func testBuilder(t *testing.T) (*Builder, string) {
	t.Helper()
	trail := audit.NewTrail([]byte("audit-key"), audit.NewMemoryStore())
	csvc := consent.NewService([]byte("consent-key"))
	now := time.Now().UTC()
	token, err := csvc.Issue(consent.Grant{
		TenantID:  "acme",
		Scope:     consent.Scope(contracts.AllCheckTypes),
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	})
	require.NoError(t, err)
	rules, err := compliance.NewRuleset(nil)
	require.NoError(t, err)
	b := &Builder{
		Rules:      rules,
		Consent:    csvc,
		Trail:      trail,
		ConfigHash: "test-hash",
		ResolveSources: func([]compliance.SourceCategory) []string {
			return []string{"sim-bureau"}
		},
	}
	return b, token
}

func baseParams(token string) Params {
	return Params{
		TenantID:     "acme",
		Actor:        "api",
		Locale:       "US-CA",
		Role:         "general",
		Tier:         contracts.TierStandard,
		Degree:       contracts.DegreeD1,
		Vigilance:    contracts.VigilanceV0,
		ConsentToken: token,
	}
}

func TestBuildFreezesContext(t *testing.T) {
	b, token := testBuilder(t)
	rc, err := b.Build(context.Background(), baseParams(token))
	require.NoError(t, err)

	assert.NotEmpty(t, rc.RequestID)
	assert.Equal(t, "acme", rc.TenantID)
	assert.Equal(t, "test-hash", rc.ConfigHash)
	assert.Equal(t, CacheShared, rc.CacheScope)
	assert.True(t, rc.PermittedSources["sim-bureau"])
	assert.NotEmpty(t, rc.PermittedChecks())
}

func TestBuildRejectsD3OnStandard(t *testing.T) {
	b, token := testBuilder(t)
	p := baseParams(token)
	p.Degree = contracts.DegreeD3

	_, err := b.Build(context.Background(), p)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindValidation))

	p.Tier = contracts.TierEnhanced
	_, err = b.Build(context.Background(), p)
	assert.NoError(t, err)
}

func TestBuildRejectsForeignConsent(t *testing.T) {
	b, token := testBuilder(t)
	p := baseParams(token)
	p.TenantID = "globex"

	_, err := b.Build(context.Background(), p)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindValidation))
}

func TestBuildRejectsBadTierAndDegree(t *testing.T) {
	b, token := testBuilder(t)

	p := baseParams(token)
	p.Tier = "PLATINUM"
	_, err := b.Build(context.Background(), p)
	assert.True(t, faults.IsKind(err, faults.KindValidation))

	p = baseParams(token)
	p.Degree = "D9"
	_, err = b.Build(context.Background(), p)
	assert.True(t, faults.IsKind(err, faults.KindValidation))
}

func TestAssertSourcePermitted(t *testing.T) {
	b, token := testBuilder(t)
	rc, err := b.Build(context.Background(), baseParams(token))
	require.NoError(t, err)

	assert.NoError(t, rc.AssertSourcePermitted(context.Background(), "sim-bureau"))
	err = rc.AssertSourcePermitted(context.Background(), "sim-media")
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindComplianceBlocked))
}

func TestAssertBudgetReservesAtomically(t *testing.T) {
	b, token := testBuilder(t)
	p := baseParams(token)
	p.BudgetCents = 100
	rc, err := b.Build(context.Background(), p)
	require.NoError(t, err)

	// 10 workers each try to reserve 30; only 3 reservations fit.
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rc.AssertBudgetAvailable(context.Background(), 30) == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, granted)
	assert.Equal(t, int64(90), rc.CostAccumulated())

	err = rc.AssertBudgetAvailable(context.Background(), 30)
	assert.True(t, faults.IsKind(err, faults.KindBudgetExceeded))
}

func TestReleaseCostReversesReservation(t *testing.T) {
	b, token := testBuilder(t)
	p := baseParams(token)
	p.BudgetCents = 50
	rc, err := b.Build(context.Background(), p)
	require.NoError(t, err)

	require.NoError(t, rc.AssertBudgetAvailable(context.Background(), 50))
	require.Error(t, rc.AssertBudgetAvailable(context.Background(), 10))

	rc.ReleaseCost(50)
	assert.NoError(t, rc.AssertBudgetAvailable(context.Background(), 10))
}

func TestZeroBudgetMeansUnlimited(t *testing.T) {
	b, token := testBuilder(t)
	rc, err := b.Build(context.Background(), baseParams(token))
	require.NoError(t, err)

	require.NoError(t, rc.AssertBudgetAvailable(context.Background(), 1_000_000))
	assert.Equal(t, int64(1_000_000), rc.CostAccumulated())
}

func TestAssertConsentValid(t *testing.T) {
	b, token := testBuilder(t)
	rc, err := b.Build(context.Background(), baseParams(token))
	require.NoError(t, err)

	assert.NoError(t, rc.AssertConsentValid(context.Background(), time.Now().UTC()))

	err = rc.AssertConsentValid(context.Background(), time.Now().UTC().Add(2*time.Hour))
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindConsentExpired))
}
