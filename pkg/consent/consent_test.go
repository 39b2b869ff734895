package consent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/faults"
)

func issue(t *testing.T, svc *Service, ttl time.Duration) string {
	t.Helper()
	now := time.Now().UTC()
	token, err := svc.Issue(Grant{
		TenantID:   "acme",
		SubjectRef: "emp-7",
		Scope:      Scope{contracts.CheckIdentity, contracts.CheckCriminal},
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
	})
	require.NoError(t, err)
	return token
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	svc := NewService([]byte("k1"))
	g, err := svc.Verify(issue(t, svc, time.Hour))
	require.NoError(t, err)

	assert.Equal(t, "acme", g.TenantID)
	assert.Equal(t, "emp-7", g.SubjectRef)
	assert.True(t, g.Scope.Covers(contracts.CheckCriminal))
	assert.False(t, g.Scope.Covers(contracts.CheckCredit))
	assert.True(t, g.Valid(time.Now().UTC()))
}

func TestVerifyExpiredToken(t *testing.T) {
	svc := NewService([]byte("k1"))
	_, err := svc.Verify(issue(t, svc, -time.Minute))
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindConsentExpired))
}

func TestVerifyWrongKey(t *testing.T) {
	token := issue(t, NewService([]byte("k1")), time.Hour)
	_, err := NewService([]byte("k2")).Verify(token)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindValidation))
}

func TestVerifyGarbage(t *testing.T) {
	_, err := NewService([]byte("k1")).Verify("not-a-jwt")
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindValidation))
}
