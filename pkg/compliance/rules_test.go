package compliance

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleargate/vantage/pkg/contracts"
)

func evalReq(locale string, tier contracts.Tier, role RoleCategory) Request {
	return Request{Locale: locale, Tier: tier, Role: role, ConsentScope: contracts.AllCheckTypes}
}

func TestLocaleChain(t *testing.T) {
	assert.Equal(t, []string{"US-CA", "US", "default"}, localeChain("US-CA"))
	assert.Equal(t, []string{"US", "default"}, localeChain("US"))
	assert.Equal(t, []string{"default"}, localeChain(""))
}

func TestEmptyRulesetPermitsEverything(t *testing.T) {
	rs, err := NewRuleset(nil)
	require.NoError(t, err)

	d, err := rs.Evaluate(evalReq("US-CA", contracts.TierStandard, RoleGeneral))
	require.NoError(t, err)
	for _, check := range contracts.AllCheckTypes {
		assert.True(t, d.Permits(check), string(check))
	}
	assert.Equal(t, []SourceCategory{SourceCore}, d.SourceCategories)
}

func TestEnhancedTierAdmitsPremiumSources(t *testing.T) {
	rs, err := NewRuleset(nil)
	require.NoError(t, err)

	d, err := rs.Evaluate(evalReq("US", contracts.TierEnhanced, RoleGeneral))
	require.NoError(t, err)
	assert.Equal(t, []SourceCategory{SourceCore, SourcePremium}, d.SourceCategories)
}

func TestSpecificLocaleOverridesParent(t *testing.T) {
	rs, err := NewRuleset([]Rule{
		{ID: "us-credit-ok", Locale: "US", CheckType: contracts.CheckCredit, Permitted: true},
		{ID: "ca-credit-ban", Locale: "US-CA", CheckType: contracts.CheckCredit, Permitted: false},
	})
	require.NoError(t, err)

	d, err := rs.Evaluate(evalReq("US-CA", contracts.TierStandard, RoleGeneral))
	require.NoError(t, err)
	assert.False(t, d.Permits(contracts.CheckCredit))
	assert.Equal(t, "ca-credit-ban", d.Blocked[contracts.CheckCredit])

	d, err = rs.Evaluate(evalReq("US-NY", contracts.TierStandard, RoleGeneral))
	require.NoError(t, err)
	assert.True(t, d.Permits(contracts.CheckCredit))
}

func TestBlockBeatsPermitAtSameLevel(t *testing.T) {
	rs, err := NewRuleset([]Rule{
		{ID: "permit", Locale: "US", CheckType: contracts.CheckCivil, Permitted: true},
		{ID: "block", Locale: "US", CheckType: contracts.CheckCivil, Permitted: false},
	})
	require.NoError(t, err)

	d, err := rs.Evaluate(evalReq("US", contracts.TierStandard, RoleGeneral))
	require.NoError(t, err)
	assert.False(t, d.Permits(contracts.CheckCivil))
	assert.Equal(t, "block", d.Blocked[contracts.CheckCivil])
}

func TestRoleScopingAndExclusion(t *testing.T) {
	rs, err := NewRuleset([]Rule{
		{
			ID: "finance-credit-only", Locale: "US", CheckType: contracts.CheckCredit,
			RoleCategories: []RoleCategory{RoleGeneral}, Permitted: false,
		},
	})
	require.NoError(t, err)

	d, err := rs.Evaluate(evalReq("US", contracts.TierStandard, RoleGeneral))
	require.NoError(t, err)
	assert.False(t, d.Permits(contracts.CheckCredit))

	// The block targets general roles only; finance is unaffected.
	d, err = rs.Evaluate(evalReq("US", contracts.TierStandard, RoleFinance))
	require.NoError(t, err)
	assert.True(t, d.Permits(contracts.CheckCredit))
}

func TestLookbackMinimumAcrossMatchingRules(t *testing.T) {
	rs, err := NewRuleset([]Rule{
		{ID: "r1", Locale: "US", CheckType: contracts.CheckCriminal, Permitted: true, LookbackYears: 10},
		{ID: "r2", Locale: "US", CheckType: contracts.CheckCriminal, Permitted: true, LookbackYears: 7,
			Disclosures: []string{"fcra_notice"}},
	})
	require.NoError(t, err)

	d, err := rs.Evaluate(evalReq("US", contracts.TierStandard, RoleGeneral))
	require.NoError(t, err)
	cd := d.PermittedChecks[contracts.CheckCriminal]
	assert.Equal(t, 7, cd.LookbackYears)
	assert.Contains(t, cd.Disclosures, "fcra_notice")
}

func TestCELConditionGatesRule(t *testing.T) {
	rs, err := NewRuleset([]Rule{
		{
			ID: "enhanced-only-block", Locale: "US", CheckType: contracts.CheckOSINT,
			Permitted:  false,
			Conditions: []string{`tier == "STANDARD"`},
		},
	})
	require.NoError(t, err)

	d, err := rs.Evaluate(evalReq("US", contracts.TierStandard, RoleGeneral))
	require.NoError(t, err)
	assert.False(t, d.Permits(contracts.CheckOSINT))

	d, err = rs.Evaluate(evalReq("US", contracts.TierEnhanced, RoleGeneral))
	require.NoError(t, err)
	assert.True(t, d.Permits(contracts.CheckOSINT))
}

func TestInvalidCELFailsLoad(t *testing.T) {
	_, err := NewRuleset([]Rule{
		{ID: "bad", Locale: "US", CheckType: contracts.CheckOSINT, Conditions: []string{"tier ==="}},
	})
	assert.Error(t, err)
}

func TestConsentRequiredPermitDoesNotApply(t *testing.T) {
	rs, err := NewRuleset([]Rule{
		{ID: "credit-default-ban", Locale: "US", CheckType: contracts.CheckCredit, Permitted: false},
		{ID: "credit-with-consent", Locale: "US-CA", CheckType: contracts.CheckCredit,
			Permitted: true, NeedsConsent: true},
	})
	require.NoError(t, err)

	req := evalReq("US-CA", contracts.TierStandard, RoleGeneral)
	d, err := rs.Evaluate(req)
	require.NoError(t, err)
	assert.True(t, d.Permits(contracts.CheckCredit))

	// Without credit in the consent scope the CA permit does not apply and
	// the federal ban decides.
	req.ConsentScope = []contracts.CheckType{contracts.CheckIdentity}
	d, err = rs.Evaluate(req)
	require.NoError(t, err)
	assert.False(t, d.Permits(contracts.CheckCredit))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"rules": [
			{"id": "ca-credit-ban", "locale": "US-CA", "check_type": "credit", "permitted": false}
		]
	}`), 0o600))

	rs, err := LoadFile(path)
	require.NoError(t, err)
	d, err := rs.Evaluate(evalReq("US-CA", contracts.TierStandard, RoleGeneral))
	require.NoError(t, err)
	assert.False(t, d.Permits(contracts.CheckCredit))
}
