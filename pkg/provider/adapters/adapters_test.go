package adapters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/provider"
)

func query(check contracts.CheckType, params map[string]string) provider.Query {
	return provider.Query{
		Check:   check,
		Subject: contracts.Subject{FullName: "Jane Smith"},
		Locale:  "US",
		Params:  params,
	}
}

func TestAllCheckTypesCovered(t *testing.T) {
	all := []provider.Adapter{
		NewBureau(nil),
		NewCourts(nil),
		NewVerifier(nil, nil),
		NewSanctions(nil),
		NewMedia(nil, nil),
		NewRegistry(nil, nil, nil, nil),
	}
	for _, check := range contracts.AllCheckTypes {
		found := false
		for _, a := range all {
			if a.Info().Supports(check) {
				found = true
				break
			}
		}
		assert.True(t, found, "no simulated adapter covers %s", check)
	}
}

func TestSanctionsSeparatesPEPFromSanctions(t *testing.T) {
	s := NewSanctions([]WatchlistEntry{
		{Name: "Jane Smith", List: "OFAC_SDN", Country: "IR"},
		{Name: "Jane Smith", List: "EU_PEP", PEP: true, Country: "FR"},
	})

	res, err := s.ExecuteCheck(context.Background(), query(contracts.CheckSanctions, nil))
	require.NoError(t, err)
	assert.Equal(t, "sim-sanctions", res.ProviderID)
	assert.Equal(t, true, res.Normalized["match"])
	matches := res.Normalized["matches"].([]map[string]any)
	require.Len(t, matches, 1)
	assert.Equal(t, "OFAC_SDN", matches[0]["list"])

	res, err = s.ExecuteCheck(context.Background(), query(contracts.CheckPEP, nil))
	require.NoError(t, err)
	assert.Equal(t, "confirmed", res.Normalized["pep_status"])
	matches = res.Normalized["matches"].([]map[string]any)
	require.Len(t, matches, 1)
	assert.Equal(t, "EU_PEP", matches[0]["list"])
}

func TestSanctionsScreensAliasFromParams(t *testing.T) {
	s := NewSanctions([]WatchlistEntry{
		{Name: "J. Smythe", List: "OFAC_SDN", Country: "RU"},
	})

	res, err := s.ExecuteCheck(context.Background(), query(contracts.CheckSanctions, nil))
	require.NoError(t, err)
	assert.Equal(t, false, res.Normalized["match"])

	res, err = s.ExecuteCheck(context.Background(),
		query(contracts.CheckSanctions, map[string]string{"name": "J. Smythe"}))
	require.NoError(t, err)
	assert.Equal(t, true, res.Normalized["match"])
	assert.Equal(t, "J. Smythe", res.Normalized["screened_name"])
}

func TestCourtsFiltersByJurisdiction(t *testing.T) {
	c := NewCourts([]CourtRecord{
		{Name: "Jane Smith", Jurisdiction: "US-CA", Offense: "fraud", Disposition: "convicted", Date: "2019-03-10"},
		{Name: "Jane Smith", Jurisdiction: "US-NY", Offense: "dui", Disposition: "dismissed", Date: "2016-08-01"},
		{Name: "Jane Smith", Jurisdiction: "US-CA", CaseKind: "contract_dispute", Role: "defendant", Disposition: "settled", Date: "2021-01-15"},
	})

	res, err := c.ExecuteCheck(context.Background(),
		query(contracts.CheckCriminal, map[string]string{"jurisdiction": "US-CA"}))
	require.NoError(t, err)
	assert.Equal(t, "US-CA", res.Normalized["scope"])
	records := res.Normalized["records"].([]map[string]any)
	require.Len(t, records, 1)
	assert.Equal(t, "fraud", records[0]["offense"])
	assert.Equal(t, false, res.Normalized["clear"])

	// No jurisdiction means a nationwide sweep; civil and criminal
	// records stay on their own checks.
	res, err = c.ExecuteCheck(context.Background(), query(contracts.CheckCriminal, nil))
	require.NoError(t, err)
	assert.Equal(t, "nationwide", res.Normalized["scope"])
	assert.Len(t, res.Normalized["records"], 2)

	res, err = c.ExecuteCheck(context.Background(), query(contracts.CheckCivil, nil))
	require.NoError(t, err)
	records = res.Normalized["records"].([]map[string]any)
	require.Len(t, records, 1)
	assert.Equal(t, "contract_dispute", records[0]["case"])
}

func TestCourtsClearWhenUnknown(t *testing.T) {
	c := NewCourts(nil)
	res, err := c.ExecuteCheck(context.Background(), query(contracts.CheckCriminal, nil))
	require.NoError(t, err)
	assert.Equal(t, true, res.Normalized["clear"])
	assert.Equal(t, int64(120), res.CostCents)
}

func TestVerifierFiltersByEmployerAndInstitution(t *testing.T) {
	v := NewVerifier(
		[]EmploymentRecord{
			{Name: "Jane Smith", Employer: "Initech", Title: "Engineer", Start: "2015-01", End: "2019-06"},
			{Name: "Jane Smith", Employer: "Globex", Title: "Director", Start: "2019-07"},
		},
		[]EducationRecord{
			{Name: "Jane Smith", Institution: "State University", Degree: "BSc", Field: "CS", Year: "2014"},
		},
	)

	res, err := v.ExecuteCheck(context.Background(),
		query(contracts.CheckEmployment, map[string]string{"employer": "initech"}))
	require.NoError(t, err)
	engagements := res.Normalized["engagements"].([]map[string]any)
	require.Len(t, engagements, 1)
	assert.Equal(t, "Initech", engagements[0]["employer"])
	assert.Equal(t, true, engagements[0]["verified"])

	res, err = v.ExecuteCheck(context.Background(), query(contracts.CheckEmployment, nil))
	require.NoError(t, err)
	assert.Len(t, res.Normalized["engagements"], 2)

	res, err = v.ExecuteCheck(context.Background(),
		query(contracts.CheckEducation, map[string]string{"institution": "State University"}))
	require.NoError(t, err)
	credentials := res.Normalized["credentials"].([]map[string]any)
	require.Len(t, credentials, 1)
	assert.Equal(t, "BSc", credentials[0]["degree"])
}

func TestBureauAddressHistoryDepth(t *testing.T) {
	b := NewBureau([]IdentityProfile{
		{
			Name:      "Jane Smith",
			DOB:       "1990-04-01",
			Addresses: []string{"12 Oak St, Springfield", "3 Elm Ave, Shelbyville"},
			Aliases:   []string{"J. Smythe"},
		},
	})

	res, err := b.ExecuteCheck(context.Background(), query(contracts.CheckIdentity, nil))
	require.NoError(t, err)
	assert.Equal(t, true, res.Normalized["found"])
	assert.Equal(t, "1990-04-01", res.Normalized["dob"])
	assert.Equal(t, "12 Oak St, Springfield", res.Normalized["address"])
	assert.NotContains(t, res.Normalized, "address_history")

	res, err = b.ExecuteCheck(context.Background(),
		query(contracts.CheckIdentity, map[string]string{"depth": "address_history"}))
	require.NoError(t, err)
	assert.Len(t, res.Normalized["address_history"], 2)
}

func TestMediaPremiumCategoryAndAliases(t *testing.T) {
	m := NewMedia(
		[]Article{{Name: "Jane Smith", Headline: "Local exec probed", Topic: "fraud", Outlet: "Daily Ledger", Date: "2023-05-02"}},
		map[string][]string{"Jane Smith": {"@jsmith", "jane.smith.dev"}},
	)
	assert.Equal(t, "PREMIUM", string(m.Info().Category))

	res, err := m.ExecuteCheck(context.Background(), query(contracts.CheckAdverseMedia, nil))
	require.NoError(t, err)
	articles := res.Normalized["articles"].([]map[string]any)
	require.Len(t, articles, 1)
	assert.Equal(t, "fraud", articles[0]["topic"])

	res, err = m.ExecuteCheck(context.Background(), query(contracts.CheckOSINT, nil))
	require.NoError(t, err)
	assert.Equal(t, true, res.Normalized["presence"])
	assert.Len(t, res.Normalized["aliases"], 2)
}

func TestRegistryRoutesByCheck(t *testing.T) {
	r := NewRegistry(
		[]License{{Name: "Jane Smith", Board: "State Bar", Number: "B-4431", Status: "active"}},
		[]RegulatoryAction{{Name: "Jane Smith", Regulator: "SEC", Action: "cease_and_desist", Date: "2020-11-01"}},
		[]CreditSummary{{Name: "Jane Smith", Band: "fair", Collections: 1}},
		[]CorporateRole{
			{Name: "Jane Smith", Company: "Initech", Role: "director", Active: false},
			{Name: "Jane Smith", Company: "Smith Holdings", Role: "owner", Active: true},
		},
	)

	res, err := r.ExecuteCheck(context.Background(), query(contracts.CheckLicenses, nil))
	require.NoError(t, err)
	licenses := res.Normalized["licenses"].([]map[string]any)
	require.Len(t, licenses, 1)
	assert.Equal(t, "active", licenses[0]["status"])

	res, err = r.ExecuteCheck(context.Background(), query(contracts.CheckRegulatory, nil))
	require.NoError(t, err)
	assert.Equal(t, false, res.Normalized["clear"])

	res, err = r.ExecuteCheck(context.Background(), query(contracts.CheckCredit, nil))
	require.NoError(t, err)
	assert.Equal(t, "fair", res.Normalized["band"])
	assert.Equal(t, 1, res.Normalized["collections"])

	res, err = r.ExecuteCheck(context.Background(),
		query(contracts.CheckCorporate, map[string]string{"company": "Smith Holdings"}))
	require.NoError(t, err)
	officerships := res.Normalized["officerships"].([]map[string]any)
	require.Len(t, officerships, 1)
	assert.Equal(t, "owner", officerships[0]["role"])
}

func TestDeterministicResults(t *testing.T) {
	s := NewSanctions([]WatchlistEntry{{Name: "Jane Smith", List: "OFAC_SDN"}})
	a, err := s.ExecuteCheck(context.Background(), query(contracts.CheckSanctions, nil))
	require.NoError(t, err)
	b, err := s.ExecuteCheck(context.Background(), query(contracts.CheckSanctions, nil))
	require.NoError(t, err)
	assert.Equal(t, a.Normalized, b.Normalized)
	assert.JSONEq(t, string(a.Raw), string(b.Raw))
}
