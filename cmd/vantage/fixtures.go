package main

import (
	"github.com/cleargate/vantage/pkg/provider"
	"github.com/cleargate/vantage/pkg/provider/adapters"
)

// demoAdapters seeds the simulated provider fleet. The fixtures give a
// dev deployment one clean subject, one sanctioned subject and one with
// mixed records, enough to exercise every check type end to end.
func demoAdapters() []provider.Adapter {
	return []provider.Adapter{
		adapters.NewBureau([]adapters.IdentityProfile{
			{
				Name:      "Jane Smith",
				DOB:       "1990-04-01",
				Addresses: []string{"500 Harbor Blvd, Oakland, CA", "12 Pine St, Reno, NV"},
			},
			{
				Name:      "Victor Alvarez",
				DOB:       "1978-11-23",
				Addresses: []string{"88 Canal Rd, Miami, FL"},
				Aliases:   []string{"V. Alvarez"},
			},
			{
				Name:      "Omar Haddad",
				DOB:       "1982-06-15",
				Addresses: []string{"3 Riverside Way, Jersey City, NJ"},
			},
		}),
		adapters.NewSanctions([]adapters.WatchlistEntry{
			{Name: "Victor Alvarez", List: "OFAC_SDN", Country: "VE"},
			{Name: "Omar Haddad", List: "EU_CONSOLIDATED", PEP: true, Country: "FR"},
		}),
		adapters.NewCourts([]adapters.CourtRecord{
			{Name: "Victor Alvarez", Jurisdiction: "US-FL", Offense: "wire fraud", Disposition: "convicted", Date: "2019-03-12"},
			{Name: "Omar Haddad", Jurisdiction: "US-NJ", CaseKind: "contract_dispute", Role: "defendant", Disposition: "settled", Date: "2021-08-02"},
		}),
		adapters.NewVerifier(
			[]adapters.EmploymentRecord{
				{Name: "Jane Smith", Employer: "Harborview Analytics", Title: "Controller", Start: "2018-02"},
				{Name: "Omar Haddad", Employer: "Meridian Logistics", Title: "Operations Director", Start: "2015-06", End: "2023-01"},
			},
			[]adapters.EducationRecord{
				{Name: "Jane Smith", Institution: "UC Davis", Degree: "BSc", Field: "Accounting", Year: "2012"},
				{Name: "Omar Haddad", Institution: "Rutgers", Degree: "MBA", Field: "Finance", Year: "2008"},
			},
		),
		adapters.NewMedia(
			[]adapters.Article{
				{Name: "Victor Alvarez", Headline: "Regulators probe shell network", Topic: "fraud", Outlet: "Coastal Ledger", Date: "2022-05-19"},
			},
			map[string][]string{"Victor Alvarez": {"V. Alvarez"}},
		),
		adapters.NewRegistry(
			[]adapters.License{
				{Name: "Jane Smith", Board: "CA Board of Accountancy", Number: "CPA-55012", Status: "active"},
			},
			[]adapters.RegulatoryAction{
				{Name: "Omar Haddad", Regulator: "FINRA", Action: "censure", Date: "2020-10-30"},
			},
			[]adapters.CreditSummary{
				{Name: "Jane Smith", Band: "good"},
				{Name: "Victor Alvarez", Band: "poor", Bankruptcy: true, Collections: 2},
			},
			[]adapters.CorporateRole{
				{Name: "Victor Alvarez", Company: "Golfo Holdings LLC", Role: "manager", Active: true},
			},
		),
	}
}
