package config

import (
	"time"

	"github.com/cleargate/vantage/pkg/contracts"
)

// Default returns the built-in configuration. Every numeric here is a
// starting point for ops tuning, not a compiled constant: a YAML file
// overrides any of them.
func Default() *Config {
	day := 24 * time.Hour

	return &Config{
		Freshness: map[contracts.CheckType]FreshnessWindow{
			contracts.CheckSanctions:    {Fresh: 0, Stale: 0},
			contracts.CheckPEP:          {Fresh: 0, Stale: 0},
			contracts.CheckAdverseMedia: {Fresh: day, Stale: 3 * day},
			contracts.CheckCriminal:     {Fresh: 7 * day, Stale: 21 * day},
			contracts.CheckCivil:        {Fresh: 14 * day, Stale: 42 * day},
			contracts.CheckCredit:       {Fresh: 30 * day, Stale: 90 * day},
			contracts.CheckCorporate:    {Fresh: 30 * day, Stale: 90 * day},
			contracts.CheckOSINT:        {Fresh: 30 * day, Stale: 120 * day},
			contracts.CheckEmployment:   {Fresh: 90 * day, Stale: 360 * day},
			contracts.CheckBehavioral:   {Fresh: 90 * day, Stale: 360 * day},
			contracts.CheckEducation:    {Fresh: 365 * day, NoStaleBound: true},
			contracts.CheckIdentity:     {Fresh: 90 * day, Stale: 270 * day},
			contracts.CheckLicenses:     {Fresh: 90 * day, Stale: 270 * day},
			contracts.CheckRegulatory:   {Fresh: 30 * day, Stale: 90 * day},
		},
		TierPolicies: map[contracts.CheckType]TierPolicy{
			contracts.CheckSanctions:    {Standard: StaleBlockAndRefresh, Enhanced: StaleBlockAndRefresh},
			contracts.CheckPEP:          {Standard: StaleBlockAndRefresh, Enhanced: StaleBlockAndRefresh},
			contracts.CheckCriminal:     {Standard: StaleUseAndFlag, Enhanced: StaleBlockAndRefresh},
			contracts.CheckAdverseMedia: {Standard: StaleUseAndFlag, Enhanced: StaleBlockAndRefresh},
			contracts.CheckCivil:        {Standard: StaleUseAndFlag, Enhanced: StaleUseAndFlag},
			contracts.CheckCredit:       {Standard: StaleUseAndFlag, Enhanced: StaleUseAndFlag},
			contracts.CheckEmployment:   {Standard: StaleUseAndFlag, Enhanced: StaleUseAndFlag},
			contracts.CheckEducation:    {Standard: StaleUseAndFlag, Enhanced: StaleUseAndFlag},
			contracts.CheckCorporate:    {Standard: StaleUseAndFlag, Enhanced: StaleUseAndFlag},
			contracts.CheckIdentity:     {Standard: StaleUseAndFlag, Enhanced: StaleUseAndFlag},
			contracts.CheckLicenses:     {Standard: StaleUseAndFlag, Enhanced: StaleUseAndFlag},
			contracts.CheckRegulatory:   {Standard: StaleUseAndFlag, Enhanced: StaleUseAndFlag},
			contracts.CheckBehavioral:   {Standard: StaleBlockAndRefresh, Enhanced: StaleUseAndFlag},
			contracts.CheckOSINT:        {Standard: StaleBlockAndRefresh, Enhanced: StaleUseAndFlag},
		},
		Breaker: BreakerConfig{
			Window:            20,
			FailureRate:       0.5,
			MinVolume:         5,
			CoolDown:          30 * time.Second,
			HalfOpenSuccesses: 3,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			Factor:      2,
			JitterMax:   50 * time.Millisecond,
		},
		SAR: SARConfig{
			Default: SARTypeConfig{
				Threshold:      0.85,
				MaxIterations:  3,
				MinGainRate:    0.10,
				MinImprovement: 0.02,
			},
			Foundation: SARTypeConfig{
				Threshold:      0.90,
				MaxIterations:  4,
				MinGainRate:    0.10,
				MinImprovement: 0.02,
			},
			ConfidenceWeights: Weights{
				Completeness:    0.30,
				Corroboration:   0.25,
				QuerySuccess:    0.20,
				FactConfidence:  0.15,
				SourceDiversity: 0.10,
			},
			CanProceed:          0.60,
			MaxQueriesPerGap:    2,
			MaxRefineQueries:    6,
			PhaseConcurrency:    4,
			TypeTimeout:         10 * time.Minute,
			StandardInvestCap:   60 * time.Minute,
			EnhancedInvestCap:   120 * time.Minute,
			D2EntityLimitPerHop: 25,
			D3EntityLimitPerHop: 10,
		},
		Fuzzy: FuzzyMatchConfig{
			LastName:  0.40,
			FirstName: 0.25,
			DOB:       0.20,
			Address:   0.15,
			AutoMatch: 0.95,
			Review:    0.85,
			Duplicate: 0.70,
		},
		Risk: RiskConfig{
			CategoryWeights: map[string]float64{
				"criminal":   1.5,
				"sanctions":  1.5,
				"regulatory": 1.3,
				"financial":  1.1,
				"civil":      1.0,
				"deception":  1.3,
				"employment": 0.9,
				"education":  0.8,
				"media":      0.9,
				"network":    1.0,
			},
			CorroborationBonus: 1.2,
			RecencyFloor:       0.5,
			RecencyYears:       7,
			HopDecayD2:         0.5,
			HopDecayD3:         0.25,
			AIOverrideMin:      0.8,
		},
		Deception: DeceptionConfig{
			SameFieldSmall:  1.3,
			DiffFieldSmall:  1.5,
			Many:            2.0,
			CrossType:       1.5,
			DirectionalBias: 1.8,
		},
		ProviderTimeout:  30 * time.Second,
		BatchConcurrency: 8,

		// External backends are opt-in: with none configured the binary
		// runs self-contained on in-memory stores and rule fallbacks.
		CheckpointDB: "vantage-checkpoints.db",
		ListenAddr:   ":8080",
	}
}
