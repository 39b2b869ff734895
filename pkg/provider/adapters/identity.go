package adapters

import (
	"context"

	"github.com/cleargate/vantage/pkg/compliance"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/provider"
)

// IdentityProfile is one simulated bureau identity file.
type IdentityProfile struct {
	Name      string
	DOB       string
	Addresses []string // current first
	Aliases   []string
}

// Bureau simulates an identity-verification bureau.
type Bureau struct {
	info     provider.Info
	profiles map[string]IdentityProfile
}

// NewBureau seeds the simulated identity files.
func NewBureau(profiles []IdentityProfile) *Bureau {
	b := &Bureau{
		info: provider.Info{
			ID:        "sim-bureau",
			Name:      "Simulated Identity Bureau",
			Category:  compliance.SourceCore,
			Checks:    []contracts.CheckType{contracts.CheckIdentity},
			CostCents: 30,
			RateRPS:   30,
			RateBurst: 60,
		},
		profiles: make(map[string]IdentityProfile),
	}
	for _, p := range profiles {
		b.profiles[key(p.Name)] = p
	}
	return b
}

func (b *Bureau) Info() provider.Info { return b.info }

func (b *Bureau) ExecuteCheck(_ context.Context, q provider.Query) (contracts.ProviderResult, error) {
	p, ok := b.profiles[key(queryName(q))]
	if !ok {
		return result(b.info, q.Check, map[string]any{"found": false}), nil
	}
	normalized := map[string]any{
		"found":   true,
		"name":    p.Name,
		"dob":     p.DOB,
		"aliases": p.Aliases,
	}
	if len(p.Addresses) > 0 {
		normalized["address"] = p.Addresses[0]
	}
	if q.Params["depth"] == "address_history" {
		normalized["address_history"] = p.Addresses
	}
	return result(b.info, q.Check, normalized), nil
}

func (b *Bureau) HealthCheck(context.Context) provider.Health { return healthy(b.info.ID) }
