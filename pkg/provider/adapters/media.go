package adapters

import (
	"context"

	"github.com/cleargate/vantage/pkg/compliance"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/provider"
)

// Article is one simulated adverse-media item.
type Article struct {
	Name     string
	Headline string
	Topic    string // e.g. "fraud", "litigation"
	Outlet   string
	Date     string
}

// Media simulates an adverse-media and open-source intelligence
// aggregator. It is registered as PREMIUM: tier policy decides whether
// it may be consulted.
type Media struct {
	info     provider.Info
	articles map[string][]Article
	aliases  map[string][]string // name -> online aliases
}

// NewMedia seeds the simulated press index.
func NewMedia(articles []Article, aliases map[string][]string) *Media {
	m := &Media{
		info: provider.Info{
			ID:        "sim-media",
			Name:      "Simulated Media Intelligence",
			Category:  compliance.SourcePremium,
			Checks:    []contracts.CheckType{contracts.CheckAdverseMedia, contracts.CheckOSINT, contracts.CheckBehavioral},
			CostCents: 80,
			RateRPS:   15,
			RateBurst: 30,
		},
		articles: make(map[string][]Article),
		aliases:  make(map[string][]string),
	}
	for _, a := range articles {
		m.articles[key(a.Name)] = append(m.articles[key(a.Name)], a)
	}
	for name, as := range aliases {
		m.aliases[key(name)] = as
	}
	return m
}

func (m *Media) Info() provider.Info { return m.info }

func (m *Media) ExecuteCheck(_ context.Context, q provider.Query) (contracts.ProviderResult, error) {
	name := key(queryName(q))
	switch q.Check {
	case contracts.CheckAdverseMedia:
		var out []map[string]any
		for _, a := range m.articles[name] {
			out = append(out, map[string]any{
				"headline": a.Headline,
				"topic":    a.Topic,
				"outlet":   a.Outlet,
				"date":     a.Date,
			})
		}
		return result(m.info, q.Check, map[string]any{"articles": out}), nil

	case contracts.CheckOSINT:
		return result(m.info, q.Check, map[string]any{
			"presence": len(m.aliases[name]) > 0,
			"aliases":  m.aliases[name],
		}), nil

	default: // behavioral
		return result(m.info, q.Check, map[string]any{
			"signals": []string{},
		}), nil
	}
}

func (m *Media) HealthCheck(context.Context) provider.Health { return healthy(m.info.ID) }
