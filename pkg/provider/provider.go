// Package provider defines the adapter contract for external data sources
// and the registry that selects candidates for a check. Normalization from
// source-specific payloads into the canonical result shape is the
// adapter's job; routing, retries, and caching live in pkg/gateway.
package provider

import (
	"context"
	"time"

	"github.com/cleargate/vantage/pkg/compliance"
	"github.com/cleargate/vantage/pkg/contracts"
)

// HealthStatus is the adapter's self-reported condition.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthDown     HealthStatus = "DOWN"
)

// Health is the result of an adapter health probe.
type Health struct {
	Status    HealthStatus
	CheckedAt time.Time
	Detail    string
}

// Info is the static metadata an adapter declares at registration.
type Info struct {
	ID        string
	Name      string
	Category  compliance.SourceCategory // CORE or PREMIUM
	Checks    []contracts.CheckType
	Locales   []string // empty = all locales
	CostCents int64    // nominal per-call cost
	RateRPS   float64  // sustained requests per second
	RateBurst int
}

// Supports reports whether the adapter covers a check type.
func (i Info) Supports(check contracts.CheckType) bool {
	for _, c := range i.Checks {
		if c == check {
			return true
		}
	}
	return false
}

// ServesLocale reports whether the adapter covers a locale, walking the
// parent chain so a "US" adapter serves "US-CA".
func (i Info) ServesLocale(locale string) bool {
	if len(i.Locales) == 0 {
		return true
	}
	for _, l := range i.Locales {
		if l == locale || (len(locale) > len(l) && locale[:len(l)] == l && locale[len(l)] == '-') {
			return true
		}
	}
	return false
}

// Query is one unit of provider work.
type Query struct {
	Check   contracts.CheckType
	Subject contracts.Subject
	Locale  string
	Degree  contracts.Degree
	// Params carries SAR-enriched search parameters (known aliases,
	// employers, jurisdictions) the adapter may use to narrow results.
	Params map[string]string
}

// Adapter is the narrow capability interface every external data source
// implements.
type Adapter interface {
	Info() Info
	ExecuteCheck(ctx context.Context, q Query) (contracts.ProviderResult, error)
	HealthCheck(ctx context.Context) Health
}
