package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec
	providerCalls *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vantage",
			Subsystem: "gateway",
			Name:      "cache_hits_total",
			Help:      "Cache hits by check type.",
		}, []string{"check"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vantage",
			Subsystem: "gateway",
			Name:      "cache_misses_total",
			Help:      "Cache misses by check type.",
		}, []string{"check"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vantage",
			Subsystem: "gateway",
			Name:      "provider_calls_total",
			Help:      "Provider invocations by provider and outcome.",
		}, []string{"provider", "outcome"}),
	}
}

// Register exposes the gateway's collectors on a registry. Called once at
// process wiring; tests construct gateways without registering.
func (g *Gateway) Register(reg prometheus.Registerer) {
	reg.MustRegister(g.metrics.cacheHits, g.metrics.cacheMisses, g.metrics.providerCalls)
}
