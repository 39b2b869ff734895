package sar

import (
	"context"
	"sync"

	"github.com/cleargate/vantage/pkg/config"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/findings"
	"github.com/cleargate/vantage/pkg/gateway"
	"github.com/cleargate/vantage/pkg/provider"
	"github.com/cleargate/vantage/pkg/reqctx"
)

func testWeights() config.Weights {
	return config.Weights{
		Completeness:    0.30,
		Corroboration:   0.25,
		QuerySuccess:    0.20,
		FactConfidence:  0.15,
		SourceDiversity: 0.10,
	}
}

func testSARCfg() config.SARConfig {
	return config.SARConfig{
		Default:           config.SARTypeConfig{Threshold: 0.85, MaxIterations: 3, MinGainRate: 0.10, MinImprovement: 0.02},
		Foundation:        config.SARTypeConfig{Threshold: 0.90, MaxIterations: 4, MinGainRate: 0.10, MinImprovement: 0.02},
		ConfidenceWeights: testWeights(),
		CanProceed:        0.60,
		MaxQueriesPerGap:  2,
		MaxRefineQueries:  6,
		PhaseConcurrency:  3,
	}
}

func testRC() *reqctx.Context {
	return &reqctx.Context{
		RequestID: "req-1",
		TenantID:  "acme",
		Actor:     "system",
		Locale:    "en-US",
		Tier:      contracts.TierStandard,
	}
}

func testSubject() contracts.Subject {
	return contracts.Subject{
		FullName:    "Jane Smith",
		FirstName:   "Jane",
		LastName:    "Smith",
		DateOfBirth: "1990-04-01",
	}
}

// stubExtractor satisfies FactExtractor with a canned function.
type stubExtractor struct {
	fn func(check contracts.CheckType, payloads []map[string]any) []findings.Fact
}

func (s *stubExtractor) Extract(_ context.Context, _, _ string, check contracts.CheckType, _ string, payloads []map[string]any) []findings.Fact {
	if s.fn == nil {
		return nil
	}
	return s.fn(check, payloads)
}

// stubRouter records every routed query and answers from a canned
// function.
type stubRouter struct {
	mu    sync.Mutex
	calls []provider.Query
	fn    func(q provider.Query) (*gateway.Result, error)
}

func (s *stubRouter) Route(_ context.Context, _ *reqctx.Context, _ string, q provider.Query) (*gateway.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, q)
	s.mu.Unlock()
	if s.fn == nil {
		return &gateway.Result{Check: q.Check, ProviderID: "stub", Payload: &contracts.ProviderResult{
			ProviderID: "stub",
			CheckType:  q.Check,
			Normalized: map[string]any{"status": "clear"},
		}}, nil
	}
	return s.fn(q)
}

func (s *stubRouter) queries() []provider.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]provider.Query(nil), s.calls...)
}
