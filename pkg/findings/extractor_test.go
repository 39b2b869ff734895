package findings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/audit"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/faults"
)

type stubModel struct {
	facts []Fact
	err   error
	calls int
}

func (s *stubModel) ExtractFacts(_ context.Context, _ contracts.CheckType, _ string, _ []map[string]any) ([]Fact, error) {
	s.calls++
	return s.facts, s.err
}

func TestExtractorPrefersModel(t *testing.T) {
	model := &stubModel{facts: []Fact{{Type: "employment.title", Value: "CFO", Source: "prov-a", Confidence: 0.95}}}
	e := NewExtractor(model, nil, zap.NewNop())

	facts := e.Extract(context.Background(), "t1", "req-1", contracts.CheckEmployment, "Jane Doe",
		[]map[string]any{{"provider_id": "prov-a", "title": "CFO"}})
	require.Len(t, facts, 1)
	assert.Equal(t, "CFO", facts[0].Value)
	assert.Equal(t, 1, model.calls)
}

func TestExtractorFallsBackAndAudits(t *testing.T) {
	store := audit.NewMemoryStore()
	trail := audit.NewTrail([]byte("test-key"), store)
	model := &stubModel{err: faults.New(faults.KindAIUnavailable, "ai.extract", "down")}
	e := NewExtractor(model, trail, zap.NewNop())

	facts := e.Extract(context.Background(), "t1", "req-1", contracts.CheckEmployment, "Jane Doe",
		[]map[string]any{{
			"provider_id": "prov-emp",
			"employer":    "Initech",
			"title":       "Engineer",
			"start_date":  "2019-03",
		}})
	require.NotEmpty(t, facts, "rule-based path must always produce facts")

	byType := map[string]Fact{}
	for _, f := range facts {
		byType[f.Type] = f
	}
	assert.Equal(t, "Initech", byType["employment.employer"].Value)
	assert.Equal(t, "prov-emp", byType["employment.title"].Source)

	events, err := store.ByRequest(context.Background(), "t1", "req-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventAIFallback, events[0].Type)
}

func TestRuleExtractUnknownFieldsKept(t *testing.T) {
	facts := RuleExtract(contracts.CheckCriminal, []map[string]any{{
		"provider_id": "prov-crim",
		"offense":     "fraud",
		"county":      "Travis",
	}})
	types := map[string]bool{}
	for _, f := range facts {
		types[f.Type] = true
	}
	assert.True(t, types["criminal.offense"])
	assert.True(t, types["criminal.county"], "unmapped fields become generic facts")
}
