package risk

import (
	"context"

	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/ai"
	"github.com/cleargate/vantage/pkg/config"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/findings"
)

// Assessment is the analyzer's composite output.
type Assessment struct {
	Score            float64             `json:"score"`
	Level            contracts.RiskLevel `json:"level"`
	Base             float64             `json:"base"`
	PatternAdj       float64             `json:"pattern_adj"`
	NetworkAdj       float64             `json:"network_adj"`
	DeceptionAdj     float64             `json:"deception_adj"`
	Anomalies        []Anomaly           `json:"anomalies,omitempty"`
	Escalated        bool                `json:"escalated"`
	EscalationReason string              `json:"escalation_reason,omitempty"`
	// Confidence drops when checks could not be completed.
	Confidence float64 `json:"confidence"`
	// Findings includes network findings generated during analysis.
	Findings []findings.Finding `json:"findings"`
}

// Analyzer glues classification, scoring, anomalies, and network
// propagation into one assessment.
type Analyzer struct {
	classifier *Classifier
	scorer     *Scorer
	cfg        config.RiskConfig
	log        *zap.Logger
}

// NewAnalyzer creates an analyzer; model may be nil.
func NewAnalyzer(model ai.Client, cfg config.RiskConfig, log *zap.Logger) *Analyzer {
	return &Analyzer{
		classifier: NewClassifier(model, cfg, log),
		scorer:     NewScorer(cfg),
		cfg:        cfg,
		log:        log.Named("risk"),
	}
}

// Classifier exposes the inner classifier for callers that classify
// findings incrementally during an investigation.
func (a *Analyzer) Classifier() *Classifier { return a.classifier }

// Input to one analysis pass.
type Input struct {
	SubjectEntityID  string
	Role             string
	Findings         []findings.Finding
	ConnectedRisks   []ConnectedRisk
	DeceptionScore   float64 // from reconciliation, already pattern-multiplied
	IncompleteChecks []contracts.CheckType
}

// Analyze produces the composite assessment:
// final = clamp(base + pattern + network + deception, 0, 100), with
// auto-escalation independent of the numeric score.
func (a *Analyzer) Analyze(ctx context.Context, in Input) Assessment {
	fs := make([]findings.Finding, len(in.Findings))
	copy(fs, in.Findings)
	for i := range fs {
		if fs[i].Category == "" || fs[i].Severity == "" {
			a.classifier.Classify(ctx, &fs[i], in.Role)
		}
	}

	networkAdj, networkFindings := PropagateNetwork(in.SubjectEntityID, in.ConnectedRisks, a.cfg)
	fs = append(fs, networkFindings...)

	anomalies := DetectAnomalies(fs)
	patternAdj := TotalAdjustment(anomalies)

	deceptionAdj := in.DeceptionScore
	if deceptionAdj > 25 {
		deceptionAdj = 25
	}

	base := a.scorer.Base(fs)
	score := clamp(base + patternAdj + networkAdj + deceptionAdj)
	level := contracts.LevelForScore(score)

	out := Assessment{
		Score:        score,
		Level:        level,
		Base:         base,
		PatternAdj:   patternAdj,
		NetworkAdj:   networkAdj,
		DeceptionAdj: deceptionAdj,
		Anomalies:    anomalies,
		Confidence:   confidence(len(in.IncompleteChecks)),
		Findings:     fs,
	}

	// Escalation rules apply regardless of the numeric score.
	for _, f := range fs {
		if f.Severity == contracts.SeverityCritical && f.Category == "sanctions" {
			out.escalate("critical sanctions finding")
		}
		if f.Severity == contracts.SeverityCritical && f.Category == "deception" {
			out.escalate("critical deception signal")
		}
	}
	if out.Escalated && out.Level != contracts.RiskCritical {
		out.Level = contracts.RiskCritical
	}

	a.log.Info("risk assessed",
		zap.Float64("score", out.Score),
		zap.String("level", string(out.Level)),
		zap.Float64("base", base),
		zap.Float64("pattern_adj", patternAdj),
		zap.Float64("network_adj", networkAdj),
		zap.Float64("deception_adj", deceptionAdj),
		zap.Bool("escalated", out.Escalated))
	return out
}

func (as *Assessment) escalate(reason string) {
	if as.Escalated {
		return
	}
	as.Escalated = true
	as.EscalationReason = reason
}

// confidence degrades with each check that could not be completed.
func confidence(incomplete int) float64 {
	c := 1.0 - 0.1*float64(incomplete)
	if c < 0.3 {
		c = 0.3
	}
	return c
}
