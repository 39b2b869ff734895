// Package risk turns findings into a composite 0-100 score: rule-based
// classification with optional model override, severity rules, recency
// decay, anomaly and pattern adjustments, and network propagation.
package risk

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/ai"
	"github.com/cleargate/vantage/pkg/config"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/findings"
)

// rubric maps keyword groups to (category, subcategory). First match in
// order wins; specific patterns come before broad ones.
var rubric = []struct {
	keywords    []string
	category    string
	subCategory string
}{
	{[]string{"sanction", "ofac", "sdn list", "embargo"}, "sanctions", "sanctions_list"},
	{[]string{"politically exposed", "pep"}, "sanctions", "pep"},
	{[]string{"felony", "conviction", "indictment", "arrest"}, "criminal", "conviction"},
	{[]string{"fraud", "embezzle", "forgery", "money launder"}, "criminal", "financial_crime"},
	{[]string{"misdemeanor"}, "criminal", "misdemeanor"},
	{[]string{"sec enforcement", "finra", "debarment", "license revoked", "license suspended"}, "regulatory", "enforcement"},
	{[]string{"bankruptcy", "insolvency", "lien", "default judgment"}, "financial", "insolvency"},
	{[]string{"lawsuit", "civil judgment", "plaintiff", "defendant"}, "civil", "litigation"},
	{[]string{"fabricated", "falsified", "inconsisten", "misrepresent", "inflated"}, "deception", "misrepresentation"},
	{[]string{"terminated for cause", "dismissed for"}, "employment", "termination"},
	{[]string{"degree not verified", "unaccredited"}, "education", "credential"},
	{[]string{"adverse media", "negative news"}, "media", "adverse_media"},
	{[]string{"shell company", "nominee director"}, "network", "shell_structure"},
}

// Classifier assigns category and severity to findings.
type Classifier struct {
	model ai.Client
	cfg   config.RiskConfig
	log   *zap.Logger
	now   func() time.Time
}

// NewClassifier creates a classifier; model may be nil.
func NewClassifier(model ai.Client, cfg config.RiskConfig, log *zap.Logger) *Classifier {
	return &Classifier{model: model, cfg: cfg, log: log.Named("classifier"), now: time.Now}
}

// WithClock overrides the clock. Tests only.
func (c *Classifier) WithClock(now func() time.Time) *Classifier {
	c.now = now
	return c
}

// Classify fills Category, SubCategory, and Severity on the finding. The
// rubric decides; the model may override the category only when its own
// confidence clears the configured floor.
func (c *Classifier) Classify(ctx context.Context, f *findings.Finding, role string) {
	category, sub := classifyText(f.Summary + " " + f.Detail)
	f.Category = category
	f.SubCategory = sub

	if c.model != nil {
		resp, err := c.model.Classify(ctx, ai.ClassifyRequest{Summary: f.Summary, Detail: f.Detail})
		if err == nil && resp.Confidence >= c.cfg.AIOverrideMin && resp.Category != "" {
			f.Category = resp.Category
			if resp.SubCategory != "" {
				f.SubCategory = resp.SubCategory
			}
		} else if err != nil {
			c.log.Debug("model classification skipped", zap.Error(err))
		}
	}

	f.Severity = c.severity(f, role)
}

func classifyText(text string) (category, sub string) {
	lower := strings.ToLower(text)
	for _, r := range rubric {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.category, r.subCategory
			}
		}
	}
	return "other", ""
}

// baseSeverity maps subcategory to a starting severity.
var baseSeverity = map[string]contracts.Severity{
	"sanctions_list":    contracts.SeverityCritical,
	"pep":               contracts.SeverityHigh,
	"conviction":        contracts.SeverityHigh,
	"financial_crime":   contracts.SeverityHigh,
	"misdemeanor":       contracts.SeverityMedium,
	"enforcement":       contracts.SeverityHigh,
	"insolvency":        contracts.SeverityMedium,
	"litigation":        contracts.SeverityMedium,
	"misrepresentation": contracts.SeverityHigh,
	"termination":       contracts.SeverityMedium,
	"credential":        contracts.SeverityMedium,
	"adverse_media":     contracts.SeverityMedium,
	"shell_structure":   contracts.SeverityHigh,
}

// roleBoosts raises severity one step for role-sensitive categories.
var roleBoosts = map[string][]string{
	"finance":    {"financial", "criminal", "regulatory"},
	"executive":  {"deception", "regulatory", "sanctions"},
	"fiduciary":  {"financial", "criminal"},
	"childcare":  {"criminal"},
	"government": {"sanctions", "criminal", "deception"},
}

func (c *Classifier) severity(f *findings.Finding, role string) contracts.Severity {
	sev, ok := baseSeverity[f.SubCategory]
	if !ok {
		sev = contracts.SeverityLow
	}
	for _, boosted := range roleBoosts[strings.ToLower(role)] {
		if boosted == f.Category {
			sev = raise(sev)
			break
		}
	}
	// Events inside the last year weigh one step heavier.
	if f.FindingDate != "" {
		if d, err := time.Parse("2006-01-02", f.FindingDate); err == nil {
			if c.now().Sub(d) < 365*24*time.Hour {
				sev = raise(sev)
			}
		}
	}
	return sev
}

func raise(s contracts.Severity) contracts.Severity {
	switch s {
	case contracts.SeverityLow:
		return contracts.SeverityMedium
	case contracts.SeverityMedium:
		return contracts.SeverityHigh
	default:
		return contracts.SeverityCritical
	}
}
