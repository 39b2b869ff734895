package risk

import (
	"math"
	"time"

	"github.com/cleargate/vantage/pkg/config"
	"github.com/cleargate/vantage/pkg/findings"
)

// Scorer computes the base category score from a finding set.
type Scorer struct {
	cfg config.RiskConfig
	now func() time.Time
}

// NewScorer creates a scorer.
func NewScorer(cfg config.RiskConfig) *Scorer {
	return &Scorer{cfg: cfg, now: time.Now}
}

// WithClock overrides the clock. Tests only.
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// CategoryScores returns the per-category contributions before weighting.
func (s *Scorer) CategoryScores(fs []findings.Finding) map[string]float64 {
	byCategory := map[string]float64{}
	for _, f := range fs {
		contribution := f.Severity.Weight() * s.recencyDecay(f) * s.corroboration(f)
		byCategory[f.Category] += contribution
	}
	return byCategory
}

// Base computes the weighted 0-100 base score. Each category's summed
// contribution saturates: a single category cannot push the base past
// its weighted ceiling, so breadth across categories matters.
func (s *Scorer) Base(fs []findings.Finding) float64 {
	var total float64
	for category, raw := range s.CategoryScores(fs) {
		weight, ok := s.cfg.CategoryWeights[category]
		if !ok {
			weight = 1.0
		}
		// Saturating curve: 1 - e^-x maps unbounded sums into [0,1).
		total += weight * (1 - math.Exp(-raw)) * 25
	}
	return clamp(total)
}

// recencyDecay is linear from 1.0 at one year old down to the floor at
// the configured horizon. Undated findings are treated as current.
func (s *Scorer) recencyDecay(f findings.Finding) float64 {
	if f.FindingDate == "" {
		return 1.0
	}
	d, err := time.Parse("2006-01-02", f.FindingDate)
	if err != nil {
		return 1.0
	}
	years := s.now().Sub(d).Hours() / (24 * 365.25)
	if years <= 1 {
		return 1.0
	}
	if years >= s.cfg.RecencyYears {
		return s.cfg.RecencyFloor
	}
	span := s.cfg.RecencyYears - 1
	return 1.0 - (years-1)/span*(1.0-s.cfg.RecencyFloor)
}

func (s *Scorer) corroboration(f findings.Finding) float64 {
	if len(f.Sources) >= 2 {
		return s.cfg.CorroborationBonus
	}
	return 1.0
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
