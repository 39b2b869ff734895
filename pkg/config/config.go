// Package config holds the frozen runtime configuration: tier-policy
// matrix, freshness windows, SAR thresholds, resiliency constants, and
// scoring weights. Config is loaded once at startup, validated loudly, and
// never mutated afterwards; its content hash is written into every
// investigation's audit trail.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gowebpki/jcs"
	"gopkg.in/yaml.v3"

	"github.com/cleargate/vantage/pkg/contracts"
)

// StaleAction is what the cache layer does with a STALE row.
type StaleAction string

const (
	StaleUseAndFlag      StaleAction = "USE_AND_FLAG"
	StaleBlockAndRefresh StaleAction = "BLOCK_AND_REFRESH"
)

// FreshnessWindow bounds the cache lifecycle for one check type.
// A zero Fresh window means results are never served from cache.
// A zero Stale window with NoStaleBound set means the row never expires.
type FreshnessWindow struct {
	Fresh        time.Duration `yaml:"fresh"`
	Stale        time.Duration `yaml:"stale"`
	NoStaleBound bool          `yaml:"no_stale_bound"`
}

// TierPolicy maps a check type to the stale action per tier.
type TierPolicy struct {
	Standard StaleAction `yaml:"standard"`
	Enhanced StaleAction `yaml:"enhanced"`
}

// For returns the action for a tier.
func (p TierPolicy) For(tier contracts.Tier) StaleAction {
	if tier == contracts.TierEnhanced {
		return p.Enhanced
	}
	return p.Standard
}

// BreakerConfig holds circuit breaker constants.
type BreakerConfig struct {
	Window            int           `yaml:"window"`              // rolling call window
	FailureRate       float64       `yaml:"failure_rate"`        // open above this
	MinVolume         int           `yaml:"min_volume"`          // below this, never open
	CoolDown          time.Duration `yaml:"cool_down"`           // OPEN -> HALF_OPEN
	HalfOpenSuccesses int           `yaml:"half_open_successes"` // HALF_OPEN -> CLOSED
}

// RetryConfig holds retry/backoff constants for provider calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Factor      float64       `yaml:"factor"`
	JitterMax   time.Duration `yaml:"jitter_max"`
}

// SARTypeConfig holds per-information-type iteration controls.
type SARTypeConfig struct {
	Threshold      float64 `yaml:"threshold"`       // tau: COMPLETE at or above
	MaxIterations  int     `yaml:"max_iterations"`  // CAPPED at this iteration
	MinGainRate    float64 `yaml:"min_gain_rate"`   // below this, candidate DIMINISHED
	MinImprovement float64 `yaml:"min_improvement"` // epsilon for DIMINISHED
}

// SARConfig configures the Search-Assess-Refine engine.
type SARConfig struct {
	Default             SARTypeConfig `yaml:"default"`
	Foundation          SARTypeConfig `yaml:"foundation"`
	ConfidenceWeights   Weights       `yaml:"confidence_weights"`
	CanProceed          float64       `yaml:"can_proceed"` // foundation gate for Records
	MaxQueriesPerGap    int           `yaml:"max_queries_per_gap"`
	MaxRefineQueries    int           `yaml:"max_refine_queries"`
	PhaseConcurrency    int           `yaml:"phase_concurrency"`
	TypeTimeout         time.Duration `yaml:"type_timeout"`
	StandardInvestCap   time.Duration `yaml:"standard_investigation_cap"`
	EnhancedInvestCap   time.Duration `yaml:"enhanced_investigation_cap"`
	D2EntityLimitPerHop int           `yaml:"d2_entity_limit_per_hop"`
	D3EntityLimitPerHop int           `yaml:"d3_entity_limit_per_hop"`
}

// Weights are the components of the type-confidence formula.
type Weights struct {
	Completeness    float64 `yaml:"completeness"`
	Corroboration   float64 `yaml:"corroboration"`
	QuerySuccess    float64 `yaml:"query_success"`
	FactConfidence  float64 `yaml:"fact_confidence"`
	SourceDiversity float64 `yaml:"source_diversity"`
}

// FuzzyMatchConfig holds the entity resolver's scoring weights and bands.
type FuzzyMatchConfig struct {
	LastName  float64 `yaml:"last_name"`
	FirstName float64 `yaml:"first_name"`
	DOB       float64 `yaml:"dob"`
	Address   float64 `yaml:"address"`

	AutoMatch float64 `yaml:"auto_match"` // >= canonical match
	Review    float64 `yaml:"review"`     // >= tier-aware review band
	Duplicate float64 `yaml:"duplicate"`  // >= duplicate candidate
}

// RiskConfig holds scoring constants.
type RiskConfig struct {
	CategoryWeights    map[string]float64 `yaml:"category_weights"`
	CorroborationBonus float64            `yaml:"corroboration_bonus"`
	RecencyFloor       float64            `yaml:"recency_floor"` // decay floor at RecencyYears
	RecencyYears       float64            `yaml:"recency_years"` // linear decay horizon
	HopDecayD2         float64            `yaml:"hop_decay_d2"`
	HopDecayD3         float64            `yaml:"hop_decay_d3"`
	AIOverrideMin      float64            `yaml:"ai_override_min"` // classifier override threshold
}

// DeceptionConfig holds reconciliation pattern multipliers.
type DeceptionConfig struct {
	SameFieldSmall  float64 `yaml:"same_field_small"` // 2-3 in same field
	DiffFieldSmall  float64 `yaml:"diff_field_small"` // 2-3 across fields
	Many            float64 `yaml:"many"`             // >= 4
	CrossType       float64 `yaml:"cross_type"`       // spans >= 3 info types
	DirectionalBias float64 `yaml:"directional_bias"`
}

// Config is the root of the frozen configuration.
type Config struct {
	Freshness    map[contracts.CheckType]FreshnessWindow `yaml:"freshness"`
	TierPolicies map[contracts.CheckType]TierPolicy      `yaml:"tier_policies"`
	Breaker      BreakerConfig                           `yaml:"breaker"`
	Retry        RetryConfig                             `yaml:"retry"`
	SAR          SARConfig                               `yaml:"sar"`
	Fuzzy        FuzzyMatchConfig                        `yaml:"fuzzy"`
	Risk         RiskConfig                              `yaml:"risk"`
	Deception    DeceptionConfig                         `yaml:"deception"`

	ProviderTimeout  time.Duration `yaml:"provider_timeout"`
	BatchConcurrency int           `yaml:"batch_concurrency"`

	DatabaseURL  string `yaml:"database_url"`
	RedisAddr    string `yaml:"redis_addr"`
	CheckpointDB string `yaml:"checkpoint_db"`
	ListenAddr   string `yaml:"listen_addr"`
	AIServiceURL string `yaml:"ai_service_url"`

	hash string
}

// Hash returns the canonical content hash computed at load time.
func (c *Config) Hash() string { return c.hash }

// Load reads the YAML file at path, overlays environment overrides, fills
// defaults, validates, and seals the config with its content hash. An
// empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("AI_SERVICE_URL"); v != "" {
		cfg.AIServiceURL = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.seal(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks completeness. A check type known to the binary without a
// tier-policy or freshness entry is a configuration error, not a silent
// default.
func (c *Config) Validate() error {
	for _, ct := range contracts.AllCheckTypes {
		if _, ok := c.TierPolicies[ct]; !ok {
			return fmt.Errorf("config: no tier policy for check type %q", ct)
		}
		if _, ok := c.Freshness[ct]; !ok {
			return fmt.Errorf("config: no freshness window for check type %q", ct)
		}
	}
	if c.Breaker.Window <= 0 || c.Breaker.FailureRate <= 0 || c.Breaker.FailureRate > 1 {
		return fmt.Errorf("config: invalid breaker settings")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry max_attempts must be >= 1")
	}
	w := c.SAR.ConfidenceWeights
	sum := w.Completeness + w.Corroboration + w.QuerySuccess + w.FactConfidence + w.SourceDiversity
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("config: confidence weights sum to %.3f, want 1.0", sum)
	}
	fw := c.Fuzzy.LastName + c.Fuzzy.FirstName + c.Fuzzy.DOB + c.Fuzzy.Address
	if fw < 0.99 || fw > 1.01 {
		return fmt.Errorf("config: fuzzy weights sum to %.3f, want 1.0", fw)
	}
	return nil
}

func (c *Config) seal() error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal for hash: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return fmt.Errorf("config: canonicalize for hash: %w", err)
	}
	sum := sha256.Sum256(canonical)
	c.hash = hex.EncodeToString(sum[:])
	return nil
}
