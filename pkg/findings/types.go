// Package findings defines the structured finding shape and the extractor
// that turns raw facts into findings, preferring the AI model and falling
// back to deterministic rules so a finding set is always produced.
package findings

import (
	"time"

	"github.com/cleargate/vantage/pkg/contracts"
)

// Finding is a categorized, severity-scored observation. Immutable after
// creation.
type Finding struct {
	ID            string             `json:"id"`
	Category      string             `json:"category"`
	SubCategory   string             `json:"sub_category,omitempty"`
	Summary       string             `json:"summary"`
	Detail        string             `json:"detail,omitempty"`
	Severity      contracts.Severity `json:"severity"`
	Confidence    float64            `json:"confidence"`     // 0..1
	RoleRelevance float64            `json:"role_relevance"` // 0..1
	Sources       []string           `json:"sources"`        // provider ids; never empty
	Corroborated  bool               `json:"corroborated"`
	FindingDate   string             `json:"finding_date,omitempty"` // YYYY-MM-DD when the event happened
	DiscoveredAt  time.Time          `json:"discovered_at"`
	SubjectEntity string             `json:"subject_entity_id"`
	// ConnectionPath is set for network findings: the entity ids from the
	// subject to the risky connection.
	ConnectionPath []string `json:"connection_path,omitempty"`
}

// Key identifies a finding across profile versions for delta matching.
type Key struct {
	Category    string
	Source      string
	FindingDate string
}

// MatchKey returns the delta-matching key: (category, first source,
// finding date).
func (f Finding) MatchKey() Key {
	src := ""
	if len(f.Sources) > 0 {
		src = f.Sources[0]
	}
	return Key{Category: f.Category, Source: src, FindingDate: f.FindingDate}
}

// Fact is one extracted observation from a provider result, the raw
// material findings are built from.
type Fact struct {
	Type         string  `json:"type"` // e.g. "employment.title", "criminal.record"
	Value        string  `json:"value"`
	Source       string  `json:"source"` // provider id
	Confidence   float64 `json:"confidence"`
	Corroborated bool    `json:"corroborated"`
	Date         string  `json:"date,omitempty"` // YYYY-MM-DD if the fact is dated
}
