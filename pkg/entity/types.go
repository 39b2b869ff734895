// Package entity owns the canonical entity store: identity resolution,
// the relationship graph, and versioned profiles with deltas. Entities
// and profiles outlive the investigations that reference them.
package entity

import (
	"time"

	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/findings"
)

// Kind distinguishes the canonical entity categories.
type Kind string

const (
	KindPerson       Kind = "PERSON"
	KindOrganization Kind = "ORGANIZATION"
	KindAddress      Kind = "ADDRESS"
)

// Identifier is one typed identifier attached to an entity. The original
// value is retained alongside the normalized form used for matching.
type Identifier struct {
	EntityID   string                   `json:"entity_id"`
	Type       contracts.IdentifierType `json:"type"`
	Value      string                   `json:"value"`
	Normalized string                   `json:"normalized"`
	Confidence float64                  `json:"confidence"`
	Source     string                   `json:"source"`
	FirstSeen  time.Time                `json:"first_seen"`
}

// Entity is a canonical individual, organization, or address.
type Entity struct {
	ID          string               `json:"id"`
	Kind        Kind                 `json:"kind"`
	TenantID    string               `json:"tenant_id"`
	DataOrigin  contracts.DataOrigin `json:"data_origin"`
	Names       []string             `json:"names"` // normalized name variants
	DateOfBirth string               `json:"date_of_birth,omitempty"`
	Address     string               `json:"address,omitempty"`
	Identifiers []Identifier         `json:"identifiers"`
	CreatedAt   time.Time            `json:"created_at"`
	// MergedInto is set when this entity was absorbed by a canonical one.
	MergedInto string `json:"merged_into,omitempty"`
}

// RelationKind names a relationship edge type.
type RelationKind string

const (
	RelEmployer        RelationKind = "employer"
	RelDirector        RelationKind = "director"
	RelAssociate       RelationKind = "associate"
	RelHousehold       RelationKind = "household"
	RelBusinessPartner RelationKind = "business-partner"
)

// Relationship is a directed edge between entities.
type Relationship struct {
	FromID    string       `json:"from_id"`
	ToID      string       `json:"to_id"`
	Kind      RelationKind `json:"kind"`
	Strength  float64      `json:"strength"` // 0..1
	FirstSeen time.Time    `json:"first_seen"`
	Sources   []string     `json:"sources"`
}

// Profile is an immutable versioned snapshot of an entity's findings,
// score, and connections. Versions form a dense sequence starting at 1.
type Profile struct {
	ID               string                `json:"id"`
	EntityID         string                `json:"entity_id"`
	Version          int                   `json:"version"`
	CreatedAt        time.Time             `json:"created_at"`
	Trigger          string                `json:"trigger"` // e.g. "initial", "monitoring_v2"
	Findings         []findings.Finding    `json:"findings"`
	RiskScore        float64               `json:"risk_score"`
	RiskLevel        contracts.RiskLevel   `json:"risk_level"`
	Connections      []Relationship        `json:"connections"`
	SourcesUsed      []string              `json:"sources_used"`
	StaleSources     []string              `json:"stale_sources,omitempty"`
	IncompleteChecks []contracts.CheckType `json:"incomplete_checks,omitempty"`
	EvolutionSignals []string              `json:"evolution_signals,omitempty"`
	PreviousID       string                `json:"previous_version_id,omitempty"`
	Delta            *Delta                `json:"delta,omitempty"`
	Partial          bool                  `json:"partial,omitempty"`
}

// ChangedFinding pairs the before/after of a finding whose severity or
// detail changed between versions.
type ChangedFinding struct {
	Before findings.Finding `json:"before"`
	After  findings.Finding `json:"after"`
}

// Delta describes what changed from the previous profile version.
type Delta struct {
	New              []findings.Finding `json:"new,omitempty"`
	Resolved         []findings.Finding `json:"resolved,omitempty"`
	Changed          []ChangedFinding   `json:"changed,omitempty"`
	ScoreChange      float64            `json:"score_change"`
	ConnectionDiff   int                `json:"connection_diff"`
	NewConnections   []Relationship     `json:"new_connections,omitempty"`
	LostConnections  []Relationship     `json:"lost_connections,omitempty"`
	EvolutionSignals []string           `json:"evolution_signals,omitempty"`
}

// DuplicateCandidate records a fuzzy score in the 0.70-0.85 band: a new
// entity was created but the near-match is kept for later review.
type DuplicateCandidate struct {
	EntityID    string    `json:"entity_id"`
	CandidateID string    `json:"candidate_id"`
	Score       float64   `json:"score"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// MergeRecord is the audit trail of a merge, sufficient to reverse it.
type MergeRecord struct {
	CanonicalID string    `json:"canonical_id"`
	AbsorbedID  string    `json:"absorbed_id"`
	MergedAt    time.Time `json:"merged_at"`
	// Snapshots of the absorbed entity's state before the merge.
	AbsorbedIdentifiers   []Identifier   `json:"absorbed_identifiers"`
	AbsorbedRelationships []Relationship `json:"absorbed_relationships"`
	IdentifierConflicts   []string       `json:"identifier_conflicts,omitempty"`
}
