// Package contracts holds the shared vocabulary of the screening platform:
// tiers, degrees, check types, data origins, and the canonical shapes that
// cross subsystem boundaries.
package contracts

import "time"

// Tier selects the breadth of data sources an investigation may use.
type Tier string

const (
	TierStandard Tier = "STANDARD"
	TierEnhanced Tier = "ENHANCED"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierStandard || t == TierEnhanced
}

// Degree selects how far beyond the subject an investigation reaches.
type Degree string

const (
	DegreeD1 Degree = "D1" // subject only
	DegreeD2 Degree = "D2" // subject + direct connections
	DegreeD3 Degree = "D3" // subject + 2-hop network (Enhanced only)
)

// Valid reports whether d is a known degree.
func (d Degree) Valid() bool {
	return d == DegreeD1 || d == DegreeD2 || d == DegreeD3
}

// Vigilance governs the re-screen cadence for ongoing monitoring.
type Vigilance string

const (
	VigilanceV0 Vigilance = "V0" // one-time
	VigilanceV1 Vigilance = "V1" // annual
	VigilanceV2 Vigilance = "V2" // monthly
	VigilanceV3 Vigilance = "V3" // bi-monthly
)

// CheckType identifies a category of inquiry against external providers.
type CheckType string

const (
	CheckIdentity     CheckType = "identity"
	CheckEmployment   CheckType = "employment"
	CheckEducation    CheckType = "education"
	CheckCriminal     CheckType = "criminal"
	CheckCivil        CheckType = "civil"
	CheckCredit       CheckType = "credit"
	CheckLicenses     CheckType = "licenses"
	CheckRegulatory   CheckType = "regulatory"
	CheckSanctions    CheckType = "sanctions"
	CheckPEP          CheckType = "pep"
	CheckAdverseMedia CheckType = "adverse_media"
	CheckCorporate    CheckType = "corporate"
	CheckOSINT        CheckType = "osint"
	CheckBehavioral   CheckType = "behavioral"
)

// AllCheckTypes lists every check type known to the binary. Configuration
// that enumerates per-check policy must cover all of them.
var AllCheckTypes = []CheckType{
	CheckIdentity, CheckEmployment, CheckEducation, CheckCriminal,
	CheckCivil, CheckCredit, CheckLicenses, CheckRegulatory,
	CheckSanctions, CheckPEP, CheckAdverseMedia, CheckCorporate,
	CheckOSINT, CheckBehavioral,
}

// HighPriority reports whether total failure of this check aborts the
// investigation. Sanctions and PEP screening are never optional.
func (c CheckType) HighPriority() bool {
	return c == CheckSanctions || c == CheckPEP
}

// DataOrigin distinguishes data a customer supplied from data bought from
// an external provider. The two must never share a cache partition.
type DataOrigin string

const (
	OriginCustomerProvided DataOrigin = "CUSTOMER_PROVIDED"
	OriginPaidExternal     DataOrigin = "PAID_EXTERNAL"
)

// IdentifierType classifies subject identifiers. Strong identifiers
// uniquely pin a canonical entity within a tenant.
type IdentifierType string

const (
	IdentSSN      IdentifierType = "ssn"
	IdentEIN      IdentifierType = "ein"
	IdentPassport IdentifierType = "passport"
	IdentEmail    IdentifierType = "email"
	IdentPhone    IdentifierType = "phone"
)

// Strong reports whether the identifier type is strong enough for an exact
// canonical match on its own.
func (t IdentifierType) Strong() bool {
	return t == IdentSSN || t == IdentEIN || t == IdentPassport
}

// Subject describes the person or organization a request targets, as
// supplied by the caller before entity resolution.
type Subject struct {
	FullName    string                    `json:"full_name"`
	FirstName   string                    `json:"first_name,omitempty"`
	LastName    string                    `json:"last_name,omitempty"`
	DateOfBirth string                    `json:"date_of_birth,omitempty"` // YYYY-MM-DD
	Address     string                    `json:"address,omitempty"`
	Identifiers map[IdentifierType]string `json:"identifiers,omitempty"`
}

// ProviderResult is the canonical shape every adapter normalizes into.
type ProviderResult struct {
	ProviderID string         `json:"provider_id"`
	CheckType  CheckType      `json:"check_type"`
	Raw        []byte         `json:"raw,omitempty"`
	Normalized map[string]any `json:"normalized"`
	CostCents  int64          `json:"cost_cents"`
	AcquiredAt time.Time      `json:"acquired_at"`
}

// Severity grades a finding.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Weight returns the numeric weight used in composite scoring.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.7
	case SeverityMedium:
		return 0.4
	case SeverityLow:
		return 0.15
	default:
		return 0.0
	}
}

// RiskLevel is the banded interpretation of a composite score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskModerate RiskLevel = "MODERATE"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// LevelForScore bands a 0-100 composite score.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score < 25:
		return RiskLow
	case score < 50:
		return RiskModerate
	case score < 75:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// RequestStatus tracks an investigation through its lifecycle.
type RequestStatus string

const (
	StatusPendingConsent RequestStatus = "pending_consent"
	StatusCollecting     RequestStatus = "collecting"
	StatusAnalyzing      RequestStatus = "analyzing"
	StatusAwaitingReview RequestStatus = "awaiting_review"
	StatusComplete       RequestStatus = "complete"
	StatusCancelled      RequestStatus = "cancelled"
	StatusFailed         RequestStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == StatusComplete || s == StatusCancelled || s == StatusFailed
}
