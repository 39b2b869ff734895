package entity

import (
	"context"
	"strings"
	"time"

	"github.com/xrash/smetrics"
	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/config"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/ids"
)

// MatchType classifies a resolution outcome.
type MatchType string

const (
	MatchExact    MatchType = "EXACT"     // strong identifier hit
	MatchAuto     MatchType = "AUTO"      // fuzzy score >= auto-match band
	MatchFlagged  MatchType = "FLAGGED"   // Standard tier, review band: auto-matched with a flag
	MatchSoftLink MatchType = "SOFT_LINK" // Enhanced tier, review band: new entity soft-linked
	MatchNew      MatchType = "NEW"
)

// Resolution is the outcome of resolve-or-create.
type Resolution struct {
	EntityID  string
	MatchType MatchType
	Score     float64
	// SoftLinkedTo holds the review-band candidate on Enhanced tier.
	SoftLinkedTo  string
	ReviewPending bool
}

// ReviewQueue receives ambiguity resolution tasks on the Enhanced tier.
type ReviewQueue interface {
	EnqueueEntityReview(ctx context.Context, tenantID, entityID, candidateID string, score float64) error
}

// Resolver matches incoming subjects to canonical entities.
type Resolver struct {
	store  Store
	cfg    config.FuzzyMatchConfig
	log    *zap.Logger
	review ReviewQueue
}

// NewResolver creates a resolver.
func NewResolver(store Store, cfg config.FuzzyMatchConfig, review ReviewQueue, log *zap.Logger) *Resolver {
	return &Resolver{store: store, cfg: cfg, review: review, log: log.Named("resolver")}
}

// ResolveOrCreate finds the canonical entity for a subject or creates a
// new one. Stable: repeated calls with the same identifier set land on
// the same canonical id.
func (r *Resolver) ResolveOrCreate(ctx context.Context, tenantID string, tier contracts.Tier, subject contracts.Subject, origin contracts.DataOrigin) (*Resolution, error) {
	// Exact match on any strong identifier wins outright.
	for typ, value := range subject.Identifiers {
		if !typ.Strong() {
			continue
		}
		normalized := NormalizeIdentifier(typ, value)
		if normalized == "" {
			continue
		}
		e, err := r.store.FindByStrongIdentifier(ctx, tenantID, typ, normalized)
		if err != nil {
			return nil, err
		}
		if e != nil {
			return &Resolution{EntityID: e.ID, MatchType: MatchExact, Score: 1.0}, nil
		}
	}

	// Fuzzy pass over the tenant's people.
	best, bestScore, err := r.bestFuzzy(ctx, tenantID, subject)
	if err != nil {
		return nil, err
	}

	switch {
	case best != nil && bestScore >= r.cfg.AutoMatch:
		return &Resolution{EntityID: best.ID, MatchType: MatchAuto, Score: bestScore}, nil

	case best != nil && bestScore >= r.cfg.Review:
		if tier == contracts.TierEnhanced {
			// Ambiguity on Enhanced goes to a human: proceed with a new
			// soft-linked entity until the review resolves.
			created, err := r.create(ctx, tenantID, subject, origin)
			if err != nil {
				return nil, err
			}
			if r.review != nil {
				if err := r.review.EnqueueEntityReview(ctx, tenantID, created.ID, best.ID, bestScore); err != nil {
					r.log.Warn("review task not enqueued", zap.Error(err))
				}
			}
			return &Resolution{
				EntityID: created.ID, MatchType: MatchSoftLink, Score: bestScore,
				SoftLinkedTo: best.ID, ReviewPending: true,
			}, nil
		}
		// Standard auto-matches with an uncertainty flag in the report.
		return &Resolution{EntityID: best.ID, MatchType: MatchFlagged, Score: bestScore}, nil

	case best != nil && bestScore >= r.cfg.Duplicate:
		created, err := r.create(ctx, tenantID, subject, origin)
		if err != nil {
			return nil, err
		}
		if err := r.store.RecordDuplicate(ctx, tenantID, DuplicateCandidate{
			EntityID:    created.ID,
			CandidateID: best.ID,
			Score:       bestScore,
			RecordedAt:  time.Now().UTC(),
		}); err != nil {
			return nil, err
		}
		return &Resolution{EntityID: created.ID, MatchType: MatchNew, Score: bestScore}, nil

	default:
		created, err := r.create(ctx, tenantID, subject, origin)
		if err != nil {
			return nil, err
		}
		return &Resolution{EntityID: created.ID, MatchType: MatchNew, Score: bestScore}, nil
	}
}

// bestFuzzy scores the subject against every live person entity.
func (r *Resolver) bestFuzzy(ctx context.Context, tenantID string, subject contracts.Subject) (*Entity, float64, error) {
	candidates, err := r.store.ListEntities(ctx, tenantID, KindPerson)
	if err != nil {
		return nil, 0, err
	}
	first, last := splitName(subject)
	var best *Entity
	var bestScore float64
	for _, cand := range candidates {
		score := r.score(first, last, subject, cand)
		if score > bestScore {
			best, bestScore = cand, score
		}
	}
	return best, bestScore, nil
}

// score computes the weighted fuzzy formula: last-name and first-name
// Jaro-Winkler, exact DOB, and address similarity.
func (r *Resolver) score(first, last string, subject contracts.Subject, cand *Entity) float64 {
	candFirst, candLast := "", ""
	if len(cand.Names) > 0 {
		parts := strings.Fields(cand.Names[0])
		if len(parts) > 0 {
			candFirst = parts[0]
			candLast = parts[len(parts)-1]
		}
	}

	var score float64
	if last != "" && candLast != "" {
		score += r.cfg.LastName * smetrics.JaroWinkler(last, candLast, 0.7, 4)
	}
	if first != "" && candFirst != "" {
		score += r.cfg.FirstName * smetrics.JaroWinkler(first, candFirst, 0.7, 4)
	}
	if subject.DateOfBirth != "" && subject.DateOfBirth == cand.DateOfBirth {
		score += r.cfg.DOB
	}
	if subject.Address != "" && cand.Address != "" {
		score += r.cfg.Address * smetrics.JaroWinkler(
			NormalizeName(subject.Address), NormalizeName(cand.Address), 0.7, 4)
	}
	return score
}

func (r *Resolver) create(ctx context.Context, tenantID string, subject contracts.Subject, origin contracts.DataOrigin) (*Entity, error) {
	now := time.Now().UTC()
	e := &Entity{
		ID:          ids.New(),
		Kind:        KindPerson,
		TenantID:    tenantID,
		DataOrigin:  origin,
		DateOfBirth: subject.DateOfBirth,
		Address:     subject.Address,
		CreatedAt:   now,
	}
	if subject.FullName != "" {
		e.Names = []string{NormalizeName(subject.FullName)}
	}
	for typ, value := range subject.Identifiers {
		e.Identifiers = append(e.Identifiers, Identifier{
			EntityID:   e.ID,
			Type:       typ,
			Value:      value,
			Normalized: NormalizeIdentifier(typ, value),
			Confidence: 1.0,
			Source:     "subject",
			FirstSeen:  now,
		})
	}
	if err := r.store.CreateEntity(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func splitName(subject contracts.Subject) (first, last string) {
	first = NormalizeName(subject.FirstName)
	last = NormalizeName(subject.LastName)
	if first != "" || last != "" {
		return first, last
	}
	parts := strings.Fields(NormalizeName(subject.FullName))
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], parts[len(parts)-1]
}
