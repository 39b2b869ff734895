package entity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/audit"
	"github.com/cleargate/vantage/pkg/faults"
	"github.com/cleargate/vantage/pkg/ids"
)

// Merger performs reviewer-approved merges and splits. Merges are never
// automatic: every call here traces back to an explicit human decision.
type Merger struct {
	store Store
	trail *audit.Trail
	log   *zap.Logger
}

// NewMerger creates a merger.
func NewMerger(store Store, trail *audit.Trail, log *zap.Logger) *Merger {
	return &Merger{store: store, trail: trail, log: log.Named("merger")}
}

// Merge absorbs one entity into another. The entity with the older id
// becomes canonical regardless of argument order, so two reviewers
// approving the same pair in opposite directions converge. Identifiers
// and relationships move to the canonical entity; the absorbed entity
// keeps a forwarding pointer and a reversible record is written.
func (m *Merger) Merge(ctx context.Context, tenantID, requestID, reviewer, aID, bID string) (*MergeRecord, error) {
	if aID == bID {
		return nil, faults.New(faults.KindValidation, "entity.merge", "cannot merge an entity with itself")
	}
	canonicalID, absorbedID := aID, bID
	if ids.Older(bID, aID) {
		canonicalID, absorbedID = bID, aID
	}

	canonical, err := m.store.GetEntity(ctx, tenantID, canonicalID)
	if err != nil {
		return nil, err
	}
	absorbed, err := m.store.GetEntity(ctx, tenantID, absorbedID)
	if err != nil {
		return nil, err
	}
	if canonical.MergedInto != "" || absorbed.MergedInto != "" {
		return nil, faults.New(faults.KindValidation, "entity.merge", "entity already merged")
	}

	rec := MergeRecord{
		CanonicalID:           canonicalID,
		AbsorbedID:            absorbedID,
		MergedAt:              time.Now().UTC(),
		AbsorbedIdentifiers:   absorbed.Identifiers,
		AbsorbedRelationships: nil,
	}

	// Move identifiers, noting conflicting values of the same type.
	canonicalByType := map[string]string{}
	for _, id := range canonical.Identifiers {
		canonicalByType[string(id.Type)] = id.Normalized
	}
	for _, id := range absorbed.Identifiers {
		if have, ok := canonicalByType[string(id.Type)]; ok && have != id.Normalized {
			rec.IdentifierConflicts = append(rec.IdentifierConflicts,
				fmt.Sprintf("%s: %s vs %s", id.Type, have, id.Normalized))
			continue
		}
		id.EntityID = canonicalID
		if err := m.store.AddIdentifier(ctx, tenantID, id); err != nil {
			return nil, err
		}
	}

	// Re-point the absorbed entity's edges at the canonical one.
	moved, err := m.store.RemoveRelationships(ctx, tenantID, absorbedID)
	if err != nil {
		return nil, err
	}
	rec.AbsorbedRelationships = moved
	for _, rel := range moved {
		if rel.FromID == absorbedID {
			rel.FromID = canonicalID
		}
		if rel.ToID == absorbedID {
			rel.ToID = canonicalID
		}
		if rel.FromID == rel.ToID {
			continue // self-edge after re-pointing; drop
		}
		if err := m.store.AddRelationship(ctx, tenantID, rel); err != nil {
			return nil, err
		}
	}

	absorbed.MergedInto = canonicalID
	if err := m.store.UpdateEntity(ctx, absorbed); err != nil {
		return nil, err
	}
	if err := m.store.RecordMerge(ctx, tenantID, rec); err != nil {
		return nil, err
	}

	m.log.Info("entities merged",
		zap.String("canonical", canonicalID),
		zap.String("absorbed", absorbedID),
		zap.Int("identifier_conflicts", len(rec.IdentifierConflicts)))
	if m.trail != nil {
		_, _ = m.trail.Record(ctx, tenantID, requestID, reviewer, audit.EventEntityMerged, map[string]any{
			"canonical_id": canonicalID,
			"absorbed_id":  absorbedID,
			"conflicts":    rec.IdentifierConflicts,
		})
	}
	return &rec, nil
}

// Split reverses a merge using the recorded snapshots: the absorbed
// entity gets its identifiers and relationships back and the forwarding
// pointer is cleared. Profiles committed after the merge stay with the
// canonical entity.
func (m *Merger) Split(ctx context.Context, tenantID, requestID, reviewer, canonicalID, absorbedID string) error {
	rec, err := m.store.GetMerge(ctx, tenantID, canonicalID, absorbedID)
	if err != nil {
		return err
	}
	absorbed, err := m.store.GetEntity(ctx, tenantID, absorbedID)
	if err != nil {
		return err
	}
	if absorbed.MergedInto != canonicalID {
		return faults.New(faults.KindValidation, "entity.split", "entity is not merged into the given canonical entity")
	}

	// Restore the pre-merge relationship set for both sides.
	for _, rel := range rec.AbsorbedRelationships {
		if err := m.store.AddRelationship(ctx, tenantID, rel); err != nil {
			return err
		}
	}
	absorbed.MergedInto = ""
	absorbed.Identifiers = rec.AbsorbedIdentifiers
	if err := m.store.UpdateEntity(ctx, absorbed); err != nil {
		return err
	}

	m.log.Info("merge reversed",
		zap.String("canonical", canonicalID),
		zap.String("absorbed", absorbedID))
	if m.trail != nil {
		_, _ = m.trail.Record(ctx, tenantID, requestID, reviewer, audit.EventEntitySplit, map[string]any{
			"canonical_id": canonicalID,
			"absorbed_id":  absorbedID,
		})
	}
	return nil
}
