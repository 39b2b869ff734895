// Package phases holds the five phase handlers the SAR engine sequences:
// Foundation, Records, Intelligence, Network, and Reconciliation.
package phases

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/entity"
	"github.com/cleargate/vantage/pkg/ids"
	"github.com/cleargate/vantage/pkg/knowledge"
	"github.com/cleargate/vantage/pkg/sar"
)

// Foundation runs IDENTITY → EMPLOYMENT → EDUCATION strictly in order
// and gates everything downstream on the can_proceed floor.
type Foundation struct{}

func (Foundation) Name() string { return "foundation" }

func (Foundation) Run(ctx context.Context, e *sar.Engine, inv *sar.Investigation) error {
	err := e.RunTypes(ctx, inv, true,
		sar.TypeIdentity, sar.TypeEmployment, sar.TypeEducation)
	if err != nil {
		return err
	}
	floor := e.Config().CanProceed
	if conf := sar.FoundationConfidence(inv); conf < floor {
		return sar.FoundationGate(conf, floor)
	}
	return nil
}

// Records runs the six record types in parallel, bounded by the phase
// concurrency limit.
type Records struct{}

func (Records) Name() string { return "records" }

func (Records) Run(ctx context.Context, e *sar.Engine, inv *sar.Investigation) error {
	return e.RunTypes(ctx, inv, false,
		sar.TypeCriminal, sar.TypeCivil, sar.TypeFinancial,
		sar.TypeLicenses, sar.TypeRegulatory, sar.TypeSanctions)
}

// Intelligence runs the media and footprint types in parallel; the
// digital footprint type is dropped on Standard tier by eligibility.
type Intelligence struct{}

func (Intelligence) Name() string { return "intelligence" }

func (Intelligence) Run(ctx context.Context, e *sar.Engine, inv *sar.Investigation) error {
	return e.RunTypes(ctx, inv, false,
		sar.TypeAdverseMedia, sar.TypeDigitalFootprint)
}

// NetworkHandler expands the subject's network. Discoveries accumulated
// in the knowledge base become entities and relationship edges before
// the corporate cycles run against them. The request's degree bounds the
// expansion: D1 is subject-only, D2 adds direct connections, D3 adds the
// second hop.
type NetworkHandler struct {
	store entity.Store
	log   *zap.Logger
}

// NewNetwork creates the network phase handler.
func NewNetwork(store entity.Store, log *zap.Logger) *NetworkHandler {
	return &NetworkHandler{store: store, log: log.Named("network")}
}

func (*NetworkHandler) Name() string { return "network" }

func (h *NetworkHandler) Run(ctx context.Context, e *sar.Engine, inv *sar.Investigation) error {
	if inv.RC.Degree == contracts.DegreeD1 {
		// Subject-only scope: no entities materialized, no corporate
		// queries, no budget spent on connections.
		return nil
	}
	if err := h.materialize(ctx, inv, e.Config().D2EntityLimitPerHop); err != nil {
		return err
	}
	types := []sar.InfoType{sar.TypeD2Connections}
	if inv.RC.Degree == contracts.DegreeD3 {
		types = append(types, sar.TypeD3Network)
	}
	return e.RunTypes(ctx, inv, true, types...)
}

// materialize turns knowledge-base discoveries into stored entities and
// edges from the subject, strongest connections first up to the per-hop
// limit.
func (h *NetworkHandler) materialize(ctx context.Context, inv *sar.Investigation, limit int) error {
	var discoveries []knowledge.Discovery
	inv.KB.Read(func(v *knowledge.View) {
		discoveries = v.Discoveries()
	})
	sort.Slice(discoveries, func(i, j int) bool {
		if discoveries[i].Strength != discoveries[j].Strength {
			return discoveries[i].Strength > discoveries[j].Strength
		}
		return discoveries[i].Name < discoveries[j].Name
	})
	if limit > 0 && len(discoveries) > limit {
		discoveries = discoveries[:limit]
	}
	now := time.Now().UTC()
	for _, d := range discoveries {
		found, err := h.findOrCreate(ctx, inv.RC.TenantID, d, now)
		if err != nil {
			return err
		}
		err = h.store.AddRelationship(ctx, inv.RC.TenantID, entity.Relationship{
			FromID:    inv.EntityID,
			ToID:      found.ID,
			Kind:      d.Relation,
			Strength:  d.Strength,
			FirstSeen: now,
			Sources:   []string{d.Source},
		})
		if err != nil {
			return err
		}
	}
	h.log.Debug("network materialized",
		zap.Int("discoveries", len(discoveries)),
		zap.String("entity", inv.EntityID))
	return nil
}

func (h *NetworkHandler) findOrCreate(ctx context.Context, tenantID string, d knowledge.Discovery, now time.Time) (*entity.Entity, error) {
	existing, err := h.store.ListEntities(ctx, tenantID, d.Kind)
	if err != nil {
		return nil, err
	}
	norm := entity.NormalizeName(d.Name)
	for _, e := range existing {
		for _, name := range e.Names {
			if name == norm {
				return e, nil
			}
		}
	}
	created := &entity.Entity{
		ID:         ids.New(),
		Kind:       d.Kind,
		TenantID:   tenantID,
		DataOrigin: contracts.OriginPaidExternal,
		Names:      []string{norm},
		CreatedAt:  now,
	}
	if err := h.store.CreateEntity(ctx, created); err != nil {
		return nil, err
	}
	return created, nil
}

// Reconciliation is the terminal phase: cross-type inconsistency
// detection and deception scoring over the assembled knowledge.
type Reconciliation struct{}

func (Reconciliation) Name() string { return "reconciliation" }

func (Reconciliation) Run(_ context.Context, e *sar.Engine, inv *sar.Investigation) error {
	report := e.Reconciler().Reconcile(inv.EntityID, inv.States, inv.KB)
	inv.Deception = &report
	return nil
}

// Default returns the standard handler sequence.
func Default(store entity.Store, log *zap.Logger) []sar.PhaseHandler {
	return []sar.PhaseHandler{
		Foundation{},
		Records{},
		Intelligence{},
		NewNetwork(store, log),
		Reconciliation{},
	}
}
