// Package review is the human-in-the-loop queue: ambiguous entity
// matches on the Enhanced tier, merge approvals, and finding
// validations wait here for an analyst's decision.
package review

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/audit"
	"github.com/cleargate/vantage/pkg/faults"
	"github.com/cleargate/vantage/pkg/ids"
)

// Kind is the task category.
type Kind string

const (
	KindEntityMatch       Kind = "entity_match"
	KindMergeApproval     Kind = "merge_approval"
	KindFindingValidation Kind = "finding_validation"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Task is one item awaiting an analyst.
type Task struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	Kind        Kind           `json:"kind"`
	Status      Status         `json:"status"`
	EntityID    string         `json:"entity_id"`
	CandidateID string         `json:"candidate_id,omitempty"`
	Score       float64        `json:"score,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	DecidedAt   time.Time      `json:"decided_at,omitempty"`
	DecidedBy   string         `json:"decided_by,omitempty"`
	Note        string         `json:"note,omitempty"`
}

// Store persists tasks.
type Store interface {
	Insert(ctx context.Context, t *Task) error
	Get(ctx context.Context, tenantID, id string) (*Task, error)
	Open(ctx context.Context, tenantID string, kind Kind, limit int) ([]*Task, error)
	Update(ctx context.Context, t *Task) error
}

// Queue is the review queue. It implements entity.ReviewQueue.
type Queue struct {
	store Store
	trail *audit.Trail
	log   *zap.Logger
}

// NewQueue creates a queue.
func NewQueue(store Store, trail *audit.Trail, log *zap.Logger) *Queue {
	return &Queue{store: store, trail: trail, log: log.Named("review")}
}

// EnqueueEntityReview files an ambiguous-match task from the resolver.
func (q *Queue) EnqueueEntityReview(ctx context.Context, tenantID, entityID, candidateID string, score float64) error {
	t := &Task{
		ID:          ids.New(),
		TenantID:    tenantID,
		Kind:        KindEntityMatch,
		Status:      StatusOpen,
		EntityID:    entityID,
		CandidateID: candidateID,
		Score:       score,
		CreatedAt:   time.Now().UTC(),
	}
	if err := q.store.Insert(ctx, t); err != nil {
		return err
	}
	q.audit(ctx, t, audit.EventReviewQueued)
	return nil
}

// EnqueueMergeApproval files a merge candidate for approval. The merge
// itself runs only after an analyst approves.
func (q *Queue) EnqueueMergeApproval(ctx context.Context, tenantID, canonicalID, absorbedID, reason string) (*Task, error) {
	t := &Task{
		ID:          ids.New(),
		TenantID:    tenantID,
		Kind:        KindMergeApproval,
		Status:      StatusOpen,
		EntityID:    canonicalID,
		CandidateID: absorbedID,
		Reason:      reason,
		CreatedAt:   time.Now().UTC(),
	}
	if err := q.store.Insert(ctx, t); err != nil {
		return nil, err
	}
	q.audit(ctx, t, audit.EventReviewQueued)
	return t, nil
}

// EnqueueFindingValidation files a finding whose confidence sits in the
// validation band.
func (q *Queue) EnqueueFindingValidation(ctx context.Context, tenantID, entityID, findingID, summary string) (*Task, error) {
	t := &Task{
		ID:        ids.New(),
		TenantID:  tenantID,
		Kind:      KindFindingValidation,
		Status:    StatusOpen,
		EntityID:  entityID,
		Reason:    summary,
		Payload:   map[string]any{"finding_id": findingID},
		CreatedAt: time.Now().UTC(),
	}
	if err := q.store.Insert(ctx, t); err != nil {
		return nil, err
	}
	q.audit(ctx, t, audit.EventReviewQueued)
	return t, nil
}

// Pending lists open tasks, newest last. kind "" means all kinds.
func (q *Queue) Pending(ctx context.Context, tenantID string, kind Kind, limit int) ([]*Task, error) {
	return q.store.Open(ctx, tenantID, kind, limit)
}

// Decide records the analyst's verdict. A task can be decided exactly
// once.
func (q *Queue) Decide(ctx context.Context, tenantID, taskID, actor string, approved bool, note string) (*Task, error) {
	t, err := q.store.Get(ctx, tenantID, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusOpen {
		return nil, faults.New(faults.KindConcurrencyConflict, "review.decide",
			"task already decided")
	}
	t.Status = StatusRejected
	if approved {
		t.Status = StatusApproved
	}
	t.DecidedAt = time.Now().UTC()
	t.DecidedBy = actor
	t.Note = note
	if err := q.store.Update(ctx, t); err != nil {
		return nil, err
	}
	q.audit(ctx, t, audit.EventReviewDecided)
	q.log.Info("review task decided",
		zap.String("task", t.ID),
		zap.String("kind", string(t.Kind)),
		zap.String("status", string(t.Status)),
		zap.String("actor", actor))
	return t, nil
}

func (q *Queue) audit(ctx context.Context, t *Task, typ audit.EventType) {
	if q.trail == nil {
		return
	}
	_, _ = q.trail.Record(ctx, t.TenantID, "", "system", typ, map[string]any{
		"task_id":      t.ID,
		"kind":         string(t.Kind),
		"status":       string(t.Status),
		"entity_id":    t.EntityID,
		"candidate_id": t.CandidateID,
	})
}
