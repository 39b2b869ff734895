package review

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/audit"
	"github.com/cleargate/vantage/pkg/faults"
)

func newTestQueue(t *testing.T) (*Queue, *audit.MemoryStore) {
	t.Helper()
	events := audit.NewMemoryStore()
	trail := audit.NewTrail([]byte("test-key"), events)
	return NewQueue(NewMemoryStore(), trail, zap.NewNop()), events
}

func TestEnqueueEntityReviewCreatesOpenTask(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.EnqueueEntityReview(ctx, "acme", "ent-1", "ent-2", 0.87))

	open, err := q.Pending(ctx, "acme", KindEntityMatch, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, StatusOpen, open[0].Status)
	assert.Equal(t, "ent-1", open[0].EntityID)
	assert.Equal(t, "ent-2", open[0].CandidateID)
	assert.InDelta(t, 0.87, open[0].Score, 1e-9)
}

func TestPendingFiltersByKindAndTenant(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.EnqueueEntityReview(ctx, "acme", "ent-1", "ent-2", 0.87))
	_, err := q.EnqueueMergeApproval(ctx, "acme", "ent-1", "ent-3", "shared ssn")
	require.NoError(t, err)
	require.NoError(t, q.EnqueueEntityReview(ctx, "globex", "ent-9", "ent-8", 0.9))

	merges, err := q.Pending(ctx, "acme", KindMergeApproval, 10)
	require.NoError(t, err)
	require.Len(t, merges, 1)
	assert.Equal(t, "shared ssn", merges[0].Reason)

	all, err := q.Pending(ctx, "acme", "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	other, err := q.Pending(ctx, "globex", "", 10)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestDecideApprovesOnce(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	task, err := q.EnqueueMergeApproval(ctx, "acme", "ent-1", "ent-3", "shared ssn")
	require.NoError(t, err)

	decided, err := q.Decide(ctx, "acme", task.ID, "analyst-7", true, "same person, verified by phone")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, decided.Status)
	assert.Equal(t, "analyst-7", decided.DecidedBy)
	assert.False(t, decided.DecidedAt.IsZero())

	// Second decision is refused.
	_, err = q.Decide(ctx, "acme", task.ID, "analyst-8", false, "")
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindConcurrencyConflict))

	// Decided tasks leave the pending list.
	open, err := q.Pending(ctx, "acme", KindMergeApproval, 10)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestDecideRejection(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	task, err := q.EnqueueMergeApproval(ctx, "acme", "ent-1", "ent-3", "close name match")
	require.NoError(t, err)

	decided, err := q.Decide(ctx, "acme", task.ID, "analyst-7", false, "different middle names")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, decided.Status)
	assert.Equal(t, "different middle names", decided.Note)
}

func TestDecideUnknownTask(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Decide(context.Background(), "acme", "missing", "analyst-7", true, "")
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindNotFound))
}

func TestDecideIsTenantScoped(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	task, err := q.EnqueueMergeApproval(ctx, "acme", "ent-1", "ent-3", "shared ssn")
	require.NoError(t, err)

	_, err = q.Decide(ctx, "globex", task.ID, "analyst-7", true, "")
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindNotFound))
}
