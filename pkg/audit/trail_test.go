package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndVerifyChain(t *testing.T) {
	store := NewMemoryStore()
	trail := NewTrail([]byte("k1"), store)
	ctx := context.Background()

	for i, typ := range []EventType{EventRequestSubmitted, EventCheckPermitted, EventProviderCall} {
		id, err := trail.Record(ctx, "acme", "req-1", "api", typ, map[string]any{"seq": i})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}

	ok, err := trail.Verify(ctx, "acme", "req-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyDetectsTampering(t *testing.T) {
	store := NewMemoryStore()
	trail := NewTrail([]byte("k1"), store)
	ctx := context.Background()

	_, err := trail.Record(ctx, "acme", "req-1", "api", EventRequestSubmitted, nil)
	require.NoError(t, err)
	_, err = trail.Record(ctx, "acme", "req-1", "api", EventBudgetApproved, map[string]any{"accumulated": 30})
	require.NoError(t, err)

	events, err := store.ByRequest(ctx, "acme", "req-1")
	require.NoError(t, err)
	require.Len(t, events, 2)

	events[1].Payload["accumulated"] = 0

	ok, err := trail.Verify(ctx, "acme", "req-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStreamsChainIndependently(t *testing.T) {
	trail := NewTrail([]byte("k1"), NewMemoryStore())
	ctx := context.Background()

	_, err := trail.Record(ctx, "acme", "req-1", "api", EventRequestSubmitted, nil)
	require.NoError(t, err)
	_, err = trail.Record(ctx, "acme", "req-2", "api", EventRequestSubmitted, nil)
	require.NoError(t, err)

	for _, req := range []string{"req-1", "req-2"} {
		ok, err := trail.Verify(ctx, "acme", req)
		require.NoError(t, err)
		assert.True(t, ok, req)
	}
}

func TestVerifyEmptyStream(t *testing.T) {
	trail := NewTrail([]byte("k1"), NewMemoryStore())
	ok, err := trail.Verify(context.Background(), "acme", "absent")
	require.NoError(t, err)
	assert.True(t, ok)
}
