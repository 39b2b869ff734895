package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleargate/vantage/pkg/faults"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(srv.URL, 5*time.Second)
	require.NoError(t, err)
	return c
}

func TestExtractValidResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/extract", r.URL.Path)
		_, _ = w.Write([]byte(`{"facts":[{"type":"employment.title","value":"Engineer","source":"prov-emp","confidence":0.9,"corroborated":false}]}`))
	})

	out, err := c.Extract(context.Background(), ExtractRequest{CheckType: "employment"})
	require.NoError(t, err)
	require.Len(t, out.Facts, 1)
	assert.Equal(t, "employment.title", out.Facts[0].Type)
}

func TestExtractSchemaViolationIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		// confidence out of range
		_, _ = w.Write([]byte(`{"facts":[{"type":"x","value":"y","source":"z","confidence":7}]}`))
	})

	_, err := c.Extract(context.Background(), ExtractRequest{})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindAIUnavailable))
}

func TestClassifyServerErrorIsUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Classify(context.Background(), ClassifyRequest{Summary: "conviction"})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindAIUnavailable))
}
