// Package ai is the client for the extraction/classification model
// service. Responses are JSON documents validated against per-operation
// schemas; a response that fails validation is treated the same as a
// transport failure so callers can fall back to deterministic rules.
package ai

import (
	"context"

	"github.com/cleargate/vantage/pkg/findings"
)

// ExtractRequest is one batch of normalized provider payloads to mine
// for facts.
type ExtractRequest struct {
	CheckType string           `json:"check_type"`
	Subject   string           `json:"subject"`
	Payloads  []map[string]any `json:"payloads"`
}

// ExtractResponse is the model's structured fact list.
type ExtractResponse struct {
	Facts []findings.Fact `json:"facts"`
}

// ClassifyRequest asks for a category/subcategory for one finding text.
type ClassifyRequest struct {
	Summary string `json:"summary"`
	Detail  string `json:"detail,omitempty"`
}

// ClassifyResponse carries the model's categorization with confidence.
type ClassifyResponse struct {
	Category    string  `json:"category"`
	SubCategory string  `json:"sub_category,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// Client is the model service surface. Implementations return
// KindAIUnavailable faults on transport, status, or schema failures.
type Client interface {
	Extract(ctx context.Context, req ExtractRequest) (*ExtractResponse, error)
	Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error)
}
