package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cleargate/vantage/pkg/faults"
)

const extractSchema = `{
	"type": "object",
	"required": ["facts"],
	"properties": {
		"facts": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["type", "value", "source", "confidence"],
				"properties": {
					"type": {"type": "string", "minLength": 1},
					"value": {"type": "string"},
					"source": {"type": "string", "minLength": 1},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1},
					"corroborated": {"type": "boolean"},
					"date": {"type": "string"}
				}
			}
		}
	}
}`

const classifySchema = `{
	"type": "object",
	"required": ["category", "confidence"],
	"properties": {
		"category": {"type": "string", "minLength": 1},
		"sub_category": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

// HTTPClient talks to the model service over JSON POST endpoints.
type HTTPClient struct {
	baseURL string
	http    *http.Client

	extractValidator  *jsonschema.Schema
	classifyValidator *jsonschema.Schema
}

// NewHTTPClient creates a client for the given base URL.
func NewHTTPClient(baseURL string, timeout time.Duration) (*HTTPClient, error) {
	ev, err := jsonschema.CompileString("extract.json", extractSchema)
	if err != nil {
		return nil, fmt.Errorf("ai: compile extract schema: %w", err)
	}
	cv, err := jsonschema.CompileString("classify.json", classifySchema)
	if err != nil {
		return nil, fmt.Errorf("ai: compile classify schema: %w", err)
	}
	return &HTTPClient{
		baseURL:           strings.TrimRight(baseURL, "/"),
		http:              &http.Client{Timeout: timeout},
		extractValidator:  ev,
		classifyValidator: cv,
	}, nil
}

func (c *HTTPClient) Extract(ctx context.Context, req ExtractRequest) (*ExtractResponse, error) {
	raw, err := c.post(ctx, "/v1/extract", req, c.extractValidator)
	if err != nil {
		return nil, err
	}
	var out ExtractResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, faults.Wrap(faults.KindAIUnavailable, "ai.extract", "decode response", err)
	}
	return &out, nil
}

func (c *HTTPClient) Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error) {
	raw, err := c.post(ctx, "/v1/classify", req, c.classifyValidator)
	if err != nil {
		return nil, err
	}
	var out ClassifyResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, faults.Wrap(faults.KindAIUnavailable, "ai.classify", "decode response", err)
	}
	return &out, nil
}

// post sends the request and validates the response document against the
// operation schema before any caller sees it.
func (c *HTTPClient) post(ctx context.Context, path string, body any, schema *jsonschema.Schema) ([]byte, error) {
	op := "ai" + strings.ReplaceAll(path, "/", ".")
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, faults.Wrap(faults.KindAIUnavailable, op, "marshal request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, faults.Wrap(faults.KindAIUnavailable, op, "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, faults.Wrap(faults.KindAIUnavailable, op, "model service unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, faults.New(faults.KindAIUnavailable, op,
			fmt.Sprintf("model service returned %d", resp.StatusCode))
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, faults.Wrap(faults.KindAIUnavailable, op, "read response", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, faults.Wrap(faults.KindAIUnavailable, op, "response is not JSON", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, faults.Wrap(faults.KindAIUnavailable, op, "response failed schema validation", err)
	}
	return raw, nil
}
