package findings

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/audit"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/faults"
)

// ModelClient is the slice of the AI surface the extractor needs.
type ModelClient interface {
	ExtractFacts(ctx context.Context, check contracts.CheckType, subject string, payloads []map[string]any) ([]Fact, error)
}

// Extractor turns normalized provider payloads into facts. The model is
// preferred; the rule-based path guarantees a fact set is always
// produced even with the model service down.
type Extractor struct {
	model ModelClient
	trail *audit.Trail
	log   *zap.Logger
}

// NewExtractor creates an extractor. model may be nil, forcing the
// rule-based path.
func NewExtractor(model ModelClient, trail *audit.Trail, log *zap.Logger) *Extractor {
	return &Extractor{model: model, trail: trail, log: log.Named("extractor")}
}

// Extract mines facts from one batch of payloads for a check type.
func (e *Extractor) Extract(ctx context.Context, tenantID, requestID string, check contracts.CheckType, subject string, payloads []map[string]any) []Fact {
	if len(payloads) == 0 {
		return nil
	}
	if e.model != nil {
		facts, err := e.model.ExtractFacts(ctx, check, subject, payloads)
		if err == nil {
			return facts
		}
		if !faults.IsKind(err, faults.KindAIUnavailable) {
			e.log.Error("model extraction failed with a non-availability error", zap.Error(err))
		}
		e.log.Warn("model extraction unavailable, using rule-based extraction",
			zap.String("check", string(check)), zap.Error(err))
		if e.trail != nil {
			_, _ = e.trail.Record(ctx, tenantID, requestID, "system", audit.EventAIFallback, map[string]any{
				"check": string(check),
				"error": err.Error(),
			})
		}
	}
	return RuleExtract(check, payloads)
}

// factKeys maps payload field names to fact types per check. Fields not
// listed still become generic facts so nothing a provider returned is
// silently dropped.
var factKeys = map[contracts.CheckType]map[string]string{
	contracts.CheckEmployment: {
		"employer":   "employment.employer",
		"title":      "employment.title",
		"start_date": "employment.start",
		"end_date":   "employment.end",
	},
	contracts.CheckEducation: {
		"institution": "education.institution",
		"degree":      "education.degree",
		"field":       "education.field",
		"year":        "education.year",
	},
	contracts.CheckCriminal: {
		"offense":      "criminal.offense",
		"disposition":  "criminal.disposition",
		"jurisdiction": "criminal.jurisdiction",
		"date":         "criminal.date",
	},
	contracts.CheckSanctions: {
		"list":       "sanctions.list",
		"match_name": "sanctions.match",
		"program":    "sanctions.program",
	},
	contracts.CheckIdentity: {
		"name":    "identity.name",
		"dob":     "identity.dob",
		"address": "identity.address",
	},
	contracts.CheckLicenses: {
		"authority": "license.authority",
		"kind":      "license.kind",
		"number":    "license.number",
		"status":    "license.status",
	},
}

// RuleExtract is the deterministic fallback: flatten each payload into
// typed facts using the per-check field map.
func RuleExtract(check contracts.CheckType, payloads []map[string]any) []Fact {
	keys := factKeys[check]
	var out []Fact
	for _, payload := range payloads {
		source, _ := payload["provider_id"].(string)
		if source == "" {
			source = "unknown"
		}
		confidence := 0.6 // rule-extracted facts carry reduced confidence
		if c, ok := payload["confidence"].(float64); ok && c > 0 {
			confidence = c
		}
		date, _ := payload["date"].(string)

		fields := make([]string, 0, len(payload))
		for k := range payload {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		for _, field := range fields {
			if field == "provider_id" || field == "confidence" {
				continue
			}
			value := stringify(payload[field])
			if value == "" {
				continue
			}
			typ, ok := keys[field]
			if !ok {
				typ = string(check) + "." + field
			}
			out = append(out, Fact{
				Type:       typ,
				Value:      value,
				Source:     source,
				Confidence: confidence,
				Date:       date,
			})
		}
	}
	return out
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return fmt.Sprintf("%g", x)
	case bool:
		return fmt.Sprintf("%t", x)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", x)
	}
}
