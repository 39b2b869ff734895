package ai

import (
	"context"

	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/findings"
)

// FactSource adapts a Client to the extractor's ModelClient surface.
type FactSource struct {
	Client Client
}

func (s FactSource) ExtractFacts(ctx context.Context, check contracts.CheckType, subject string, payloads []map[string]any) ([]findings.Fact, error) {
	resp, err := s.Client.Extract(ctx, ExtractRequest{
		CheckType: string(check),
		Subject:   subject,
		Payloads:  payloads,
	})
	if err != nil {
		return nil, err
	}
	return resp.Facts, nil
}
