package gateway

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/cleargate/vantage/pkg/provider"
	"github.com/cleargate/vantage/pkg/reqctx"
)

// BatchItem is one (entity, query) pair for parallel routing.
type BatchItem struct {
	EntityID string
	Query    provider.Query
}

// RouteBatch routes many items concurrently, bounded by the configured
// batch concurrency. Fatal faults (budget, consent) cancel the whole
// batch; per-item exhaustion lands in that item's Result as usual.
func (g *Gateway) RouteBatch(ctx context.Context, rc *reqctx.Context, items []BatchItem) ([]*Result, error) {
	results := make([]*Result, len(items))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.BatchConcurrency)
	for i, item := range items {
		eg.Go(func() error {
			res, err := g.Route(ctx, rc, item.EntityID, item.Query)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
