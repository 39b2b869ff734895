package sar

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/faults"
	"github.com/cleargate/vantage/pkg/gateway"
	"github.com/cleargate/vantage/pkg/provider"
	"github.com/cleargate/vantage/pkg/reqctx"
)

// Router is the gateway surface the cycle needs.
type Router interface {
	Route(ctx context.Context, rc *reqctx.Context, entityID string, q provider.Query) (*gateway.Result, error)
}

// Runner drives one information type through its SAR cycle.
type Runner struct {
	planner  *Planner
	assessor *Assessor
	refiner  *Refiner
	router   Router
	log      *zap.Logger

	typeTimeout time.Duration
	concurrency int
}

// NewRunner assembles a cycle runner.
func NewRunner(planner *Planner, assessor *Assessor, refiner *Refiner, router Router, typeTimeout time.Duration, concurrency int, log *zap.Logger) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		planner:     planner,
		assessor:    assessor,
		refiner:     refiner,
		router:      router,
		log:         log.Named("cycle"),
		typeTimeout: typeTimeout,
		concurrency: concurrency,
	}
}

// RunType executes the full SEARCH → ASSESS → REFINE loop for one type
// until a terminal phase. The state may be a restored checkpoint
// mid-cycle; the loop continues from its recorded phase.
func (r *Runner) RunType(ctx context.Context, rc *reqctx.Context, entityID string, subject contracts.Subject, state *TypeState) error {
	if r.typeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.typeTimeout)
		defer cancel()
	}

	queries := r.planner.Plan(state.Type, subject, state)
	for !state.Phase.Terminal() {
		if err := ctx.Err(); err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				// The per-type wall clock cap marks the type CAPPED and
				// the investigation proceeds.
				state.advance(PhaseCapped)
				r.log.Warn("type hit wall-clock cap", zap.String("type", string(state.Type)))
				return nil
			}
			return err
		}

		results, err := r.search(ctx, rc, entityID, subject, state, queries)
		if err != nil {
			return err
		}

		state.advance(PhaseAssess)
		r.assessor.Assess(ctx, rc.TenantID, rc.RequestID, subject.FullName, state, results)

		state.advance(PhaseRefine)
		decision := r.refiner.Decide(state.Type, subject, state)
		state.advance(decision.Next)
		queries = decision.Queries
	}
	r.log.Info("type cycle finished",
		zap.String("type", string(state.Type)),
		zap.String("phase", string(state.Phase)),
		zap.Int("iterations", state.Iteration),
		zap.Float64("confidence", state.Confidence))
	return nil
}

// search executes this iteration's queries with bounded concurrency.
// Compliance-blocked queries are dropped silently; fatal faults abort.
func (r *Runner) search(ctx context.Context, rc *reqctx.Context, entityID string, subject contracts.Subject, state *TypeState, queries []Query) ([]QueryResult, error) {
	out := make([]QueryResult, len(queries))

	// Executed is marked before the fan-out: the keys are known here, and
	// the goroutines must not write the map concurrently.
	for _, q := range queries {
		state.Executed[q.CanonicalKey()] = true
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.concurrency)
	for i, q := range queries {
		eg.Go(func() error {
			res, err := r.router.Route(gctx, rc, entityID, provider.Query{
				Check:   q.Check,
				Subject: subject,
				Locale:  rc.Locale,
				Degree:  rc.Degree,
				Params:  q.Params,
			})
			if err != nil {
				if faults.KindOf(err).Fatal() {
					return err
				}
				// Blocked or exhausted without being high priority: the
				// query simply yields nothing.
				out[i] = QueryResult{Query: q, Succeeded: false}
				return nil
			}
			qr := QueryResult{
				Query:      q,
				ProviderID: res.ProviderID,
				FromCache:  res.FromCache,
				Stale:      res.StaleFlagged,
				Succeeded:  !res.Incomplete,
			}
			if res.Payload != nil {
				qr.Payload = res.Payload.Normalized
			}
			out[i] = qr
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
