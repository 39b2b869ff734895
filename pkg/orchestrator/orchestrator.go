package orchestrator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/audit"
	"github.com/cleargate/vantage/pkg/compliance"
	"github.com/cleargate/vantage/pkg/config"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/entity"
	"github.com/cleargate/vantage/pkg/events"
	"github.com/cleargate/vantage/pkg/faults"
	"github.com/cleargate/vantage/pkg/ids"
	"github.com/cleargate/vantage/pkg/reqctx"
	"github.com/cleargate/vantage/pkg/risk"
	"github.com/cleargate/vantage/pkg/sar"
)

// Investigator drives the phase engine over one investigation.
// *sar.Engine is the production implementation.
type Investigator interface {
	Run(ctx context.Context, inv *sar.Investigation) (*sar.Outcome, error)
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Builder   *reqctx.Builder
	Resolver  *entity.Resolver
	Profiles  *entity.Profiles
	Entities  entity.Store
	Engine    Investigator
	Analyzer  *risk.Analyzer
	Store     Store
	Publisher *events.Publisher
	Trail     *audit.Trail
	Config    *config.Config
	Log       *zap.Logger
}

// Orchestrator owns the request lifecycle. Investigations run on their
// own goroutines with detached, individually cancellable contexts.
type Orchestrator struct {
	builder   *reqctx.Builder
	resolver  *entity.Resolver
	profiles  *entity.Profiles
	entities  entity.Store
	graph     *entity.Graph
	engine    Investigator
	analyzer  *risk.Analyzer
	store     Store
	publisher *events.Publisher
	trail     *audit.Trail
	cfg       *config.Config
	log       *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New assembles the orchestrator.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		builder:   d.Builder,
		resolver:  d.Resolver,
		profiles:  d.Profiles,
		entities:  d.Entities,
		graph:     entity.NewGraph(d.Entities),
		engine:    d.Engine,
		analyzer:  d.Analyzer,
		store:     d.Store,
		publisher: d.Publisher,
		trail:     d.Trail,
		cfg:       d.Config,
		log:       d.Log.Named("orchestrator"),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// SubmitParams are the fields of one screening request.
type SubmitParams struct {
	TenantID       string
	Actor          string
	EmployeeRef    string
	Subject        contracts.Subject
	Locale         string
	Role           compliance.RoleCategory
	Tier           contracts.Tier
	Degree         contracts.Degree
	Vigilance      contracts.Vigilance
	ConsentToken   string
	CallbackURL    string
	Priority       int
	IdempotencyKey string
	BudgetCents    int64
	Trigger        string
}

// Submit accepts a screening request. With a consent token the
// investigation starts immediately; without one the request parks in
// pending_consent until a consent.granted event releases it. A repeated
// idempotency key returns the original request untouched.
func (o *Orchestrator) Submit(ctx context.Context, p SubmitParams) (*Request, error) {
	if p.TenantID == "" {
		return nil, faults.New(faults.KindValidation, "orchestrator.submit", "tenant id required")
	}
	if strings.TrimSpace(p.Subject.FullName) == "" {
		return nil, faults.New(faults.KindValidation, "orchestrator.submit", "subject full name required")
	}
	if p.IdempotencyKey != "" {
		prior, err := o.store.ByIdempotencyKey(ctx, p.TenantID, p.IdempotencyKey)
		if err == nil {
			return prior, nil
		}
		if !faults.IsKind(err, faults.KindNotFound) {
			return nil, err
		}
	}

	now := time.Now().UTC()
	req := &Request{
		ID:             ids.New(),
		TenantID:       p.TenantID,
		IdempotencyKey: p.IdempotencyKey,
		EmployeeRef:    p.EmployeeRef,
		Subject:        p.Subject,
		Locale:         p.Locale,
		Role:           p.Role,
		Tier:           p.Tier,
		Degree:         p.Degree,
		Vigilance:      p.Vigilance,
		CallbackURL:    p.CallbackURL,
		Priority:       p.Priority,
		Trigger:        p.Trigger,
		BudgetCents:    p.BudgetCents,
		Status:         contracts.StatusPendingConsent,
		CreatedAt:      now,
		UpdatedAt:      now,
		ConsentToken:   p.ConsentToken,
	}
	if req.Trigger == "" {
		req.Trigger = TriggerInitial
	}
	req.actor = p.Actor
	if req.actor == "" {
		req.actor = "api"
	}

	if req.ConsentToken == "" {
		if err := o.store.Insert(ctx, req); err != nil {
			return nil, err
		}
		_, _ = o.trail.Record(ctx, req.TenantID, req.ID, req.actor, audit.EventRequestSubmitted, map[string]any{
			"status": string(req.Status), "tier": string(req.Tier), "trigger": req.Trigger,
		})
		o.log.Info("request parked awaiting consent",
			zap.String("request_id", req.ID), zap.String("tenant", req.TenantID))
		return req, nil
	}
	return o.start(ctx, req, true)
}

// start freezes the request context, resolves the entity, and launches
// the investigation goroutine. insert distinguishes brand-new requests
// from pending_consent ones being released.
func (o *Orchestrator) start(ctx context.Context, req *Request, insert bool) (*Request, error) {
	if req.actor == "" {
		// Released from pending_consent: the original actor is gone.
		req.actor = "system"
	}
	rc, err := o.builder.Build(ctx, reqctx.Params{
		TenantID:     req.TenantID,
		Actor:        req.actor,
		Locale:       req.Locale,
		Role:         req.Role,
		Tier:         req.Tier,
		Degree:       req.Degree,
		Vigilance:    req.Vigilance,
		ConsentToken: req.ConsentToken,
		BudgetCents:  req.BudgetCents,
	})
	if err != nil {
		if !insert {
			req.Status = contracts.StatusFailed
			req.FailureCode = string(faults.KindOf(err))
			req.UpdatedAt = time.Now().UTC()
			_ = o.store.Update(ctx, req)
		}
		return nil, err
	}
	req.ConsentToken = ""

	res, err := o.resolver.ResolveOrCreate(ctx, req.TenantID, req.Tier, req.Subject, contracts.OriginCustomerProvided)
	if err != nil {
		return nil, err
	}
	req.EntityID = res.EntityID
	req.Status = contracts.StatusCollecting
	req.UpdatedAt = time.Now().UTC()

	if insert {
		err = o.store.Insert(ctx, req)
	} else {
		err = o.store.Update(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	o.emit(ctx, req.TenantID, req.ID, events.ScreeningStarted, map[string]any{
		"entity_id": req.EntityID, "tier": string(req.Tier), "degree": string(req.Degree), "trigger": req.Trigger,
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.cancels[req.ID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go o.investigate(runCtx, rc, req.clone(), res.ReviewPending)
	return req, nil
}

// investigate is the body of one investigation goroutine: engine run,
// risk analysis, profile commit, terminal status and events.
func (o *Orchestrator) investigate(ctx context.Context, rc *reqctx.Context, req *Request, reviewPending bool) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, req.ID)
		o.mu.Unlock()
	}()

	inv := sar.NewInvestigation(req.ID, rc, req.Subject, req.EntityID)
	out, err := o.engine.Run(ctx, inv)
	if err != nil {
		o.finishFailed(ctx, req, err)
		return
	}

	o.setStatus(ctx, req, contracts.StatusAnalyzing)
	o.emit(ctx, req.TenantID, req.ID, events.ScreeningProgress, map[string]any{
		"stage": "analyzing", "partial": out.Partial,
	})

	fs := append(factFindings(req.EntityID, inv.States), inv.Findings()...)
	deceptionScore := 0.0
	if out.Deception != nil {
		deceptionScore = out.Deception.Score
	}
	assessment := o.analyzer.Analyze(ctx, risk.Input{
		SubjectEntityID:  req.EntityID,
		Role:             string(req.Role),
		Findings:         fs,
		ConnectedRisks:   o.connectedRisks(ctx, req.TenantID, req.EntityID, req.Degree),
		DeceptionScore:   deceptionScore,
		IncompleteChecks: out.IncompleteChecks,
	})

	// Cancellation between engine completion and commit still means no
	// new profile version is published.
	if ctx.Err() != nil {
		o.finishCancelled(context.WithoutCancel(ctx), req)
		return
	}

	rels, _ := o.entities.Relationships(ctx, req.TenantID, req.EntityID)
	profile, err := o.commitProfile(ctx, req, entity.Draft{
		EntityID:         req.EntityID,
		Trigger:          req.Trigger,
		Findings:         assessment.Findings,
		RiskScore:        assessment.Score,
		RiskLevel:        assessment.Level,
		Connections:      rels,
		SourcesUsed:      sourcesUsed(inv.States),
		StaleSources:     staleSources(inv.States),
		IncompleteChecks: out.IncompleteChecks,
		Partial:          out.Partial,
	})
	if err != nil {
		o.finishFailed(ctx, req, err)
		return
	}

	req.ProfileID = profile.ID
	req.RiskScore = assessment.Score
	req.RiskLevel = assessment.Level
	req.Partial = out.Partial

	switch {
	case assessment.Escalated || reviewPending:
		o.setStatus(ctx, req, contracts.StatusAwaitingReview)
		reason := assessment.EscalationReason
		if reason == "" {
			reason = "entity match pending review"
		}
		o.emit(ctx, req.TenantID, req.ID, events.ReviewRequired, map[string]any{
			"reason": reason, "risk_level": string(assessment.Level), "profile_version": profile.Version,
		})
		if assessment.Level == contracts.RiskCritical {
			o.emit(ctx, req.TenantID, req.ID, events.AdverseActionPending, map[string]any{
				"risk_score": assessment.Score, "reason": reason,
			})
		}
	default:
		o.setStatus(ctx, req, contracts.StatusComplete)
		o.emit(ctx, req.TenantID, req.ID, events.ScreeningComplete, map[string]any{
			"risk_score": assessment.Score, "risk_level": string(assessment.Level),
			"profile_version": profile.Version, "partial": out.Partial,
		})
	}

	// Monitoring re-screens alert on what changed, not on the absolute
	// level.
	if req.Trigger != TriggerInitial && profile.Delta != nil && deltaNotable(profile) {
		o.emit(ctx, req.TenantID, req.ID, events.AlertGenerated, map[string]any{
			"trigger":           req.Trigger,
			"new_findings":      len(profile.Delta.New),
			"score_change":      profile.Delta.ScoreChange,
			"evolution_signals": profile.EvolutionSignals,
		})
	}

	_, _ = o.trail.Record(ctx, req.TenantID, req.ID, "system", audit.EventInvestigationDone, map[string]any{
		"status": string(req.Status), "risk_score": assessment.Score, "partial": out.Partial,
	})
	o.log.Info("investigation finished",
		zap.String("request_id", req.ID),
		zap.String("status", string(req.Status)),
		zap.Float64("risk_score", assessment.Score),
		zap.Bool("partial", out.Partial))
}

// emit delivers a lifecycle event through the publisher's retry path.
// Delivery failure never fails the investigation.
func (o *Orchestrator) emit(ctx context.Context, tenantID, requestID string, typ events.OutboundType, payload map[string]any) {
	if err := o.publisher.Emit(context.WithoutCancel(ctx), tenantID, requestID, typ, payload); err != nil {
		o.log.Warn("event delivery failed",
			zap.String("request_id", requestID), zap.String("type", string(typ)), zap.Error(err))
	}
}

// commitProfile retries once on a concurrent version conflict; the
// store's CAS loses to a competing monitoring run, not to ourselves.
func (o *Orchestrator) commitProfile(ctx context.Context, req *Request, d entity.Draft) (*entity.Profile, error) {
	p, err := o.profiles.Commit(ctx, req.TenantID, req.ID, d)
	if faults.IsKind(err, faults.KindConcurrencyConflict) {
		p, err = o.profiles.Commit(ctx, req.TenantID, req.ID, d)
	}
	return p, err
}

func (o *Orchestrator) finishFailed(ctx context.Context, req *Request, err error) {
	ctx = context.WithoutCancel(ctx)
	if faults.IsKind(err, faults.KindInternalInvariant) && strings.Contains(err.Error(), "cancelled") {
		o.finishCancelled(ctx, req)
		return
	}
	req.Status = contracts.StatusFailed
	req.FailureCode = string(faults.KindOf(err))
	req.UpdatedAt = time.Now().UTC()
	_ = o.store.Update(ctx, req)
	_, _ = o.trail.Record(ctx, req.TenantID, req.ID, "system", audit.EventInvestigationFailed, map[string]any{
		"kind": req.FailureCode, "error": err.Error(),
	})
	o.log.Error("investigation failed",
		zap.String("request_id", req.ID), zap.String("kind", req.FailureCode), zap.Error(err))
}

func (o *Orchestrator) finishCancelled(ctx context.Context, req *Request) {
	req.Status = contracts.StatusCancelled
	req.UpdatedAt = time.Now().UTC()
	_ = o.store.Update(ctx, req)
	_, _ = o.trail.Record(ctx, req.TenantID, req.ID, "system", audit.EventRequestCancelled, nil)
	o.log.Info("investigation cancelled", zap.String("request_id", req.ID))
}

func (o *Orchestrator) setStatus(ctx context.Context, req *Request, s contracts.RequestStatus) {
	req.Status = s
	req.UpdatedAt = time.Now().UTC()
	if err := o.store.Update(ctx, req); err != nil {
		o.log.Error("status update failed",
			zap.String("request_id", req.ID), zap.String("status", string(s)), zap.Error(err))
	}
}

// Get returns the tenant's request.
func (o *Orchestrator) Get(ctx context.Context, tenantID, requestID string) (*Request, error) {
	return o.store.Get(ctx, tenantID, requestID)
}

// List pages the tenant's requests newest-first.
func (o *Orchestrator) List(ctx context.Context, tenantID string, f ListFilter) ([]*Request, error) {
	return o.store.List(ctx, tenantID, f)
}

// Cancel aborts a request. A running investigation shuts down
// cooperatively: its goroutine writes the CANCELLED checkpoint and no
// profile version is published.
func (o *Orchestrator) Cancel(ctx context.Context, tenantID, requestID, actor string) error {
	req, err := o.store.Get(ctx, tenantID, requestID)
	if err != nil {
		return err
	}
	if req.Status.Terminal() {
		return faults.New(faults.KindValidation, "orchestrator.cancel", "request already terminal")
	}

	o.mu.Lock()
	cancel, running := o.cancels[requestID]
	o.mu.Unlock()
	if running {
		cancel()
	} else {
		req.Status = contracts.StatusCancelled
		req.UpdatedAt = time.Now().UTC()
		if err := o.store.Update(ctx, req); err != nil {
			return err
		}
	}
	_, _ = o.trail.Record(ctx, tenantID, requestID, actor, audit.EventRequestCancelled, map[string]any{
		"was_running": running,
	})
	return nil
}

// Wait blocks until every in-flight investigation goroutine has
// finished. Shutdown and tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// connectedRisks surveys the subject's network and prices each risky
// neighbor by its own latest profile.
func (o *Orchestrator) connectedRisks(ctx context.Context, tenantID, entityID string, degree contracts.Degree) []risk.ConnectedRisk {
	neighbors, err := o.graph.Expand(ctx, tenantID, entityID, degree, o.cfg.SAR.D2EntityLimitPerHop)
	if err != nil {
		o.log.Warn("network expansion failed", zap.String("entity", entityID), zap.Error(err))
		return nil
	}

	var out []risk.ConnectedRisk
	for _, n := range neighbors {
		profile, err := o.entities.LatestProfile(ctx, tenantID, n.Entity.ID)
		if err != nil || profile == nil || profile.RiskScore <= 0 {
			continue
		}
		rels, _ := o.entities.Relationships(ctx, tenantID, n.Entity.ID)
		path, _ := o.graph.ShortestPath(ctx, tenantID, entityID, n.Entity.ID, n.Hop)
		name := ""
		if len(n.Entity.Names) > 0 {
			name = n.Entity.Names[0]
		}
		out = append(out, risk.ConnectedRisk{
			EntityID:  n.Entity.ID,
			Name:      name,
			Hop:       n.Hop,
			Strength:  n.Via.Strength,
			Intrinsic: profile.RiskScore / 100,
			Degree:    len(rels),
			Reason:    "elevated risk profile in network",
			Path:      path,
		})
	}
	return out
}

func sourcesUsed(states map[sar.InfoType]*sar.TypeState) []string {
	seen := map[string]bool{}
	for _, s := range states {
		for _, r := range s.Results {
			if r.Succeeded && r.ProviderID != "" {
				seen[r.ProviderID] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func staleSources(states map[sar.InfoType]*sar.TypeState) []string {
	seen := map[string]bool{}
	for _, s := range states {
		for _, r := range s.Results {
			if r.Stale && r.ProviderID != "" {
				seen[r.ProviderID] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func deltaNotable(p *entity.Profile) bool {
	d := p.Delta
	return len(d.New) > 0 || len(d.Changed) > 0 || len(p.EvolutionSignals) > 0
}
