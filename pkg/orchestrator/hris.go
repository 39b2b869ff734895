package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/compliance"
	"github.com/cleargate/vantage/pkg/contracts"
	"github.com/cleargate/vantage/pkg/events"
	"github.com/cleargate/vantage/pkg/faults"
)

// HandleHRISEvent implements events.InboundSink: normalized HRIS events
// drive the request lifecycle without touching the HTTP surface.
func (o *Orchestrator) HandleHRISEvent(ctx context.Context, ev events.Inbound) error {
	switch ev.Type {
	case events.HireInitiated, events.RehireInitiated:
		trigger := TriggerInitial
		if ev.Type == events.RehireInitiated {
			trigger = TriggerRehire
		}
		_, err := o.Submit(ctx, o.submitParamsFrom(ev, trigger))
		return err

	case events.ConsentGranted:
		return o.releaseConsent(ctx, ev)

	case events.PositionChanged:
		_, err := o.Rescreen(ctx, ev.TenantID, ev.EmployeeRef, TriggerPositionChange, pstr(ev.Payload, "consent_token", ""))
		return err

	case events.EmployeeTerminated:
		return o.cancelEmployee(ctx, ev.TenantID, ev.EmployeeRef)
	}
	return faults.New(faults.KindValidation, "orchestrator.hris",
		fmt.Sprintf("unhandled event type %q", ev.Type))
}

// submitParamsFrom maps event payload fields onto submission parameters,
// defaulting to a Standard D1 one-time screen of a general role.
func (o *Orchestrator) submitParamsFrom(ev events.Inbound, trigger string) SubmitParams {
	return SubmitParams{
		TenantID:       ev.TenantID,
		Actor:          "hris",
		EmployeeRef:    ev.EmployeeRef,
		Subject:        ev.Subject,
		Locale:         pstr(ev.Payload, "locale", "US"),
		Role:           compliance.RoleCategory(pstr(ev.Payload, "role", string(compliance.RoleGeneral))),
		Tier:           contracts.Tier(pstr(ev.Payload, "tier", string(contracts.TierStandard))),
		Degree:         contracts.Degree(pstr(ev.Payload, "degree", string(contracts.DegreeD1))),
		Vigilance:      contracts.Vigilance(pstr(ev.Payload, "vigilance", string(contracts.VigilanceV0))),
		ConsentToken:   pstr(ev.Payload, "consent_token", ""),
		CallbackURL:    pstr(ev.Payload, "callback_url", ""),
		IdempotencyKey: ev.ID,
		Trigger:        trigger,
	}
}

// releaseConsent attaches the granted token to the employee's parked
// request and starts the investigation.
func (o *Orchestrator) releaseConsent(ctx context.Context, ev events.Inbound) error {
	token := pstr(ev.Payload, "consent_token", "")
	if token == "" {
		return faults.New(faults.KindValidation, "orchestrator.consent", "consent.granted event without token")
	}
	reqs, err := o.store.ByEmployee(ctx, ev.TenantID, ev.EmployeeRef)
	if err != nil {
		return err
	}
	for _, req := range reqs {
		if req.Status != contracts.StatusPendingConsent {
			continue
		}
		req.ConsentToken = token
		if _, err := o.start(ctx, req, false); err != nil {
			return err
		}
		o.log.Info("consent released request",
			zap.String("request_id", req.ID), zap.String("employee", ev.EmployeeRef))
		return nil
	}
	return faults.New(faults.KindNotFound, "orchestrator.consent", "no request awaiting consent for employee")
}

// Rescreen starts a monitoring investigation reusing the employee's most
// recent completed request parameters. Without a fresh consent token the
// new request parks in pending_consent.
func (o *Orchestrator) Rescreen(ctx context.Context, tenantID, employeeRef, trigger, consentToken string) (*Request, error) {
	reqs, err := o.store.ByEmployee(ctx, tenantID, employeeRef)
	if err != nil {
		return nil, err
	}
	var base *Request
	for _, r := range reqs {
		if r.Status == contracts.StatusComplete || r.Status == contracts.StatusAwaitingReview {
			base = r
			break
		}
	}
	if base == nil {
		return nil, faults.New(faults.KindNotFound, "orchestrator.rescreen", "no prior screen for employee")
	}
	return o.Submit(ctx, SubmitParams{
		TenantID:     tenantID,
		Actor:        "hris",
		EmployeeRef:  employeeRef,
		Subject:      base.Subject,
		Locale:       base.Locale,
		Role:         base.Role,
		Tier:         base.Tier,
		Degree:       base.Degree,
		Vigilance:    base.Vigilance,
		ConsentToken: consentToken,
		CallbackURL:  base.CallbackURL,
		BudgetCents:  base.BudgetCents,
		Trigger:      trigger,
	})
}

// cancelEmployee aborts every non-terminal request for a terminated
// employee. Monitoring stops with the employment relationship.
func (o *Orchestrator) cancelEmployee(ctx context.Context, tenantID, employeeRef string) error {
	reqs, err := o.store.ByEmployee(ctx, tenantID, employeeRef)
	if err != nil {
		return err
	}
	for _, req := range reqs {
		if req.Status.Terminal() {
			continue
		}
		if err := o.Cancel(ctx, tenantID, req.ID, "hris"); err != nil && !faults.IsKind(err, faults.KindValidation) {
			return err
		}
	}
	return nil
}

func pstr(payload map[string]any, key, fallback string) string {
	if payload == nil {
		return fallback
	}
	if v, ok := payload[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
