package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/syspro/erp-automation/models"
	"github.com/syspro/erp-automation/services/decision"
	"go.uber.org/zap"
)

// Decider gates action execution behind a policy decision. Satisfied
// by decision.Service.
type Decider interface {
	Evaluate(ctx context.Context, req decision.Request) (decision.Decision, error)
}

// DispatchRecorder counts dispatch outcomes. Satisfied by
// observability.Metrics.
type DispatchRecorder interface {
	RecordDispatch(actionType, status string, duration time.Duration)
}

// Dispatcher routes one action to its handler, applying the policy
// gate first. Dispatch never returns an error and never panics: every
// failure mode, including a panicking handler, resolves to a failed
// result so queue processing can always record a terminal state.
type Dispatcher struct {
	registry *HandlerRegistry
	decider  Decider
	metrics  DispatchRecorder
	logger   *zap.Logger
}

// NewDispatcher creates a new Dispatcher instance.
func NewDispatcher(registry *HandlerRegistry, decider Decider, metrics DispatchRecorder, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		decider:  decider,
		metrics:  metrics,
		logger:   logger,
	}
}

// Dispatch executes one action and returns its terminal result.
func (d *Dispatcher) Dispatch(ctx context.Context, action *models.AutomationAction) (result models.ActionResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("action handler panicked",
				zap.String("action_type", action.ActionType),
				zap.Any("panic", r))
			result = models.Failed(fmt.Sprintf("handler panic: %v", r))
		}
		if d.metrics != nil {
			d.metrics.RecordDispatch(action.ActionType, string(result.Status), time.Since(start))
		}
	}()

	if blocked, reason := d.gate(ctx, action); blocked {
		return models.Failed(reason)
	}

	handler, ok := d.registry.Get(action.ActionType)
	if !ok {
		return models.Failed(fmt.Sprintf("No handler for %s", action.ActionType))
	}

	res, err := handler.Handle(ctx, action)
	if err != nil {
		d.logger.Warn("action handler failed",
			zap.String("action_type", action.ActionType),
			zap.String("tenant_slug", action.TenantSlug),
			zap.Error(err))
		return models.Failed(err.Error())
	}
	return res
}

// gate checks the action's policy key, when present, against the
// decision service. Decision failures block the action rather than
// letting an unevaluated action through.
func (d *Dispatcher) gate(ctx context.Context, action *models.AutomationAction) (bool, string) {
	policyKey := action.ActionPayload.PolicyKey
	if policyKey == "" || d.decider == nil {
		return false, ""
	}

	var decisionCtx map[string]interface{}
	if len(action.ActionPayload.Context) > 0 {
		if err := json.Unmarshal(action.ActionPayload.Context, &decisionCtx); err != nil {
			return true, fmt.Sprintf("invalid decision context: %v", err)
		}
	}

	dec, err := d.decider.Evaluate(ctx, decision.Request{
		TenantSlug: action.TenantSlug,
		PolicyKey:  policyKey,
		Context:    decisionCtx,
	})
	if err != nil {
		return true, fmt.Sprintf("policy evaluation failed: %v", err)
	}
	if !dec.Allowed {
		reason := dec.Reason
		if reason == "" {
			reason = "policy denied"
		}
		d.logger.Info("action blocked by policy",
			zap.String("action_type", action.ActionType),
			zap.String("policy_key", policyKey),
			zap.String("reason", reason))
		return true, reason
	}
	return false, ""
}
