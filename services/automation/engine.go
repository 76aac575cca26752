package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/syspro/erp-automation/internal/condition"
	"github.com/syspro/erp-automation/models"
	"github.com/syspro/erp-automation/repositories"
	"go.uber.org/zap"
)

// SimulationResult is the outcome of a dry run of one rule.
type SimulationResult struct {
	Matched bool                   `json:"matched"`
	Actions []models.RuleAction    `json:"actions"`
	Details []condition.NodeResult `json:"details"`
}

// Engine evaluates automation rules against trigger events. Matching
// rules have their actions enqueued for the queue processor; the
// engine itself never executes actions.
type Engine struct {
	ruleRepo  repositories.RuleRepository
	queueRepo repositories.ActionQueueRepository
	auditRepo repositories.RuleAuditRepository
	logger    *zap.Logger
}

// NewEngine creates a new rule Engine instance.
func NewEngine(ruleRepo repositories.RuleRepository, queueRepo repositories.ActionQueueRepository, auditRepo repositories.RuleAuditRepository, logger *zap.Logger) *Engine {
	return &Engine{
		ruleRepo:  ruleRepo,
		queueRepo: queueRepo,
		auditRepo: auditRepo,
		logger:    logger,
	}
}

// HandleEvent evaluates every enabled rule bound to the event type.
// Each evaluation is audited; matched rules enqueue their actions
// unless the rule is simulation-only. A failure on one rule does not
// stop the others.
func (e *Engine) HandleEvent(ctx context.Context, event models.Event) error {
	rules, err := e.ruleRepo.ListByEventType(ctx, event.TenantSlug, event.Type)
	if err != nil {
		return fmt.Errorf("failed to list rules for event: %w", err)
	}

	var firstErr error
	for _, rule := range rules {
		if err := e.evaluateRule(ctx, rule, event); err != nil {
			e.logger.Error("rule evaluation failed",
				zap.String("rule_id", rule.ID.String()),
				zap.String("event_type", event.Type),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *Engine) evaluateRule(ctx context.Context, rule *models.AutomationRule, event models.Event) error {
	cond, err := condition.Parse(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to parse rule condition: %w", err)
	}

	evalCtx := eventContext(event)
	matched := condition.Evaluate(cond, evalCtx)

	var enqueued []*models.AutomationAction
	if matched && !rule.SimulationOnly {
		actions, err := e.buildActions(rule)
		if err != nil {
			return err
		}
		if err := e.queueRepo.Enqueue(ctx, actions); err != nil {
			return fmt.Errorf("failed to enqueue rule actions: %w", err)
		}
		enqueued = actions
	}

	if err := e.audit(ctx, rule, event, matched, enqueued); err != nil {
		// The rule already ran; a lost audit row is logged, not fatal.
		e.logger.Warn("failed to record rule audit",
			zap.String("rule_id", rule.ID.String()),
			zap.Error(err))
	}

	e.logger.Debug("rule evaluated",
		zap.String("rule_id", rule.ID.String()),
		zap.String("event_type", event.Type),
		zap.Bool("matched", matched),
		zap.Int("actions_enqueued", len(enqueued)))
	return nil
}

// SimulateRule dry-runs one rule against a sample context, returning
// the per-node evaluation trace. Nothing is enqueued or audited.
func (e *Engine) SimulateRule(ctx context.Context, id uuid.UUID, tenantSlug string, sample map[string]interface{}) (*SimulationResult, error) {
	rule, err := e.ruleRepo.GetByID(ctx, id, tenantSlug)
	if err != nil {
		return nil, err
	}

	cond, err := condition.Parse(rule.Condition)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule condition: %w", err)
	}

	matched, details := condition.EvaluateTrace(cond, sample)

	var actions []models.RuleAction
	if err := json.Unmarshal(rule.Actions, &actions); err != nil {
		return nil, fmt.Errorf("failed to parse rule actions: %w", err)
	}

	return &SimulationResult{
		Matched: matched,
		Actions: actions,
		Details: details,
	}, nil
}

// buildActions expands the rule's action list into pending queue rows.
func (e *Engine) buildActions(rule *models.AutomationRule) ([]*models.AutomationAction, error) {
	var entries []models.RuleAction
	if err := json.Unmarshal(rule.Actions, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse rule actions: %w", err)
	}

	actions := make([]*models.AutomationAction, 0, len(entries))
	for _, entry := range entries {
		var payload models.ActionPayload
		if len(entry.Params) > 0 {
			if err := json.Unmarshal(entry.Params, &payload); err != nil {
				return nil, fmt.Errorf("failed to parse action params: %w", err)
			}
		}
		ruleID := rule.ID
		actions = append(actions, models.NewAutomationAction(&ruleID, rule.TenantSlug, entry.Type, payload))
	}
	return actions, nil
}

func (e *Engine) audit(ctx context.Context, rule *models.AutomationRule, event models.Event, matched bool, enqueued []*models.AutomationAction) error {
	result := map[string]interface{}{
		"actions_enqueued": len(enqueued),
	}
	if len(enqueued) > 0 {
		ids := make([]string, len(enqueued))
		for i, a := range enqueued {
			ids[i] = a.ID.String()
		}
		result["action_ids"] = ids
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ruleID := rule.ID
	return e.auditRepo.Insert(ctx, &models.RuleAudit{
		ID:           uuid.New(),
		RuleID:       &ruleID,
		TenantSlug:   rule.TenantSlug,
		TriggerEvent: eventJSON,
		Matched:      matched,
		Result:       resultJSON,
		Actor:        event.Actor,
		Scope:        rule.Scope,
		Simulation:   rule.SimulationOnly,
		CreatedAt:    time.Now(),
	})
}

// eventContext builds the condition evaluation context from the event
// payload, with the event type and actor exposed under "event".
func eventContext(event models.Event) map[string]interface{} {
	ctx := make(map[string]interface{})
	if len(event.Payload) > 0 {
		// A payload that is not a JSON object leaves the context empty;
		// leaf conditions then see every field as missing.
		_ = json.Unmarshal(event.Payload, &ctx)
	}
	ctx["event"] = map[string]interface{}{
		"type":  event.Type,
		"actor": event.Actor,
	}
	return ctx
}
