package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/syspro/erp-automation/internal/condition"
	"github.com/syspro/erp-automation/middleware"
	"github.com/syspro/erp-automation/models"
	"github.com/syspro/erp-automation/repositories"
	"github.com/syspro/erp-automation/services"
	"github.com/syspro/erp-automation/services/automation"
	"github.com/syspro/erp-automation/utils"
	"go.uber.org/zap"
)

// CreateRuleRequest represents a request to create an automation rule
type CreateRuleRequest struct {
	Name           string          `json:"name" validate:"required"`
	Description    string          `json:"description,omitempty"`
	EventType      string          `json:"event_type" validate:"required"`
	Condition      json.RawMessage `json:"condition" validate:"required"`
	Actions        json.RawMessage `json:"actions" validate:"required"`
	Scope          json.RawMessage `json:"scope,omitempty"`
	Enabled        *bool           `json:"enabled,omitempty"`
	SimulationOnly bool            `json:"simulation_only"`
}

// UpdateRuleRequest represents a request to update an automation rule
type UpdateRuleRequest struct {
	Name           *string          `json:"name,omitempty"`
	Description    *string          `json:"description,omitempty"`
	EventType      *string          `json:"event_type,omitempty"`
	Condition      *json.RawMessage `json:"condition,omitempty"`
	Actions        *json.RawMessage `json:"actions,omitempty"`
	Scope          *json.RawMessage `json:"scope,omitempty"`
	Enabled        *bool            `json:"enabled,omitempty"`
	SimulationOnly *bool            `json:"simulation_only,omitempty"`
}

// SimulateRequest represents a request to dry-run a rule
type SimulateRequest struct {
	Context map[string]interface{} `json:"context"`
}

// PublishEventRequest represents a trigger event submitted over HTTP
type PublishEventRequest struct {
	Type    string          `json:"type" validate:"required"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DispatchRequest represents an immediate one-off dispatch
type DispatchRequest struct {
	ActionType string               `json:"action_type" validate:"required"`
	Payload    models.ActionPayload `json:"payload"`
}

// AutomationHandler handles automation rule and queue HTTP requests
type AutomationHandler struct {
	ruleRepo   repositories.RuleRepository
	auditRepo  repositories.RuleAuditRepository
	engine     *automation.Engine
	dispatcher *automation.Dispatcher
	processor  *automation.Processor
	bus        *automation.EventBus
	logger     *zap.Logger
}

// NewAutomationHandler creates a new AutomationHandler
func NewAutomationHandler(
	ruleRepo repositories.RuleRepository,
	auditRepo repositories.RuleAuditRepository,
	engine *automation.Engine,
	dispatcher *automation.Dispatcher,
	processor *automation.Processor,
	bus *automation.EventBus,
	logger *zap.Logger,
) *AutomationHandler {
	return &AutomationHandler{
		ruleRepo:   ruleRepo,
		auditRepo:  auditRepo,
		engine:     engine,
		dispatcher: dispatcher,
		processor:  processor,
		bus:        bus,
		logger:     logger,
	}
}

// HandleListRules handles GET /api/v1/automation/rules
func (h *AutomationHandler) HandleListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantSlug := middleware.GetTenantSlugFromContext(ctx)

	rules, err := h.ruleRepo.List(ctx, tenantSlug)
	if err != nil {
		h.logger.Error("failed to list rules", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to retrieve rules")
		return
	}

	_ = utils.WriteOK(w, rules)
}

// HandleCreateRule handles POST /api/v1/automation/rules
func (h *AutomationHandler) HandleCreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	tenantSlug := middleware.GetTenantSlugFromContext(ctx)

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	// Reject condition documents that do not parse; a rule that can
	// never be evaluated is a configuration mistake, not data.
	if _, err := condition.Parse(req.Condition); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid condition document", nil)
		return
	}
	var actions []models.RuleAction
	if err := json.Unmarshal(req.Actions, &actions); err != nil {
		_ = utils.WriteBadRequest(w, "actions must be an array of {type, params}", nil)
		return
	}

	rule := models.NewAutomationRule(tenantSlug, req.Name, req.EventType, req.Condition, req.Actions)
	rule.Description = req.Description
	rule.Scope = req.Scope
	rule.SimulationOnly = req.SimulationOnly
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	if err := h.ruleRepo.Create(ctx, rule); err != nil {
		h.logger.Error("failed to create rule",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to create rule")
		return
	}

	h.logger.Info("rule created",
		zap.String("request_id", requestID),
		zap.String("rule_id", rule.ID.String()),
		zap.String("event_type", rule.EventType))

	_ = utils.WriteCreated(w, rule)
}

// HandleGetRule handles GET /api/v1/automation/rules/{id}
func (h *AutomationHandler) HandleGetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantSlug := middleware.GetTenantSlugFromContext(ctx)

	ruleID, ok := parseRuleID(w, r)
	if !ok {
		return
	}

	rule, err := h.ruleRepo.GetByID(ctx, ruleID, tenantSlug)
	if err != nil {
		if errors.Is(err, repositories.ErrRuleNotFound) {
			_ = utils.WriteNotFound(w, "Rule not found")
			return
		}
		h.logger.Error("failed to fetch rule", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to retrieve rule")
		return
	}

	_ = utils.WriteOK(w, rule)
}

// HandleUpdateRule handles PATCH /api/v1/automation/rules/{id}
func (h *AutomationHandler) HandleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	tenantSlug := middleware.GetTenantSlugFromContext(ctx)

	ruleID, ok := parseRuleID(w, r)
	if !ok {
		return
	}

	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	rule, err := h.ruleRepo.GetByID(ctx, ruleID, tenantSlug)
	if err != nil {
		if errors.Is(err, repositories.ErrRuleNotFound) {
			_ = utils.WriteNotFound(w, "Rule not found")
			return
		}
		_ = utils.WriteInternalServerError(w, "Failed to retrieve rule")
		return
	}

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.EventType != nil {
		rule.EventType = *req.EventType
	}
	if req.Condition != nil {
		if _, err := condition.Parse(*req.Condition); err != nil {
			_ = utils.WriteBadRequest(w, "Invalid condition document", nil)
			return
		}
		rule.Condition = *req.Condition
	}
	if req.Actions != nil {
		var actions []models.RuleAction
		if err := json.Unmarshal(*req.Actions, &actions); err != nil {
			_ = utils.WriteBadRequest(w, "actions must be an array of {type, params}", nil)
			return
		}
		rule.Actions = *req.Actions
	}
	if req.Scope != nil {
		rule.Scope = *req.Scope
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.SimulationOnly != nil {
		rule.SimulationOnly = *req.SimulationOnly
	}
	rule.Version++

	if err := h.ruleRepo.Update(ctx, rule); err != nil {
		h.logger.Error("failed to update rule",
			zap.String("request_id", requestID),
			zap.String("rule_id", ruleID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to update rule")
		return
	}

	_ = utils.WriteOK(w, rule)
}

// HandleDeleteRule handles DELETE /api/v1/automation/rules/{id}
func (h *AutomationHandler) HandleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantSlug := middleware.GetTenantSlugFromContext(ctx)

	ruleID, ok := parseRuleID(w, r)
	if !ok {
		return
	}

	if err := h.ruleRepo.Delete(ctx, ruleID, tenantSlug); err != nil {
		if errors.Is(err, repositories.ErrRuleNotFound) {
			_ = utils.WriteNotFound(w, "Rule not found")
			return
		}
		h.logger.Error("failed to delete rule", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to delete rule")
		return
	}

	utils.WriteNoContent(w)
}

// HandleSimulateRule handles POST /api/v1/automation/rules/{id}/simulate
func (h *AutomationHandler) HandleSimulateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantSlug := middleware.GetTenantSlugFromContext(ctx)

	ruleID, ok := parseRuleID(w, r)
	if !ok {
		return
	}

	var req SimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	result, err := h.engine.SimulateRule(ctx, ruleID, tenantSlug, req.Context)
	if err != nil {
		if errors.Is(err, repositories.ErrRuleNotFound) {
			HandleServiceError(w, services.ErrRuleNotFound, h.logger)
			return
		}
		h.logger.Error("failed to simulate rule",
			zap.String("rule_id", ruleID.String()),
			zap.Error(err))
		HandleServiceError(w, services.WrapInternal("failed to simulate rule", err), h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandlePublishEvent handles POST /api/v1/automation/events
// Publishes a trigger event to the bus; subscribed engines evaluate
// rules synchronously before the response is written.
func (h *AutomationHandler) HandlePublishEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantSlug := middleware.GetTenantSlugFromContext(ctx)
	actor := middleware.GetActorFromContext(ctx)

	var req PublishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	event := models.Event{
		Type:       req.Type,
		TenantSlug: tenantSlug,
		Payload:    req.Payload,
		Actor:      actor,
		ReceivedAt: time.Now(),
	}
	h.bus.Publish(ctx, event)

	_ = utils.WriteJSON(w, http.StatusAccepted, utils.SuccessResponse{
		Data: map[string]interface{}{
			"type":        event.Type,
			"received_at": event.ReceivedAt,
		},
	})
}

// HandleProcessQueue handles POST /api/v1/automation/queue/process
// Drains one batch of the tenant's pending actions.
func (h *AutomationHandler) HandleProcessQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantSlug := middleware.GetTenantSlugFromContext(ctx)

	stats, err := h.processor.Drain(ctx, tenantSlug)
	if err != nil {
		h.logger.Error("failed to drain queue",
			zap.String("tenant_slug", tenantSlug),
			zap.Error(err))
		HandleServiceError(w, services.WrapInternal("failed to process queue", err), h.logger)
		return
	}

	_ = utils.WriteOK(w, stats)
}

// HandleDispatch handles POST /api/v1/automation/dispatch
// Runs one action immediately, bypassing the queue. The result is
// returned as data whether the action completed or failed.
func (h *AutomationHandler) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantSlug := middleware.GetTenantSlugFromContext(ctx)

	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	action := models.NewAutomationAction(nil, tenantSlug, req.ActionType, req.Payload)
	result := h.dispatcher.Dispatch(ctx, action)

	_ = utils.WriteOK(w, result)
}

// HandleListTriggers handles GET /api/v1/automation/triggers
func (h *AutomationHandler) HandleListTriggers(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, automation.Triggers())
}

// HandleListAudits handles GET /api/v1/automation/audits
// Optional from/to query params narrow the window; limit caps the
// result size.
func (h *AutomationHandler) HandleListAudits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantSlug := middleware.GetTenantSlugFromContext(ctx)

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 || parsed > 1000 {
			_ = utils.WriteBadRequest(w, "limit must be between 1 and 1000", nil)
			return
		}
		limit = parsed
	}

	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")

	var audits []*models.RuleAudit
	var err error
	if fromStr != "" || toStr != "" {
		from, parseErr := parseTimeParam(fromStr, time.Time{})
		if parseErr != nil {
			_ = utils.WriteBadRequest(w, "from must be RFC 3339", nil)
			return
		}
		to, parseErr := parseTimeParam(toStr, time.Now())
		if parseErr != nil {
			_ = utils.WriteBadRequest(w, "to must be RFC 3339", nil)
			return
		}
		audits, err = h.auditRepo.ListByDateRange(ctx, tenantSlug, from, to, limit)
	} else {
		audits, err = h.auditRepo.ListByTenant(ctx, tenantSlug, limit)
	}
	if err != nil {
		h.logger.Error("failed to list rule audits", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to retrieve audits")
		return
	}

	_ = utils.WriteOK(w, audits)
}

func parseTimeParam(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, value)
}

func parseRuleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	ruleID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid rule ID format", nil)
		return uuid.Nil, false
	}
	return ruleID, true
}
