package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/syspro/erp-automation/middleware"
	"github.com/syspro/erp-automation/models"
	"github.com/syspro/erp-automation/repositories"
	"github.com/syspro/erp-automation/services/decision"
	"github.com/syspro/erp-automation/utils"
	"go.uber.org/zap"
)

// CreatePolicyRequest represents a request to create a policy with its
// first version
type CreatePolicyRequest struct {
	PolicyKey string          `json:"policy_key" validate:"required"`
	Name      string          `json:"name" validate:"required"`
	Category  string          `json:"category"`
	Scope     json.RawMessage `json:"scope,omitempty"`
	Document  json.RawMessage `json:"document" validate:"required"`
}

// AddVersionRequest represents a request to append a policy version
type AddVersionRequest struct {
	Document json.RawMessage `json:"document" validate:"required"`
}

// UpdateStatusRequest represents a request to move a policy through its lifecycle
type UpdateStatusRequest struct {
	Status models.PolicyStatus `json:"status" validate:"required"`
}

// AddOverrideRequest represents a request to record a policy override
type AddOverrideRequest struct {
	Scope  json.RawMessage `json:"scope,omitempty"`
	Reason string          `json:"reason" validate:"required"`
}

// DecideRequest represents a policy decision request
type DecideRequest struct {
	PolicyKey string                 `json:"policy_key" validate:"required"`
	Context   map[string]interface{} `json:"context"`
}

// DecisionService resolves policy decisions
type DecisionService interface {
	Evaluate(ctx context.Context, req decision.Request) (decision.Decision, error)
}

// PolicyHandler handles policy-related HTTP requests
type PolicyHandler struct {
	policyRepo repositories.PolicyRepository
	txManager  repositories.TransactionManager
	decisions  DecisionService
	logger     *zap.Logger
}

// NewPolicyHandler creates a new PolicyHandler
func NewPolicyHandler(policyRepo repositories.PolicyRepository, txManager repositories.TransactionManager, decisions DecisionService, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{
		policyRepo: policyRepo,
		txManager:  txManager,
		decisions:  decisions,
		logger:     logger,
	}
}

// HandleListPolicies handles GET /api/v1/policies
func (h *PolicyHandler) HandleListPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	tenantSlug := middleware.GetTenantSlugFromContext(ctx)

	policies, err := h.policyRepo.List(ctx, tenantSlug)
	if err != nil {
		h.logger.Error("failed to list policies",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to retrieve policies")
		return
	}

	h.logger.Info("listed policies",
		zap.String("request_id", requestID),
		zap.String("tenant_slug", tenantSlug),
		zap.Int("count", len(policies)))

	_ = utils.WriteOK(w, policies)
}

// HandleCreatePolicy handles POST /api/v1/policies
// Creates the policy in draft status together with version 1 in one
// transaction.
func (h *PolicyHandler) HandleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	tenantSlug := middleware.GetTenantSlugFromContext(ctx)

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if !json.Valid(req.Document) {
		_ = utils.WriteBadRequest(w, "document must be valid JSON", nil)
		return
	}

	policy := models.NewPolicy(tenantSlug, req.PolicyKey, req.Name, req.Category, req.Scope)
	version := models.NewPolicyVersion(policy.ID, 1, req.Document, policy.CreatedAt)

	err := h.txManager.InTransaction(ctx, func(txCtx context.Context, tx repositories.Transaction) error {
		repo := h.policyRepo.WithTx(tx)
		if err := repo.Create(txCtx, policy); err != nil {
			return err
		}
		return repo.AddVersion(txCtx, version)
	})
	if err != nil {
		h.logger.Error("failed to create policy",
			zap.String("request_id", requestID),
			zap.String("policy_key", req.PolicyKey),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to create policy")
		return
	}

	policy.Versions = []*models.PolicyVersion{version}

	h.logger.Info("policy created",
		zap.String("request_id", requestID),
		zap.String("policy_id", policy.ID.String()),
		zap.String("policy_key", policy.PolicyKey))

	_ = utils.WriteCreated(w, policy)
}

// HandleGetPolicy handles GET /api/v1/policies/{id}
// Returns the policy with its versions, newest first.
func (h *PolicyHandler) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantSlug := middleware.GetTenantSlugFromContext(ctx)

	policyID, ok := h.parsePolicyID(w, r)
	if !ok {
		return
	}

	policy, err := h.policyRepo.GetByID(ctx, policyID, tenantSlug)
	if err != nil {
		if errors.Is(err, repositories.ErrPolicyNotFound) {
			_ = utils.WriteNotFound(w, "Policy not found")
			return
		}
		h.logger.Error("failed to fetch policy",
			zap.String("policy_id", policyID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to retrieve policy")
		return
	}

	_ = utils.WriteOK(w, policy)
}

// HandleAddVersion handles POST /api/v1/policies/{id}/versions
// The next version number is read-then-insert; a concurrent publisher
// that takes the same number surfaces as 409.
func (h *PolicyHandler) HandleAddVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	tenantSlug := middleware.GetTenantSlugFromContext(ctx)

	policyID, ok := h.parsePolicyID(w, r)
	if !ok {
		return
	}

	var req AddVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if !json.Valid(req.Document) {
		_ = utils.WriteBadRequest(w, "document must be valid JSON", nil)
		return
	}

	if _, err := h.policyRepo.GetByID(ctx, policyID, tenantSlug); err != nil {
		if errors.Is(err, repositories.ErrPolicyNotFound) {
			_ = utils.WriteNotFound(w, "Policy not found")
			return
		}
		_ = utils.WriteInternalServerError(w, "Failed to retrieve policy")
		return
	}

	maxVersion, err := h.policyRepo.MaxVersion(ctx, policyID)
	if err != nil {
		h.logger.Error("failed to resolve current version",
			zap.String("request_id", requestID),
			zap.String("policy_id", policyID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to add policy version")
		return
	}

	version := models.NewPolicyVersion(policyID, maxVersion+1, req.Document, time.Now())

	if err := h.policyRepo.AddVersion(ctx, version); err != nil {
		if errors.Is(err, repositories.ErrVersionConflict) {
			_ = utils.WriteConflict(w, "Policy version already exists, retry", map[string]interface{}{
				"version": version.Version,
			})
			return
		}
		h.logger.Error("failed to add policy version",
			zap.String("request_id", requestID),
			zap.String("policy_id", policyID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to add policy version")
		return
	}

	h.logger.Info("policy version added",
		zap.String("request_id", requestID),
		zap.String("policy_id", policyID.String()),
		zap.Int("version", version.Version))

	_ = utils.WriteCreated(w, version)
}

// HandleUpdateStatus handles PATCH /api/v1/policies/{id}/status
func (h *PolicyHandler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	tenantSlug := middleware.GetTenantSlugFromContext(ctx)

	policyID, ok := h.parsePolicyID(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if !req.Status.Valid() {
		_ = utils.WriteBadRequest(w, "status must be draft, published or deprecated", nil)
		return
	}

	if _, err := h.policyRepo.GetByID(ctx, policyID, tenantSlug); err != nil {
		if errors.Is(err, repositories.ErrPolicyNotFound) {
			_ = utils.WriteNotFound(w, "Policy not found")
			return
		}
		_ = utils.WriteInternalServerError(w, "Failed to retrieve policy")
		return
	}

	if err := h.policyRepo.UpdateStatus(ctx, policyID, req.Status); err != nil {
		h.logger.Error("failed to update policy status",
			zap.String("request_id", requestID),
			zap.String("policy_id", policyID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to update policy status")
		return
	}

	h.logger.Info("policy status updated",
		zap.String("request_id", requestID),
		zap.String("policy_id", policyID.String()),
		zap.String("status", string(req.Status)))

	_ = utils.WriteOK(w, map[string]interface{}{
		"id":     policyID,
		"status": req.Status,
	})
}

// HandleAddOverride handles POST /api/v1/policies/{id}/overrides
// Overrides are recorded for traceability only; decisions never read
// them.
func (h *PolicyHandler) HandleAddOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantSlug := middleware.GetTenantSlugFromContext(ctx)
	actor := middleware.GetActorFromContext(ctx)

	policyID, ok := h.parsePolicyID(w, r)
	if !ok {
		return
	}

	var req AddOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if _, err := h.policyRepo.GetByID(ctx, policyID, tenantSlug); err != nil {
		if errors.Is(err, repositories.ErrPolicyNotFound) {
			_ = utils.WriteNotFound(w, "Policy not found")
			return
		}
		_ = utils.WriteInternalServerError(w, "Failed to retrieve policy")
		return
	}

	override := models.NewPolicyOverride(policyID, tenantSlug, req.Scope, req.Reason, actor)
	if err := h.policyRepo.AddOverride(ctx, override); err != nil {
		h.logger.Error("failed to record override",
			zap.String("policy_id", policyID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to record override")
		return
	}

	_ = utils.WriteCreated(w, override)
}

// HandleListOverrides handles GET /api/v1/policies/{id}/overrides
func (h *PolicyHandler) HandleListOverrides(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantSlug := middleware.GetTenantSlugFromContext(ctx)

	policyID, ok := h.parsePolicyID(w, r)
	if !ok {
		return
	}

	if _, err := h.policyRepo.GetByID(ctx, policyID, tenantSlug); err != nil {
		if errors.Is(err, repositories.ErrPolicyNotFound) {
			_ = utils.WriteNotFound(w, "Policy not found")
			return
		}
		_ = utils.WriteInternalServerError(w, "Failed to retrieve policy")
		return
	}

	overrides, err := h.policyRepo.ListOverrides(ctx, policyID)
	if err != nil {
		h.logger.Error("failed to list overrides",
			zap.String("policy_id", policyID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to retrieve overrides")
		return
	}

	_ = utils.WriteOK(w, overrides)
}

// HandleDecide handles POST /api/v1/policies/decide
func (h *PolicyHandler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	tenantSlug := middleware.GetTenantSlugFromContext(ctx)

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	dec, err := h.decisions.Evaluate(ctx, decision.Request{
		TenantSlug: tenantSlug,
		PolicyKey:  req.PolicyKey,
		Context:    req.Context,
	})
	if err != nil {
		h.logger.Error("policy decision failed",
			zap.String("request_id", requestID),
			zap.String("policy_key", req.PolicyKey),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to evaluate policy")
		return
	}

	_ = utils.WriteOK(w, dec)
}

func (h *PolicyHandler) parsePolicyID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	policyID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid policy ID format", nil)
		return uuid.Nil, false
	}
	return policyID, true
}
