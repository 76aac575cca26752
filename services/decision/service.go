package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syspro/erp-automation/internal/condition"
	"github.com/syspro/erp-automation/models"
	"github.com/syspro/erp-automation/repositories"
	"go.uber.org/zap"
)

// Reason strings returned with decisions. Callers and tests key off
// these, so they are fixed.
const (
	ReasonNoPolicy     = "no policy found"
	ReasonNotPublished = "policy not published"
	ReasonDenyMatched  = "deny condition matched"
	ReasonAllowMatched = "allow condition matched"
	ReasonNoAllowMatch = "no allow condition matched"
)

// Request identifies one decision point: a tenant, a policy key, and
// the event context the policy document is evaluated against.
type Request struct {
	TenantSlug string
	PolicyKey  string
	Context    map[string]interface{}
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Document is the decoded policy document: deny conditions override
// allow conditions, and the default applies only when no allow
// conditions are defined.
type Document struct {
	Allow   []condition.Condition `json:"allow"`
	Deny    []condition.Condition `json:"deny"`
	Default string                `json:"default,omitempty"`
}

// Recorder counts decision outcomes. Satisfied by observability.Metrics.
type Recorder interface {
	RecordDecision(allowed bool)
}

// Service resolves the latest published policy version for a tenant
// and applies the deny-overrides combination algorithm.
type Service struct {
	policyRepo repositories.PolicyRepository
	metrics    Recorder
	logger     *zap.Logger
}

// NewService creates a new decision Service instance.
func NewService(policyRepo repositories.PolicyRepository, metrics Recorder, logger *zap.Logger) *Service {
	return &Service{
		policyRepo: policyRepo,
		metrics:    metrics,
		logger:     logger,
	}
}

// Evaluate produces an allow/deny decision for the request. Absence of
// a policy, and any policy not in published status, are permissive:
// policies only constrain behavior once published. Store failures other
// than not-found are returned as errors.
func (s *Service) Evaluate(ctx context.Context, req Request) (Decision, error) {
	policy, version, err := s.policyRepo.GetLatest(ctx, req.TenantSlug, req.PolicyKey)
	if err != nil {
		if errors.Is(err, repositories.ErrPolicyNotFound) {
			return s.record(Decision{Allowed: true, Reason: ReasonNoPolicy}), nil
		}
		return Decision{}, fmt.Errorf("failed to fetch policy: %w", err)
	}

	if policy.Status != models.PolicyStatusPublished {
		s.logger.Debug("policy not published, allowing",
			zap.String("policy_key", req.PolicyKey),
			zap.String("status", string(policy.Status)))
		return s.record(Decision{Allowed: true, Reason: ReasonNotPublished}), nil
	}

	doc := s.decodeDocument(version.Document, req.PolicyKey)
	dec := s.apply(doc, req.Context)

	s.logger.Debug("policy decision",
		zap.String("tenant_slug", req.TenantSlug),
		zap.String("policy_key", req.PolicyKey),
		zap.Int("version", version.Version),
		zap.Bool("allowed", dec.Allowed),
		zap.String("reason", dec.Reason))

	return s.record(dec), nil
}

// decodeDocument parses the stored document. A document that does not
// decode is treated as empty: a misconfigured policy degrades to its
// permissive default rather than failing the decision.
func (s *Service) decodeDocument(raw json.RawMessage, policyKey string) Document {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Warn("failed to decode policy document",
			zap.String("policy_key", policyKey),
			zap.Error(err))
		return Document{}
	}
	return doc
}

// apply runs the deny-overrides combination: any matching deny wins,
// the allow list is consulted next, and the document default is the
// last resort.
func (s *Service) apply(doc Document, ctx map[string]interface{}) Decision {
	for _, deny := range doc.Deny {
		if condition.Evaluate(deny, ctx) {
			return Decision{Allowed: false, Reason: ReasonDenyMatched}
		}
	}

	if len(doc.Allow) > 0 {
		for _, allow := range doc.Allow {
			if condition.Evaluate(allow, ctx) {
				return Decision{Allowed: true, Reason: ReasonAllowMatched}
			}
		}
		return Decision{Allowed: false, Reason: ReasonNoAllowMatch}
	}

	// Only an explicit "deny" default denies; anything else, including
	// absence, behaves as allow.
	if doc.Default == "deny" {
		return Decision{Allowed: false, Reason: "deny by default"}
	}
	return Decision{Allowed: true, Reason: "allow by default"}
}

func (s *Service) record(dec Decision) Decision {
	if s.metrics != nil {
		s.metrics.RecordDecision(dec.Allowed)
	}
	return dec
}
