package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PolicyStatus represents the lifecycle state of a policy.
type PolicyStatus string

const (
	PolicyStatusDraft      PolicyStatus = "draft"
	PolicyStatusPublished  PolicyStatus = "published"
	PolicyStatusDeprecated PolicyStatus = "deprecated"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s PolicyStatus) Valid() bool {
	switch s {
	case PolicyStatusDraft, PolicyStatusPublished, PolicyStatusDeprecated:
		return true
	}
	return false
}

// Policy is a named, versioned decision point owned by a tenant.
// Only published policies constrain behavior; drafts and deprecated
// policies are inert.
type Policy struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	TenantSlug string          `json:"tenant_slug" db:"tenant_slug"`
	PolicyKey  string          `json:"policy_key" db:"policy_key"`
	Name       string          `json:"name" db:"name"`
	Category   string          `json:"category" db:"category"`
	Scope      json.RawMessage `json:"scope,omitempty" db:"scope"` // free-form tagging
	Status     PolicyStatus    `json:"status" db:"status"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`

	// Versions is populated by reads that join policy_versions.
	Versions []*PolicyVersion `json:"versions,omitempty" db:"-"`
}

// TableName returns the table name for the Policy model
func (Policy) TableName() string {
	return "policies"
}

// NewPolicy creates a new Policy instance in draft status.
func NewPolicy(tenantSlug, policyKey, name, category string, scope json.RawMessage) *Policy {
	now := time.Now()
	return &Policy{
		ID:         uuid.New(),
		TenantSlug: tenantSlug,
		PolicyKey:  policyKey,
		Name:       name,
		Category:   category,
		Scope:      scope,
		Status:     PolicyStatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// PolicyVersion is an immutable snapshot of a policy document.
// Version numbers increase monotonically per policy; the highest
// version is the one consulted by decisions.
type PolicyVersion struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	PolicyID    uuid.UUID       `json:"policy_id" db:"policy_id"`
	Version     int             `json:"version" db:"version"`
	Document    json.RawMessage `json:"document" db:"document"` // JSONB, round-trips byte-for-byte
	EffectiveAt time.Time       `json:"effective_at" db:"effective_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the PolicyVersion model
func (PolicyVersion) TableName() string {
	return "policy_versions"
}

// NewPolicyVersion creates a new PolicyVersion instance.
func NewPolicyVersion(policyID uuid.UUID, version int, document json.RawMessage, effectiveAt time.Time) *PolicyVersion {
	return &PolicyVersion{
		ID:          uuid.New(),
		PolicyID:    policyID,
		Version:     version,
		Document:    document,
		EffectiveAt: effectiveAt,
		CreatedAt:   time.Now(),
	}
}

// PolicyOverride records an exception granted against a policy.
// Overrides are audit records only; the decision path never reads them.
type PolicyOverride struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	PolicyID   uuid.UUID       `json:"policy_id" db:"policy_id"`
	TenantSlug string          `json:"tenant_slug" db:"tenant_slug"`
	Scope      json.RawMessage `json:"scope,omitempty" db:"scope"`
	Reason     string          `json:"reason" db:"reason"`
	CreatedBy  string          `json:"created_by" db:"created_by"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the PolicyOverride model
func (PolicyOverride) TableName() string {
	return "policy_overrides"
}

// NewPolicyOverride creates a new PolicyOverride instance.
func NewPolicyOverride(policyID uuid.UUID, tenantSlug string, scope json.RawMessage, reason, createdBy string) *PolicyOverride {
	return &PolicyOverride{
		ID:         uuid.New(),
		PolicyID:   policyID,
		TenantSlug: tenantSlug,
		Scope:      scope,
		Reason:     reason,
		CreatedBy:  createdBy,
		CreatedAt:  time.Now(),
	}
}
