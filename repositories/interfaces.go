package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/syspro/erp-automation/models"
)

var (
	// ErrPolicyNotFound is returned when no policy matches the lookup.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrRuleNotFound is returned when no automation rule matches the lookup.
	ErrRuleNotFound = errors.New("automation rule not found")

	// ErrVersionConflict is returned when a policy version number is
	// already taken. Concurrent publishers computing "next version"
	// from separate reads can collide; the loser gets this error and
	// must retry, no automatic retry is built in.
	ErrVersionConflict = errors.New("policy version already exists")
)

// TransactionManager manages database transactions following the GrantPulse pattern
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// PolicyRepository owns all reads and writes of policies,
// policy_versions and policy_overrides.
type PolicyRepository interface {
	// Create inserts a new policy row.
	Create(ctx context.Context, policy *models.Policy) error

	// AddVersion inserts a policy version. The caller supplies the
	// version number; uniqueness of (policy_id, version) is enforced
	// by the store and surfaces as ErrVersionConflict.
	AddVersion(ctx context.Context, version *models.PolicyVersion) error

	// List retrieves all policies for a tenant.
	List(ctx context.Context, tenantSlug string) ([]*models.Policy, error)

	// GetByID retrieves one policy with all its versions, newest first.
	GetByID(ctx context.Context, id uuid.UUID, tenantSlug string) (*models.Policy, error)

	// GetLatest resolves the highest-numbered version of the policy
	// identified by (tenantSlug, policyKey). Returns ErrPolicyNotFound
	// when the policy or its versions are absent.
	GetLatest(ctx context.Context, tenantSlug, policyKey string) (*models.Policy, *models.PolicyVersion, error)

	// MaxVersion returns the current highest version number for a
	// policy, or 0 when it has no versions.
	MaxVersion(ctx context.Context, policyID uuid.UUID) (int, error)

	// UpdateStatus overwrites the policy status unconditionally.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.PolicyStatus) error

	// AddOverride records an override for traceability. Overrides are
	// never consulted by the decision path.
	AddOverride(ctx context.Context, override *models.PolicyOverride) error

	// ListOverrides retrieves overrides recorded against a policy.
	ListOverrides(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyOverride, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) PolicyRepository
}

// RuleRepository handles automation rule data operations.
type RuleRepository interface {
	// Create inserts a new automation rule.
	Create(ctx context.Context, rule *models.AutomationRule) error

	// GetByID retrieves a rule scoped to a tenant.
	GetByID(ctx context.Context, id uuid.UUID, tenantSlug string) (*models.AutomationRule, error)

	// List retrieves all rules for a tenant, newest first.
	List(ctx context.Context, tenantSlug string) ([]*models.AutomationRule, error)

	// ListByEventType retrieves enabled rules for a tenant and event type.
	ListByEventType(ctx context.Context, tenantSlug, eventType string) ([]*models.AutomationRule, error)

	// Update overwrites the mutable fields of a rule.
	Update(ctx context.Context, rule *models.AutomationRule) error

	// Delete removes a rule.
	Delete(ctx context.Context, id uuid.UUID, tenantSlug string) error

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) RuleRepository
}

// ActionQueueRepository handles the automation action queue.
type ActionQueueRepository interface {
	// Enqueue inserts pending actions.
	Enqueue(ctx context.Context, actions []*models.AutomationAction) error

	// FetchPending claims up to limit due pending actions for a tenant,
	// skipping rows locked by concurrent processors and rows past
	// maxAttempts.
	FetchPending(ctx context.Context, tenantSlug string, limit, maxAttempts int) ([]*models.AutomationAction, error)

	// MarkStatus writes back the action status and error message,
	// optionally incrementing the attempt counter.
	MarkStatus(ctx context.Context, id uuid.UUID, status models.ActionStatus, errMsg string, incrementAttempt bool) error

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) ActionQueueRepository
}

// RuleAuditRepository handles rule evaluation audit records.
type RuleAuditRepository interface {
	// Insert records one rule evaluation.
	Insert(ctx context.Context, audit *models.RuleAudit) error

	// ListByTenant retrieves recent audits for a tenant.
	ListByTenant(ctx context.Context, tenantSlug string, limit int) ([]*models.RuleAudit, error)

	// ListByDateRange retrieves audits for a tenant within a window.
	ListByDateRange(ctx context.Context, tenantSlug string, start, end time.Time, limit int) ([]*models.RuleAudit, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) RuleAuditRepository
}

// TenantRepository handles tenant data operations. Tenant rows are
// provisioned by the surrounding ERP; this service only reads them,
// notably to enumerate tenants for the periodic queue drain.
type TenantRepository interface {
	// Create creates a new tenant
	Create(ctx context.Context, tenant *models.Tenant) error

	// GetBySlug retrieves a tenant by slug
	GetBySlug(ctx context.Context, slug string) (*models.Tenant, error)

	// List retrieves all tenants with pagination
	List(ctx context.Context, limit, offset int) ([]*models.Tenant, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) TenantRepository
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Tenants     TenantRepository
	Policies    PolicyRepository
	Rules       RuleRepository
	ActionQueue ActionQueueRepository
	RuleAudits  RuleAuditRepository
}
