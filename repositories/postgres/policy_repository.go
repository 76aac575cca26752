package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/syspro/erp-automation/models"
	"github.com/syspro/erp-automation/repositories"
	"go.uber.org/zap"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations, used to detect version-number collisions.
const uniqueViolation = "23505"

// PolicyRepository implements the repositories.PolicyRepository interface
type PolicyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *DB, logger *zap.Logger) repositories.PolicyRepository {
	return &PolicyRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new policy row
func (r *PolicyRepository) Create(ctx context.Context, policy *models.Policy) error {
	query := `
		INSERT INTO policies (id, tenant_slug, policy_key, name, category, scope, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		policy.ID,
		policy.TenantSlug,
		policy.PolicyKey,
		policy.Name,
		policy.Category,
		nullableJSON(policy.Scope),
		policy.Status,
		policy.CreatedAt,
		policy.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}

	r.logger.Debug("policy created",
		zap.String("id", policy.ID.String()),
		zap.String("policy_key", policy.PolicyKey))
	return nil
}

// AddVersion inserts a policy version. A collision on (policy_id, version)
// surfaces as repositories.ErrVersionConflict; the store never retries.
func (r *PolicyRepository) AddVersion(ctx context.Context, version *models.PolicyVersion) error {
	query := `
		INSERT INTO policy_versions (id, policy_id, version, document, effective_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		version.ID,
		version.PolicyID,
		version.Version,
		[]byte(version.Document),
		version.EffectiveAt,
		version.CreatedAt,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("version %d for policy %s: %w",
				version.Version, version.PolicyID, repositories.ErrVersionConflict)
		}
		return fmt.Errorf("failed to add policy version: %w", err)
	}

	r.logger.Debug("policy version added",
		zap.String("policy_id", version.PolicyID.String()),
		zap.Int("version", version.Version))
	return nil
}

// List retrieves all policies for a tenant
func (r *PolicyRepository) List(ctx context.Context, tenantSlug string) ([]*models.Policy, error) {
	query := `
		SELECT id, tenant_slug, policy_key, name, category, scope, status, created_at, updated_at
		FROM policies
		WHERE tenant_slug = $1
		ORDER BY created_at DESC
	`

	return r.queryPolicies(ctx, query, tenantSlug)
}

// GetByID retrieves one policy with all its versions, newest first
func (r *PolicyRepository) GetByID(ctx context.Context, id uuid.UUID, tenantSlug string) (*models.Policy, error) {
	query := `
		SELECT id, tenant_slug, policy_key, name, category, scope, status, created_at, updated_at
		FROM policies
		WHERE id = $1 AND tenant_slug = $2
	`

	executor := GetExecutor(ctx, r.db)
	policy := &models.Policy{}
	var scope []byte

	err := executor.QueryRowContext(ctx, query, id, tenantSlug).Scan(
		&policy.ID,
		&policy.TenantSlug,
		&policy.PolicyKey,
		&policy.Name,
		&policy.Category,
		&scope,
		&policy.Status,
		&policy.CreatedAt,
		&policy.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("policy %s: %w", id, repositories.ErrPolicyNotFound)
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	policy.Scope = scope

	versions, err := r.queryVersions(ctx, policy.ID)
	if err != nil {
		return nil, err
	}
	policy.Versions = versions

	return policy, nil
}

// GetLatest resolves the highest-numbered version of a tenant policy.
// Latest version always wins regardless of effective_at.
func (r *PolicyRepository) GetLatest(ctx context.Context, tenantSlug, policyKey string) (*models.Policy, *models.PolicyVersion, error) {
	query := `
		SELECT p.id, p.tenant_slug, p.policy_key, p.name, p.category, p.scope, p.status, p.created_at, p.updated_at,
		       v.id, v.policy_id, v.version, v.document, v.effective_at, v.created_at
		FROM policies p
		JOIN policy_versions v ON v.policy_id = p.id
		WHERE p.tenant_slug = $1 AND p.policy_key = $2
		ORDER BY v.version DESC
		LIMIT 1
	`

	executor := GetExecutor(ctx, r.db)
	policy := &models.Policy{}
	version := &models.PolicyVersion{}
	var scope, document []byte

	err := executor.QueryRowContext(ctx, query, tenantSlug, policyKey).Scan(
		&policy.ID,
		&policy.TenantSlug,
		&policy.PolicyKey,
		&policy.Name,
		&policy.Category,
		&scope,
		&policy.Status,
		&policy.CreatedAt,
		&policy.UpdatedAt,
		&version.ID,
		&version.PolicyID,
		&version.Version,
		&document,
		&version.EffectiveAt,
		&version.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("policy %s/%s: %w", tenantSlug, policyKey, repositories.ErrPolicyNotFound)
		}
		return nil, nil, fmt.Errorf("failed to get latest policy: %w", err)
	}
	policy.Scope = scope
	version.Document = document

	return policy, version, nil
}

// MaxVersion returns the current highest version number for a policy
func (r *PolicyRepository) MaxVersion(ctx context.Context, policyID uuid.UUID) (int, error) {
	query := `SELECT COALESCE(MAX(version), 0) FROM policy_versions WHERE policy_id = $1`

	executor := GetExecutor(ctx, r.db)
	var max int
	if err := executor.QueryRowContext(ctx, query, policyID).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to get max version: %w", err)
	}
	return max, nil
}

// UpdateStatus overwrites the policy status unconditionally. No
// transition validation is performed; the intended flow is
// draft -> published -> deprecated.
func (r *PolicyRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.PolicyStatus) error {
	query := `
		UPDATE policies
		SET status = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update policy status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("policy %s: %w", id, repositories.ErrPolicyNotFound)
	}

	r.logger.Debug("policy status updated",
		zap.String("id", id.String()),
		zap.String("status", string(status)))
	return nil
}

// AddOverride records an override for traceability
func (r *PolicyRepository) AddOverride(ctx context.Context, override *models.PolicyOverride) error {
	query := `
		INSERT INTO policy_overrides (id, policy_id, tenant_slug, scope, reason, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		override.ID,
		override.PolicyID,
		override.TenantSlug,
		nullableJSON(override.Scope),
		override.Reason,
		override.CreatedBy,
		override.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to add policy override: %w", err)
	}

	r.logger.Debug("policy override recorded",
		zap.String("policy_id", override.PolicyID.String()),
		zap.String("created_by", override.CreatedBy))
	return nil
}

// ListOverrides retrieves overrides recorded against a policy
func (r *PolicyRepository) ListOverrides(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyOverride, error) {
	query := `
		SELECT id, policy_id, tenant_slug, scope, reason, created_by, created_at
		FROM policy_overrides
		WHERE policy_id = $1
		ORDER BY created_at DESC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy overrides: %w", err)
	}
	defer rows.Close()

	var overrides []*models.PolicyOverride
	for rows.Next() {
		override := &models.PolicyOverride{}
		var scope []byte
		err := rows.Scan(
			&override.ID,
			&override.PolicyID,
			&override.TenantSlug,
			&scope,
			&override.Reason,
			&override.CreatedBy,
			&override.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy override: %w", err)
		}
		override.Scope = scope
		overrides = append(overrides, override)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating override rows: %w", err)
	}

	return overrides, nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *PolicyRepository) WithTx(tx repositories.Transaction) repositories.PolicyRepository {
	return &PolicyRepository{
		db:     r.db,
		logger: r.logger,
	}
}

// queryPolicies is a helper method to query multiple policies
func (r *PolicyRepository) queryPolicies(ctx context.Context, query string, args ...interface{}) ([]*models.Policy, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var policies []*models.Policy
	for rows.Next() {
		policy := &models.Policy{}
		var scope []byte
		err := rows.Scan(
			&policy.ID,
			&policy.TenantSlug,
			&policy.PolicyKey,
			&policy.Name,
			&policy.Category,
			&scope,
			&policy.Status,
			&policy.CreatedAt,
			&policy.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policy.Scope = scope
		policies = append(policies, policy)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy rows: %w", err)
	}

	return policies, nil
}

// queryVersions retrieves every version of a policy, newest first
func (r *PolicyRepository) queryVersions(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyVersion, error) {
	query := `
		SELECT id, policy_id, version, document, effective_at, created_at
		FROM policy_versions
		WHERE policy_id = $1
		ORDER BY version DESC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.PolicyVersion
	for rows.Next() {
		version := &models.PolicyVersion{}
		var document []byte
		err := rows.Scan(
			&version.ID,
			&version.PolicyID,
			&version.Version,
			&document,
			&version.EffectiveAt,
			&version.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy version: %w", err)
		}
		version.Document = document
		versions = append(versions, version)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating version rows: %w", err)
	}

	return versions, nil
}

// nullableJSON maps an empty raw message to SQL NULL
func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
