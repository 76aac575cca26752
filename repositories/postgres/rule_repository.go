package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/syspro/erp-automation/models"
	"github.com/syspro/erp-automation/repositories"
	"go.uber.org/zap"
)

// RuleRepository implements the repositories.RuleRepository interface
type RuleRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRuleRepository creates a new automation rule repository
func NewRuleRepository(db *DB, logger *zap.Logger) repositories.RuleRepository {
	return &RuleRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new automation rule
func (r *RuleRepository) Create(ctx context.Context, rule *models.AutomationRule) error {
	query := `
		INSERT INTO automation_rules (id, tenant_slug, name, description, event_type, condition, actions,
			scope, enabled, simulation_only, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		rule.ID,
		rule.TenantSlug,
		rule.Name,
		rule.Description,
		rule.EventType,
		[]byte(rule.Condition),
		[]byte(rule.Actions),
		nullableJSON(rule.Scope),
		rule.Enabled,
		rule.SimulationOnly,
		rule.Version,
		rule.CreatedAt,
		rule.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create automation rule: %w", err)
	}

	r.logger.Debug("automation rule created",
		zap.String("id", rule.ID.String()),
		zap.String("event_type", rule.EventType))
	return nil
}

// GetByID retrieves a rule scoped to a tenant
func (r *RuleRepository) GetByID(ctx context.Context, id uuid.UUID, tenantSlug string) (*models.AutomationRule, error) {
	query := `
		SELECT id, tenant_slug, name, description, event_type, condition, actions,
		       scope, enabled, simulation_only, version, created_at, updated_at
		FROM automation_rules
		WHERE id = $1 AND tenant_slug = $2
	`

	executor := GetExecutor(ctx, r.db)
	rule, err := scanRule(executor.QueryRowContext(ctx, query, id, tenantSlug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("rule %s: %w", id, repositories.ErrRuleNotFound)
		}
		return nil, fmt.Errorf("failed to get automation rule: %w", err)
	}

	return rule, nil
}

// List retrieves all rules for a tenant, newest first
func (r *RuleRepository) List(ctx context.Context, tenantSlug string) ([]*models.AutomationRule, error) {
	query := `
		SELECT id, tenant_slug, name, description, event_type, condition, actions,
		       scope, enabled, simulation_only, version, created_at, updated_at
		FROM automation_rules
		WHERE tenant_slug = $1
		ORDER BY created_at DESC
	`

	return r.queryRules(ctx, query, tenantSlug)
}

// ListByEventType retrieves enabled rules for a tenant and event type
func (r *RuleRepository) ListByEventType(ctx context.Context, tenantSlug, eventType string) ([]*models.AutomationRule, error) {
	query := `
		SELECT id, tenant_slug, name, description, event_type, condition, actions,
		       scope, enabled, simulation_only, version, created_at, updated_at
		FROM automation_rules
		WHERE tenant_slug = $1 AND event_type = $2 AND enabled = true
		ORDER BY created_at ASC
	`

	return r.queryRules(ctx, query, tenantSlug, eventType)
}

// Update overwrites the mutable fields of a rule
func (r *RuleRepository) Update(ctx context.Context, rule *models.AutomationRule) error {
	query := `
		UPDATE automation_rules
		SET name = $3,
		    description = $4,
		    event_type = $5,
		    condition = $6,
		    actions = $7,
		    scope = $8,
		    enabled = $9,
		    simulation_only = $10,
		    version = $11,
		    updated_at = $12
		WHERE id = $1 AND tenant_slug = $2
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		rule.ID,
		rule.TenantSlug,
		rule.Name,
		rule.Description,
		rule.EventType,
		[]byte(rule.Condition),
		[]byte(rule.Actions),
		nullableJSON(rule.Scope),
		rule.Enabled,
		rule.SimulationOnly,
		rule.Version,
		rule.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update automation rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", rule.ID, repositories.ErrRuleNotFound)
	}

	r.logger.Debug("automation rule updated", zap.String("id", rule.ID.String()))
	return nil
}

// Delete removes a rule
func (r *RuleRepository) Delete(ctx context.Context, id uuid.UUID, tenantSlug string) error {
	query := `DELETE FROM automation_rules WHERE id = $1 AND tenant_slug = $2`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, tenantSlug)
	if err != nil {
		return fmt.Errorf("failed to delete automation rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", id, repositories.ErrRuleNotFound)
	}

	r.logger.Debug("automation rule deleted", zap.String("id", id.String()))
	return nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *RuleRepository) WithTx(tx repositories.Transaction) repositories.RuleRepository {
	return &RuleRepository{
		db:     r.db,
		logger: r.logger,
	}
}

// queryRules is a helper method to query multiple rules
func (r *RuleRepository) queryRules(ctx context.Context, query string, args ...interface{}) ([]*models.AutomationRule, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query automation rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AutomationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule rows: %w", err)
	}

	return rules, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan logic
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*models.AutomationRule, error) {
	rule := &models.AutomationRule{}
	var condition, actions, scope []byte
	err := row.Scan(
		&rule.ID,
		&rule.TenantSlug,
		&rule.Name,
		&rule.Description,
		&rule.EventType,
		&condition,
		&actions,
		&scope,
		&rule.Enabled,
		&rule.SimulationOnly,
		&rule.Version,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rule.Condition = condition
	rule.Actions = actions
	rule.Scope = scope
	return rule, nil
}
