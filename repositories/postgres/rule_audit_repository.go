package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/syspro/erp-automation/models"
	"github.com/syspro/erp-automation/repositories"
	"go.uber.org/zap"
)

// RuleAuditRepository implements the repositories.RuleAuditRepository interface
type RuleAuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRuleAuditRepository creates a new rule audit repository
func NewRuleAuditRepository(db *DB, logger *zap.Logger) repositories.RuleAuditRepository {
	return &RuleAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert records one rule evaluation
func (r *RuleAuditRepository) Insert(ctx context.Context, audit *models.RuleAudit) error {
	query := `
		INSERT INTO automation_rule_audits (
			id, rule_id, tenant_slug, trigger_event, matched, result, actor, scope, simulation, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		audit.ID,
		audit.RuleID,
		audit.TenantSlug,
		nullableJSON(audit.TriggerEvent),
		audit.Matched,
		nullableJSON(audit.Result),
		audit.Actor,
		nullableJSON(audit.Scope),
		audit.Simulation,
		audit.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert rule audit: %w", err)
	}

	r.logger.Debug("rule audit inserted",
		zap.String("id", audit.ID.String()),
		zap.Bool("matched", audit.Matched))
	return nil
}

// ListByTenant retrieves recent audits for a tenant
func (r *RuleAuditRepository) ListByTenant(ctx context.Context, tenantSlug string, limit int) ([]*models.RuleAudit, error) {
	query := `
		SELECT id, rule_id, tenant_slug, trigger_event, matched, result,
		       COALESCE(actor, ''), scope, simulation, created_at
		FROM automation_rule_audits
		WHERE tenant_slug = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	return r.queryAudits(ctx, query, tenantSlug, limit)
}

// ListByDateRange retrieves audits for a tenant within a window
func (r *RuleAuditRepository) ListByDateRange(ctx context.Context, tenantSlug string, start, end time.Time, limit int) ([]*models.RuleAudit, error) {
	query := `
		SELECT id, rule_id, tenant_slug, trigger_event, matched, result,
		       COALESCE(actor, ''), scope, simulation, created_at
		FROM automation_rule_audits
		WHERE tenant_slug = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at DESC
		LIMIT $4
	`

	return r.queryAudits(ctx, query, tenantSlug, start, end, limit)
}

// WithTx returns a new repository instance bound to the transaction
func (r *RuleAuditRepository) WithTx(tx repositories.Transaction) repositories.RuleAuditRepository {
	return &RuleAuditRepository{
		db:     r.db,
		logger: r.logger,
	}
}

// queryAudits is a helper method to query multiple audits
func (r *RuleAuditRepository) queryAudits(ctx context.Context, query string, args ...interface{}) ([]*models.RuleAudit, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule audits: %w", err)
	}
	defer rows.Close()

	var audits []*models.RuleAudit
	for rows.Next() {
		audit := &models.RuleAudit{}
		var triggerEvent, result, scope []byte
		err := rows.Scan(
			&audit.ID,
			&audit.RuleID,
			&audit.TenantSlug,
			&triggerEvent,
			&audit.Matched,
			&result,
			&audit.Actor,
			&scope,
			&audit.Simulation,
			&audit.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule audit: %w", err)
		}
		audit.TriggerEvent = triggerEvent
		audit.Result = result
		audit.Scope = scope
		audits = append(audits, audit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}

	return audits, nil
}
