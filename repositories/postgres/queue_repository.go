package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/syspro/erp-automation/models"
	"github.com/syspro/erp-automation/repositories"
	"go.uber.org/zap"
)

// ActionQueueRepository implements the repositories.ActionQueueRepository interface
type ActionQueueRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewActionQueueRepository creates a new action queue repository
func NewActionQueueRepository(db *DB, logger *zap.Logger) repositories.ActionQueueRepository {
	return &ActionQueueRepository{
		db:     db,
		logger: logger,
	}
}

// Enqueue inserts pending actions
func (r *ActionQueueRepository) Enqueue(ctx context.Context, actions []*models.AutomationAction) error {
	if len(actions) == 0 {
		return nil
	}

	query := `
		INSERT INTO automation_actions (id, rule_id, tenant_slug, action_type, action_payload,
			status, scheduled_for, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	executor := GetExecutor(ctx, r.db)
	for _, action := range actions {
		payload, err := json.Marshal(action.ActionPayload)
		if err != nil {
			return fmt.Errorf("failed to marshal action payload: %w", err)
		}

		_, err = executor.ExecContext(ctx, query,
			action.ID,
			action.RuleID,
			action.TenantSlug,
			action.ActionType,
			payload,
			action.Status,
			action.ScheduledFor,
			action.AttemptCount,
			action.CreatedAt,
			action.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to enqueue action: %w", err)
		}
	}

	r.logger.Debug("actions enqueued", zap.Int("count", len(actions)))
	return nil
}

// FetchPending claims up to limit due pending actions for a tenant.
// FOR UPDATE SKIP LOCKED keeps concurrent processors from claiming the
// same rows.
func (r *ActionQueueRepository) FetchPending(ctx context.Context, tenantSlug string, limit, maxAttempts int) ([]*models.AutomationAction, error) {
	query := `
		SELECT id, rule_id, tenant_slug, action_type, action_payload,
		       status, COALESCE(error, ''), scheduled_for, attempt_count, created_at, updated_at
		FROM automation_actions
		WHERE status = 'pending'
			AND tenant_slug = $1
			AND (scheduled_for IS NULL OR scheduled_for <= CURRENT_TIMESTAMP)
			AND attempt_count < $2
		ORDER BY created_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, tenantSlug, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending actions: %w", err)
	}
	defer rows.Close()

	var actions []*models.AutomationAction
	for rows.Next() {
		action := &models.AutomationAction{}
		var payload []byte
		err := rows.Scan(
			&action.ID,
			&action.RuleID,
			&action.TenantSlug,
			&action.ActionType,
			&payload,
			&action.Status,
			&action.Error,
			&action.ScheduledFor,
			&action.AttemptCount,
			&action.CreatedAt,
			&action.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		if err := json.Unmarshal(payload, &action.ActionPayload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal action payload: %w", err)
		}
		actions = append(actions, action)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action rows: %w", err)
	}

	return actions, nil
}

// MarkStatus writes back the action status and error message
func (r *ActionQueueRepository) MarkStatus(ctx context.Context, id uuid.UUID, status models.ActionStatus, errMsg string, incrementAttempt bool) error {
	query := `
		UPDATE automation_actions
		SET status = $2,
		    error = NULLIF($3, ''),
		    attempt_count = attempt_count + $4,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	increment := 0
	if incrementAttempt {
		increment = 1
	}

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, id, status, errMsg, increment); err != nil {
		return fmt.Errorf("failed to mark action status: %w", err)
	}

	r.logger.Debug("action status updated",
		zap.String("id", id.String()),
		zap.String("status", string(status)))
	return nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *ActionQueueRepository) WithTx(tx repositories.Transaction) repositories.ActionQueueRepository {
	return &ActionQueueRepository{
		db:     r.db,
		logger: r.logger,
	}
}
