package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syspro/erp-automation/models"
	"go.uber.org/zap"
)

func newMockQueue(t *testing.T) (*ActionQueueRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	repo := NewActionQueueRepository(&DB{DB: db}, zap.NewNop()).(*ActionQueueRepository)
	return repo, mock, func() { db.Close() }
}

func TestActionQueueEnqueue(t *testing.T) {
	t.Run("inserts one row per action", func(t *testing.T) {
		repo, mock, cleanup := newMockQueue(t)
		defer cleanup()

		ruleID := uuid.New()
		actions := []*models.AutomationAction{
			models.NewAutomationAction(&ruleID, "acme", "notify:log", models.ActionPayload{
				Notify: &models.NotifyParams{Recipient: "ops", Message: "late check-in"},
			}),
			models.NewAutomationAction(&ruleID, "acme", "task:create", models.ActionPayload{
				Task: &models.TaskParams{Title: "Follow up"},
			}),
		}

		mock.ExpectExec("INSERT INTO automation_actions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO automation_actions").
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := repo.Enqueue(context.Background(), actions)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		repo, mock, cleanup := newMockQueue(t)
		defer cleanup()

		require.NoError(t, repo.Enqueue(context.Background(), nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestActionQueueFetchPending(t *testing.T) {
	t.Run("claims due pending actions", func(t *testing.T) {
		repo, mock, cleanup := newMockQueue(t)
		defer cleanup()

		actionID := uuid.New()
		ruleID := uuid.New()
		now := time.Now()
		payload := []byte(`{"notify":{"recipient":"ops","message":"late check-in"}}`)

		rows := sqlmock.NewRows([]string{
			"id", "rule_id", "tenant_slug", "action_type", "action_payload",
			"status", "error", "scheduled_for", "attempt_count", "created_at", "updated_at",
		}).AddRow(actionID, ruleID, "acme", "notify:log", payload,
			models.ActionStatusPending, "", nil, 0, now, now)

		mock.ExpectQuery("SELECT (.+) FROM automation_actions").
			WithArgs("acme", 3, 10).
			WillReturnRows(rows)

		actions, err := repo.FetchPending(context.Background(), "acme", 10, 3)
		require.NoError(t, err)
		require.Len(t, actions, 1)
		assert.Equal(t, "notify:log", actions[0].ActionType)
		require.NotNil(t, actions[0].ActionPayload.Notify)
		assert.Equal(t, "ops", actions[0].ActionPayload.Notify.Recipient)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestActionQueueMarkStatus(t *testing.T) {
	t.Run("failure increments attempt count", func(t *testing.T) {
		repo, mock, cleanup := newMockQueue(t)
		defer cleanup()

		actionID := uuid.New()
		mock.ExpectExec("UPDATE automation_actions").
			WithArgs(actionID, models.ActionStatusFailed, "Webhook responded 502", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.MarkStatus(context.Background(), actionID, models.ActionStatusFailed, "Webhook responded 502", true)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("success leaves attempt count alone", func(t *testing.T) {
		repo, mock, cleanup := newMockQueue(t)
		defer cleanup()

		actionID := uuid.New()
		mock.ExpectExec("UPDATE automation_actions").
			WithArgs(actionID, models.ActionStatusCompleted, "", 0).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.MarkStatus(context.Background(), actionID, models.ActionStatusCompleted, "", false)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
