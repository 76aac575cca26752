package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syspro/erp-automation/models"
	"github.com/syspro/erp-automation/repositories"
	"go.uber.org/zap"
)

func newMockRepo(t *testing.T) (repositories.PolicyRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	repo := NewPolicyRepository(&DB{DB: db}, zap.NewNop())
	return repo, mock, func() { db.Close() }
}

func TestPolicyRepositoryCreate(t *testing.T) {
	t.Run("inserts policy row", func(t *testing.T) {
		repo, mock, cleanup := newMockRepo(t)
		defer cleanup()

		policy := models.NewPolicy("acme", "attendance.checkin", "Check-in policy", "attendance", nil)

		mock.ExpectExec("INSERT INTO policies").
			WithArgs(policy.ID, "acme", "attendance.checkin", "Check-in policy", "attendance",
				nil, models.PolicyStatusDraft, policy.CreatedAt, policy.UpdatedAt).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := repo.Create(context.Background(), policy)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPolicyRepositoryAddVersion(t *testing.T) {
	document := json.RawMessage(`{"default":"deny"}`)

	t.Run("inserts version row", func(t *testing.T) {
		repo, mock, cleanup := newMockRepo(t)
		defer cleanup()

		version := models.NewPolicyVersion(uuid.New(), 2, document, time.Now())

		mock.ExpectExec("INSERT INTO policy_versions").
			WithArgs(version.ID, version.PolicyID, 2, []byte(document), version.EffectiveAt, version.CreatedAt).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := repo.AddVersion(context.Background(), version)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps unique violation to version conflict", func(t *testing.T) {
		repo, mock, cleanup := newMockRepo(t)
		defer cleanup()

		version := models.NewPolicyVersion(uuid.New(), 2, document, time.Now())

		mock.ExpectExec("INSERT INTO policy_versions").
			WillReturnError(&pq.Error{Code: "23505"})

		err := repo.AddVersion(context.Background(), version)
		require.Error(t, err)
		assert.ErrorIs(t, err, repositories.ErrVersionConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other errors pass through", func(t *testing.T) {
		repo, mock, cleanup := newMockRepo(t)
		defer cleanup()

		version := models.NewPolicyVersion(uuid.New(), 2, document, time.Now())

		mock.ExpectExec("INSERT INTO policy_versions").
			WillReturnError(sql.ErrConnDone)

		err := repo.AddVersion(context.Background(), version)
		require.Error(t, err)
		assert.NotErrorIs(t, err, repositories.ErrVersionConflict)
	})
}

func TestPolicyRepositoryGetLatest(t *testing.T) {
	t.Run("returns highest version", func(t *testing.T) {
		repo, mock, cleanup := newMockRepo(t)
		defer cleanup()

		policyID := uuid.New()
		versionID := uuid.New()
		now := time.Now()
		document := []byte(`{"deny":[{"field":"role","op":"eq","value":"intern"}]}`)

		rows := sqlmock.NewRows([]string{
			"id", "tenant_slug", "policy_key", "name", "category", "scope", "status", "created_at", "updated_at",
			"v_id", "v_policy_id", "version", "document", "effective_at", "v_created_at",
		}).AddRow(
			policyID, "acme", "attendance.checkin", "Check-in policy", "attendance", nil,
			models.PolicyStatusPublished, now, now,
			versionID, policyID, 3, document, now, now,
		)

		mock.ExpectQuery("SELECT (.+) FROM policies p").
			WithArgs("acme", "attendance.checkin").
			WillReturnRows(rows)

		policy, version, err := repo.GetLatest(context.Background(), "acme", "attendance.checkin")
		require.NoError(t, err)
		assert.Equal(t, models.PolicyStatusPublished, policy.Status)
		assert.Equal(t, 3, version.Version)
		assert.JSONEq(t, string(document), string(version.Document))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing policy maps to not found", func(t *testing.T) {
		repo, mock, cleanup := newMockRepo(t)
		defer cleanup()

		mock.ExpectQuery("SELECT (.+) FROM policies p").
			WithArgs("acme", "unknown.key").
			WillReturnError(sql.ErrNoRows)

		_, _, err := repo.GetLatest(context.Background(), "acme", "unknown.key")
		require.Error(t, err)
		assert.ErrorIs(t, err, repositories.ErrPolicyNotFound)
	})
}

func TestPolicyRepositoryMaxVersion(t *testing.T) {
	t.Run("returns zero when no versions exist", func(t *testing.T) {
		repo, mock, cleanup := newMockRepo(t)
		defer cleanup()

		policyID := uuid.New()
		mock.ExpectQuery("SELECT COALESCE").
			WithArgs(policyID).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))

		max, err := repo.MaxVersion(context.Background(), policyID)
		require.NoError(t, err)
		assert.Equal(t, 0, max)
	})
}

func TestPolicyRepositoryUpdateStatus(t *testing.T) {
	t.Run("updates existing policy", func(t *testing.T) {
		repo, mock, cleanup := newMockRepo(t)
		defer cleanup()

		policyID := uuid.New()
		mock.ExpectExec("UPDATE policies").
			WithArgs(policyID, models.PolicyStatusPublished).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.UpdateStatus(context.Background(), policyID, models.PolicyStatusPublished)
		require.NoError(t, err)
	})

	t.Run("zero rows maps to not found", func(t *testing.T) {
		repo, mock, cleanup := newMockRepo(t)
		defer cleanup()

		policyID := uuid.New()
		mock.ExpectExec("UPDATE policies").
			WithArgs(policyID, models.PolicyStatusDeprecated).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.UpdateStatus(context.Background(), policyID, models.PolicyStatusDeprecated)
		require.Error(t, err)
		assert.ErrorIs(t, err, repositories.ErrPolicyNotFound)
	})
}

func TestPolicyRepositoryOverrides(t *testing.T) {
	t.Run("records and lists overrides", func(t *testing.T) {
		repo, mock, cleanup := newMockRepo(t)
		defer cleanup()

		policyID := uuid.New()
		override := models.NewPolicyOverride(policyID, "acme", nil, "month-end close", "ops@acme")

		mock.ExpectExec("INSERT INTO policy_overrides").
			WithArgs(override.ID, policyID, "acme", nil, "month-end close", "ops@acme", override.CreatedAt).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, repo.AddOverride(context.Background(), override))

		rows := sqlmock.NewRows([]string{"id", "policy_id", "tenant_slug", "scope", "reason", "created_by", "created_at"}).
			AddRow(override.ID, policyID, "acme", nil, "month-end close", "ops@acme", override.CreatedAt)

		mock.ExpectQuery("SELECT (.+) FROM policy_overrides").
			WithArgs(policyID).
			WillReturnRows(rows)

		overrides, err := repo.ListOverrides(context.Background(), policyID)
		require.NoError(t, err)
		require.Len(t, overrides, 1)
		assert.Equal(t, "month-end close", overrides[0].Reason)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
