package decision

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/syspro/erp-automation/models"
	"github.com/syspro/erp-automation/repositories"
	"go.uber.org/zap"
)

// MockPolicyRepository is a mock implementation of PolicyRepository
type MockPolicyRepository struct {
	mock.Mock
}

func (m *MockPolicyRepository) Create(ctx context.Context, policy *models.Policy) error {
	args := m.Called(ctx, policy)
	return args.Error(0)
}

func (m *MockPolicyRepository) AddVersion(ctx context.Context, version *models.PolicyVersion) error {
	args := m.Called(ctx, version)
	return args.Error(0)
}

func (m *MockPolicyRepository) List(ctx context.Context, tenantSlug string) ([]*models.Policy, error) {
	args := m.Called(ctx, tenantSlug)
	if policies := args.Get(0); policies != nil {
		return policies.([]*models.Policy), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPolicyRepository) GetByID(ctx context.Context, id uuid.UUID, tenantSlug string) (*models.Policy, error) {
	args := m.Called(ctx, id, tenantSlug)
	if policy := args.Get(0); policy != nil {
		return policy.(*models.Policy), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPolicyRepository) GetLatest(ctx context.Context, tenantSlug, policyKey string) (*models.Policy, *models.PolicyVersion, error) {
	args := m.Called(ctx, tenantSlug, policyKey)
	var policy *models.Policy
	var version *models.PolicyVersion
	if p := args.Get(0); p != nil {
		policy = p.(*models.Policy)
	}
	if v := args.Get(1); v != nil {
		version = v.(*models.PolicyVersion)
	}
	return policy, version, args.Error(2)
}

func (m *MockPolicyRepository) MaxVersion(ctx context.Context, policyID uuid.UUID) (int, error) {
	args := m.Called(ctx, policyID)
	return args.Int(0), args.Error(1)
}

func (m *MockPolicyRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.PolicyStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockPolicyRepository) AddOverride(ctx context.Context, override *models.PolicyOverride) error {
	args := m.Called(ctx, override)
	return args.Error(0)
}

func (m *MockPolicyRepository) ListOverrides(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyOverride, error) {
	args := m.Called(ctx, policyID)
	if overrides := args.Get(0); overrides != nil {
		return overrides.([]*models.PolicyOverride), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPolicyRepository) WithTx(tx repositories.Transaction) repositories.PolicyRepository {
	args := m.Called(tx)
	return args.Get(0).(repositories.PolicyRepository)
}

func publishedPolicy(document string) (*models.Policy, *models.PolicyVersion) {
	policy := &models.Policy{
		ID:         uuid.New(),
		TenantSlug: "acme",
		PolicyKey:  "attendance.checkin",
		Status:     models.PolicyStatusPublished,
	}
	version := &models.PolicyVersion{
		ID:       uuid.New(),
		PolicyID: policy.ID,
		Version:  1,
		Document: json.RawMessage(document),
	}
	return policy, version
}

func newTestService(repo repositories.PolicyRepository) *Service {
	logger, _ := zap.NewDevelopment()
	return NewService(repo, nil, logger)
}

func TestEvaluate_NoPolicyAllows(t *testing.T) {
	mockRepo := new(MockPolicyRepository)
	mockRepo.On("GetLatest", mock.Anything, "acme", "missing.key").
		Return(nil, nil, repositories.ErrPolicyNotFound)

	service := newTestService(mockRepo)
	dec, err := service.Evaluate(context.Background(), Request{
		TenantSlug: "acme",
		PolicyKey:  "missing.key",
	})

	assert.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, ReasonNoPolicy, dec.Reason)
	mockRepo.AssertExpectations(t)
}

func TestEvaluate_RepositoryErrorPropagates(t *testing.T) {
	mockRepo := new(MockPolicyRepository)
	mockRepo.On("GetLatest", mock.Anything, "acme", "attendance.checkin").
		Return(nil, nil, errors.New("connection refused"))

	service := newTestService(mockRepo)
	_, err := service.Evaluate(context.Background(), Request{
		TenantSlug: "acme",
		PolicyKey:  "attendance.checkin",
	})

	assert.Error(t, err)
}

func TestEvaluate_UnpublishedAllows(t *testing.T) {
	for _, status := range []models.PolicyStatus{models.PolicyStatusDraft, models.PolicyStatusDeprecated} {
		policy, version := publishedPolicy(`{"deny":[{"field":"amount","op":"gt","value":0}]}`)
		policy.Status = status

		mockRepo := new(MockPolicyRepository)
		mockRepo.On("GetLatest", mock.Anything, "acme", "attendance.checkin").
			Return(policy, version, nil)

		service := newTestService(mockRepo)
		dec, err := service.Evaluate(context.Background(), Request{
			TenantSlug: "acme",
			PolicyKey:  "attendance.checkin",
			Context:    map[string]interface{}{"amount": 100},
		})

		assert.NoError(t, err)
		assert.True(t, dec.Allowed, "status %s should not constrain", status)
		assert.Equal(t, ReasonNotPublished, dec.Reason)
	}
}

func TestEvaluate_DenyOverridesAllow(t *testing.T) {
	policy, version := publishedPolicy(`{
		"allow": [{"field": "role", "op": "eq", "value": "manager"}],
		"deny":  [{"field": "suspended", "op": "eq", "value": true}]
	}`)

	mockRepo := new(MockPolicyRepository)
	mockRepo.On("GetLatest", mock.Anything, "acme", "attendance.checkin").
		Return(policy, version, nil)

	service := newTestService(mockRepo)
	dec, err := service.Evaluate(context.Background(), Request{
		TenantSlug: "acme",
		PolicyKey:  "attendance.checkin",
		Context: map[string]interface{}{
			"role":      "manager",
			"suspended": true,
		},
	})

	assert.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonDenyMatched, dec.Reason)
}

func TestEvaluate_AllowMatch(t *testing.T) {
	policy, version := publishedPolicy(`{
		"allow": [
			{"field": "role", "op": "eq", "value": "admin"},
			{"field": "role", "op": "eq", "value": "manager"}
		]
	}`)

	mockRepo := new(MockPolicyRepository)
	mockRepo.On("GetLatest", mock.Anything, "acme", "attendance.checkin").
		Return(policy, version, nil)

	service := newTestService(mockRepo)

	dec, err := service.Evaluate(context.Background(), Request{
		TenantSlug: "acme",
		PolicyKey:  "attendance.checkin",
		Context:    map[string]interface{}{"role": "manager"},
	})
	assert.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, ReasonAllowMatched, dec.Reason)

	dec, err = service.Evaluate(context.Background(), Request{
		TenantSlug: "acme",
		PolicyKey:  "attendance.checkin",
		Context:    map[string]interface{}{"role": "intern"},
	})
	assert.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonNoAllowMatch, dec.Reason)
}

func TestEvaluate_DefaultFallback(t *testing.T) {
	tests := []struct {
		name     string
		document string
		allowed  bool
		reason   string
	}{
		{"explicit deny default", `{"default": "deny"}`, false, "deny by default"},
		{"explicit allow default", `{"default": "allow"}`, true, "allow by default"},
		{"absent default allows", `{}`, true, "allow by default"},
		{"unrecognized default allows", `{"default": "block"}`, true, "allow by default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, version := publishedPolicy(tt.document)
			mockRepo := new(MockPolicyRepository)
			mockRepo.On("GetLatest", mock.Anything, "acme", "attendance.checkin").
				Return(policy, version, nil)

			service := newTestService(mockRepo)
			dec, err := service.Evaluate(context.Background(), Request{
				TenantSlug: "acme",
				PolicyKey:  "attendance.checkin",
			})

			assert.NoError(t, err)
			assert.Equal(t, tt.allowed, dec.Allowed)
			assert.Equal(t, tt.reason, dec.Reason)
		})
	}
}

func TestEvaluate_MalformedDocumentAllows(t *testing.T) {
	policy, version := publishedPolicy(`{not valid json`)

	mockRepo := new(MockPolicyRepository)
	mockRepo.On("GetLatest", mock.Anything, "acme", "attendance.checkin").
		Return(policy, version, nil)

	service := newTestService(mockRepo)
	dec, err := service.Evaluate(context.Background(), Request{
		TenantSlug: "acme",
		PolicyKey:  "attendance.checkin",
	})

	assert.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, "allow by default", dec.Reason)
}

func TestEvaluate_DefaultIgnoredWhenAllowListPresent(t *testing.T) {
	policy, version := publishedPolicy(`{
		"allow":   [{"field": "role", "op": "eq", "value": "admin"}],
		"default": "allow"
	}`)

	mockRepo := new(MockPolicyRepository)
	mockRepo.On("GetLatest", mock.Anything, "acme", "attendance.checkin").
		Return(policy, version, nil)

	service := newTestService(mockRepo)
	dec, err := service.Evaluate(context.Background(), Request{
		TenantSlug: "acme",
		PolicyKey:  "attendance.checkin",
		Context:    map[string]interface{}{"role": "intern"},
	})

	assert.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonNoAllowMatch, dec.Reason)
}
