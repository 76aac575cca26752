package automation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/syspro/erp-automation/models"
	"github.com/syspro/erp-automation/repositories"
	"go.uber.org/zap"
)

// MockRuleRepository is a mock implementation of RuleRepository
type MockRuleRepository struct {
	mock.Mock
}

func (m *MockRuleRepository) Create(ctx context.Context, rule *models.AutomationRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *MockRuleRepository) GetByID(ctx context.Context, id uuid.UUID, tenantSlug string) (*models.AutomationRule, error) {
	args := m.Called(ctx, id, tenantSlug)
	if rule := args.Get(0); rule != nil {
		return rule.(*models.AutomationRule), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRuleRepository) List(ctx context.Context, tenantSlug string) ([]*models.AutomationRule, error) {
	args := m.Called(ctx, tenantSlug)
	if rules := args.Get(0); rules != nil {
		return rules.([]*models.AutomationRule), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRuleRepository) ListByEventType(ctx context.Context, tenantSlug, eventType string) ([]*models.AutomationRule, error) {
	args := m.Called(ctx, tenantSlug, eventType)
	if rules := args.Get(0); rules != nil {
		return rules.([]*models.AutomationRule), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRuleRepository) Update(ctx context.Context, rule *models.AutomationRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *MockRuleRepository) Delete(ctx context.Context, id uuid.UUID, tenantSlug string) error {
	args := m.Called(ctx, id, tenantSlug)
	return args.Error(0)
}

func (m *MockRuleRepository) WithTx(tx repositories.Transaction) repositories.RuleRepository {
	args := m.Called(tx)
	return args.Get(0).(repositories.RuleRepository)
}

// MockActionQueueRepository is a mock implementation of ActionQueueRepository
type MockActionQueueRepository struct {
	mock.Mock
}

func (m *MockActionQueueRepository) Enqueue(ctx context.Context, actions []*models.AutomationAction) error {
	args := m.Called(ctx, actions)
	return args.Error(0)
}

func (m *MockActionQueueRepository) FetchPending(ctx context.Context, tenantSlug string, limit, maxAttempts int) ([]*models.AutomationAction, error) {
	args := m.Called(ctx, tenantSlug, limit, maxAttempts)
	if actions := args.Get(0); actions != nil {
		return actions.([]*models.AutomationAction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockActionQueueRepository) MarkStatus(ctx context.Context, id uuid.UUID, status models.ActionStatus, errMsg string, incrementAttempt bool) error {
	args := m.Called(ctx, id, status, errMsg, incrementAttempt)
	return args.Error(0)
}

func (m *MockActionQueueRepository) WithTx(tx repositories.Transaction) repositories.ActionQueueRepository {
	args := m.Called(tx)
	return args.Get(0).(repositories.ActionQueueRepository)
}

// MockRuleAuditRepository is a mock implementation of RuleAuditRepository
type MockRuleAuditRepository struct {
	mock.Mock
}

func (m *MockRuleAuditRepository) Insert(ctx context.Context, audit *models.RuleAudit) error {
	args := m.Called(ctx, audit)
	return args.Error(0)
}

func (m *MockRuleAuditRepository) ListByTenant(ctx context.Context, tenantSlug string, limit int) ([]*models.RuleAudit, error) {
	args := m.Called(ctx, tenantSlug, limit)
	if audits := args.Get(0); audits != nil {
		return audits.([]*models.RuleAudit), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRuleAuditRepository) ListByDateRange(ctx context.Context, tenantSlug string, start, end time.Time, limit int) ([]*models.RuleAudit, error) {
	args := m.Called(ctx, tenantSlug, start, end, limit)
	if audits := args.Get(0); audits != nil {
		return audits.([]*models.RuleAudit), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRuleAuditRepository) WithTx(tx repositories.Transaction) repositories.RuleAuditRepository {
	args := m.Called(tx)
	return args.Get(0).(repositories.RuleAuditRepository)
}

func lateCheckinRule() *models.AutomationRule {
	return models.NewAutomationRule("acme", "flag late check-ins", "attendance.check-in",
		json.RawMessage(`{"field": "minutes_late", "op": "gt", "value": 15}`),
		json.RawMessage(`[
			{"type": "attendance:flag", "params": {"attendance": {"employee_id": "e-1", "reason": "late"}}},
			{"type": "notify:log", "params": {"notify": {"recipient": "hr", "message": "late check-in"}}}
		]`))
}

func checkinEvent(minutesLate int) models.Event {
	payload, _ := json.Marshal(map[string]interface{}{"minutes_late": minutesLate})
	return models.Event{
		Type:       "attendance.check-in",
		TenantSlug: "acme",
		Payload:    payload,
		Actor:      "system",
	}
}

func TestHandleEvent_MatchedRuleEnqueuesAndAudits(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	rule := lateCheckinRule()

	ruleRepo := new(MockRuleRepository)
	ruleRepo.On("ListByEventType", mock.Anything, "acme", "attendance.check-in").
		Return([]*models.AutomationRule{rule}, nil)

	queueRepo := new(MockActionQueueRepository)
	queueRepo.On("Enqueue", mock.Anything, mock.MatchedBy(func(actions []*models.AutomationAction) bool {
		return len(actions) == 2 &&
			actions[0].ActionType == "attendance:flag" &&
			actions[1].ActionType == "notify:log" &&
			actions[0].ActionPayload.Attendance.EmployeeID == "e-1"
	})).Return(nil)

	auditRepo := new(MockRuleAuditRepository)
	auditRepo.On("Insert", mock.Anything, mock.MatchedBy(func(audit *models.RuleAudit) bool {
		return audit.Matched && !audit.Simulation && audit.TenantSlug == "acme"
	})).Return(nil)

	engine := NewEngine(ruleRepo, queueRepo, auditRepo, logger)
	err := engine.HandleEvent(context.Background(), checkinEvent(30))

	assert.NoError(t, err)
	queueRepo.AssertExpectations(t)
	auditRepo.AssertExpectations(t)
}

func TestHandleEvent_UnmatchedRuleAuditsWithoutEnqueue(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	rule := lateCheckinRule()

	ruleRepo := new(MockRuleRepository)
	ruleRepo.On("ListByEventType", mock.Anything, "acme", "attendance.check-in").
		Return([]*models.AutomationRule{rule}, nil)

	queueRepo := new(MockActionQueueRepository)

	auditRepo := new(MockRuleAuditRepository)
	auditRepo.On("Insert", mock.Anything, mock.MatchedBy(func(audit *models.RuleAudit) bool {
		return !audit.Matched
	})).Return(nil)

	engine := NewEngine(ruleRepo, queueRepo, auditRepo, logger)
	err := engine.HandleEvent(context.Background(), checkinEvent(5))

	assert.NoError(t, err)
	queueRepo.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	auditRepo.AssertExpectations(t)
}

func TestHandleEvent_SimulationOnlySkipsEnqueue(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	rule := lateCheckinRule()
	rule.SimulationOnly = true

	ruleRepo := new(MockRuleRepository)
	ruleRepo.On("ListByEventType", mock.Anything, "acme", "attendance.check-in").
		Return([]*models.AutomationRule{rule}, nil)

	queueRepo := new(MockActionQueueRepository)

	auditRepo := new(MockRuleAuditRepository)
	auditRepo.On("Insert", mock.Anything, mock.MatchedBy(func(audit *models.RuleAudit) bool {
		return audit.Matched && audit.Simulation
	})).Return(nil)

	engine := NewEngine(ruleRepo, queueRepo, auditRepo, logger)
	err := engine.HandleEvent(context.Background(), checkinEvent(30))

	assert.NoError(t, err)
	queueRepo.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestSimulateRule_ReturnsTrace(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	rule := lateCheckinRule()

	ruleRepo := new(MockRuleRepository)
	ruleRepo.On("GetByID", mock.Anything, rule.ID, "acme").Return(rule, nil)

	engine := NewEngine(ruleRepo, new(MockActionQueueRepository), new(MockRuleAuditRepository), logger)

	result, err := engine.SimulateRule(context.Background(), rule.ID, "acme",
		map[string]interface{}{"minutes_late": 45})

	assert.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Len(t, result.Actions, 2)
	assert.NotEmpty(t, result.Details)

	result, err = engine.SimulateRule(context.Background(), rule.ID, "acme",
		map[string]interface{}{"minutes_late": 0})
	assert.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestProcessor_DrainMarksTerminalStatuses(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	good := models.NewAutomationAction(nil, "acme", ActionNotifyLog, models.ActionPayload{
		Notify: &models.NotifyParams{Recipient: "ops", Message: "hello"},
	})
	bad := models.NewAutomationAction(nil, "acme", "sms:send", models.ActionPayload{})

	queueRepo := new(MockActionQueueRepository)
	queueRepo.On("FetchPending", mock.Anything, "acme", 10, 3).
		Return([]*models.AutomationAction{good, bad}, nil)
	queueRepo.On("MarkStatus", mock.Anything, good.ID, models.ActionStatusProcessing, "", false).Return(nil)
	queueRepo.On("MarkStatus", mock.Anything, good.ID, models.ActionStatusCompleted, "", false).Return(nil)
	queueRepo.On("MarkStatus", mock.Anything, bad.ID, models.ActionStatusProcessing, "", false).Return(nil)
	queueRepo.On("MarkStatus", mock.Anything, bad.ID, models.ActionStatusFailed, "No handler for sms:send", true).Return(nil)

	dispatcher := NewDispatcher(NewDefaultRegistry(nil, logger), nil, nil, logger)
	processor := NewProcessor(queueRepo, dispatcher, nil, logger, 10, 3)

	stats, err := processor.Drain(context.Background(), "acme")

	assert.NoError(t, err)
	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	queueRepo.AssertExpectations(t)
}

func TestEventBus_WildcardAndTypedDelivery(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	bus := NewEventBus(logger)

	var typed, wildcard int
	bus.Subscribe("attendance.check-in", func(ctx context.Context, event models.Event) { typed++ })
	bus.Subscribe("*", func(ctx context.Context, event models.Event) { wildcard++ })

	bus.Publish(context.Background(), checkinEvent(10))
	bus.Publish(context.Background(), models.Event{Type: "finance.payment-due", TenantSlug: "acme"})

	assert.Equal(t, 1, typed)
	assert.Equal(t, 2, wildcard)
}
