package automation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/syspro/erp-automation/models"
	"github.com/syspro/erp-automation/services/decision"
	"go.uber.org/zap"
)

// MockDecider is a mock implementation of Decider
type MockDecider struct {
	mock.Mock
}

func (m *MockDecider) Evaluate(ctx context.Context, req decision.Request) (decision.Decision, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(decision.Decision), args.Error(1)
}

func webhookAction(url string) *models.AutomationAction {
	return models.NewAutomationAction(nil, "acme", ActionWebhookPost, models.ActionPayload{
		Webhook: &models.WebhookParams{URL: url},
	})
}

func TestDispatch_WebhookDelivery(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := NewDefaultRegistry(server.Client(), logger)
	dispatcher := NewDispatcher(registry, nil, nil, logger)

	result := dispatcher.Dispatch(context.Background(), webhookAction(server.URL))

	assert.Equal(t, models.ActionStatusCompleted, result.Status)
	assert.Empty(t, result.Error)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDispatch_WebhookNon2xxFails(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	registry := NewDefaultRegistry(server.Client(), logger)
	dispatcher := NewDispatcher(registry, nil, nil, logger)

	result := dispatcher.Dispatch(context.Background(), webhookAction(server.URL))

	assert.Equal(t, models.ActionStatusFailed, result.Status)
	assert.Equal(t, "Webhook responded 502", result.Error)
}

func TestDispatch_PolicyGateBlocks(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	decider := new(MockDecider)
	decider.On("Evaluate", mock.Anything, mock.MatchedBy(func(req decision.Request) bool {
		return req.TenantSlug == "acme" && req.PolicyKey == "webhooks.outbound"
	})).Return(decision.Decision{Allowed: false, Reason: "deny condition matched"}, nil)

	registry := NewDefaultRegistry(server.Client(), logger)
	dispatcher := NewDispatcher(registry, decider, nil, logger)

	action := webhookAction(server.URL)
	action.ActionPayload.PolicyKey = "webhooks.outbound"
	action.ActionPayload.Context = json.RawMessage(`{"target": "external"}`)

	result := dispatcher.Dispatch(context.Background(), action)

	assert.Equal(t, models.ActionStatusFailed, result.Status)
	assert.Equal(t, "deny condition matched", result.Error)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "blocked action must not reach the handler")
	decider.AssertExpectations(t)
}

func TestDispatch_PolicyGateAllows(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	decider := new(MockDecider)
	decider.On("Evaluate", mock.Anything, mock.Anything).
		Return(decision.Decision{Allowed: true, Reason: "allow by default"}, nil)

	registry := NewDefaultRegistry(nil, logger)
	dispatcher := NewDispatcher(registry, decider, nil, logger)

	action := models.NewAutomationAction(nil, "acme", ActionNotifyLog, models.ActionPayload{
		PolicyKey: "notifications.send",
		Notify:    &models.NotifyParams{Recipient: "ops", Message: "check-in missed"},
	})

	result := dispatcher.Dispatch(context.Background(), action)
	assert.Equal(t, models.ActionStatusCompleted, result.Status)
}

func TestDispatch_PolicyEvaluationErrorBlocks(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	decider := new(MockDecider)
	decider.On("Evaluate", mock.Anything, mock.Anything).
		Return(decision.Decision{}, errors.New("connection refused"))

	registry := NewDefaultRegistry(nil, logger)
	dispatcher := NewDispatcher(registry, decider, nil, logger)

	action := models.NewAutomationAction(nil, "acme", ActionNotifyLog, models.ActionPayload{
		PolicyKey: "notifications.send",
	})

	result := dispatcher.Dispatch(context.Background(), action)
	assert.Equal(t, models.ActionStatusFailed, result.Status)
	assert.Contains(t, result.Error, "policy evaluation failed")
}

func TestDispatch_MissingHandlerFails(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	dispatcher := NewDispatcher(NewHandlerRegistry(logger), nil, nil, logger)

	action := models.NewAutomationAction(nil, "acme", "sms:send", models.ActionPayload{})
	result := dispatcher.Dispatch(context.Background(), action)

	assert.Equal(t, models.ActionStatusFailed, result.Status)
	assert.Equal(t, "No handler for sms:send", result.Error)
}

func TestDispatch_HandlerErrorBecomesFailedResult(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	registry := NewHandlerRegistry(logger)
	registry.Register("broken:handler", HandlerFunc(func(ctx context.Context, action *models.AutomationAction) (models.ActionResult, error) {
		return models.ActionResult{}, errors.New("downstream unavailable")
	}))
	dispatcher := NewDispatcher(registry, nil, nil, logger)

	action := models.NewAutomationAction(nil, "acme", "broken:handler", models.ActionPayload{})
	result := dispatcher.Dispatch(context.Background(), action)

	assert.Equal(t, models.ActionStatusFailed, result.Status)
	assert.Equal(t, "downstream unavailable", result.Error)
}

func TestDispatch_PanicRecovered(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	registry := NewHandlerRegistry(logger)
	registry.Register("panicky:handler", HandlerFunc(func(ctx context.Context, action *models.AutomationAction) (models.ActionResult, error) {
		panic("nil map write")
	}))
	dispatcher := NewDispatcher(registry, nil, nil, logger)

	action := models.NewAutomationAction(nil, "acme", "panicky:handler", models.ActionPayload{})

	var result models.ActionResult
	assert.NotPanics(t, func() {
		result = dispatcher.Dispatch(context.Background(), action)
	})
	assert.Equal(t, models.ActionStatusFailed, result.Status)
	assert.Contains(t, result.Error, "nil map write")
}

func TestDefaultRegistry_Types(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	registry := NewDefaultRegistry(nil, logger)

	assert.ElementsMatch(t, []string{
		ActionWebhookPost,
		ActionNotifyLog,
		ActionEmailSend,
		ActionTaskCreate,
		ActionAttendanceFlag,
	}, registry.Types())
}
