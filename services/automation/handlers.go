package automation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/syspro/erp-automation/models"
	"go.uber.org/zap"
)

// Registered action types.
const (
	ActionWebhookPost    = "webhook:post"
	ActionNotifyLog      = "notify:log"
	ActionEmailSend      = "email:send"
	ActionTaskCreate     = "task:create"
	ActionAttendanceFlag = "attendance:flag"
)

// NewDefaultRegistry builds the registry with the built-in handlers.
func NewDefaultRegistry(client *http.Client, logger *zap.Logger) *HandlerRegistry {
	registry := NewHandlerRegistry(logger)
	registry.Register(ActionWebhookPost, NewWebhookHandler(client, logger))
	registry.Register(ActionNotifyLog, NewNotifyHandler(logger))
	registry.Register(ActionEmailSend, NewEmailHandler(logger))
	registry.Register(ActionTaskCreate, NewTaskHandler(logger))
	registry.Register(ActionAttendanceFlag, NewAttendanceHandler(logger))
	return registry
}

// WebhookHandler delivers the payload to an external URL.
type WebhookHandler struct {
	client *http.Client
	logger *zap.Logger
}

// NewWebhookHandler creates a webhook handler using the given client.
func NewWebhookHandler(client *http.Client, logger *zap.Logger) *WebhookHandler {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookHandler{client: client, logger: logger}
}

// Handle posts the configured body to the webhook URL. Non-2xx
// responses and transport errors both surface as failed results.
func (h *WebhookHandler) Handle(ctx context.Context, action *models.AutomationAction) (models.ActionResult, error) {
	params := action.ActionPayload.Webhook
	if params == nil || params.URL == "" {
		return models.Failed("webhook url is required"), nil
	}

	method := params.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if len(params.Body) > 0 {
		body = bytes.NewReader(params.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, params.URL, body)
	if err != nil {
		return models.Failed(err.Error()), nil
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range params.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return models.Failed(err.Error()), nil
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.Failed(fmt.Sprintf("Webhook responded %d", resp.StatusCode)), nil
	}

	h.logger.Debug("webhook delivered",
		zap.String("url", params.URL),
		zap.Int("status", resp.StatusCode))
	return models.Completed(), nil
}

// NotifyHandler records a notification in the log. Always succeeds.
type NotifyHandler struct {
	logger *zap.Logger
}

// NewNotifyHandler creates a notify handler.
func NewNotifyHandler(logger *zap.Logger) *NotifyHandler {
	return &NotifyHandler{logger: logger}
}

func (h *NotifyHandler) Handle(ctx context.Context, action *models.AutomationAction) (models.ActionResult, error) {
	params := action.ActionPayload.Notify
	if params == nil {
		params = &models.NotifyParams{}
	}
	h.logger.Info("notification",
		zap.String("tenant_slug", action.TenantSlug),
		zap.String("recipient", params.Recipient),
		zap.String("message", params.Message))
	return models.Completed(), nil
}

// EmailHandler records an outbound email in the log. Actual delivery
// is delegated to the tenant's mail relay out of process; from this
// engine's perspective handing the message off is success.
type EmailHandler struct {
	logger *zap.Logger
}

// NewEmailHandler creates an email handler.
func NewEmailHandler(logger *zap.Logger) *EmailHandler {
	return &EmailHandler{logger: logger}
}

func (h *EmailHandler) Handle(ctx context.Context, action *models.AutomationAction) (models.ActionResult, error) {
	params := action.ActionPayload.Notify
	if params == nil {
		params = &models.NotifyParams{}
	}
	h.logger.Info("email queued",
		zap.String("tenant_slug", action.TenantSlug),
		zap.String("recipient", params.Recipient),
		zap.String("message", params.Message))
	return models.Completed(), nil
}

// TaskHandler records a task-creation request for the projects module.
type TaskHandler struct {
	logger *zap.Logger
}

// NewTaskHandler creates a task handler.
func NewTaskHandler(logger *zap.Logger) *TaskHandler {
	return &TaskHandler{logger: logger}
}

func (h *TaskHandler) Handle(ctx context.Context, action *models.AutomationAction) (models.ActionResult, error) {
	params := action.ActionPayload.Task
	if params == nil {
		params = &models.TaskParams{}
	}
	h.logger.Info("task created",
		zap.String("tenant_slug", action.TenantSlug),
		zap.String("title", params.Title),
		zap.String("assignee", params.Assignee))
	return models.Completed(), nil
}

// AttendanceHandler records an attendance flag for review.
type AttendanceHandler struct {
	logger *zap.Logger
}

// NewAttendanceHandler creates an attendance handler.
func NewAttendanceHandler(logger *zap.Logger) *AttendanceHandler {
	return &AttendanceHandler{logger: logger}
}

func (h *AttendanceHandler) Handle(ctx context.Context, action *models.AutomationAction) (models.ActionResult, error) {
	params := action.ActionPayload.Attendance
	if params == nil {
		params = &models.AttendanceParams{}
	}
	h.logger.Info("attendance flagged",
		zap.String("tenant_slug", action.TenantSlug),
		zap.String("employee_id", params.EmployeeID),
		zap.String("reason", params.Reason))
	return models.Completed(), nil
}
