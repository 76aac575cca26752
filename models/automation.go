package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActionStatus represents the processing state of a queued automation action.
type ActionStatus string

const (
	ActionStatusPending    ActionStatus = "pending"
	ActionStatusProcessing ActionStatus = "processing"
	ActionStatusCompleted  ActionStatus = "completed"
	ActionStatusFailed     ActionStatus = "failed"
)

// AutomationRule binds an event type to a condition tree and a set of
// actions for one tenant. Disabled rules never match; simulation-only
// rules match and audit but never enqueue actions.
type AutomationRule struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	TenantSlug     string          `json:"tenant_slug" db:"tenant_slug"`
	Name           string          `json:"name" db:"name"`
	Description    string          `json:"description,omitempty" db:"description"`
	EventType      string          `json:"event_type" db:"event_type"`
	Condition      json.RawMessage `json:"condition" db:"condition"`
	Actions        json.RawMessage `json:"actions" db:"actions"`
	Scope          json.RawMessage `json:"scope,omitempty" db:"scope"`
	Enabled        bool            `json:"enabled" db:"enabled"`
	SimulationOnly bool            `json:"simulation_only" db:"simulation_only"`
	Version        int             `json:"version" db:"version"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the AutomationRule model
func (AutomationRule) TableName() string {
	return "automation_rules"
}

// NewAutomationRule creates a new enabled AutomationRule instance.
func NewAutomationRule(tenantSlug, name, eventType string, condition, actions json.RawMessage) *AutomationRule {
	now := time.Now()
	return &AutomationRule{
		ID:         uuid.New(),
		TenantSlug: tenantSlug,
		Name:       name,
		EventType:  eventType,
		Condition:  condition,
		Actions:    actions,
		Enabled:    true,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// RuleAction is one action entry inside AutomationRule.Actions.
type RuleAction struct {
	Type         string          `json:"type"`
	Params       json.RawMessage `json:"params,omitempty"`
	TargetModule string          `json:"target_module,omitempty"`
}

// ActionPayload is the tagged payload carried by an automation action.
// The action type on the surrounding action discriminates which section
// a handler reads; the gate fields are honored for every type.
type ActionPayload struct {
	// PolicyKey, when set, gates execution behind a policy decision
	// evaluated with Context.
	PolicyKey string          `json:"policy_key,omitempty"`
	Context   json.RawMessage `json:"context,omitempty"`

	Webhook    *WebhookParams    `json:"webhook,omitempty"`
	Notify     *NotifyParams     `json:"notify,omitempty"`
	Task       *TaskParams       `json:"task,omitempty"`
	Attendance *AttendanceParams `json:"attendance,omitempty"`
}

// WebhookParams configures an outbound webhook call.
type WebhookParams struct {
	URL     string            `json:"url" validate:"required,url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// NotifyParams configures a notification or email log entry.
type NotifyParams struct {
	Recipient string `json:"recipient,omitempty"`
	Message   string `json:"message,omitempty"`
}

// TaskParams configures task creation.
type TaskParams struct {
	Title    string `json:"title,omitempty"`
	Assignee string `json:"assignee,omitempty"`
}

// AttendanceParams configures an attendance flag record.
type AttendanceParams struct {
	EmployeeID string `json:"employee_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// AutomationAction is one dispatch request, either drained from the
// queue or constructed for an immediate dispatch. The dispatcher owns
// it only for the duration of a single call.
type AutomationAction struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	RuleID        *uuid.UUID    `json:"rule_id,omitempty" db:"rule_id"`
	TenantSlug    string        `json:"tenant_slug" db:"tenant_slug"`
	ActionType    string        `json:"action_type" db:"action_type"`
	ActionPayload ActionPayload `json:"action_payload" db:"action_payload"`
	Status        ActionStatus  `json:"status" db:"status"`
	Error         string        `json:"error,omitempty" db:"error"`
	ScheduledFor  *time.Time    `json:"scheduled_for,omitempty" db:"scheduled_for"`
	AttemptCount  int           `json:"attempt_count" db:"attempt_count"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the AutomationAction model
func (AutomationAction) TableName() string {
	return "automation_actions"
}

// NewAutomationAction creates a pending AutomationAction instance.
func NewAutomationAction(ruleID *uuid.UUID, tenantSlug, actionType string, payload ActionPayload) *AutomationAction {
	now := time.Now()
	return &AutomationAction{
		ID:            uuid.New(),
		RuleID:        ruleID,
		TenantSlug:    tenantSlug,
		ActionType:    actionType,
		ActionPayload: payload,
		Status:        ActionStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ActionResult is the terminal outcome of one dispatch call. Every
// dispatch resolves to a result; failures are data, never panics.
type ActionResult struct {
	Status ActionStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// Completed returns a successful result.
func Completed() ActionResult {
	return ActionResult{Status: ActionStatusCompleted}
}

// Failed returns a failed result carrying the reason.
func Failed(reason string) ActionResult {
	return ActionResult{Status: ActionStatusFailed, Error: reason}
}

// RuleAudit records one evaluation of a rule against a trigger event.
type RuleAudit struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	RuleID       *uuid.UUID      `json:"rule_id,omitempty" db:"rule_id"`
	TenantSlug   string          `json:"tenant_slug" db:"tenant_slug"`
	TriggerEvent json.RawMessage `json:"trigger_event,omitempty" db:"trigger_event"`
	Matched      bool            `json:"matched" db:"matched"`
	Result       json.RawMessage `json:"result,omitempty" db:"result"`
	Actor        string          `json:"actor,omitempty" db:"actor"`
	Scope        json.RawMessage `json:"scope,omitempty" db:"scope"`
	Simulation   bool            `json:"simulation" db:"simulation"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the RuleAudit model
func (RuleAudit) TableName() string {
	return "automation_rule_audits"
}

// Event is a trigger event flowing through the automation bus.
type Event struct {
	Type       string          `json:"type"`
	TenantSlug string          `json:"tenant_slug"`
	Payload    json.RawMessage `json:"payload"`
	Actor      string          `json:"actor,omitempty"`
	ReceivedAt time.Time       `json:"received_at,omitempty"`
}

// Trigger describes one recognized event trigger.
type Trigger struct {
	Key         string `json:"key"`
	Module      string `json:"module"`
	Description string `json:"description"`
}
