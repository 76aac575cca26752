package automation

import "github.com/syspro/erp-automation/models"

// triggerCatalog lists the event triggers rules can bind to. The
// catalog is informational; rules may reference event types outside it
// and simply never fire until a producer emits them.
var triggerCatalog = []models.Trigger{
	{Key: "attendance.check-in", Module: "attendance", Description: "An employee checked in"},
	{Key: "attendance.missed", Module: "attendance", Description: "An employee missed a scheduled check-in"},
	{Key: "projects.task-status", Module: "projects", Description: "A project task changed status"},
	{Key: "projects.over-budget", Module: "projects", Description: "A project crossed its budget threshold"},
	{Key: "support.ticket-created", Module: "support", Description: "A support ticket was opened"},
	{Key: "finance.payment-due", Module: "finance", Description: "An invoice payment is due"},
	{Key: "crm.deal-stage", Module: "crm", Description: "A CRM deal moved to a new stage"},
	{Key: "revops.campaign-performance", Module: "revops", Description: "A campaign performance threshold was crossed"},
}

// Triggers returns the trigger catalog.
func Triggers() []models.Trigger {
	out := make([]models.Trigger, len(triggerCatalog))
	copy(out, triggerCatalog)
	return out
}
