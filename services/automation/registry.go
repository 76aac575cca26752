package automation

import (
	"context"
	"sort"

	"github.com/syspro/erp-automation/models"
	"go.uber.org/zap"
)

// ActionHandler executes one action type. Handlers report outcomes as
// results; returning an error is reserved for execution failures the
// dispatcher converts to a failed result.
type ActionHandler interface {
	// Handle executes the action described by the payload.
	Handle(ctx context.Context, action *models.AutomationAction) (models.ActionResult, error)
}

// HandlerFunc adapts a plain function to the ActionHandler interface.
type HandlerFunc func(ctx context.Context, action *models.AutomationAction) (models.ActionResult, error)

// Handle calls the underlying function.
func (f HandlerFunc) Handle(ctx context.Context, action *models.AutomationAction) (models.ActionResult, error) {
	return f(ctx, action)
}

// HandlerRegistry maps action types to handlers. A registry is built
// once at startup and injected into the dispatcher; it is not mutated
// afterwards, so reads need no locking.
type HandlerRegistry struct {
	handlers map[string]ActionHandler
	logger   *zap.Logger
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry(logger *zap.Logger) *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]ActionHandler),
		logger:   logger,
	}
}

// Register binds a handler to an action type, replacing any previous
// binding for the same type.
func (r *HandlerRegistry) Register(actionType string, handler ActionHandler) {
	if _, exists := r.handlers[actionType]; exists {
		r.logger.Warn("replacing action handler", zap.String("action_type", actionType))
	}
	r.handlers[actionType] = handler
}

// Get returns the handler for an action type.
func (r *HandlerRegistry) Get(actionType string) (ActionHandler, bool) {
	h, ok := r.handlers[actionType]
	return h, ok
}

// Types returns the registered action types, sorted.
func (r *HandlerRegistry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
