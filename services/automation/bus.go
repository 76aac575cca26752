package automation

import (
	"context"
	"sync"
	"time"

	"github.com/syspro/erp-automation/models"
	"go.uber.org/zap"
)

// Subscriber receives events published on the bus.
type Subscriber func(ctx context.Context, event models.Event)

// EventBus is an in-process publish/subscribe fanout for trigger
// events. Subscribing to "*" receives every event. Delivery is
// synchronous and in subscription order; a subscriber that needs
// asynchrony spawns its own goroutine.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]Subscriber
	logger      *zap.Logger
}

// NewEventBus creates an empty event bus.
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]Subscriber),
		logger:      logger,
	}
}

// Subscribe registers a subscriber for an event type, or for every
// event with "*".
func (b *EventBus) Subscribe(eventType string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
}

// Publish delivers the event to type subscribers and wildcard
// subscribers. The received-at timestamp is stamped here if unset.
func (b *EventBus) Publish(ctx context.Context, event models.Event) {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}

	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers[event.Type])+len(b.subscribers["*"]))
	subs = append(subs, b.subscribers[event.Type]...)
	subs = append(subs, b.subscribers["*"]...)
	b.mu.RUnlock()

	b.logger.Debug("event published",
		zap.String("event_type", event.Type),
		zap.String("tenant_slug", event.TenantSlug),
		zap.Int("subscribers", len(subs)))

	for _, sub := range subs {
		sub(ctx, event)
	}
}
