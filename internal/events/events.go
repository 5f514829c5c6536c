package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published by the booking engine.
const (
	TypeBookingCreated   = "booking.created"
	TypeBookingDeleted   = "booking.deleted"
	TypeCleanupCompleted = "cleanup.completed"
	TypeInventorySynced  = "inventory.synced"
)

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// New builds an event with a JSON payload. Events are advisory: a
// payload that fails to marshal is delivered empty rather than
// failing the operation that produced it.
func New(eventType string, payload interface{}) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = nil
	}
	return Event{Type: eventType, Payload: data, CreatedAt: time.Now()}
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}
