// Package events implements the in-process publish/subscribe registry that
// decouples the connectivity layer from business-event consumers. Lifecycle
// events (connected, disconnected, error, reconnecting) and business events
// share one registry and one dispatch discipline.
package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tablekit/poslink/internal/envelope"
)

// Handler receives one envelope per emit. Handlers run synchronously on the
// emitter's goroutine, in registration order.
type Handler func(envelope.Envelope)

// Bus is a per-event-type subscriber registry. Type entries are created
// lazily on first subscribe and removed when the last handler unsubscribes.
// A panicking handler is recovered and logged; remaining handlers for the
// same event still run, and the emitter never observes the panic.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string][]subscription

	delivered int64
	recovered int64
}

type subscription struct {
	id string
	fn Handler
}

// BusStats contains runtime statistics.
type BusStats struct {
	EventTypes      int
	Subscribers     int
	Delivered       int64
	PanicsRecovered int64
}

// NewBus creates an empty registry.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bus{
		logger: logger,
		subs:   make(map[string][]subscription),
	}
}

// Subscribe registers fn for eventType and returns a token for Unsubscribe.
// A nil handler returns an empty token and registers nothing.
func (b *Bus) Subscribe(eventType string, fn Handler) string {
	if fn == nil {
		b.logger.Warn("ignoring nil event handler", "event_type", eventType)
		return ""
	}

	id := uuid.NewString()

	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, fn: fn})
	b.mu.Unlock()

	return id
}

// Unsubscribe removes the handler registered under id for eventType.
// Unknown ids and already-removed ids are no-ops.
func (b *Bus) Unsubscribe(eventType, id string) {
	if id == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	handlers, ok := b.subs[eventType]
	if !ok {
		return
	}

	for i, sub := range handlers {
		if sub.id != id {
			continue
		}
		handlers = append(handlers[:i], handlers[i+1:]...)
		if len(handlers) == 0 {
			delete(b.subs, eventType)
		} else {
			b.subs[eventType] = handlers
		}
		return
	}
}

// Emit delivers env to every handler registered for eventType, in
// registration order. Handlers registered or removed by a running handler
// take effect on the next emit, not the current one.
func (b *Bus) Emit(eventType string, env envelope.Envelope) {
	b.mu.RLock()
	handlers := make([]subscription, len(b.subs[eventType]))
	copy(handlers, b.subs[eventType])
	b.mu.RUnlock()

	for _, sub := range handlers {
		b.dispatch(eventType, sub, env)
	}
}

// dispatch invokes one handler with panic isolation.
func (b *Bus) dispatch(eventType string, sub subscription, env envelope.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.mu.Lock()
			b.recovered++
			b.mu.Unlock()
			b.logger.Error("event handler panicked",
				"event_type", eventType,
				"subscription_id", sub.id,
				"panic", r,
			)
		}
	}()

	sub.fn(env)

	b.mu.Lock()
	b.delivered++
	b.mu.Unlock()
}

// SubscriberCount returns how many handlers are registered for eventType.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

// Stats returns current registry statistics.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, handlers := range b.subs {
		total += len(handlers)
	}

	return BusStats{
		EventTypes:      len(b.subs),
		Subscribers:     total,
		Delivered:       b.delivered,
		PanicsRecovered: b.recovered,
	}
}
