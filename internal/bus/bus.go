// Package bus implements a typed, process-local publish/subscribe
// event bus. Every event carries a dotted type string and an untyped
// payload; subscribers register either for an exact type or for every
// event via Subscribe("*", ...).
package bus

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Wildcard is the event type that matches every published event.
const Wildcard = "*"

// Event is the envelope delivered to subscribers.
type Event struct {
	Type       string
	Properties any
	// SessionID is populated opportunistically by Publish when the
	// properties value exposes a session identifier, so session-scoped
	// SSE streams can filter without re-inspecting every payload shape.
	SessionID string
}

// Handler receives a published event. A handler that panics is
// recovered and logged; it never stops delivery to other handlers.
type Handler func(Event)

var eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hotaru_bus_events_total",
	Help: "Total events published on the bus, by event type.",
}, []string{"type"})

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a typed pub/sub hub. The zero value is not usable; use New.
type Bus struct {
	log *slog.Logger

	mu        sync.RWMutex
	nextID    uint64
	byType    map[string][]subscription
	wildcard  []subscription
	sessionOf func(any) string
}

// New creates an empty Bus. If logger is nil, slog.Default() is used.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		log:       logger,
		byType:    make(map[string][]subscription),
		sessionOf: extractSessionID,
	}
}

// Subscribe registers handler for exactly eventType. It returns an
// unsubscribe function safe to call at most once.
func (b *Bus) Subscribe(eventType string, handler Handler) (unsubscribe func()) {
	if eventType == Wildcard {
		return b.SubscribeAll(handler)
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.byType[eventType] = append(b.byType[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.byType[eventType] = removeSub(b.byType[eventType], id)
	}
}

// SubscribeAll registers handler for every event published on the bus.
func (b *Bus) SubscribeAll(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.wildcard = append(b.wildcard, subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.wildcard = removeSub(b.wildcard, id)
	}
}

func removeSub(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Publish fans properties out to every subscriber of eventType plus
// every wildcard subscriber, in that order, within one publisher's
// call in registration order. Publish never fails: a handler panic is
// recovered and logged as a warning, and does not prevent remaining
// handlers from running.
func (b *Bus) Publish(eventType string, properties any) {
	eventsPublished.WithLabelValues(eventType).Inc()

	ev := Event{Type: eventType, Properties: properties, SessionID: b.sessionOf(properties)}

	b.mu.RLock()
	typed := append([]subscription(nil), b.byType[eventType]...)
	wild := append([]subscription(nil), b.wildcard...)
	b.mu.RUnlock()

	for _, s := range typed {
		b.dispatch(s, ev)
	}
	for _, s := range wild {
		b.dispatch(s, ev)
	}
}

func (b *Bus) dispatch(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("bus handler panicked", "event_type", ev.Type, "panic", r)
		}
	}()
	s.handler(ev)
}

// extractSessionID returns the session identifier of a properties
// value that implements SessionID() string, and "" for any other
// payload; fields and nested shapes are not inspected.
func extractSessionID(properties any) string {
	type hasSessionID interface{ SessionID() string }
	if v, ok := properties.(hasSessionID); ok {
		return v.SessionID()
	}
	return ""
}
