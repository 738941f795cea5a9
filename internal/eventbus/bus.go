// Package eventbus implements the gateway's typed, process-local pub/sub
// (spec §4.H). Delivery is synchronous within the publishing goroutine;
// a panicking subscriber is caught and logged so the rest of the
// subscriber list still runs, modeled on the state-change-callback
// idiom used throughout giantswarm-muster's services package,
// generalized from "one callback" to "many subscribers per topic."
package eventbus

import (
	"sync"

	"mcpgateway/pkg/logging"
)

// Topic names the fixed set of events non-core collaborators consume.
type Topic string

const (
	TopicServiceConnected       Topic = "service:connected"
	TopicServiceDisconnected    Topic = "service:disconnected"
	TopicServiceConnectionFail  Topic = "service:connection:failed"
	TopicEndpointStatusChanged  Topic = "endpoint:status:changed"
	TopicToolRegistryChanged    Topic = "tool-registry:changed"
	TopicCacheStats             Topic = "cache:stats"
)

// Event is the envelope delivered to subscribers. Data is topic-specific;
// subscribers type-assert it based on the Topic they registered for.
type Event struct {
	Topic Topic
	Data  any
}

// Handler receives events published to a topic it subscribed to.
// Handlers SHOULD NOT block; the bus dispatches synchronously.
type Handler func(Event)

// Bus is a typed, synchronous, panic-isolated pub/sub hub.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]Handler
	logger logging.Logger
}

// New creates a Bus. A nil logger falls back to logging.NopLogger{}.
func New(logger logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Bus{
		subs:   make(map[Topic][]Handler),
		logger: logger,
	}
}

// Subscribe registers handler to be invoked for every event published to
// topic. Returns an unsubscribe function.
func (b *Bus) Subscribe(topic Topic, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[topic] = append(b.subs[topic], handler)
	idx := len(b.subs[topic]) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.subs[topic]
		if idx < 0 || idx >= len(handlers) {
			return
		}
		// Mark removed in place; Publish skips nil entries. Avoids
		// reindexing concurrent subscribers' captured indices.
		handlers[idx] = nil
	}
}

// Publish delivers event to every subscriber of event.Topic, in
// registration order, within the calling goroutine. A panicking
// subscriber is recovered and logged; it does not prevent delivery to
// the remaining subscribers.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.subs[event.Topic]))
	copy(handlers, b.subs[event.Topic])
	b.mu.RUnlock()

	for _, h := range handlers {
		if h == nil {
			continue
		}
		b.dispatchOne(h, event)
	}
}

func (b *Bus) dispatchOne(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("EventBus", nil, "subscriber panicked handling topic %s: %v", event.Topic, r)
		}
	}()
	h(event)
}
