package eventbus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace/pkg/model"
)

// Handler receives one event of a committed call together with its receipt.
type Handler func(r *model.Receipt, event model.Event)

// EventBus fans committed events out to in-process subscribers. Delivery is
// synchronous and in emission order.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	all      []Handler
	logger   *zap.Logger
}

// New creates a new EventBus
func New(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for events with the given name.
func (e *EventBus) Subscribe(name string, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = append(e.handlers[name], handler)
}

// SubscribeAll registers a handler for every event.
func (e *EventBus) SubscribeAll(handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, handler)
}

// Publish delivers every event of r. A panicking handler is logged and does
// not stop delivery to the others.
func (e *EventBus) Publish(r *model.Receipt) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, ev := range r.Events {
		for _, h := range e.handlers[ev.EventName()] {
			e.deliver(h, r, ev)
		}
		for _, h := range e.all {
			e.deliver(h, r, ev)
		}
	}
}

func (e *EventBus) deliver(h Handler, r *model.Receipt, ev model.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("eventbus.handler_panic",
				zap.String("event", ev.EventName()),
				zap.String("receipt", r.ID.String()),
				zap.Any("panic", rec))
		}
	}()
	h(r, ev)
}

// HasSubscribers returns true if there are subscribers for the event name
func (e *EventBus) HasSubscribers(name string) bool {
	return e.SubscriberCount(name) > 0
}

// SubscriberCount returns the number of subscribers for an event name,
// including catch-all subscribers.
func (e *EventBus) SubscriberCount(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[name]) + len(e.all)
}
