package app

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventView    = "view.changed"
	EventRuntime = "runtime.status"
)

// Event is a state change notification
type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// NewEvent creates an event of type t
func NewEvent(t string, data any) Event {
	return Event{
		ID:        uuid.New(),
		Type:      t,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// EventHandler processes events
type EventHandler func(event Event)

// Hub fans events out to subscribers
type Hub struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]EventHandler
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{handlers: make(map[int]EventHandler)}
}

// Subscribe registers a handler and returns a function removing it.
// Handlers run on the publishing goroutine and must not block.
func (h *Hub) Subscribe(handler EventHandler) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	h.handlers[id] = handler

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.handlers, id)
	}
}

// Publish dispatches an event to all subscribers
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	handlers := make([]EventHandler, 0, len(h.handlers))
	for _, fn := range h.handlers {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(event)
	}
}

// Subscribers returns the number of registered handlers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}
