// Package events provides the typed observer used to surface lifecycle
// events to the host application. Dispatch is synchronous and runs handlers
// in registration order; nothing survives a restart.
package events

import (
	"sync"
	"time"
)

// Type discriminates lifecycle events.
type Type string

// Lifecycle event types exposed to the host application.
const (
	EventConnection       Type = "connection"
	EventAuthenticated    Type = "authenticated"
	EventDisconnection    Type = "disconnection"
	EventMessage          Type = "message"
	EventRoomCreated      Type = "room_created"
	EventRoomDeleted      Type = "room_deleted"
	EventClientJoinedRoom Type = "client_joined_room"
	EventClientLeftRoom   Type = "client_left_room"
	EventError            Type = "error"
)

// Event carries the fields common to all lifecycle notifications. Fields
// that do not apply to a given type are left zero.
type Event struct {
	Type     Type
	ClientID string
	UserID   string
	RoomID   string
	Err      error
	Payload  interface{}
	Time     time.Time
}

// Handler receives dispatched events. Handlers run on the emitting
// goroutine and must not block.
type Handler func(Event)

// Dispatcher fans events out to subscribers. Safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	all      []Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Type][]Handler)}
}

// Subscribe registers a handler for one event type.
func (d *Dispatcher) Subscribe(t Type, h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = append(d.handlers[t], h)
}

// SubscribeAll registers a handler for every event type. All-event handlers
// run after type-specific handlers, each group in registration order.
func (d *Dispatcher) SubscribeAll(h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = append(d.all, h)
}

// Emit dispatches an event synchronously. The event time is stamped here
// when the caller left it zero.
func (d *Dispatcher) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	d.mu.RLock()
	typed := d.handlers[e.Type]
	all := d.all
	d.mu.RUnlock()

	for _, h := range typed {
		h(e)
	}
	for _, h := range all {
		h(e)
	}
}
