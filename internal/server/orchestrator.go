// Package server implements the orchestrator: protocol routing, the room
// registry and the client↔room index. It is the only component that
// mutates room state.
package server

import (
	"context"
	"log"
	"sync"
	"time"

	"roomcast/internal/events"
	"roomcast/internal/transport"
	"roomcast/pkg/types"
)

// Config carries the orchestrator's room policy.
type Config struct {
	// MaxRoomSize caps room membership. Zero means unbounded.
	MaxRoomSize int

	// AllowDynamicRooms permits creating rooms on first join. When false,
	// joins against unknown rooms are rejected and only pre-registered
	// rooms are usable.
	AllowDynamicRooms bool

	// DefaultPermissions is applied to a client's auth record when its
	// adapter-supplied metadata declares none.
	DefaultPermissions []string

	// RateLimitPerMinute caps room messages per client. Zero disables the
	// limiter.
	RateLimitPerMinute int
}

// MessageStore receives routed room messages for persistence. Optional;
// delivery never waits on it failing.
type MessageStore interface {
	StoreRoomMessage(ctx context.Context, roomID, clientID, userID string, content interface{}, at time.Time) error
}

// ExtensionHandler receives message kinds the orchestrator does not
// recognize, so host applications can layer custom message types.
type ExtensionHandler func(clientID string, msg *types.InboundMessage)

// Stats is a read-only snapshot of server state.
type Stats struct {
	TotalClients         int            `json:"total_clients"`
	AuthenticatedClients int            `json:"authenticated_clients"`
	Rooms                map[string]int `json:"rooms"`
}

// Orchestrator composes the transport and auth layers, owns the room
// registry and routes application-level protocol messages. All registry
// mutation happens synchronously inside its methods under one lock.
type Orchestrator struct {
	transport  *transport.Adapter
	dispatcher *events.Dispatcher
	cfg        Config
	limiter    *rateLimiter

	mu          sync.RWMutex
	running     bool
	rooms       map[string]*Room
	clientRooms map[string]map[string]struct{}
	authed      map[string]types.AuthRecord

	store     MessageStore
	extension ExtensionHandler
}

// New wires an orchestrator to its transport. The transport's message
// handler and lifecycle events are claimed here; construct the
// orchestrator before accepting connections.
func New(cfg Config, t *transport.Adapter) *Orchestrator {
	o := &Orchestrator{
		transport:   t,
		dispatcher:  t.Events(),
		cfg:         cfg,
		rooms:       make(map[string]*Room),
		clientRooms: make(map[string]map[string]struct{}),
		authed:      make(map[string]types.AuthRecord),
	}
	if cfg.RateLimitPerMinute > 0 {
		o.limiter = newRateLimiter(cfg.RateLimitPerMinute)
	}

	t.SetMessageHandler(o.RouteMessage)
	o.dispatcher.Subscribe(events.EventAuthenticated, o.handleAuthenticated)
	o.dispatcher.Subscribe(events.EventDisconnection, o.handleDisconnection)

	return o
}

// SetMessageStore installs an optional persistence sink for routed room
// messages.
func (o *Orchestrator) SetMessageStore(store MessageStore) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.store = store
}

// SetExtensionHandler installs the handler for unrecognized message kinds.
func (o *Orchestrator) SetExtensionHandler(h ExtensionHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.extension = h
}

// Events returns the lifecycle dispatcher for host subscriptions.
func (o *Orchestrator) Events() *events.Dispatcher { return o.dispatcher }

// Start marks the orchestrator running. Calling Start on a running
// instance is a programming-usage error and fails fast.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrAlreadyRunning
	}
	o.running = true
	log.Printf("server: started (dynamic rooms: %t, max room size: %d)", o.cfg.AllowDynamicRooms, o.cfg.MaxRoomSize)
	return nil
}

// Stop force-disconnects every client with a shutdown reason and clears
// the room registry, the reverse index and the authenticated-client map.
// A no-op when not running.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	o.rooms = make(map[string]*Room)
	o.clientRooms = make(map[string]map[string]struct{})
	o.authed = make(map[string]types.AuthRecord)
	o.mu.Unlock()

	// Cancels every outstanding per-client timer and closes all sockets.
	o.transport.Stop()
	log.Printf("server: stopped")
	return nil
}

// Running reports whether the orchestrator is running.
func (o *Orchestrator) Running() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

// RegisterRoom pre-registers a room that survives emptiness. Intended for
// deployments with AllowDynamicRooms disabled.
func (o *Orchestrator) RegisterRoom(roomID, name string, metadata map[string]interface{}) error {
	if !types.IsValidRoomID(roomID) {
		return ErrInvalidRoomID
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.rooms[roomID]; ok {
		return ErrRoomExists
	}
	o.rooms[roomID] = newRoom(roomID, name, metadata, false)
	return nil
}

// RouteMessage dispatches one parsed client message. Unrecognized kinds go
// to the extension handler rather than erroring.
func (o *Orchestrator) RouteMessage(clientID string, msg *types.InboundMessage) {
	if !o.Running() {
		return
	}

	switch msg.Type {
	case types.MessageTypeRoomJoin:
		o.JoinRoom(clientID, msg.RoomID, msg.Metadata)
	case types.MessageTypeRoomLeave:
		o.LeaveRoom(clientID, msg.RoomID)
	case types.MessageTypeRoomMessage:
		o.RoomMessage(clientID, msg.RoomID, msg.Content)
	case types.MessageTypePing:
		if err := o.transport.SendToClient(clientID, types.NewPong()); err != nil {
			log.Printf("server: pong to %s failed: %v", clientID, err)
		}
	default:
		o.mu.RLock()
		extension := o.extension
		o.mu.RUnlock()
		if extension != nil {
			extension(clientID, msg)
		} else {
			log.Printf("server: unhandled message type %q from client %s", msg.Type, clientID)
		}
	}
}

// JoinRoom adds a client to a room, creating the room when dynamic room
// creation is permitted. The joining client gets a room:joined reply with
// the member list; the other members get a room:client_joined
// notification.
func (o *Orchestrator) JoinRoom(clientID, roomID string, metadata map[string]interface{}) error {
	o.mu.Lock()
	room, ok := o.rooms[roomID]
	created := false
	if !ok {
		if !o.cfg.AllowDynamicRooms {
			o.mu.Unlock()
			o.sendError(clientID, ErrRoomNotFound.Error())
			return ErrRoomNotFound
		}
		room = newRoom(roomID, "", metadata, true)
		o.rooms[roomID] = room
		created = true
	}

	added := false
	if _, member := room.members[clientID]; !member {
		if o.cfg.MaxRoomSize > 0 && len(room.members) >= o.cfg.MaxRoomSize {
			o.mu.Unlock()
			o.sendError(clientID, ErrRoomFull.Error())
			return ErrRoomFull
		}
		room.members[clientID] = struct{}{}
		if o.clientRooms[clientID] == nil {
			o.clientRooms[clientID] = make(map[string]struct{})
		}
		o.clientRooms[clientID][roomID] = struct{}{}
		added = true
	}
	members := room.memberIDs()
	o.mu.Unlock()

	if err := o.transport.SendToClient(clientID, types.NewRoomJoined(roomID, members)); err != nil {
		log.Printf("server: join ack to %s failed: %v", clientID, err)
	}

	// A re-join by an existing member is acknowledged but changes nothing:
	// no notification, no events.
	if !added {
		return nil
	}

	o.transport.SendToClients(members, types.NewRoomClientJoined(roomID, clientID), clientID)

	if created {
		o.dispatcher.Emit(events.Event{Type: events.EventRoomCreated, RoomID: roomID, ClientID: clientID})
	}
	o.dispatcher.Emit(events.Event{Type: events.EventClientJoinedRoom, RoomID: roomID, ClientID: clientID})
	return nil
}

// LeaveRoom removes a client's membership. Idempotent: the client always
// gets a room:left acknowledgment, even when it never joined, and a
// no-op leave changes nothing for anyone else. Emptying a dynamic room
// deletes it.
func (o *Orchestrator) LeaveRoom(clientID, roomID string) {
	o.mu.Lock()
	room, ok := o.rooms[roomID]
	wasMember := false
	deleted := false
	var remaining []string
	if ok {
		if _, wasMember = room.members[clientID]; wasMember {
			delete(room.members, clientID)
			if set, ok := o.clientRooms[clientID]; ok {
				delete(set, roomID)
				if len(set) == 0 {
					delete(o.clientRooms, clientID)
				}
			}
			if room.dynamic && len(room.members) == 0 {
				delete(o.rooms, roomID)
				deleted = true
			}
			remaining = room.memberIDs()
		}
	}
	o.mu.Unlock()

	// Always acknowledge; the client may already be gone on the
	// disconnect cleanup path, in which case the send just fails quietly.
	if err := o.transport.SendToClient(clientID, types.NewRoomLeft(roomID)); err != nil && err != transport.ErrClientNotFound {
		log.Printf("server: leave ack to %s failed: %v", clientID, err)
	}

	if !wasMember {
		return
	}

	o.transport.SendToClients(remaining, types.NewRoomClientLeft(roomID, clientID), clientID)
	o.dispatcher.Emit(events.Event{Type: events.EventClientLeftRoom, RoomID: roomID, ClientID: clientID})
	if deleted {
		o.dispatcher.Emit(events.Event{Type: events.EventRoomDeleted, RoomID: roomID})
	}
}

// RoomMessage fans a message out to every member of the room, the sender
// included (delivery confirmation); join/leave notifications are the ones
// that exclude the actor. Non-members get a policy error instead.
func (o *Orchestrator) RoomMessage(clientID, roomID string, content interface{}) error {
	o.mu.RLock()
	room, ok := o.rooms[roomID]
	var members []string
	member := false
	if ok {
		if _, member = room.members[clientID]; member {
			members = room.memberIDs()
		}
	}
	o.mu.RUnlock()

	if !member {
		o.sendError(clientID, ErrNotInRoom.Error())
		return ErrNotInRoom
	}

	if o.limiter != nil && !o.limiter.allow(clientID) {
		o.sendError(clientID, ErrRateLimited.Error())
		return ErrRateLimited
	}

	frame := types.NewRoomMessage(roomID, clientID, content)

	if o.store != nil {
		userID := ""
		if rec, ok := o.AuthRecordFor(clientID); ok {
			userID = rec.UserID
		}
		if err := o.store.StoreRoomMessage(context.Background(), roomID, clientID, userID, content, frame.Timestamp); err != nil {
			// Persistence is best-effort; delivery proceeds regardless.
			log.Printf("server: failed to store room message for %s: %v", roomID, err)
		}
	}

	o.transport.SendToClients(members, frame, "")
	return nil
}

// Stats returns a read-only snapshot with no side effects.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rooms := make(map[string]int, len(o.rooms))
	for id, room := range o.rooms {
		rooms[id] = len(room.members)
	}
	return Stats{
		TotalClients:         o.transport.ClientCount(),
		AuthenticatedClients: len(o.authed),
		Rooms:                rooms,
	}
}

// AuthRecordFor returns the server's view of an authenticated client.
func (o *Orchestrator) AuthRecordFor(clientID string) (types.AuthRecord, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rec, ok := o.authed[clientID]
	return rec, ok
}

func (o *Orchestrator) handleAuthenticated(e events.Event) {
	// The payload map is shared with the transport's client record; the
	// auth record gets its own copy so neither side sees the other's
	// mutations.
	metadata := make(map[string]interface{})
	if src, ok := e.Payload.(map[string]interface{}); ok {
		for k, v := range src {
			metadata[k] = v
		}
	}
	if _, ok := metadata["permissions"]; !ok && len(o.cfg.DefaultPermissions) > 0 {
		metadata["permissions"] = o.cfg.DefaultPermissions
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.authed[e.ClientID] = types.AuthRecord{
		UserID:          e.UserID,
		Metadata:        metadata,
		AuthenticatedAt: e.Time,
	}
}

// handleDisconnection clears everything the client touched: its auth
// record, every room membership (through the same leave path, so dynamic
// room deletion fires) and its reverse-index entry.
func (o *Orchestrator) handleDisconnection(e events.Event) {
	o.mu.Lock()
	delete(o.authed, e.ClientID)
	roomIDs := make([]string, 0, len(o.clientRooms[e.ClientID]))
	for roomID := range o.clientRooms[e.ClientID] {
		roomIDs = append(roomIDs, roomID)
	}
	o.mu.Unlock()

	for _, roomID := range roomIDs {
		o.LeaveRoom(e.ClientID, roomID)
	}

	if o.limiter != nil {
		o.limiter.forget(e.ClientID)
	}
}

func (o *Orchestrator) sendError(clientID, reason string) {
	if err := o.transport.SendToClient(clientID, types.NewErrorFrame(reason)); err != nil && err != transport.ErrClientNotFound {
		log.Printf("server: error reply to %s failed: %v", clientID, err)
	}
}
