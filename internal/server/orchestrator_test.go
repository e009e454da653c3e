package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"roomcast/internal/events"
	"roomcast/internal/transport"
	"roomcast/pkg/types"
)

// memSocket records sent frames in memory.
type memSocket struct {
	mu          sync.Mutex
	frames      [][]byte
	closed      bool
	closeReason string
}

func (s *memSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.frames = append(s.frames, buf)
	return nil
}

func (s *memSocket) Close(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeReason = reason
	return nil
}

func (s *memSocket) RemoteAddr() string { return "mem:0" }

func (s *memSocket) countType(frameType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.frames {
		var env struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(f, &env)
		if env.Type == frameType {
			n++
		}
	}
	return n
}

// lastOfType decodes the newest frame with the given type tag into out.
func (s *memSocket) lastOfType(t *testing.T, frameType string, out interface{}) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.frames) - 1; i >= 0; i-- {
		var env struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(s.frames[i], &env)
		if env.Type == frameType {
			if err := json.Unmarshal(s.frames[i], out); err != nil {
				t.Fatalf("Failed to decode %s frame: %v", frameType, err)
			}
			return
		}
	}
	t.Fatalf("No %s frame was sent", frameType)
}

func newTestServer(t *testing.T, cfg Config) (*Orchestrator, *transport.Adapter) {
	t.Helper()
	adapter := transport.NewAdapter(transport.Config{Events: events.NewDispatcher()})
	o := New(cfg, adapter)
	if err := o.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return o, adapter
}

func connect(t *testing.T, adapter *transport.Adapter) (string, *memSocket) {
	t.Helper()
	sock := &memSocket{}
	client, err := adapter.AcceptConnection(context.Background(), sock, nil)
	if err != nil {
		t.Fatalf("AcceptConnection failed: %v", err)
	}
	return client.ID(), sock
}

func joinPayload(roomID string) []byte {
	return []byte(fmt.Sprintf(`{"type":"room:join","roomId":%q}`, roomID))
}

func leavePayload(roomID string) []byte {
	return []byte(fmt.Sprintf(`{"type":"room:leave","roomId":%q}`, roomID))
}

func messagePayload(roomID, text string) []byte {
	return []byte(fmt.Sprintf(`{"type":"room:message","roomId":%q,"content":%q}`, roomID, text))
}

func TestJoinRoom_DynamicCreation(t *testing.T) {
	o, adapter := newTestServer(t, Config{AllowDynamicRooms: true})

	created := 0
	o.Events().Subscribe(events.EventRoomCreated, func(events.Event) { created++ })

	id, sock := connect(t, adapter)
	adapter.ReceiveMessage(id, joinPayload("lobby"))

	var joined types.RoomJoinedFrame
	sock.lastOfType(t, types.MessageTypeRoomJoined, &joined)
	if joined.RoomID != "lobby" {
		t.Errorf("Expected roomId lobby, got %s", joined.RoomID)
	}
	if len(joined.Clients) != 1 || joined.Clients[0] != id {
		t.Errorf("Expected member list [%s], got %v", id, joined.Clients)
	}
	if created != 1 {
		t.Errorf("Expected 1 room-created event, got %d", created)
	}
	if o.Stats().Rooms["lobby"] != 1 {
		t.Errorf("Expected room size 1, got %d", o.Stats().Rooms["lobby"])
	}
}

func TestJoinRoom_UnknownRoomWithoutDynamicCreation(t *testing.T) {
	o, adapter := newTestServer(t, Config{AllowDynamicRooms: false})

	id, sock := connect(t, adapter)
	adapter.ReceiveMessage(id, joinPayload("ghost"))

	var errFrame types.ErrorFrame
	sock.lastOfType(t, types.MessageTypeError, &errFrame)
	if errFrame.Error != "room does not exist" {
		t.Errorf("Expected 'room does not exist', got %q", errFrame.Error)
	}
	if len(o.Stats().Rooms) != 0 {
		t.Error("A rejected join must not create the room")
	}
}

func TestJoinRoom_PreregisteredRoom(t *testing.T) {
	o, adapter := newTestServer(t, Config{AllowDynamicRooms: false})
	if err := o.RegisterRoom("support", "Support Desk", nil); err != nil {
		t.Fatalf("RegisterRoom failed: %v", err)
	}

	id, sock := connect(t, adapter)
	adapter.ReceiveMessage(id, joinPayload("support"))
	if n := sock.countType(types.MessageTypeRoomJoined); n != 1 {
		t.Fatalf("Expected join ack, got %d room:joined frames", n)
	}

	// Pre-registered rooms survive emptiness.
	adapter.ReceiveMessage(id, leavePayload("support"))
	if size, ok := o.Stats().Rooms["support"]; !ok || size != 0 {
		t.Errorf("Expected empty pre-registered room to persist, got %v %d", ok, size)
	}
}

func TestRegisterRoom_Validation(t *testing.T) {
	o, _ := newTestServer(t, Config{})

	if err := o.RegisterRoom("bad room id", "", nil); err != ErrInvalidRoomID {
		t.Errorf("Expected ErrInvalidRoomID, got %v", err)
	}
	if err := o.RegisterRoom("dup", "", nil); err != nil {
		t.Fatalf("RegisterRoom failed: %v", err)
	}
	if err := o.RegisterRoom("dup", "", nil); err != ErrRoomExists {
		t.Errorf("Expected ErrRoomExists, got %v", err)
	}
}

func TestJoinRoom_MaxRoomSizeCeiling(t *testing.T) {
	o, adapter := newTestServer(t, Config{AllowDynamicRooms: true, MaxRoomSize: 1})

	id1, _ := connect(t, adapter)
	id2, sock2 := connect(t, adapter)

	adapter.ReceiveMessage(id1, joinPayload("lobby"))
	adapter.ReceiveMessage(id2, joinPayload("lobby"))

	var errFrame types.ErrorFrame
	sock2.lastOfType(t, types.MessageTypeError, &errFrame)
	if errFrame.Error != "room is full" {
		t.Errorf("Expected 'room is full', got %q", errFrame.Error)
	}
	if size := o.Stats().Rooms["lobby"]; size != 1 {
		t.Errorf("A rejected join must not change the room, got size %d", size)
	}

	// Re-joining a room you are in is not a capacity question.
	adapter.ReceiveMessage(id1, joinPayload("lobby"))
	if size := o.Stats().Rooms["lobby"]; size != 1 {
		t.Errorf("Re-join must be a no-op, got size %d", size)
	}
}

func TestJoinRoom_NotifiesExistingMembers(t *testing.T) {
	_, adapter := newTestServer(t, Config{AllowDynamicRooms: true})

	id1, sock1 := connect(t, adapter)
	id2, sock2 := connect(t, adapter)

	adapter.ReceiveMessage(id1, joinPayload("lobby"))
	adapter.ReceiveMessage(id2, joinPayload("lobby"))

	var note types.RoomClientJoinedFrame
	sock1.lastOfType(t, types.MessageTypeRoomClientJoined, &note)
	if note.ClientID != id2 || note.RoomID != "lobby" {
		t.Errorf("Expected client_joined for %s in lobby, got %+v", id2, note)
	}
	// The joiner gets the ack, not its own join notification.
	if n := sock2.countType(types.MessageTypeRoomClientJoined); n != 0 {
		t.Errorf("Joiner must not receive its own join notification, got %d", n)
	}

	var joined types.RoomJoinedFrame
	sock2.lastOfType(t, types.MessageTypeRoomJoined, &joined)
	if len(joined.Clients) != 2 {
		t.Errorf("Expected 2 members in the ack, got %v", joined.Clients)
	}
}

func TestJoinRoom_RejoinDoesNotRenotify(t *testing.T) {
	o, adapter := newTestServer(t, Config{AllowDynamicRooms: true})

	joins := 0
	o.Events().Subscribe(events.EventClientJoinedRoom, func(events.Event) { joins++ })

	id1, sock1 := connect(t, adapter)
	id2, sock2 := connect(t, adapter)
	adapter.ReceiveMessage(id1, joinPayload("lobby"))
	adapter.ReceiveMessage(id2, joinPayload("lobby"))

	// id2 joins again; it gets a fresh ack and nothing else happens.
	adapter.ReceiveMessage(id2, joinPayload("lobby"))

	if n := sock2.countType(types.MessageTypeRoomJoined); n != 2 {
		t.Errorf("Expected an ack per join attempt, got %d", n)
	}
	if n := sock1.countType(types.MessageTypeRoomClientJoined); n != 1 {
		t.Errorf("A re-join must not renotify members, got %d notifications", n)
	}
	if joins != 2 {
		t.Errorf("A re-join must not emit events, got %d join events", joins)
	}
	if size := o.Stats().Rooms["lobby"]; size != 2 {
		t.Errorf("Room membership must be unchanged, got %d", size)
	}
}

func TestLeaveRoom_Idempotent(t *testing.T) {
	o, adapter := newTestServer(t, Config{AllowDynamicRooms: true})

	left := 0
	o.Events().Subscribe(events.EventClientLeftRoom, func(events.Event) { left++ })

	id1, sock1 := connect(t, adapter)
	id2, sock2 := connect(t, adapter)
	adapter.ReceiveMessage(id1, joinPayload("lobby"))

	// id2 never joined; it still gets the acknowledgment and nobody else
	// hears about it.
	adapter.ReceiveMessage(id2, leavePayload("lobby"))

	if n := sock2.countType(types.MessageTypeRoomLeft); n != 1 {
		t.Errorf("Expected room:left ack, got %d", n)
	}
	if n := sock1.countType(types.MessageTypeRoomClientLeft); n != 0 {
		t.Errorf("A no-op leave must not notify members, got %d", n)
	}
	if left != 0 {
		t.Errorf("A no-op leave must not emit events, got %d", left)
	}
	if size := o.Stats().Rooms["lobby"]; size != 1 {
		t.Errorf("Room membership must be unchanged, got %d", size)
	}
}

func TestLeaveRoom_DynamicRoomDeletedExactlyOnce(t *testing.T) {
	o, adapter := newTestServer(t, Config{AllowDynamicRooms: true})

	deleted := 0
	o.Events().Subscribe(events.EventRoomDeleted, func(events.Event) { deleted++ })

	id1, _ := connect(t, adapter)
	id2, _ := connect(t, adapter)
	adapter.ReceiveMessage(id1, joinPayload("lobby"))
	adapter.ReceiveMessage(id2, joinPayload("lobby"))

	adapter.ReceiveMessage(id1, leavePayload("lobby"))
	if deleted != 0 {
		t.Fatal("Room must not be deleted while members remain")
	}

	adapter.ReceiveMessage(id2, leavePayload("lobby"))
	adapter.ReceiveMessage(id2, leavePayload("lobby")) // repeat leave is a no-op

	if deleted != 1 {
		t.Errorf("Expected exactly 1 room-deleted event, got %d", deleted)
	}
	if _, ok := o.Stats().Rooms["lobby"]; ok {
		t.Error("Emptied dynamic room must be removed from the registry")
	}
}

func TestLeaveRoom_NotifiesRemainingMembers(t *testing.T) {
	_, adapter := newTestServer(t, Config{AllowDynamicRooms: true})

	id1, sock1 := connect(t, adapter)
	id2, _ := connect(t, adapter)
	adapter.ReceiveMessage(id1, joinPayload("lobby"))
	adapter.ReceiveMessage(id2, joinPayload("lobby"))

	adapter.ReceiveMessage(id2, leavePayload("lobby"))

	var note types.RoomClientLeftFrame
	sock1.lastOfType(t, types.MessageTypeRoomClientLeft, &note)
	if note.ClientID != id2 || note.RoomID != "lobby" {
		t.Errorf("Expected client_left for %s in lobby, got %+v", id2, note)
	}
}

func TestRoomMessage_SenderReceivesOwnMessage(t *testing.T) {
	_, adapter := newTestServer(t, Config{AllowDynamicRooms: true})

	id1, sock1 := connect(t, adapter)
	id2, sock2 := connect(t, adapter)
	adapter.ReceiveMessage(id1, joinPayload("lobby"))
	adapter.ReceiveMessage(id2, joinPayload("lobby"))

	adapter.ReceiveMessage(id1, messagePayload("lobby", "hello"))

	for i, sock := range []*memSocket{sock1, sock2} {
		var frame types.RoomMessageFrame
		sock.lastOfType(t, types.MessageTypeRoomMessage, &frame)
		if frame.ClientID != id1 {
			t.Errorf("Socket %d: expected sender %s, got %s", i, id1, frame.ClientID)
		}
		if frame.Content != "hello" {
			t.Errorf("Socket %d: expected content hello, got %v", i, frame.Content)
		}
		if frame.Timestamp.IsZero() {
			t.Errorf("Socket %d: expected a timestamp", i)
		}
	}
}

func TestRoomMessage_NotInRoom(t *testing.T) {
	_, adapter := newTestServer(t, Config{AllowDynamicRooms: true})

	id1, _ := connect(t, adapter)
	id2, sock2 := connect(t, adapter)
	adapter.ReceiveMessage(id1, joinPayload("lobby"))

	adapter.ReceiveMessage(id2, messagePayload("lobby", "intruding"))

	var errFrame types.ErrorFrame
	sock2.lastOfType(t, types.MessageTypeError, &errFrame)
	if errFrame.Error != "not in room" {
		t.Errorf("Expected 'not in room', got %q", errFrame.Error)
	}
}

func TestRoomMessage_RateLimited(t *testing.T) {
	_, adapter := newTestServer(t, Config{AllowDynamicRooms: true, RateLimitPerMinute: 2})

	id, sock := connect(t, adapter)
	adapter.ReceiveMessage(id, joinPayload("lobby"))

	adapter.ReceiveMessage(id, messagePayload("lobby", "one"))
	adapter.ReceiveMessage(id, messagePayload("lobby", "two"))
	adapter.ReceiveMessage(id, messagePayload("lobby", "three"))

	if n := sock.countType(types.MessageTypeRoomMessage); n != 2 {
		t.Errorf("Expected 2 delivered messages, got %d", n)
	}
	var errFrame types.ErrorFrame
	sock.lastOfType(t, types.MessageTypeError, &errFrame)
	if errFrame.Error != "rate limit exceeded" {
		t.Errorf("Expected 'rate limit exceeded', got %q", errFrame.Error)
	}
}

func TestPing_Pong(t *testing.T) {
	_, adapter := newTestServer(t, Config{})

	id, sock := connect(t, adapter)
	adapter.ReceiveMessage(id, []byte(`{"type":"ping"}`))

	if n := sock.countType(types.MessageTypePong); n != 1 {
		t.Errorf("Expected 1 pong, got %d", n)
	}
}

func TestExtensionHandler_ReceivesUnknownKinds(t *testing.T) {
	o, adapter := newTestServer(t, Config{})

	var got *types.InboundMessage
	o.SetExtensionHandler(func(_ string, msg *types.InboundMessage) { got = msg })

	id, _ := connect(t, adapter)
	adapter.ReceiveMessage(id, []byte(`{"type":"game:move","content":"e4"}`))

	if got == nil {
		t.Fatal("Expected the extension handler to run")
	}
	if got.Type != "game:move" || got.Content != "e4" {
		t.Errorf("Expected forwarded game:move, got %+v", got)
	}
	if len(got.Raw) == 0 {
		t.Error("Expected the raw payload to be retained")
	}
}

func TestDisconnect_CleansUpMemberships(t *testing.T) {
	o, adapter := newTestServer(t, Config{AllowDynamicRooms: true})

	deleted := 0
	o.Events().Subscribe(events.EventRoomDeleted, func(events.Event) { deleted++ })

	id1, sock1 := connect(t, adapter)
	id2, _ := connect(t, adapter)
	adapter.ReceiveMessage(id1, joinPayload("lobby"))
	adapter.ReceiveMessage(id2, joinPayload("lobby"))
	adapter.ReceiveMessage(id2, joinPayload("side"))

	adapter.HandleDisconnect(id2)

	var note types.RoomClientLeftFrame
	sock1.lastOfType(t, types.MessageTypeRoomClientLeft, &note)
	if note.ClientID != id2 {
		t.Errorf("Expected client_left for %s, got %s", id2, note.ClientID)
	}

	stats := o.Stats()
	if stats.TotalClients != 1 {
		t.Errorf("Expected 1 remaining client, got %d", stats.TotalClients)
	}
	if stats.Rooms["lobby"] != 1 {
		t.Errorf("Expected lobby size 1, got %d", stats.Rooms["lobby"])
	}
	if _, ok := stats.Rooms["side"]; ok {
		t.Error("Emptied dynamic room must be deleted on disconnect")
	}
	if deleted != 1 {
		t.Errorf("Expected 1 room-deleted event, got %d", deleted)
	}
}

func TestAuthenticated_RecordKeepsOwnMetadata(t *testing.T) {
	o, adapter := newTestServer(t, Config{DefaultPermissions: []string{"read"}})
	id, _ := connect(t, adapter)

	shared := map[string]interface{}{"role": "admin"}
	o.Events().Emit(events.Event{
		Type:     events.EventAuthenticated,
		ClientID: id,
		UserID:   "alice",
		Payload:  shared,
		Time:     time.Now(),
	})

	rec, ok := o.AuthRecordFor(id)
	if !ok {
		t.Fatal("Expected an auth record for the client")
	}
	if rec.UserID != "alice" {
		t.Errorf("Expected user alice, got %q", rec.UserID)
	}
	if rec.Metadata["role"] != "admin" {
		t.Errorf("Expected adapter metadata to carry over, got %v", rec.Metadata)
	}
	if _, ok := rec.Metadata["permissions"]; !ok {
		t.Error("Expected default permissions on the record")
	}
	// The adapter's map must not pick up the defaults.
	if _, leaked := shared["permissions"]; leaked {
		t.Error("Record metadata must be a copy, not the adapter's map")
	}

	adapter.HandleDisconnect(id)
	if _, ok := o.AuthRecordFor(id); ok {
		t.Error("Auth record must be cleared on disconnect")
	}
}

func TestStartStop_Lifecycle(t *testing.T) {
	o, adapter := newTestServer(t, Config{AllowDynamicRooms: true})

	if err := o.Start(); err != ErrAlreadyRunning {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	id, sock := connect(t, adapter)
	adapter.ReceiveMessage(id, joinPayload("lobby"))

	if err := o.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if o.Running() {
		t.Error("Expected stopped state")
	}

	sock.mu.Lock()
	if !sock.closed || sock.closeReason != transport.ReasonShutdown {
		t.Errorf("Expected shutdown close, got closed=%t reason=%q", sock.closed, sock.closeReason)
	}
	sock.mu.Unlock()

	stats := o.Stats()
	if stats.TotalClients != 0 || len(stats.Rooms) != 0 {
		t.Errorf("Expected cleared state, got %+v", stats)
	}

	// Stop again is a no-op.
	if err := o.Stop(); err != nil {
		t.Errorf("Repeated Stop must be a no-op, got %v", err)
	}
}

func TestRouteMessage_DroppedWhenNotRunning(t *testing.T) {
	adapter := transport.NewAdapter(transport.Config{Events: events.NewDispatcher()})
	o := New(Config{AllowDynamicRooms: true}, adapter)

	id, sock := connect(t, adapter)
	adapter.ReceiveMessage(id, joinPayload("lobby"))

	if n := sock.countType(types.MessageTypeRoomJoined); n != 0 {
		t.Errorf("Messages must be dropped before Start, got %d join acks", n)
	}
	if len(o.Stats().Rooms) != 0 {
		t.Error("No room state may accumulate before Start")
	}
}

type recordingStore struct {
	mu      sync.Mutex
	stored  []storedMessage
	failing bool
}

type storedMessage struct {
	roomID   string
	clientID string
	userID   string
	content  interface{}
}

func (s *recordingStore) StoreRoomMessage(_ context.Context, roomID, clientID, userID string, content interface{}, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("disk full")
	}
	s.stored = append(s.stored, storedMessage{roomID: roomID, clientID: clientID, userID: userID, content: content})
	return nil
}

func TestRoomMessage_PersistedToStore(t *testing.T) {
	o, adapter := newTestServer(t, Config{AllowDynamicRooms: true})
	store := &recordingStore{}
	o.SetMessageStore(store)

	id, _ := connect(t, adapter)
	adapter.ReceiveMessage(id, joinPayload("lobby"))
	adapter.ReceiveMessage(id, messagePayload("lobby", "for the record"))

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.stored) != 1 {
		t.Fatalf("Expected 1 stored message, got %d", len(store.stored))
	}
	got := store.stored[0]
	if got.roomID != "lobby" || got.clientID != id || got.content != "for the record" {
		t.Errorf("Unexpected stored message: %+v", got)
	}
}

func TestRoomMessage_StoredWithUserID(t *testing.T) {
	o, adapter := newTestServer(t, Config{AllowDynamicRooms: true})
	store := &recordingStore{}
	o.SetMessageStore(store)

	id, _ := connect(t, adapter)
	o.Events().Emit(events.Event{Type: events.EventAuthenticated, ClientID: id, UserID: "alice", Time: time.Now()})
	adapter.ReceiveMessage(id, joinPayload("lobby"))
	adapter.ReceiveMessage(id, messagePayload("lobby", "signed"))

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.stored) != 1 {
		t.Fatalf("Expected 1 stored message, got %d", len(store.stored))
	}
	if store.stored[0].userID != "alice" {
		t.Errorf("Expected stored userID alice, got %q", store.stored[0].userID)
	}
}

func TestRoomMessage_DeliveredDespiteStoreFailure(t *testing.T) {
	o, adapter := newTestServer(t, Config{AllowDynamicRooms: true})
	o.SetMessageStore(&recordingStore{failing: true})

	id, sock := connect(t, adapter)
	adapter.ReceiveMessage(id, joinPayload("lobby"))
	adapter.ReceiveMessage(id, messagePayload("lobby", "still delivered"))

	if n := sock.countType(types.MessageTypeRoomMessage); n != 1 {
		t.Errorf("Delivery must not depend on persistence, got %d frames", n)
	}
}
