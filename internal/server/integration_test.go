package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"roomcast/internal/transport"
	"roomcast/pkg/types"
)

// startWebSocketServer runs the orchestrator behind a real WebSocket
// endpoint and returns the ws URL.
func startWebSocketServer(t *testing.T, cfg Config) string {
	t.Helper()
	_, adapter := newTestServer(t, cfg)
	server := httptest.NewServer(transport.NewHandler(adapter, transport.HandlerConfig{}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readWSFrame reads frames until one carries the wanted type tag.
func readWSFrame(t *testing.T, conn *websocket.Conn, want string) map[string]interface{} {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline failed: %v", err)
	}
	for {
		var frame map[string]interface{}
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("Read failed while waiting for %s: %v", want, err)
		}
		if frame["type"] == want {
			return frame
		}
	}
}

func writeWS(t *testing.T, conn *websocket.Conn, payload []byte) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func TestWebSocket_JoinAndMessageRoundTrip(t *testing.T) {
	url := startWebSocketServer(t, Config{AllowDynamicRooms: true})

	alice := dialWS(t, url)
	bob := dialWS(t, url)

	writeWS(t, alice, joinPayload("lobby"))
	joined := readWSFrame(t, alice, types.MessageTypeRoomJoined)
	if joined["roomId"] != "lobby" {
		t.Fatalf("Expected lobby ack, got %v", joined)
	}

	writeWS(t, bob, joinPayload("lobby"))
	joined = readWSFrame(t, bob, types.MessageTypeRoomJoined)
	if members, ok := joined["clients"].([]interface{}); !ok || len(members) != 2 {
		t.Fatalf("Expected 2 members in bob's ack, got %v", joined["clients"])
	}
	readWSFrame(t, alice, types.MessageTypeRoomClientJoined)

	writeWS(t, alice, messagePayload("lobby", "hello room"))

	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := readWSFrame(t, conn, types.MessageTypeRoomMessage)
		if frame["content"] != "hello room" {
			t.Errorf("Expected hello room, got %v", frame["content"])
		}
		if frame["roomId"] != "lobby" {
			t.Errorf("Expected lobby, got %v", frame["roomId"])
		}
	}
}

func TestWebSocket_PingPong(t *testing.T) {
	url := startWebSocketServer(t, Config{})

	conn := dialWS(t, url)
	writeWS(t, conn, []byte(`{"type":"ping"}`))
	readWSFrame(t, conn, types.MessageTypePong)
}

func TestWebSocket_UnknownRoomRejected(t *testing.T) {
	url := startWebSocketServer(t, Config{AllowDynamicRooms: false})

	conn := dialWS(t, url)
	writeWS(t, conn, joinPayload("nowhere"))
	frame := readWSFrame(t, conn, types.MessageTypeError)
	if frame["error"] != "room does not exist" {
		t.Errorf("Unexpected rejection reason: %v", frame["error"])
	}
}
