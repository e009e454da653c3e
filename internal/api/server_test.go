package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"roomcast/internal/history"
	"roomcast/internal/server"
)

type fixedStats struct {
	stats server.Stats
}

func (f *fixedStats) Stats() server.Stats { return f.stats }

type fixedHistory struct {
	records   []*history.Record
	lastRoom  string
	lastLimit int
	err       error
}

func (f *fixedHistory) RoomHistory(_ context.Context, roomID string, limit int) ([]*history.Record, error) {
	f.lastRoom = roomID
	f.lastLimit = limit
	return f.records, f.err
}

func newTestAPI() *Server {
	provider := &fixedStats{stats: server.Stats{
		TotalClients:         3,
		AuthenticatedClients: 2,
		Rooms:                map[string]int{"lobby": 2},
	}}
	return NewServer(provider, nil, CORSOptions{Origin: "https://app.example.com", Credentials: true})
}

func TestHealthEndpoint(t *testing.T) {
	api := newTestAPI()

	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %s", ct)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", body["status"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	api := newTestAPI()

	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var stats server.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if stats.TotalClients != 3 || stats.AuthenticatedClients != 2 {
		t.Errorf("Unexpected counts: %+v", stats)
	}
	if stats.Rooms["lobby"] != 2 {
		t.Errorf("Expected lobby size 2, got %d", stats.Rooms["lobby"])
	}
}

func TestRoomHistoryEndpoint(t *testing.T) {
	hist := &fixedHistory{records: []*history.Record{
		{ID: "m1", RoomID: "lobby", ClientID: "c1", UserID: "alice", Content: "hello", CreatedAt: time.Now()},
	}}
	api := NewServer(&fixedStats{}, hist, CORSOptions{})

	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/lobby/history?limit=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if hist.lastRoom != "lobby" || hist.lastLimit != 5 {
		t.Errorf("Expected query for lobby with limit 5, got %s/%d", hist.lastRoom, hist.lastLimit)
	}

	var body struct {
		RoomID   string            `json:"room_id"`
		Messages []*history.Record `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.RoomID != "lobby" || len(body.Messages) != 1 {
		t.Fatalf("Unexpected body: %+v", body)
	}
	if body.Messages[0].UserID != "alice" || body.Messages[0].Content != "hello" {
		t.Errorf("Unexpected record: %+v", body.Messages[0])
	}
}

func TestRoomHistoryEndpoint_EmptyRoom(t *testing.T) {
	api := NewServer(&fixedStats{}, &fixedHistory{}, CORSOptions{})

	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/quiet/history", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body struct {
		Messages []*history.Record `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.Messages == nil || len(body.Messages) != 0 {
		t.Errorf("Expected an empty list, got %v", body.Messages)
	}
}

func TestRoomHistoryEndpoint_Rejections(t *testing.T) {
	hist := &fixedHistory{}
	api := NewServer(&fixedStats{}, hist, CORSOptions{})

	cases := []struct {
		name   string
		target string
		status int
	}{
		{"invalid room id", "/rooms/bad%20room/history", http.StatusBadRequest},
		{"invalid limit", "/rooms/lobby/history?limit=zero", http.StatusBadRequest},
		{"negative limit", "/rooms/lobby/history?limit=-1", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			api.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))
			if rec.Code != tc.status {
				t.Errorf("Expected %d, got %d", tc.status, rec.Code)
			}
		})
	}
}

func TestRoomHistoryEndpoint_Disabled(t *testing.T) {
	api := newTestAPI() // nil history provider

	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/lobby/history", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 when history is disabled, got %d", rec.Code)
	}
}

func TestRoomHistoryEndpoint_StoreFailure(t *testing.T) {
	api := NewServer(&fixedStats{}, &fixedHistory{err: errors.New("disk error")}, CORSOptions{})

	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/lobby/history", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	api := newTestAPI()

	for _, path := range []string{"/health", "/stats", "/rooms/lobby/history"} {
		rec := httptest.NewRecorder()
		api.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405, got %d", path, rec.Code)
		}
	}
}

func TestCORSHeaders(t *testing.T) {
	api := newTestAPI()

	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Expected configured origin, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Expected credentials header, got %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI()

	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/stats", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for preflight, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("Preflight must not carry a body, got %q", rec.Body.String())
	}
}

func TestDefaultCORSOrigin(t *testing.T) {
	api := NewServer(&fixedStats{}, nil, CORSOptions{})

	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected wildcard origin by default, got %q", got)
	}
}
