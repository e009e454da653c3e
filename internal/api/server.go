// Package api exposes the read-only HTTP surface: health, a stats
// snapshot and per-room message history. No business logic lives here,
// only HTTP handling and JSON serialization.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"roomcast/internal/history"
	"roomcast/internal/server"
	"roomcast/pkg/types"
)

// StatsProvider supplies the stats snapshot, implemented by the
// orchestrator.
type StatsProvider interface {
	Stats() server.Stats
}

// HistoryProvider supplies per-room message history, implemented by the
// history store. Nil when history is disabled.
type HistoryProvider interface {
	RoomHistory(ctx context.Context, roomID string, limit int) ([]*history.Record, error)
}

// CORSOptions configures cross-origin headers on API responses.
type CORSOptions struct {
	Origin         string
	Credentials    bool
	Methods        []string
	AllowedHeaders []string
}

// Server handles the HTTP API endpoints.
type Server struct {
	stats   StatsProvider
	history HistoryProvider
	cors    CORSOptions
	router  *http.ServeMux
}

// NewServer creates the API server. history may be nil, in which case the
// history endpoint reports not found.
func NewServer(stats StatsProvider, history HistoryProvider, cors CORSOptions) *Server {
	s := &Server{
		stats:   stats,
		history: history,
		cors:    cors,
		router:  http.NewServeMux(),
	}
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleHealth))))
	s.router.Handle("/stats", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleStats))))
	s.router.Handle("/rooms/{room}/history", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRoomHistory))))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
	}, http.StatusOK)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendJSON(w, s.stats.Stats(), http.StatusOK)
}

func (s *Server) handleRoomHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		s.sendError(w, "History is not enabled", http.StatusNotFound)
		return
	}

	roomID := r.PathValue("room")
	if !types.IsValidRoomID(roomID) {
		s.sendError(w, "Invalid room ID", http.StatusBadRequest)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.sendError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.history.RoomHistory(r.Context(), roomID, limit)
	if err != nil {
		log.Printf("api: history query for %s failed: %v", roomID, err)
		s.sendError(w, "Failed to load history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*history.Record{}
	}
	s.sendJSON(w, map[string]interface{}{
		"room_id":  roomID,
		"messages": records,
	}, http.StatusOK)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := s.cors.Origin
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		if len(s.cors.Methods) > 0 {
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(s.cors.Methods, ", "))
		} else {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		}
		if len(s.cors.AllowedHeaders) > 0 {
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(s.cors.AllowedHeaders, ", "))
		}
		if s.cors.Credentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, v interface{}, status int) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: failed to encode response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, status int) {
	s.sendJSON(w, map[string]string{"error": message}, status)
}
