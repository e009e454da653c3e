package transport

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"roomcast/pkg/types"
)

// HandlerConfig carries the WebSocket endpoint's tunables.
type HandlerConfig struct {
	// AllowedOrigin restricts upgrade requests by Origin header. Empty or
	// "*" allows every origin.
	AllowedOrigin string

	// PingInterval is the cadence of server-sent ping control frames.
	PingInterval time.Duration

	// ReadTimeout is the read deadline, refreshed on every pong.
	ReadTimeout time.Duration

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration

	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
}

func (c *HandlerConfig) withDefaults() HandlerConfig {
	cfg := *c
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 100
	}
	return cfg
}

// Handler upgrades HTTP requests to WebSocket connections and bridges them
// into the transport adapter.
type Handler struct {
	adapter  *Adapter
	cfg      HandlerConfig
	upgrader websocket.Upgrader
}

// NewHandler creates the WebSocket endpoint handler.
func NewHandler(adapter *Adapter, cfg HandlerConfig) *Handler {
	cfg = cfg.withDefaults()
	return &Handler{
		adapter: adapter,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowedOrigin == "" || cfg.AllowedOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == cfg.AllowedOrigin
			},
		},
	}
}

// ServeHTTP upgrades the request and hands the connection to the adapter.
// The Authorization header travels in the connection metadata so the
// adapter can run the bearer-token fast path before the message loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("transport: websocket upgrade failed: %v", err)
		return
	}

	sock := newWSSocket(conn, h.cfg.SendBuffer, h.cfg.WriteTimeout)
	meta := &types.ConnectionMetadata{
		Authorization: r.Header.Get("Authorization"),
		RemoteAddr:    r.RemoteAddr,
	}

	// The connection outlives the upgrade request, so accept with a
	// background context rather than the request's.
	client, err := h.adapter.AcceptConnection(context.Background(), sock, meta)
	if err != nil {
		log.Printf("transport: accept failed for %s: %v", r.RemoteAddr, err)
		_ = sock.Close("accept failed")
		return
	}

	go h.readPump(client, sock)
}

// readPump delivers inbound frames to the adapter in arrival order. A
// single reader goroutine per connection preserves per-client ordering:
// message n+1 is not read until n's handling has returned.
func (h *Handler) readPump(client *Client, sock *wsSocket) {
	defer func() {
		_ = sock.Close("connection closed")
		h.adapter.HandleDisconnect(client.ID())
	}()

	if err := sock.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return
	}
	sock.conn.SetPongHandler(func(string) error {
		return sock.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(h.cfg.WriteTimeout)
				if err := sock.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case <-sock.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := sock.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("transport: read error for client %s: %v", client.ID(), err)
			}
			return
		}
		if messageType == websocket.TextMessage {
			h.adapter.ReceiveMessage(client.ID(), data)
		}
	}
}
