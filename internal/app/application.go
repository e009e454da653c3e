// Package app assembles the server from its components in dependency
// order and owns process-level start/stop.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"roomcast/internal/api"
	"roomcast/internal/auth"
	"roomcast/internal/config"
	"roomcast/internal/events"
	"roomcast/internal/history"
	"roomcast/internal/server"
	"roomcast/internal/transport"
	"roomcast/pkg/interfaces"
)

// Application coordinates all components. Construction order:
// history → events → auth → transport → orchestrator → api → HTTP.
type Application struct {
	cfg          *config.Config
	store        *history.Store
	orchestrator *server.Orchestrator
	httpServer   *http.Server
}

// NewApplication builds a fully wired application from configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var store *history.Store
	if cfg.History != nil && cfg.History.Enabled {
		var err error
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
	}

	dispatcher := events.NewDispatcher()
	authAdapter := buildAuthAdapter(cfg.Auth)

	adapter := transport.NewAdapter(transport.Config{
		Auth:                  authAdapter,
		Events:                dispatcher,
		DefaultAuthTimeout:    cfg.Auth.Timeout,
		AuthFailureCloseDelay: cfg.Auth.FailureCloseDelay,
	})

	orchestrator := server.New(server.Config{
		MaxRoomSize:        cfg.Rooms.MaxRoomSize,
		AllowDynamicRooms:  cfg.Rooms.AllowDynamicRooms,
		DefaultPermissions: cfg.Rooms.DefaultPermissions,
		RateLimitPerMinute: cfg.Rooms.RateLimitPerMinute,
	}, adapter)
	if store != nil {
		orchestrator.SetMessageStore(store)
	}
	for _, roomID := range cfg.Rooms.Preregistered {
		if err := orchestrator.RegisterRoom(roomID, roomID, nil); err != nil {
			closeStore(store)
			return nil, fmt.Errorf("failed to register room %q: %w", roomID, err)
		}
	}

	wsHandler := transport.NewHandler(adapter, transport.HandlerConfig{
		AllowedOrigin: cfg.CORS.Origin,
		PingInterval:  cfg.WebSocket.PingInterval,
		ReadTimeout:   cfg.WebSocket.ReadTimeout,
		WriteTimeout:  cfg.WebSocket.WriteTimeout,
		SendBuffer:    cfg.WebSocket.SendBuffer,
	})

	var historyProvider api.HistoryProvider
	if store != nil {
		historyProvider = store
	}
	apiServer := api.NewServer(orchestrator, historyProvider, api.CORSOptions{
		Origin:         cfg.CORS.Origin,
		Credentials:    cfg.CORS.Credentials,
		Methods:        cfg.CORS.Methods,
		AllowedHeaders: cfg.CORS.AllowedHeaders,
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	mux.Handle("/health", apiServer)
	mux.Handle("/stats", apiServer)
	mux.Handle("/rooms/", apiServer)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		cfg:          cfg,
		store:        store,
		orchestrator: orchestrator,
		httpServer:   httpServer,
	}, nil
}

// Events exposes the lifecycle dispatcher for host subscriptions.
func (app *Application) Events() *events.Dispatcher {
	return app.orchestrator.Events()
}

// Start begins serving. Returns once the listener is confirmed up.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("starting roomcast on %s", app.httpServer.Addr)

	if err := app.orchestrator.Start(); err != nil {
		return err
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.orchestrator.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("roomcast started")
		return nil
	case <-ctx.Done():
		_ = app.orchestrator.Stop()
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP listener, then the
// orchestrator (which force-disconnects all clients), then the history
// store.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("shutting down roomcast")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}
	if err := app.orchestrator.Stop(); err != nil {
		log.Printf("orchestrator shutdown error: %v", err)
	}
	closeStore(app.store)

	log.Printf("roomcast shutdown complete")
	return nil
}

// Addr returns the listener address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}

func buildAuthAdapter(cfg *config.AuthConfig) interfaces.AuthAdapter {
	switch cfg.Mode {
	case "token":
		return auth.NewTokenAdapter(auth.WithAuthTimeout(cfg.Timeout))
	case "permissive":
		return auth.NewPermissiveAdapter()
	default:
		return nil
	}
}

func closeStore(store *history.Store) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		log.Printf("history store close error: %v", err)
	}
}
