// Package config loads server settings with the precedence
// file > environment > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full construction-time configuration surface.
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	Rooms     *RoomsConfig     `json:"rooms"`
	CORS      *CORSConfig      `json:"cors"`
	History   *HistoryConfig   `json:"history"`
}

// HTTPConfig covers the listener shared by the WebSocket endpoint and the
// API.
type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// WebSocketConfig covers per-connection transport tunables.
type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	SendBuffer   int           `json:"send_buffer"`
}

// AuthConfig selects and tunes the auth adapter.
type AuthConfig struct {
	// Mode is "token", "permissive" or "none".
	Mode string `json:"mode"`

	// Timeout overrides the adapter's declared authentication window.
	Timeout time.Duration `json:"timeout"`

	// FailureCloseDelay is the grace delay before closing a connection
	// that failed authentication while auth is required.
	FailureCloseDelay time.Duration `json:"failure_close_delay"`
}

// RoomsConfig covers room policy.
type RoomsConfig struct {
	MaxRoomSize        int      `json:"max_room_size"`
	AllowDynamicRooms  bool     `json:"allow_dynamic_rooms"`
	DefaultPermissions []string `json:"default_permissions"`
	Preregistered      []string `json:"preregistered"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute"`
}

// CORSConfig covers cross-origin settings for the API and the WebSocket
// origin check.
type CORSConfig struct {
	Origin         string   `json:"origin"`
	Credentials    bool     `json:"credentials"`
	Methods        []string `json:"methods"`
	AllowedHeaders []string `json:"allowed_headers"`
}

// HistoryConfig covers the optional message-history store.
type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DefaultConfig returns production-ready defaults: permissive auth,
// dynamic rooms, history disabled.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
			SendBuffer:   100,
		},
		Auth: &AuthConfig{
			Mode:              "permissive",
			Timeout:           30 * time.Second,
			FailureCloseDelay: time.Second,
		},
		Rooms: &RoomsConfig{
			MaxRoomSize:        0,
			AllowDynamicRooms:  true,
			DefaultPermissions: []string{"read", "write"},
		},
		CORS: &CORSConfig{
			Origin:  "*",
			Methods: []string{"GET", "OPTIONS"},
		},
		History: &HistoryConfig{
			Enabled: false,
			Path:    "./roomcast.db",
		},
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("http configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("http host cannot be empty")
	}
	if c.WebSocket == nil {
		return fmt.Errorf("websocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket send buffer must be positive")
	}
	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	switch c.Auth.Mode {
	case "token", "permissive", "none":
	default:
		return fmt.Errorf("auth mode must be token, permissive or none, got %q", c.Auth.Mode)
	}
	if c.Rooms == nil {
		return fmt.Errorf("rooms configuration is required")
	}
	if c.Rooms.MaxRoomSize < 0 {
		return fmt.Errorf("max room size cannot be negative")
	}
	if c.History != nil && c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history path cannot be empty when history is enabled")
	}
	return nil
}

// LoadFromEnv returns defaults overridden by ROOMCAST_* environment
// variables. Unparseable values fall back silently.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("ROOMCAST_HTTP_HOST"); v != "" {
		cfg.HTTP.Host = v
	}
	if v := os.Getenv("ROOMCAST_HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = p
		}
	}
	if v := os.Getenv("ROOMCAST_AUTH_MODE"); v != "" {
		cfg.Auth.Mode = v
	}
	if v := os.Getenv("ROOMCAST_AUTH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Auth.Timeout = d
		}
	}
	if v := os.Getenv("ROOMCAST_MAX_ROOM_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Rooms.MaxRoomSize = n
		}
	}
	if v := os.Getenv("ROOMCAST_ALLOW_DYNAMIC_ROOMS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Rooms.AllowDynamicRooms = b
		}
	}
	if v := os.Getenv("ROOMCAST_PREREGISTERED_ROOMS"); v != "" {
		cfg.Rooms.Preregistered = splitList(v)
	}
	if v := os.Getenv("ROOMCAST_CORS_ORIGIN"); v != "" {
		cfg.CORS.Origin = v
	}
	if v := os.Getenv("ROOMCAST_HISTORY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.History.Enabled = b
		}
	}
	if v := os.Getenv("ROOMCAST_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("ROOMCAST_WEBSOCKET_PING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WebSocket.PingInterval = d
		}
	}
	if v := os.Getenv("ROOMCAST_WEBSOCKET_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WebSocket.ReadTimeout = d
		}
	}

	return cfg
}

// configFile mirrors Config with string durations for JSON parsing.
type configFile struct {
	HTTP *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval string `json:"ping_interval"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
		SendBuffer   int    `json:"send_buffer"`
	} `json:"websocket"`
	Auth *struct {
		Mode              string `json:"mode"`
		Timeout           string `json:"timeout"`
		FailureCloseDelay string `json:"failure_close_delay"`
	} `json:"auth"`
	Rooms   *RoomsConfig   `json:"rooms"`
	CORS    *CORSConfig    `json:"cors"`
	History *HistoryConfig `json:"history"`
}

// LoadFromFile reads a JSON configuration file over defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if file.HTTP != nil {
		if file.HTTP.Host != "" {
			cfg.HTTP.Host = file.HTTP.Host
		}
		if file.HTTP.Port > 0 {
			cfg.HTTP.Port = file.HTTP.Port
		}
		setDuration(&cfg.HTTP.ReadTimeout, file.HTTP.ReadTimeout)
		setDuration(&cfg.HTTP.WriteTimeout, file.HTTP.WriteTimeout)
	}
	if file.WebSocket != nil {
		setDuration(&cfg.WebSocket.PingInterval, file.WebSocket.PingInterval)
		setDuration(&cfg.WebSocket.ReadTimeout, file.WebSocket.ReadTimeout)
		setDuration(&cfg.WebSocket.WriteTimeout, file.WebSocket.WriteTimeout)
		if file.WebSocket.SendBuffer > 0 {
			cfg.WebSocket.SendBuffer = file.WebSocket.SendBuffer
		}
	}
	if file.Auth != nil {
		if file.Auth.Mode != "" {
			cfg.Auth.Mode = file.Auth.Mode
		}
		setDuration(&cfg.Auth.Timeout, file.Auth.Timeout)
		setDuration(&cfg.Auth.FailureCloseDelay, file.Auth.FailureCloseDelay)
	}
	if file.Rooms != nil {
		cfg.Rooms = file.Rooms
	}
	if file.CORS != nil {
		cfg.CORS = file.CORS
	}
	if file.History != nil {
		cfg.History = file.History
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// LoadWithPrecedence resolves configuration as file > environment >
// defaults. File errors are ignored so environment and defaults still
// apply.
func LoadWithPrecedence(path string) *Config {
	cfg := LoadFromEnv()
	if path != "" {
		if fileCfg, err := LoadFromFile(path); err == nil {
			cfg = fileCfg
		}
	}
	return cfg
}

func setDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
