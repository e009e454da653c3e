package types

import (
	"strings"
	"time"
)

// Inbound message type constants. These are the protocol-level message
// kinds a client may send over an established connection.
const (
	MessageTypeAuthenticate = "authenticate"
	MessageTypeRoomJoin     = "room:join"
	MessageTypeRoomLeave    = "room:leave"
	MessageTypeRoomMessage  = "room:message"
	MessageTypePing         = "ping"
)

// Outbound message type constants. MessageTypeRoomMessage appears in both
// directions: inbound as a send request, outbound as the fanned-out copy.
const (
	MessageTypeAuthSuccess      = "auth_success"
	MessageTypeAuthError        = "auth_error"
	MessageTypeRoomJoined       = "room:joined"
	MessageTypeRoomClientJoined = "room:client_joined"
	MessageTypeRoomLeft         = "room:left"
	MessageTypeRoomClientLeft   = "room:client_left"
	MessageTypePong             = "pong"
	MessageTypeError            = "error"
)

// Credential type discriminators for the Credentials tagged union.
const (
	CredentialTypeJWT    = "jwt"
	CredentialTypeBearer = "bearer"
	CredentialTypeAPIKey = "apikey"
	CredentialTypeOAuth  = "oauth"
	CredentialTypeCustom = "custom"
)

// Credentials is the tagged union of authentication material a client can
// submit, discriminated by Type. New variants may be added without breaking
// adapters that declare support for a subset via SupportedCredentialTypes.
type Credentials struct {
	Type     string                 `json:"type"`
	Token    string                 `json:"token,omitempty"`
	Key      string                 `json:"key,omitempty"`
	Provider string                 `json:"provider,omitempty"`
	Custom   map[string]interface{} `json:"custom,omitempty"`
}

// BearerToken returns the token for token-carrying variants (jwt, bearer).
// The second return is false for variants that do not carry a plain token.
func (c *Credentials) BearerToken() (string, bool) {
	if c == nil {
		return "", false
	}
	switch c.Type {
	case CredentialTypeJWT, CredentialTypeBearer:
		return c.Token, c.Token != ""
	default:
		return "", false
	}
}

// Empty reports whether the credentials carry no material at all.
func (c *Credentials) Empty() bool {
	if c == nil {
		return true
	}
	return c.Token == "" && c.Key == "" && c.Provider == "" && len(c.Custom) == 0
}

// AuthResult is the outcome of credential validation. Only auth adapters
// construct AuthResult values; the transport and server layers consume them.
type AuthResult struct {
	Success  bool                   `json:"success"`
	UserID   string                 `json:"userId,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// AuthFailure builds a failed AuthResult with the given reason.
func AuthFailure(reason string) *AuthResult {
	return &AuthResult{Success: false, Error: reason}
}

// ConnectionMetadata carries transport-level information captured at accept
// time, before any protocol message has been exchanged.
type ConnectionMetadata struct {
	Authorization string            `json:"authorization,omitempty"`
	RemoteAddr    string            `json:"remote_addr,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// value, if one is present. Scheme matching is case-insensitive.
func (m *ConnectionMetadata) BearerToken() (string, bool) {
	if m == nil || m.Authorization == "" {
		return "", false
	}
	const prefix = "bearer "
	if len(m.Authorization) <= len(prefix) {
		return "", false
	}
	if !strings.EqualFold(m.Authorization[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(m.Authorization[len(prefix):])
	return token, token != ""
}

// AuthRecord is the server's view of an authenticated client, derived from
// the transport's authenticated event. Keyed by connection ID, not user ID:
// one user may hold several live connections.
type AuthRecord struct {
	UserID          string                 `json:"user_id"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	AuthenticatedAt time.Time              `json:"authenticated_at"`
}
