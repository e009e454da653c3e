package transport

import "errors"

// Adapter-level errors.
var (
	ErrNilSocket      = errors.New("socket cannot be nil")
	ErrClientNotFound = errors.New("client not found")
	ErrAdapterStopped = errors.New("transport adapter is stopped")
)

// Socket-level errors.
var (
	ErrSocketClosed = errors.New("socket closed")
	ErrSendTimeout  = errors.New("send timed out")
)

// Error strings sent to clients in error frames. Fixed so clients can match
// on them.
const (
	replyInvalidMessage       = "invalid message format"
	replyAuthRequired         = "authentication required"
	replyCredentialsRequired  = "credentials are required"
	replyAlreadyAuthenticated = "already authenticated"
	replyAuthTimeout          = "authentication timeout"
)

// Disconnect reasons.
const (
	reasonAuthTimeout = "authentication timeout"
	reasonAuthFailed  = "authentication failed"
	// ReasonShutdown is the disconnect reason used when the server stops.
	ReasonShutdown = "server shutting down"
)
