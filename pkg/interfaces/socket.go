package interfaces

// Socket is the minimal capability set the transport adapter needs from an
// underlying connection: send a frame, close with a reason, identify the
// peer. Inbound traffic and close notification flow the other way, through
// the transport adapter's ReceiveMessage/HandleDisconnect entry points.
type Socket interface {
	// Send writes one serialized frame to the peer (thread-safe).
	Send(data []byte) error

	// Close terminates the connection, conveying the reason to the peer
	// where the underlying protocol supports it. Must be idempotent.
	Close(reason string) error

	// RemoteAddr returns the peer's network address for logging.
	RemoteAddr() string
}
