package interfaces

// Transport is the delivery surface the server orchestrator routes through.
// Sends are best-effort: a failure to one recipient is logged and isolated
// inside the transport, never propagated to the caller of a fan-out.
type Transport interface {
	// SendToClient serializes frame and delivers it to one client.
	SendToClient(clientID string, frame interface{}) error

	// SendToClients serializes frame once and delivers it to each listed
	// client, skipping excludeClientID when non-empty.
	SendToClients(clientIDs []string, frame interface{}, excludeClientID string)

	// Broadcast serializes frame once and delivers it to every connected
	// client, skipping excludeClientID when non-empty.
	Broadcast(frame interface{}, excludeClientID string)

	// DisconnectClient closes a client's connection with the given reason,
	// triggering the same cleanup path as an organic close.
	DisconnectClient(clientID, reason string) error

	// ClientCount returns the number of live connections.
	ClientCount() int
}
