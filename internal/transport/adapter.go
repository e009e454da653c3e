// Package transport owns the per-connection lifecycle: accepting raw
// sockets, the authentication handshake (header fast path and in-band
// challenge/response), per-client timers, message framing and per-recipient
// delivery isolation. It holds no room state; application-level routing is
// delegated to the handler installed by the server orchestrator.
package transport

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"roomcast/internal/events"
	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// MessageHandler receives parsed application-level messages from the
// transport. Installed by the server orchestrator.
type MessageHandler func(clientID string, msg *types.InboundMessage)

// Config carries the adapter's construction-time settings.
type Config struct {
	// Auth is the credential-validation strategy. Nil disables
	// authentication entirely.
	Auth interfaces.AuthAdapter

	// Events receives lifecycle notifications. Required.
	Events *events.Dispatcher

	// DefaultAuthTimeout applies when the auth adapter declares no timeout
	// of its own. Zero falls back to 30 seconds.
	DefaultAuthTimeout time.Duration

	// AuthFailureCloseDelay is the grace delay before force-closing a
	// connection that failed an in-band authenticate while authentication
	// is required. Zero leaves the connection open.
	AuthFailureCloseDelay time.Duration
}

var _ interfaces.Transport = (*Adapter)(nil)

// Adapter manages all live client connections. Thread-safe.
type Adapter struct {
	auth           interfaces.AuthAdapter
	dispatcher     *events.Dispatcher
	defaultTimeout time.Duration
	failCloseDelay time.Duration

	mu      sync.RWMutex
	clients map[string]*Client
	handler MessageHandler
	stopped bool
}

// NewAdapter creates a transport adapter.
func NewAdapter(cfg Config) *Adapter {
	timeout := cfg.DefaultAuthTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dispatcher := cfg.Events
	if dispatcher == nil {
		dispatcher = events.NewDispatcher()
	}
	return &Adapter{
		auth:           cfg.Auth,
		dispatcher:     dispatcher,
		defaultTimeout: timeout,
		failCloseDelay: cfg.AuthFailureCloseDelay,
		clients:        make(map[string]*Client),
	}
}

// SetMessageHandler installs the application message handler. Must be
// called before the first connection is accepted.
func (a *Adapter) SetMessageHandler(h MessageHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = h
}

// Events returns the lifecycle dispatcher.
func (a *Adapter) Events() *events.Dispatcher { return a.dispatcher }

// AcceptConnection registers a newly accepted raw connection. When the
// connection metadata carries an Authorization bearer token and an auth
// adapter is configured, the token is validated before the message loop
// begins, bypassing the in-band authenticate exchange. Unauthenticated
// connections get an auth-timeout task when the adapter requires auth.
func (a *Adapter) AcceptConnection(ctx context.Context, sock interfaces.Socket, meta *types.ConnectionMetadata) (*Client, error) {
	if sock == nil {
		return nil, ErrNilSocket
	}

	client := newClient(sock)

	// Header fast path.
	if token, ok := meta.BearerToken(); ok && a.auth != nil {
		var result *types.AuthResult
		if tv, ok := a.auth.(interfaces.TokenValidator); ok {
			result = tv.ValidateToken(ctx, token)
		} else {
			result = a.auth.Authenticate(ctx, &types.Credentials{
				Type:  types.CredentialTypeBearer,
				Token: token,
			})
		}
		if result != nil && result.Success {
			client.transitionAuthenticated(result.UserID, result.Metadata)
		}
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		_ = sock.Close(ReasonShutdown)
		return nil, ErrAdapterStopped
	}
	a.clients[client.id] = client
	a.mu.Unlock()

	a.dispatcher.Emit(events.Event{Type: events.EventConnection, ClientID: client.id})

	if client.Authenticated() {
		a.dispatcher.Emit(events.Event{
			Type:     events.EventAuthenticated,
			ClientID: client.id,
			UserID:   client.UserID(),
			Payload:  client.Metadata(),
		})
	} else if a.authRequired() {
		a.scheduleAuthTimeout(client)
	}

	return client, nil
}

// ReceiveMessage handles one raw frame from a client. Parse failures get an
// error reply and no state change; unauthenticated clients may only
// authenticate when the adapter requires auth; everything else is forwarded
// to the installed message handler.
func (a *Adapter) ReceiveMessage(clientID string, payload []byte) {
	client, ok := a.client(clientID)
	if !ok {
		return
	}

	msg, err := types.ParseMessage(payload)
	if err != nil {
		// An authenticate attempt without credentials is an auth failure,
		// not a framing problem.
		if err == types.ErrMissingCredentials {
			a.send(client, types.NewAuthError(replyCredentialsRequired))
			return
		}
		a.send(client, types.NewErrorFrame(replyInvalidMessage))
		return
	}

	if msg.Type == types.MessageTypeAuthenticate {
		if client.Authenticated() {
			a.send(client, types.NewErrorFrame(replyAlreadyAuthenticated))
			return
		}
		a.handleAuthenticate(client, msg.Credentials)
		return
	}

	if !client.Authenticated() && a.authRequired() {
		a.send(client, types.NewErrorFrame(replyAuthRequired))
		return
	}

	a.mu.RLock()
	handler := a.handler
	a.mu.RUnlock()
	if handler != nil {
		handler(clientID, msg)
	}
	a.dispatcher.Emit(events.Event{Type: events.EventMessage, ClientID: clientID, Payload: msg})
}

// handleAuthenticate runs the in-band authentication sub-flow: cancel the
// pending timeout, consult the adapter, transition on success. The state
// transition re-checks authenticated state itself, so of two
// near-simultaneous authenticate messages only one can win and emit a
// success reply; the loser gets an error frame.
func (a *Adapter) handleAuthenticate(client *Client, credentials *types.Credentials) {
	client.cancelAuthTimer()

	if a.auth == nil {
		a.send(client, types.NewAuthError("authentication is not configured"))
		return
	}

	if ct, ok := a.auth.(interfaces.CredentialTypes); ok && !supportsType(ct.SupportedCredentialTypes(), credentials.Type) {
		a.authFailed(client, "unsupported credential type: "+credentials.Type)
		return
	}

	result := a.auth.Authenticate(context.Background(), credentials)
	if result == nil || !result.Success {
		reason := "authentication failed"
		if result != nil && result.Error != "" {
			reason = result.Error
		}
		a.authFailed(client, reason)
		return
	}

	if !client.transitionAuthenticated(result.UserID, result.Metadata) {
		// A competing authenticate resolved first, or the client is gone.
		a.send(client, types.NewErrorFrame(replyAlreadyAuthenticated))
		return
	}

	a.send(client, types.NewAuthSuccess(result.UserID, result.Metadata))
	a.dispatcher.Emit(events.Event{
		Type:     events.EventAuthenticated,
		ClientID: client.id,
		UserID:   result.UserID,
		Payload:  result.Metadata,
	})
}

// authFailed replies with an auth_error and, when policy dictates,
// schedules a short-delay forced close unless the client authenticates in
// the meantime.
func (a *Adapter) authFailed(client *Client, reason string) {
	a.send(client, types.NewAuthError(reason))
	if a.authRequired() && a.failCloseDelay > 0 {
		time.AfterFunc(a.failCloseDelay, func() {
			if !client.Authenticated() {
				_ = a.DisconnectClient(client.id, reasonAuthFailed)
			}
		})
	}
}

// scheduleAuthTimeout arms the cancellable auth-deadline task. The timer is
// cancelled on every transition out of connected-unauthenticated, and the
// fired task re-checks state so it can never act on an authenticated or
// already-closed connection.
func (a *Adapter) scheduleAuthTimeout(client *Client) {
	timeout := a.defaultTimeout
	if policy, ok := a.auth.(interfaces.AuthPolicy); ok {
		if d := policy.AuthTimeout(); d > 0 {
			timeout = d
		}
	}

	timer := time.AfterFunc(timeout, func() {
		if client.State() != StateConnected {
			return
		}
		a.send(client, types.NewErrorFrame(replyAuthTimeout))
		_ = a.DisconnectClient(client.id, reasonAuthTimeout)
	})
	if !client.setAuthTimer(timer) {
		timer.Stop()
	}
}

// SendToClient serializes frame and delivers it to one client.
func (a *Adapter) SendToClient(clientID string, frame interface{}) error {
	client, ok := a.client(clientID)
	if !ok {
		return ErrClientNotFound
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return client.sock.Send(data)
}

// SendToClients serializes frame once and delivers it to each listed
// client. Delivery is isolated per recipient: one failed send is logged
// and skipped without affecting the rest or the caller.
func (a *Adapter) SendToClients(clientIDs []string, frame interface{}, excludeClientID string) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("transport: failed to serialize frame: %v", err)
		return
	}
	for _, id := range clientIDs {
		if id == excludeClientID {
			continue
		}
		client, ok := a.client(id)
		if !ok {
			continue
		}
		if err := client.sock.Send(data); err != nil {
			log.Printf("transport: failed to deliver to client %s: %v", id, err)
		}
	}
}

// Broadcast delivers frame to every connected client, with the same
// per-recipient isolation as SendToClients.
func (a *Adapter) Broadcast(frame interface{}, excludeClientID string) {
	a.SendToClients(a.ClientIDs(), frame, excludeClientID)
}

// DisconnectClient closes a client's socket with the given reason and runs
// the same cleanup path as an organic close.
func (a *Adapter) DisconnectClient(clientID, reason string) error {
	client, ok := a.client(clientID)
	if !ok {
		return ErrClientNotFound
	}
	if err := client.sock.Close(reason); err != nil {
		log.Printf("transport: close failed for client %s: %v", clientID, err)
	}
	a.HandleDisconnect(clientID)
	return nil
}

// HandleDisconnect is the single cleanup path for a closed connection,
// whether organic or forced. Idempotent: the first caller removes the
// client, cancels its timers and emits the disconnection event; later
// callers find nothing to do.
func (a *Adapter) HandleDisconnect(clientID string) {
	a.mu.Lock()
	client, ok := a.clients[clientID]
	if ok {
		delete(a.clients, clientID)
	}
	a.mu.Unlock()
	if !ok {
		return
	}

	client.transitionDisconnected()
	a.dispatcher.Emit(events.Event{
		Type:     events.EventDisconnection,
		ClientID: clientID,
		UserID:   client.UserID(),
	})
}

// Client returns a live client by connection ID.
func (a *Adapter) Client(clientID string) (*Client, bool) {
	return a.client(clientID)
}

// ClientCount returns the number of live connections.
func (a *Adapter) ClientCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.clients)
}

// ClientIDs returns the IDs of all live connections.
func (a *Adapter) ClientIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.clients))
	for id := range a.clients {
		ids = append(ids, id)
	}
	return ids
}

// Stop force-closes every connection with a shutdown reason and cancels
// every outstanding timer. No per-client disconnection events are emitted:
// the orchestrator clears its own state as part of the same shutdown.
// Subsequent AcceptConnection calls are rejected.
func (a *Adapter) Stop() {
	a.mu.Lock()
	a.stopped = true
	clients := make([]*Client, 0, len(a.clients))
	for _, c := range a.clients {
		clients = append(clients, c)
	}
	a.clients = make(map[string]*Client)
	a.mu.Unlock()

	for _, client := range clients {
		client.transitionDisconnected()
		if err := client.sock.Close(ReasonShutdown); err != nil {
			log.Printf("transport: close failed for client %s: %v", client.id, err)
		}
	}
}

func (a *Adapter) client(clientID string) (*Client, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	client, ok := a.clients[clientID]
	return client, ok
}

// send is a best-effort single-client reply used inside protocol flows.
func (a *Adapter) send(client *Client, frame interface{}) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("transport: failed to serialize frame: %v", err)
		return
	}
	if err := client.sock.Send(data); err != nil {
		log.Printf("transport: failed to deliver to client %s: %v", client.id, err)
	}
}

func (a *Adapter) authRequired() bool {
	if a.auth == nil {
		return false
	}
	if policy, ok := a.auth.(interfaces.AuthPolicy); ok {
		return policy.AuthRequired()
	}
	// Adapters that declare no policy get the conservative default.
	return true
}

func supportsType(supported []string, credType string) bool {
	for _, t := range supported {
		if t == credType {
			return true
		}
	}
	return false
}
