package transport

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"roomcast/pkg/interfaces"
)

// State is a client connection's lifecycle state.
type State string

// Client connection states. Authentication is monotonic: there is no
// transition back from authenticated to connected.
const (
	StateConnected     State = "connected"
	StateAuthenticated State = "authenticated"
	StateDisconnected  State = "disconnected"
)

// Client is one live connection. The transport adapter owns Client values
// exclusively; other components see only the connection ID and derived
// views. IDs are unique per live connection and never reused.
type Client struct {
	id          string
	sock        interfaces.Socket
	connectedAt time.Time

	mu              sync.RWMutex
	state           State
	userID          string
	metadata        map[string]interface{}
	authenticatedAt time.Time
	authTimer       *time.Timer
}

func newClient(sock interfaces.Socket) *Client {
	return &Client{
		id:          uuid.New().String(),
		sock:        sock,
		connectedAt: time.Now(),
		state:       StateConnected,
	}
}

// ID returns the connection's unique identifier.
func (c *Client) ID() string { return c.id }

// ConnectedAt returns when the raw connection was accepted.
func (c *Client) ConnectedAt() time.Time { return c.connectedAt }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Authenticated reports whether the client has authenticated.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateAuthenticated
}

// UserID returns the authenticated user identity, empty until then.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Metadata returns the adapter-supplied metadata recorded at
// authentication time.
func (c *Client) Metadata() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metadata
}

// AuthenticatedAt returns when the client authenticated; ok is false while
// unauthenticated.
func (c *Client) AuthenticatedAt() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticatedAt, !c.authenticatedAt.IsZero()
}

// transitionAuthenticated moves connected → authenticated, recording the
// identity. Returns false without mutating when the client is already
// authenticated or already disconnected. Callers must check the return
// value: an authenticate continuation may resolve after a competing one
// already won, and only the winner may send the success acknowledgment.
func (c *Client) transitionAuthenticated(userID string, metadata map[string]interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return false
	}
	c.state = StateAuthenticated
	c.userID = userID
	c.metadata = metadata
	c.authenticatedAt = time.Now()
	return true
}

// transitionDisconnected moves any live state to disconnected, cancelling a
// pending auth timer. Returns false when already disconnected.
func (c *Client) transitionDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return false
	}
	c.state = StateDisconnected
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	return true
}

// setAuthTimer attaches the pending auth-timeout task. Rejected once the
// client has left the connected-unauthenticated state, in which case the
// caller's timer must not be kept.
func (c *Client) setAuthTimer(t *time.Timer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return false
	}
	c.authTimer = t
	return true
}

// cancelAuthTimer stops and clears a pending auth-timeout task.
func (c *Client) cancelAuthTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
}
