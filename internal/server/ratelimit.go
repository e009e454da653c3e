package server

import (
	"sync"
	"time"
)

// rateLimiter applies a per-client message ceiling over a one-minute
// window.
type rateLimiter struct {
	mu        sync.Mutex
	perMinute int
	clients   map[string]*clientWindow
}

type clientWindow struct {
	count       int
	windowStart time.Time
}

func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{
		perMinute: perMinute,
		clients:   make(map[string]*clientWindow),
	}
}

// allow reports whether the client may send another message in the current
// window.
func (rl *rateLimiter) allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, ok := rl.clients[clientID]
	if !ok || now.Sub(w.windowStart) >= time.Minute {
		rl.clients[clientID] = &clientWindow{count: 1, windowStart: now}
		return true
	}
	if w.count >= rl.perMinute {
		return false
	}
	w.count++
	return true
}

// forget drops a client's window state. Called on disconnect so stale
// entries cannot accumulate.
func (rl *rateLimiter) forget(clientID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, clientID)
}
