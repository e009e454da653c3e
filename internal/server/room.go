package server

import (
	"sort"
	"time"
)

// Room is a named broadcast group. Owned exclusively by the orchestrator:
// all mutation goes through orchestrator methods under its lock, which is
// what keeps the member set and the reverse index mutually consistent.
type Room struct {
	ID        string
	Name      string
	Metadata  map[string]interface{}
	CreatedAt time.Time

	// dynamic rooms are created on first join and deleted when their
	// member set empties; pre-registered rooms survive emptiness.
	dynamic bool
	members map[string]struct{}
}

func newRoom(id, name string, metadata map[string]interface{}, dynamic bool) *Room {
	return &Room{
		ID:        id,
		Name:      name,
		Metadata:  metadata,
		CreatedAt: time.Now(),
		dynamic:   dynamic,
		members:   make(map[string]struct{}),
	}
}

// memberIDs returns the member set as a sorted slice. Sorted so member
// lists in acknowledgments are deterministic.
func (r *Room) memberIDs() []string {
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
