// Package presence tracks which users currently hold live connections.
// Process-local and rebuilt from zero on restart: any user actively
// connected must reconnect.
package presence

import (
	"sync"

	"tutorhub/internal/store"
)

// Conn is one live channel belonging to one user. Send is best-effort
// and must never block: a stale connection silently drops the payload
// without affecting the rest of a fan-out.
type Conn interface {
	UserID() string
	Send(v any)
}

// Registry maps user identity to the set of concurrently active
// connections for that user (multiple devices or tabs). Volunteers
// additionally join the "volunteers" broadcast group.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]map[Conn]bool
	volunteers map[Conn]bool
}

func NewRegistry() *Registry {
	return &Registry{
		conns:      make(map[string]map[Conn]bool),
		volunteers: make(map[Conn]bool),
	}
}

// Register appends c to the user's connection set.
func (r *Registry) Register(userID string, c Conn, isVolunteer bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[userID] == nil {
		r.conns[userID] = make(map[Conn]bool)
	}
	r.conns[userID][c] = true
	if isVolunteer {
		r.volunteers[c] = true
	}
}

// Deregister removes c. Removing the last connection leaves the user
// absent from the registry; deregistering an already-removed connection
// is not an error.
func (r *Registry) Deregister(userID string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.conns[userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.conns, userID)
		}
	}
	delete(r.volunteers, c)
}

// ConnectionsOf returns the user's current connections, possibly empty.
func (r *Registry) ConnectionsOf(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.conns[userID])
}

// PartnerConnectionsOf resolves the session's other participant and
// returns their current connections. Empty if the session has no second
// participant yet.
func (r *Registry) PartnerConnectionsOf(sess *store.Session, requestingUserID string) []Conn {
	partner := sess.PartnerID(requestingUserID)
	if partner == "" {
		return nil
	}
	return r.ConnectionsOf(partner)
}

// Volunteers returns every connection in the volunteer broadcast group.
func (r *Registry) Volunteers() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.volunteers)
}

// ConnectionCount reports the total number of live connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.conns {
		n += len(set)
	}
	return n
}

func collect(set map[Conn]bool) []Conn {
	if len(set) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}
