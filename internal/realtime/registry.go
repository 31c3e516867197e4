package realtime

import (
	"sync"
)

// Subscription kinds tracked per connection.
const (
	KindJob     = "job"
	KindSession = "session"
)

// Membership is one (kind, target) entry in a connection's subscription set.
type Membership struct {
	Kind     string
	TargetID string
}

// Registry tracks which connections subscribe to which jobs and sessions.
// All three maps mutate under one mutex so the bidirectional invariant
// (forward set and per-connection membership always agree) holds at every
// observable point.
type Registry struct {
	mu          sync.Mutex
	connections map[string]*Connection
	jobSubs     map[string]map[string]struct{}
	rooms       map[string]map[string]struct{}
	memberships map[string]map[Membership]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		jobSubs:     make(map[string]map[string]struct{}),
		rooms:       make(map[string]map[string]struct{}),
		memberships: make(map[string]map[Membership]struct{}),
	}
}

// AddConnection registers a live connection.
func (r *Registry) AddConnection(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[c.ID] = c
	r.memberships[c.ID] = make(map[Membership]struct{})
}

// RemoveConnection drops a connection and every membership it held, and
// returns the removed memberships so the caller can release per-target
// resources (monitors). Idempotent.
func (r *Registry) RemoveConnection(connID string) []Membership {
	r.mu.Lock()
	defer r.mu.Unlock()

	held, ok := r.memberships[connID]
	if !ok {
		return nil
	}

	removed := make([]Membership, 0, len(held))
	for m := range held {
		removed = append(removed, m)
		switch m.Kind {
		case KindJob:
			r.removeFromSet(r.jobSubs, m.TargetID, connID)
		case KindSession:
			r.removeFromSet(r.rooms, m.TargetID, connID)
		}
	}

	delete(r.memberships, connID)
	delete(r.connections, connID)
	return removed
}

// SubscribeJob adds a connection to a job's subscriber set. Returns true
// when this is the first subscriber for the job. Subscribing twice is a
// no-op.
func (r *Registry) SubscribeJob(connID, jobID string) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.memberships[connID]; !ok {
		return false
	}

	set, ok := r.jobSubs[jobID]
	if !ok {
		set = make(map[string]struct{})
		r.jobSubs[jobID] = set
	}
	first = len(set) == 0
	set[connID] = struct{}{}
	r.memberships[connID][Membership{Kind: KindJob, TargetID: jobID}] = struct{}{}
	return first
}

// UnsubscribeJob removes both sides of the membership. Returns true when
// the job's subscriber set became empty. Idempotent.
func (r *Registry) UnsubscribeJob(connID, jobID string) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if held, ok := r.memberships[connID]; ok {
		delete(held, Membership{Kind: KindJob, TargetID: jobID})
	}
	return r.removeFromSet(r.jobSubs, jobID, connID)
}

// JoinRoom adds a connection to a session room. Joining twice is a no-op.
func (r *Registry) JoinRoom(connID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.memberships[connID]; !ok {
		return
	}

	set, ok := r.rooms[sessionID]
	if !ok {
		set = make(map[string]struct{})
		r.rooms[sessionID] = set
	}
	set[connID] = struct{}{}
	r.memberships[connID][Membership{Kind: KindSession, TargetID: sessionID}] = struct{}{}
}

// LeaveRoom removes both sides of the room membership. Idempotent.
func (r *Registry) LeaveRoom(connID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if held, ok := r.memberships[connID]; ok {
		delete(held, Membership{Kind: KindSession, TargetID: sessionID})
	}
	r.removeFromSet(r.rooms, sessionID, connID)
}

// InRoom reports whether a connection currently belongs to a session room.
func (r *Registry) InRoom(connID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.rooms[sessionID]
	if !ok {
		return false
	}
	_, in := set[connID]
	return in
}

// JobSubscribers returns the live connections subscribed to a job.
func (r *Registry) JobSubscribers(jobID string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collect(r.jobSubs[jobID], "")
}

// RoomMembers returns the live connections in a room, excluding one
// connection id (the sender, for sender-excluded fan-out).
func (r *Registry) RoomMembers(sessionID, excludeConnID string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collect(r.rooms[sessionID], excludeConnID)
}

// JobSubscriberCount returns the size of a job's subscriber set.
func (r *Registry) JobSubscriberCount(jobID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobSubs[jobID])
}

// ConnectionCount returns the number of registered connections.
func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}

// Memberships returns a snapshot of a connection's subscription set.
func (r *Registry) Memberships(connID string) []Membership {
	r.mu.Lock()
	defer r.mu.Unlock()

	held := r.memberships[connID]
	out := make([]Membership, 0, len(held))
	for m := range held {
		out = append(out, m)
	}
	return out
}

// allConnections returns a snapshot of every registered connection.
func (r *Registry) allConnections() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Connection, 0, len(r.connections))
	for _, c := range r.connections {
		out = append(out, c)
	}
	return out
}

// removeFromSet drops connID from sets[targetID], pruning empty sets.
// Returns true when the set is now empty or gone. Caller holds r.mu.
func (r *Registry) removeFromSet(sets map[string]map[string]struct{}, targetID, connID string) bool {
	set, ok := sets[targetID]
	if !ok {
		return true
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(sets, targetID)
		return true
	}
	return false
}

// collect resolves a connection-id set to live connections. Caller holds r.mu.
func (r *Registry) collect(set map[string]struct{}, exclude string) []*Connection {
	out := make([]*Connection, 0, len(set))
	for connID := range set {
		if connID == exclude {
			continue
		}
		if c, ok := r.connections[connID]; ok {
			out = append(out, c)
		}
	}
	return out
}
