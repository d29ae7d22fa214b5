package runtime

import (
	"sync"

	"gamechat/errors"
)

type Set map[string]struct{}

// Registry maps authenticated identities to their live connections and
// rooms to their subscribed connections. It is the source of truth for
// presence: online/offline edges are derived strictly from the identity's
// connection count crossing zero, and both indexes mutate under one mutex
// so concurrent connects and disconnects for the same identity never emit
// duplicate transitions.
type Registry struct {
	mu          sync.Mutex
	conns       map[string]*Connection // connection id -> connection
	byIdentity  map[string]Set         // identity -> connection ids
	roomMembers map[string]Set         // room -> connection ids
	joined      map[string]Set         // connection id -> rooms
}

func NewRegistry() *Registry {
	return &Registry{
		conns:       make(map[string]*Connection),
		byIdentity:  make(map[string]Set),
		roomMembers: make(map[string]Set),
		joined:      make(map[string]Set),
	}
}

// Register adds a live connection. It reports whether this registration
// took the owning identity from zero connections to one (the presence-online
// edge). Reusing a connection id fails with ErrDuplicateConnection.
func (r *Registry) Register(conn *Connection) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn.ID]; ok {
		return false, errors.ErrDuplicateConnection
	}

	r.conns[conn.ID] = conn
	ids, ok := r.byIdentity[conn.Identity]
	if !ok {
		ids = make(Set)
		r.byIdentity[conn.Identity] = ids
	}
	ids[conn.ID] = struct{}{}
	r.joined[conn.ID] = make(Set)

	return len(ids) == 1, nil
}

// Unregister removes a connection and cleans up its room memberships.
// Removing an unknown id is a no-op (idempotent close). It returns the
// rooms the connection was subscribed to and whether the identity just went
// offline (last connection closed).
func (r *Registry) Unregister(connID string) (rooms []string, wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	delete(r.conns, connID)

	for room := range r.joined[connID] {
		rooms = append(rooms, room)
		if members, ok := r.roomMembers[room]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(r.roomMembers, room)
			}
		}
	}
	delete(r.joined, connID)

	if ids, ok := r.byIdentity[conn.Identity]; ok {
		delete(ids, connID)
		if len(ids) == 0 {
			delete(r.byIdentity, conn.Identity)
			wentOffline = true
		}
	}
	return rooms, wentOffline
}

// Subscribe adds the connection to a room. Unknown connections are ignored:
// a join racing a close must not resurrect registry state.
func (r *Registry) Subscribe(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connID]; !ok {
		return
	}
	if _, ok := r.roomMembers[room]; !ok {
		r.roomMembers[room] = make(Set)
	}
	r.roomMembers[room][connID] = struct{}{}
	r.joined[connID][room] = struct{}{}
}

// Unsubscribe removes the connection from a room, dropping empty room
// entries so the index does not leak over time.
func (r *Registry) Unsubscribe(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if members, ok := r.roomMembers[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.roomMembers, room)
		}
	}
	if rooms, ok := r.joined[connID]; ok {
		delete(rooms, room)
	}
}

// SubscribersOf resolves a room to its live connections.
func (r *Registry) SubscribersOf(room string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.roomMembers[room]
	if !ok {
		return nil
	}
	subscribers := make([]*Connection, 0, len(members))
	for connID := range members {
		if conn, exists := r.conns[connID]; exists {
			subscribers = append(subscribers, conn)
		}
	}
	return subscribers
}

// ConnectionsFor returns all live connections of an identity (multi-device).
func (r *Registry) ConnectionsFor(identity string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, ok := r.byIdentity[identity]
	if !ok {
		return nil
	}
	conns := make([]*Connection, 0, len(ids))
	for connID := range ids {
		if conn, exists := r.conns[connID]; exists {
			conns = append(conns, conn)
		}
	}
	return conns
}

func (r *Registry) IsOnline(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byIdentity[identity]) > 0
}

// Stats exposes gauges for the telemetry worker.
func (r *Registry) Stats() (connections, identities, rooms int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns), len(r.byIdentity), len(r.roomMembers)
}
