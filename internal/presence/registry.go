package presence

import (
	"sort"
	"sync"
)

// Listener receives the full online-user snapshot whenever presence changes.
// The full set, not a delta, so clients connecting mid-storm cannot observe
// an inconsistent ordering of partial updates.
type Listener func(online []int64)

// Registry maps users to their live connections. A user may hold several
// connections at once (multiple tabs or devices); the user counts as online
// while at least one connection remains. All state is process-lifetime only.
type Registry struct {
	mu       sync.RWMutex
	users    map[int64]map[string]struct{} // user id -> conn ids
	conns    map[string]int64              // conn id -> user id
	rooms    *RoomIndex
	listener Listener
}

// NewRegistry constructs a Registry. Unregister cascades room removal through
// the given index, so a dead connection can never linger in a room.
func NewRegistry(rooms *RoomIndex) *Registry {
	return &Registry{
		users: make(map[int64]map[string]struct{}),
		conns: make(map[string]int64),
		rooms: rooms,
	}
}

// OnPresenceChanged sets the snapshot listener. The listener is invoked
// outside the registry lock.
func (r *Registry) OnPresenceChanged(fn Listener) {
	r.mu.Lock()
	r.listener = fn
	r.mu.Unlock()
}

// Register binds a connection to a user. Registering the first connection for
// a user emits a presence change.
func (r *Registry) Register(userID int64, connID string) {
	r.mu.Lock()
	if _, known := r.conns[connID]; known {
		r.mu.Unlock()
		return
	}
	r.conns[connID] = userID
	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]struct{})
		r.users[userID] = set
	}
	set[connID] = struct{}{}
	wentOnline := len(set) == 1
	fn, snapshot := r.listener, r.onlineLocked()
	r.mu.Unlock()

	if wentOnline && fn != nil {
		fn(snapshot)
	}
}

// Unregister removes a connection and cascades it out of every joined room.
// Unknown connection ids are a no-op, so duplicate or late disconnect signals
// cannot double-decrement presence. It returns the owning user id and whether
// this removal took the user fully offline.
func (r *Registry) Unregister(connID string) (userID int64, wentOffline bool) {
	r.mu.Lock()
	userID, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return 0, false
	}
	delete(r.conns, connID)
	if set, ok := r.users[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.users, userID)
			wentOffline = true
		}
	}
	fn, snapshot := r.listener, r.onlineLocked()
	r.mu.Unlock()

	r.rooms.DropConnection(connID)

	if wentOffline && fn != nil {
		fn(snapshot)
	}
	return userID, wentOffline
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// ConnectionsFor returns the connection ids of a user.
func (r *Registry) ConnectionsFor(userID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.users[userID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// UserOf resolves a connection id back to its user.
func (r *Registry) UserOf(connID string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.conns[connID]
	return userID, ok
}

// OnlineUsers returns the sorted set of online user ids.
func (r *Registry) OnlineUsers() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onlineLocked()
}

func (r *Registry) onlineLocked() []int64 {
	out := make([]int64, 0, len(r.users))
	for id := range r.users {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
