package presence

import "sync"

// RoomIndex tracks which live connections joined which group room. Room
// membership here is only a broadcast scope; the durable group-membership
// record is re-validated separately at delivery time.
type RoomIndex struct {
	mu        sync.RWMutex
	rooms     map[int64]map[string]struct{} // room id -> conn ids
	connRooms map[string]map[int64]struct{} // conn id -> room ids
}

// NewRoomIndex constructs an empty index.
func NewRoomIndex() *RoomIndex {
	return &RoomIndex{
		rooms:     make(map[int64]map[string]struct{}),
		connRooms: make(map[string]map[int64]struct{}),
	}
}

// Join adds a connection to a room. Join is idempotent.
func (ri *RoomIndex) Join(connID string, roomID int64) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	if _, ok := ri.rooms[roomID]; !ok {
		ri.rooms[roomID] = make(map[string]struct{})
	}
	ri.rooms[roomID][connID] = struct{}{}
	if _, ok := ri.connRooms[connID]; !ok {
		ri.connRooms[connID] = make(map[int64]struct{})
	}
	ri.connRooms[connID][roomID] = struct{}{}
}

// Leave removes a connection from one room.
func (ri *RoomIndex) Leave(connID string, roomID int64) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.leaveLocked(connID, roomID)
}

// DropConnection removes a connection from every room it had joined.
func (ri *RoomIndex) DropConnection(connID string) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	for roomID := range ri.connRooms[connID] {
		ri.leaveLocked(connID, roomID)
	}
}

func (ri *RoomIndex) leaveLocked(connID string, roomID int64) {
	if conns, ok := ri.rooms[roomID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(ri.rooms, roomID)
		}
	}
	if rooms, ok := ri.connRooms[connID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(ri.connRooms, connID)
		}
	}
}

// MembersOf returns the connection ids currently joined to the room.
func (ri *RoomIndex) MembersOf(roomID int64) []string {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	set := ri.rooms[roomID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Rooms returns the room ids a connection has joined.
func (ri *RoomIndex) Rooms(connID string) []int64 {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	set := ri.connRooms[connID]
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
