package hub

import (
	"errors"
	"sort"

	"github.com/google/uuid"
)

// ErrEmptyRoom is returned when a room name is blank.
var ErrEmptyRoom = errors.New("hub: room name is required")

// Join adds the connection to room, creating the room if needed. Joining a
// room twice is a no-op.
func (h *Hub) Join(id uuid.UUID, room string) error {
	if room == "" {
		return ErrEmptyRoom
	}

	h.mu.Lock()
	rec, ok := h.conns[id]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownConnection
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[uuid.UUID]struct{})
		h.rooms[room] = members
	}
	members[id] = struct{}{}
	rec.rooms[room] = struct{}{}
	size, count, rooms := len(members), len(h.conns), len(h.rooms)
	h.mu.Unlock()

	h.metrics.SetTopology(count, rooms)
	h.logger.Debug("hub: joined room", "client_id", id, "room", room, "size", size)
	return nil
}

// Leave removes the connection from room and deletes the room once it is
// empty. Leaving a room the connection is not in is a no-op.
func (h *Hub) Leave(id uuid.UUID, room string) {
	h.mu.Lock()
	if rec, ok := h.conns[id]; ok {
		delete(rec.rooms, room)
	}
	h.dropMemberLocked(room, id)
	count, rooms := len(h.conns), len(h.rooms)
	h.mu.Unlock()

	h.metrics.SetTopology(count, rooms)
	h.logger.Debug("hub: left room", "client_id", id, "room", room)
}

// dropMemberLocked removes id from room's member set. h.mu must be held.
func (h *Hub) dropMemberLocked(room string, id uuid.UUID) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Members returns the identities in room, or an empty slice if the room
// does not exist.
func (h *Hub) Members(room string) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.rooms[room]
	out := make([]uuid.UUID, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// RoomsOf returns the sorted rooms the connection belongs to.
func (h *Hub) RoomsOf(id uuid.UUID) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rec, ok := h.conns[id]
	if !ok {
		return []string{}
	}
	return sortedKeys(rec.rooms)
}

// ListRooms returns the sorted names of all non-empty rooms.
func (h *Hub) ListRooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.rooms))
	for room := range h.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// RoomSizes returns the member count of every room.
func (h *Hub) RoomSizes() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]int, len(h.rooms))
	for room, members := range h.rooms {
		out[room] = len(members)
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
