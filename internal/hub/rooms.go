package hub

import (
	"sort"
	"strings"
	"sync"

	"palaver/internal/models"
)

// roomRegistry tracks the known room names and which room each connection
// is in. A connection is in exactly one room at a time; joining a new room
// leaves the previous one. Rooms are never deleted and the default room
// always exists.
type roomRegistry struct {
	mu      sync.RWMutex
	known   map[string]struct{}
	byConn  map[string]string
	members map[string]map[string]struct{}
}

func newRoomRegistry() *roomRegistry {
	return &roomRegistry{
		known:   map[string]struct{}{models.DefaultRoom: {}},
		byConn:  make(map[string]string),
		members: make(map[string]map[string]struct{}),
	}
}

// NormalizeRoom trims the requested name and falls back to the default
// room when nothing is left.
func NormalizeRoom(room string) string {
	room = strings.TrimSpace(room)
	if room == "" {
		return models.DefaultRoom
	}
	return room
}

// Join moves the connection into the room and returns the normalized name.
func (r *roomRegistry) Join(connID, room string) string {
	room = NormalizeRoom(room)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.known[room] = struct{}{}

	if prev, ok := r.byConn[connID]; ok {
		delete(r.members[prev], connID)
	}

	if r.members[room] == nil {
		r.members[room] = make(map[string]struct{})
	}
	r.members[room][connID] = struct{}{}
	r.byConn[connID] = room

	return room
}

func (r *roomRegistry) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.byConn[connID]; ok {
		delete(r.members[room], connID)
		delete(r.byConn, connID)
	}
}

// RoomOf returns the connection's current room, defaulting to the default
// room for connections that have not joined yet.
func (r *roomRegistry) RoomOf(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if room, ok := r.byConn[connID]; ok {
		return room
	}
	return models.DefaultRoom
}

func (r *roomRegistry) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.members[room]))
	for connID := range r.members[room] {
		out = append(out, connID)
	}
	return out
}

// List returns all known room names, sorted for stable display.
func (r *roomRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.known))
	for room := range r.known {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}
