package hub

import (
	"sort"
	"sync"
)

type typingEntry struct {
	username string
	room     string
}

// typingAggregator keeps the ephemeral per-room set of currently-typing
// usernames, keyed by connection. There is no server-side expiry: a client
// that stops signaling stays in the set until it signals false or
// disconnects.
type typingAggregator struct {
	mu     sync.Mutex
	byConn map[string]typingEntry
}

func newTypingAggregator() *typingAggregator {
	return &typingAggregator{
		byConn: make(map[string]typingEntry),
	}
}

// Set records or clears the typing state for a connection and reports
// whether anything changed.
func (t *typingAggregator) Set(connID, username, room string, typing bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if typing {
		entry := typingEntry{username: username, room: room}
		if t.byConn[connID] == entry {
			return false
		}
		t.byConn[connID] = entry
		return true
	}

	if _, ok := t.byConn[connID]; !ok {
		return false
	}
	delete(t.byConn, connID)
	return true
}

// Clear removes the connection's entry and returns the room it occupied,
// used on disconnect and on room change to avoid a stuck indicator.
func (t *typingAggregator) Clear(connID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.byConn[connID]
	if ok {
		delete(t.byConn, connID)
	}
	return entry.room, ok
}

// Snapshot returns the sorted usernames typing in the room.
func (t *typingAggregator) Snapshot(room string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0)
	for _, entry := range t.byConn {
		if entry.room == room {
			names = append(names, entry.username)
		}
	}
	sort.Strings(names)
	return names
}
