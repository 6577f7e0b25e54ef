package storage

import (
	"sort"
	"strings"
	"time"

	"palaver/internal/models"
)

const (
	// MaxPageLimit bounds history page sizes regardless of what the caller asks for.
	MaxPageLimit = 100
	// DefaultPageLimit applies when the caller does not specify a limit.
	DefaultPageLimit = 50
	// SearchLimit caps search results.
	SearchLimit = 50

	// FallbackBroadcastCap bounds the in-memory fallback's broadcast
	// message retention. Private messages are not capped.
	FallbackBroadcastCap = 100
)

// Filter selects either a room's broadcast history or the private history
// between an unordered pair of usernames. Exactly one of the two is set.
type Filter struct {
	Room        string
	PrivatePair [2]string
}

// MessageStore is the append-and-query abstraction over persisted messages.
// Callers must not depend on which backend is active.
type MessageStore interface {
	// Append assigns id and timestamp, persists the draft and returns the
	// stored form. Safe for concurrent use; the durable backend guarantees
	// distinct ids, the fallback backend does not (wall-clock ids).
	Append(draft models.MessageDraft) (models.Message, error)

	// Page returns up to limit messages strictly older than before
	// (or the most recent limit when before is zero), oldest-first.
	Page(filter Filter, before time.Time, limit int) ([]models.Message, error)

	// Search returns messages in a room whose body or sender contains the
	// substring, case-insensitive, newest-first, capped at SearchLimit.
	Search(room, query string) ([]models.Message, error)

	// UpdateReadBy inserts userID into the message's read-by set and
	// reports whether the set changed.
	UpdateReadBy(id, userID string) (bool, error)

	// UpdateReaction toggles the (userID, reaction) pair on the message
	// and returns the resulting reaction list.
	UpdateReaction(id, userID, reaction string) ([]models.Reaction, error)

	Close() error
}

// PairScope returns the deterministic scope name for a private conversation
// between two usernames, independent of argument order.
func PairScope(u1, u2 string) string {
	ids := []string{u1, u2}
	sort.Strings(ids)
	return "dm_" + ids[0] + "_" + ids[1]
}

func roomScope(room string) string {
	return "room_" + room
}

func (f Filter) scope() string {
	if f.Room != "" {
		return roomScope(f.Room)
	}
	return PairScope(f.PrivatePair[0], f.PrivatePair[1])
}

func draftScope(draft models.MessageDraft) string {
	if draft.Kind == models.MessageKindPrivate {
		return PairScope(draft.Sender, draft.ToUsername)
	}
	return roomScope(draft.Room)
}

// ClampLimit normalizes a requested page size into [1, MaxPageLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// matchesQuery is the shared search predicate: a case-insensitive substring
// match over body text or sender name. strings.Contains treats the query as
// plain text, so no pattern metacharacters need escaping.
func matchesQuery(msg models.Message, query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(msg.Body), q) ||
		strings.Contains(strings.ToLower(msg.Sender), q)
}
