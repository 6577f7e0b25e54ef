package storage

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"palaver/internal/models"
)

// MemoryStorage is the non-durable fallback backend used when no database
// file is configured. Broadcast messages live in a bounded ring buffer
// shared across rooms; private messages are kept without a cap. Everything
// is lost on restart.
//
// Ids are wall-clock milliseconds and are not guaranteed unique when two
// appends land within the same millisecond. Callers tolerate this.
type MemoryStorage struct {
	mu        sync.Mutex
	broadcast *ring
	private   []models.Message
	now       func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	slog.Warn("no database configured, using in-memory message store",
		"broadcast_cap", FallbackBroadcastCap)
	return &MemoryStorage{
		broadcast: newRing(FallbackBroadcastCap),
		now:       time.Now,
	}
}

func (s *MemoryStorage) Close() error {
	return nil
}

func (s *MemoryStorage) Append(draft models.MessageDraft) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now()
	msg := models.Message{
		ID:          strconv.FormatInt(ts.UnixMilli(), 10),
		Kind:        draft.Kind,
		Body:        draft.Body,
		Sender:      draft.Sender,
		SenderID:    draft.SenderID,
		Timestamp:   ts.UTC(),
		Room:        draft.Room,
		ToUsername:  draft.ToUsername,
		ToUserID:    draft.ToUserID,
		Attachments: append([]models.Attachment(nil), draft.Attachments...),
	}

	if draft.Kind == models.MessageKindPrivate {
		s.private = append(s.private, msg)
	} else {
		s.broadcast.add(msg)
	}

	return cloneMessage(msg), nil
}

func (s *MemoryStorage) Page(filter Filter, before time.Time, limit int) ([]models.Message, error) {
	limit = ClampLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	var matching []models.Message
	s.forEach(filter, func(msg *models.Message) bool {
		if !before.IsZero() && !msg.Timestamp.Before(before) {
			return true
		}
		matching = append(matching, cloneMessage(*msg))
		return true
	})

	if len(matching) > limit {
		matching = matching[len(matching)-limit:]
	}
	return matching, nil
}

func (s *MemoryStorage) Search(room, query string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matching []models.Message
	s.forEach(Filter{Room: room}, func(msg *models.Message) bool {
		if matchesQuery(*msg, query) {
			matching = append(matching, cloneMessage(*msg))
		}
		return true
	})

	if len(matching) > SearchLimit {
		matching = matching[len(matching)-SearchLimit:]
	}
	reverseMessages(matching)
	return matching, nil
}

func (s *MemoryStorage) UpdateReadBy(id, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.findByID(id)
	if msg == nil {
		return false, models.ErrNotFound
	}

	for _, existing := range msg.ReadBy {
		if existing == userID {
			return false, nil
		}
	}
	msg.ReadBy = append(msg.ReadBy, userID)
	return true, nil
}

func (s *MemoryStorage) UpdateReaction(id, userID, reaction string) ([]models.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.findByID(id)
	if msg == nil {
		return nil, models.ErrNotFound
	}

	kept := msg.Reactions[:0]
	removed := false
	for _, r := range msg.Reactions {
		if r.UserID == userID && r.Type == reaction {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	msg.Reactions = kept
	if !removed {
		msg.Reactions = append(msg.Reactions, models.Reaction{Type: reaction, UserID: userID})
	}

	return append([]models.Reaction(nil), msg.Reactions...), nil
}

// forEach visits messages matching the filter oldest-first. The callback
// returns false to stop the walk. Callers hold s.mu.
func (s *MemoryStorage) forEach(filter Filter, fn func(*models.Message) bool) {
	if filter.Room != "" {
		s.broadcast.forEach(func(msg *models.Message) bool {
			if msg.Room != filter.Room {
				return true
			}
			return fn(msg)
		})
		return
	}

	a, b := filter.PrivatePair[0], filter.PrivatePair[1]
	for i := range s.private {
		msg := &s.private[i]
		if (msg.Sender == a && msg.ToUsername == b) || (msg.Sender == b && msg.ToUsername == a) {
			if !fn(msg) {
				return
			}
		}
	}
}

// findByID scans both backlogs newest-first. Callers hold s.mu.
func (s *MemoryStorage) findByID(id string) *models.Message {
	if msg := s.broadcast.findByID(id); msg != nil {
		return msg
	}
	for i := len(s.private) - 1; i >= 0; i-- {
		if s.private[i].ID == id {
			return &s.private[i]
		}
	}
	return nil
}

func cloneMessage(msg models.Message) models.Message {
	msg.Attachments = append([]models.Attachment(nil), msg.Attachments...)
	msg.ReadBy = append([]string(nil), msg.ReadBy...)
	msg.Reactions = append([]models.Reaction(nil), msg.Reactions...)
	return msg
}

// ring is a fixed-capacity message buffer that evicts the oldest entry
// once full.
type ring struct {
	records []models.Message
	cap     int
	next    int
	full    bool
}

func newRing(capacity int) *ring {
	return &ring{
		records: make([]models.Message, 0, capacity),
		cap:     capacity,
	}
}

func (r *ring) add(msg models.Message) {
	if !r.full && len(r.records) < r.cap {
		r.records = append(r.records, msg)
		if len(r.records) == r.cap {
			r.full = true
		}
		return
	}
	r.records[r.next] = msg
	r.next = (r.next + 1) % r.cap
}

// forEach visits entries oldest-first.
func (r *ring) forEach(fn func(*models.Message) bool) {
	head := 0
	if r.full {
		head = r.next
	}
	for i := 0; i < len(r.records); i++ {
		if !fn(&r.records[(head+i)%len(r.records)]) {
			return
		}
	}
}

func (r *ring) findByID(id string) *models.Message {
	var found *models.Message
	r.forEach(func(msg *models.Message) bool {
		if msg.ID == id {
			found = msg
		}
		return true
	})
	return found
}
