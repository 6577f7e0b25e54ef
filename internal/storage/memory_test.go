package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"palaver/internal/models"
)

func newTestMemoryStorage() *MemoryStorage {
	store := NewMemoryStorage()
	// Millisecond clock ticks keep fallback ids distinct in tests.
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}
	return store
}

func TestMemoryStorage(t *testing.T) {
	t.Run("AppendAndPage", func(t *testing.T) {
		store := newTestMemoryStorage()
		for i := 1; i <= 3; i++ {
			if _, err := store.Append(models.MessageDraft{
				Kind: models.MessageKindRoom, Body: fmt.Sprintf("msg %d", i), Sender: "alice", Room: "general",
			}); err != nil {
				t.Fatalf("Append failed: %v", err)
			}
		}

		msgs, err := store.Page(Filter{Room: "general"}, time.Time{}, 10)
		if err != nil {
			t.Fatalf("Page failed: %v", err)
		}
		if len(msgs) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(msgs))
		}
		if msgs[0].Body != "msg 1" || msgs[2].Body != "msg 3" {
			t.Errorf("expected oldest-first order, got %q..%q", msgs[0].Body, msgs[2].Body)
		}
	})

	t.Run("BroadcastEviction", func(t *testing.T) {
		store := newTestMemoryStorage()
		for i := 1; i <= FallbackBroadcastCap+5; i++ {
			if _, err := store.Append(models.MessageDraft{
				Kind: models.MessageKindRoom, Body: fmt.Sprintf("msg %d", i), Sender: "alice", Room: "general",
			}); err != nil {
				t.Fatalf("Append failed: %v", err)
			}
		}

		msgs, err := store.Page(Filter{Room: "general"}, time.Time{}, MaxPageLimit)
		if err != nil {
			t.Fatalf("Page failed: %v", err)
		}
		if len(msgs) != FallbackBroadcastCap {
			t.Fatalf("expected %d retained messages, got %d", FallbackBroadcastCap, len(msgs))
		}
		if msgs[0].Body != "msg 6" {
			t.Errorf("expected oldest retained message to be msg 6, got %q", msgs[0].Body)
		}
	})

	t.Run("SharedBroadcastCap", func(t *testing.T) {
		// The cap is shared across rooms: heavy traffic in one room evicts
		// another room's backlog.
		store := newTestMemoryStorage()
		if _, err := store.Append(models.MessageDraft{
			Kind: models.MessageKindRoom, Body: "early", Sender: "alice", Room: "quiet",
		}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		for i := 0; i < FallbackBroadcastCap; i++ {
			if _, err := store.Append(models.MessageDraft{
				Kind: models.MessageKindRoom, Body: "noise", Sender: "bob", Room: "busy",
			}); err != nil {
				t.Fatalf("Append failed: %v", err)
			}
		}

		msgs, err := store.Page(Filter{Room: "quiet"}, time.Time{}, 10)
		if err != nil {
			t.Fatalf("Page failed: %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("expected quiet room backlog to be evicted, got %d messages", len(msgs))
		}
	})

	t.Run("PrivateUncapped", func(t *testing.T) {
		store := newTestMemoryStorage()
		total := FallbackBroadcastCap + 50
		for i := 0; i < total; i++ {
			if _, err := store.Append(models.MessageDraft{
				Kind: models.MessageKindPrivate, Body: "hi", Sender: "alice", ToUsername: "bob",
			}); err != nil {
				t.Fatalf("Append failed: %v", err)
			}
		}

		// The cap applies per page, not to retention.
		msgs, err := store.Page(Filter{PrivatePair: [2]string{"alice", "bob"}}, time.Time{}, MaxPageLimit)
		if err != nil {
			t.Fatalf("Page failed: %v", err)
		}
		if len(msgs) != MaxPageLimit {
			t.Fatalf("expected a full page, got %d", len(msgs))
		}
		older, err := store.Page(Filter{PrivatePair: [2]string{"alice", "bob"}}, msgs[0].Timestamp, MaxPageLimit)
		if err != nil {
			t.Fatalf("Page failed: %v", err)
		}
		if len(older) != total-MaxPageLimit {
			t.Errorf("expected %d older messages retained, got %d", total-MaxPageLimit, len(older))
		}
	})

	t.Run("PairCursor", func(t *testing.T) {
		store := newTestMemoryStorage()
		for i := 1; i <= 5; i++ {
			sender, to := "alice", "bob"
			if i%2 == 0 {
				sender, to = "bob", "alice"
			}
			if _, err := store.Append(models.MessageDraft{
				Kind: models.MessageKindPrivate, Body: fmt.Sprintf("msg %d", i), Sender: sender, ToUsername: to,
			}); err != nil {
				t.Fatalf("Append failed: %v", err)
			}
		}

		msgs, err := store.Page(Filter{PrivatePair: [2]string{"bob", "alice"}}, time.Time{}, 2)
		if err != nil {
			t.Fatalf("Page failed: %v", err)
		}
		if len(msgs) != 2 || msgs[0].Body != "msg 4" || msgs[1].Body != "msg 5" {
			t.Fatalf("unexpected first page: %+v", msgs)
		}

		older, err := store.Page(Filter{PrivatePair: [2]string{"alice", "bob"}}, msgs[0].Timestamp, 10)
		if err != nil {
			t.Fatalf("Page failed: %v", err)
		}
		if len(older) != 3 || older[2].Body != "msg 3" {
			t.Errorf("unexpected older page: %+v", older)
		}
	})

	t.Run("Search", func(t *testing.T) {
		store := newTestMemoryStorage()
		for _, body := range []string{"Deploy went fine", "lunch?", "deploy broke"} {
			if _, err := store.Append(models.MessageDraft{
				Kind: models.MessageKindRoom, Body: body, Sender: "carol", Room: "ops",
			}); err != nil {
				t.Fatalf("Append failed: %v", err)
			}
		}

		msgs, err := store.Search("ops", "deploy")
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(msgs) != 2 {
			t.Fatalf("expected 2 matches, got %d", len(msgs))
		}
		if msgs[0].Body != "deploy broke" {
			t.Errorf("expected newest-first order, got %q first", msgs[0].Body)
		}
	})

	t.Run("ReadByAndReactions", func(t *testing.T) {
		store := newTestMemoryStorage()
		msg, err := store.Append(models.MessageDraft{
			Kind: models.MessageKindRoom, Body: "annotate me", Sender: "alice", Room: "general",
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}

		changed, err := store.UpdateReadBy(msg.ID, "user2")
		if err != nil || !changed {
			t.Fatalf("expected first read to change, got changed=%v err=%v", changed, err)
		}
		changed, err = store.UpdateReadBy(msg.ID, "user2")
		if err != nil || changed {
			t.Fatalf("expected repeated read unchanged, got changed=%v err=%v", changed, err)
		}

		snapshot, err := store.UpdateReaction(msg.ID, "user2", "🎉")
		if err != nil || len(snapshot) != 1 {
			t.Fatalf("expected reaction added, got %+v err=%v", snapshot, err)
		}
		snapshot, err = store.UpdateReaction(msg.ID, "user2", "🎉")
		if err != nil || len(snapshot) != 0 {
			t.Fatalf("expected reaction toggled off, got %+v err=%v", snapshot, err)
		}

		if _, err := store.UpdateReadBy("123456", "user2"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
