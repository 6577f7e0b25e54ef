package hub

import (
	"errors"
	"testing"

	"palaver/internal/models"
)

func TestPresenceRegistry(t *testing.T) {
	alice := models.Identity{Username: "alice", UserID: "u1"}
	bob := models.Identity{Username: "bob", UserID: "u2"}

	t.Run("BindAndGet", func(t *testing.T) {
		p := newPresenceRegistry()
		if err := p.Bind("c1", alice); err != nil {
			t.Fatalf("Bind failed: %v", err)
		}

		got, ok := p.Get("c1")
		if !ok || got != alice {
			t.Errorf("expected %+v bound, got %+v ok=%v", alice, got, ok)
		}
		if _, ok := p.Get("c2"); ok {
			t.Error("expected unknown connection to be unbound")
		}
	})

	t.Run("RebindSameIdentity", func(t *testing.T) {
		p := newPresenceRegistry()
		if err := p.Bind("c1", alice); err != nil {
			t.Fatalf("Bind failed: %v", err)
		}
		// Replaying the same binding is a no-op, not an error.
		if err := p.Bind("c1", alice); err != nil {
			t.Errorf("expected idempotent rebind, got %v", err)
		}
		if err := p.Bind("c1", bob); !errors.Is(err, ErrDuplicateBinding) {
			t.Errorf("expected ErrDuplicateBinding for different identity, got %v", err)
		}
		// The original binding survives the rejected attempt.
		got, _ := p.Get("c1")
		if got != alice {
			t.Errorf("expected alice still bound, got %+v", got)
		}
	})

	t.Run("Unbind", func(t *testing.T) {
		p := newPresenceRegistry()
		_ = p.Bind("c1", alice)

		identity, ok := p.Unbind("c1")
		if !ok || identity != alice {
			t.Errorf("expected alice unbound, got %+v ok=%v", identity, ok)
		}
		if _, ok := p.Unbind("c1"); ok {
			t.Error("expected second unbind to report not bound")
		}
		if len(p.ListActive()) != 0 {
			t.Error("expected empty roster after unbind")
		}
	})

	t.Run("FindByUsername", func(t *testing.T) {
		p := newPresenceRegistry()
		// Same user on two connections: lookup is deterministic.
		_ = p.Bind("c9", alice)
		_ = p.Bind("c1", alice)
		_ = p.Bind("c5", bob)

		connID, identity, ok := p.FindByUsername("alice")
		if !ok || identity != alice {
			t.Fatalf("expected alice found, got %+v ok=%v", identity, ok)
		}
		if connID != "c1" {
			t.Errorf("expected lowest connection id c1, got %s", connID)
		}

		if _, _, ok := p.FindByUsername("carol"); ok {
			t.Error("expected carol not found")
		}
	})

	t.Run("ListActive", func(t *testing.T) {
		p := newPresenceRegistry()
		_ = p.Bind("c2", bob)
		_ = p.Bind("c3", alice)
		_ = p.Bind("c1", alice)

		roster := p.ListActive()
		if len(roster) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(roster))
		}
		want := []string{"alice", "alice", "bob"}
		for i, entry := range roster {
			if entry.Username != want[i] {
				t.Errorf("entry %d: expected %s, got %s", i, want[i], entry.Username)
			}
		}
		if roster[0].ConnectionID != "c1" || roster[1].ConnectionID != "c3" {
			t.Errorf("expected ties ordered by connection id, got %s then %s",
				roster[0].ConnectionID, roster[1].ConnectionID)
		}
	})
}
