package hub

import (
	"slices"
	"testing"
)

func TestTypingAggregator(t *testing.T) {
	t.Run("SetReportsChange", func(t *testing.T) {
		ta := newTypingAggregator()

		if !ta.Set("c1", "alice", "general", true) {
			t.Error("expected first typing=true to change")
		}
		if ta.Set("c1", "alice", "general", true) {
			t.Error("expected repeated typing=true to be unchanged")
		}
		if !ta.Set("c1", "alice", "general", false) {
			t.Error("expected typing=false after true to change")
		}
		if ta.Set("c1", "alice", "general", false) {
			t.Error("expected typing=false when absent to be unchanged")
		}
	})

	t.Run("Snapshot", func(t *testing.T) {
		ta := newTypingAggregator()
		ta.Set("c2", "bob", "general", true)
		ta.Set("c1", "alice", "general", true)
		ta.Set("c3", "carol", "dev", true)

		if got := ta.Snapshot("general"); !slices.Equal(got, []string{"alice", "bob"}) {
			t.Errorf("expected sorted [alice bob], got %v", got)
		}
		if got := ta.Snapshot("dev"); !slices.Equal(got, []string{"carol"}) {
			t.Errorf("expected [carol], got %v", got)
		}
		if got := ta.Snapshot("empty"); len(got) != 0 {
			t.Errorf("expected empty snapshot, got %v", got)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		ta := newTypingAggregator()
		ta.Set("c1", "alice", "general", true)

		room, ok := ta.Clear("c1")
		if !ok || room != "general" {
			t.Errorf("expected clear to report general, got %q ok=%v", room, ok)
		}
		if _, ok := ta.Clear("c1"); ok {
			t.Error("expected second clear to report absent")
		}
		if len(ta.Snapshot("general")) != 0 {
			t.Error("expected empty snapshot after clear")
		}
	})

	t.Run("RoomChange", func(t *testing.T) {
		// A connection's entry tracks the room it was set in; re-setting in
		// a new room replaces the old entry rather than accumulating.
		ta := newTypingAggregator()
		ta.Set("c1", "alice", "general", true)
		if !ta.Set("c1", "alice", "dev", true) {
			t.Error("expected room change to count as a change")
		}
		if len(ta.Snapshot("general")) != 0 {
			t.Error("expected alice gone from general")
		}
		if got := ta.Snapshot("dev"); !slices.Equal(got, []string{"alice"}) {
			t.Errorf("expected alice in dev, got %v", got)
		}
	})
}
