package tutorly

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC)

func optimistic(id, sender, body string, at time.Time) Message {
	return Message{ID: id, ConversationID: "C1", SenderID: sender, Body: body, SentAt: at, State: MessageOptimistic}
}

func confirmed(id, sender, body string, at time.Time) Message {
	return Message{ID: id, ConversationID: "C1", SenderID: sender, Body: body, SentAt: at, State: MessageConfirmed}
}

func countID(list []Message, id string) int {
	n := 0
	for _, m := range list {
		if m.ID == id {
			n++
		}
	}
	return n
}

// ============================================================================
// ApplyIncoming
// ============================================================================

func TestApplyIncoming(t *testing.T) {
	t.Run("known id is a no-op", func(t *testing.T) {
		list := []Message{confirmed("m1", "u1", "hi", t0)}
		out := ApplyIncoming(list, confirmed("m1", "u1", "hi", t0))
		out = ApplyIncoming(out, confirmed("m1", "u1", "hi", t0))
		if len(out) != 1 || countID(out, "m1") != 1 {
			t.Fatalf("expected one entry, got %+v", out)
		}
	})

	t.Run("replaces matching optimistic entry in place", func(t *testing.T) {
		list := []Message{
			confirmed("m0", "tutor", "hello", t0.Add(-time.Minute)),
			optimistic("temp-1", "u1", "See you at 5pm", t0),
		}
		out := ApplyIncoming(list, confirmed("m1", "u1", "See you at 5pm", t0.Add(2*time.Second)))

		if len(out) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(out))
		}
		if out[1].ID != "m1" || out[1].IsOptimistic() {
			t.Errorf("expected confirmed m1 at index 1, got %+v", out[1])
		}
		if countID(out, "temp-1") != 0 {
			t.Error("temp entry must be gone")
		}
	})

	t.Run("outside window is appended", func(t *testing.T) {
		list := []Message{optimistic("temp-1", "u1", "ok", t0)}
		out := ApplyIncoming(list, confirmed("m1", "u1", "ok", t0.Add(MatchWindow+time.Second)))
		if len(out) != 2 {
			t.Fatalf("expected 2 entries, got %+v", out)
		}
	})

	t.Run("window boundary is inclusive", func(t *testing.T) {
		list := []Message{optimistic("temp-1", "u1", "ok", t0)}
		out := ApplyIncoming(list, confirmed("m1", "u1", "ok", t0.Add(-MatchWindow)))
		if len(out) != 1 || out[0].ID != "m1" {
			t.Fatalf("expected match at exactly the window, got %+v", out)
		}
	})

	t.Run("different sender or body is appended", func(t *testing.T) {
		list := []Message{optimistic("temp-1", "u1", "ok", t0)}
		out := ApplyIncoming(list, confirmed("m1", "u2", "ok", t0))
		out = ApplyIncoming(out, confirmed("m2", "u1", "ok!", t0))
		if len(out) != 3 {
			t.Fatalf("expected 3 entries, got %+v", out)
		}
		if !out[0].IsOptimistic() {
			t.Error("optimistic entry must remain")
		}
	})

	t.Run("confirmed entries are never matched", func(t *testing.T) {
		list := []Message{confirmed("m0", "u1", "ok", t0)}
		out := ApplyIncoming(list, confirmed("m1", "u1", "ok", t0))
		if len(out) != 2 {
			t.Fatalf("expected a second entry, got %+v", out)
		}
	})

	t.Run("input is not modified", func(t *testing.T) {
		list := []Message{optimistic("temp-1", "u1", "ok", t0)}
		ApplyIncoming(list, confirmed("m1", "u1", "ok", t0))
		if list[0].ID != "temp-1" {
			t.Error("input slice was mutated")
		}
	})
}

// ============================================================================
// ApplyConfirmed
// ============================================================================

func TestApplyConfirmed(t *testing.T) {
	t.Run("swaps temp entry", func(t *testing.T) {
		list := []Message{optimistic("temp-1", "u1", "hi", t0)}
		out := ApplyConfirmed(list, "temp-1", confirmed("m1", "u1", "hi", t0.Add(time.Second)))
		if len(out) != 1 || out[0].ID != "m1" || out[0].Body != "hi" || out[0].IsOptimistic() {
			t.Fatalf("unexpected result %+v", out)
		}
	})

	t.Run("removes duplicate appended by a push", func(t *testing.T) {
		list := []Message{
			optimistic("temp-1", "u1", "hi", t0),
			confirmed("m2", "tutor", "yo", t0.Add(time.Second)),
			confirmed("m1", "u1", "hi", t0.Add(10*time.Second)),
		}
		out := ApplyConfirmed(list, "temp-1", confirmed("m1", "u1", "hi", t0.Add(10*time.Second)))
		if len(out) != 2 {
			t.Fatalf("expected 2 entries, got %+v", out)
		}
		if out[0].ID != "m1" || countID(out, "m1") != 1 {
			t.Errorf("expected single m1 at temp position, got %+v", out)
		}
	})

	t.Run("push already replaced temp", func(t *testing.T) {
		list := []Message{confirmed("m1", "u1", "hi", t0), confirmed("m2", "tutor", "yo", t0.Add(time.Second))}
		out := ApplyConfirmed(list, "temp-1", confirmed("m1", "u1", "hi", t0))
		if len(out) != 2 || out[0].ID != "m1" || out[1].ID != "m2" {
			t.Fatalf("expected order preserved, got %+v", out)
		}
	})

	t.Run("temp gone and no copy appends", func(t *testing.T) {
		out := ApplyConfirmed(nil, "temp-1", confirmed("m1", "u1", "hi", t0))
		if len(out) != 1 || out[0].ID != "m1" {
			t.Fatalf("unexpected result %+v", out)
		}
	})
}

// ============================================================================
// RemoveMessage / Newest / ids
// ============================================================================

func TestRemoveMessage(t *testing.T) {
	list := []Message{confirmed("m1", "u1", "a", t0), optimistic("temp-1", "u1", "b", t0)}
	out := RemoveMessage(list, "temp-1")
	if len(out) != 1 || out[0].ID != "m1" {
		t.Fatalf("unexpected result %+v", out)
	}
	if len(list) != 2 {
		t.Error("input slice was mutated")
	}
}

func TestNewest(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		if _, ok := Newest(nil); ok {
			t.Error("expected no newest message")
		}
	})

	t.Run("latest send time wins", func(t *testing.T) {
		list := []Message{
			confirmed("m2", "u1", "b", t0.Add(time.Minute)),
			confirmed("m1", "u1", "a", t0),
		}
		m, _ := Newest(list)
		if m.ID != "m2" {
			t.Errorf("got %s, want m2", m.ID)
		}
	})

	t.Run("ties go to the later entry", func(t *testing.T) {
		list := []Message{confirmed("m1", "u1", "a", t0), confirmed("m2", "u1", "b", t0)}
		m, _ := Newest(list)
		if m.ID != "m2" {
			t.Errorf("got %s, want m2", m.ID)
		}
	})
}

func TestTempID(t *testing.T) {
	a, b := NewTempID(), NewTempID()
	if a == b {
		t.Error("temp ids must be unique")
	}
	if !IsTempID(a) || IsTempID("m1") {
		t.Error("IsTempID misclassified an id")
	}
}
