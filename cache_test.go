package tutorly

import (
	"testing"
	"time"
)

func TestReconcilerRoundTrip(t *testing.T) {
	t.Run("send then confirm leaves one server entry", func(t *testing.T) {
		r := NewReconciler()
		r.ApplyConversation(Conversation{ID: "C1", Members: []string{"u1", "tutor"}})
		r.SetDraft("C1", "See you at 5pm")

		temp := r.BeginSend("C1", "u1", "See you at 5pm", t0)
		if r.Draft("C1") != "" {
			t.Error("draft must be cleared on send")
		}
		r.Confirm("C1", temp.ID, Message{ID: "m1", SenderID: "u1", Body: "See you at 5pm", SentAt: t0.Add(time.Second)})

		msgs := r.Messages("C1")
		if len(msgs) != 1 || msgs[0].ID != "m1" || msgs[0].Body != "See you at 5pm" {
			t.Fatalf("unexpected messages %+v", msgs)
		}
		if msgs[0].ConversationID != "C1" {
			t.Errorf("conversation id not filled: %+v", msgs[0])
		}
	})

	t.Run("push before ack yields one entry and one preview", func(t *testing.T) {
		r := NewReconciler()
		r.ApplyConversation(Conversation{ID: "C1"})

		temp := r.BeginSend("C1", "u1", "See you at 5pm", t0)
		r.ApplyPush(Message{ID: "m1", ConversationID: "C1", SenderID: "u1", Body: "See you at 5pm", SentAt: t0.Add(3 * time.Second)})
		r.Confirm("C1", temp.ID, Message{ID: "m1", SenderID: "u1", Body: "See you at 5pm", SentAt: t0.Add(3 * time.Second)})

		msgs := r.Messages("C1")
		if len(msgs) != 1 || msgs[0].ID != "m1" {
			t.Fatalf("expected exactly one message, got %+v", msgs)
		}
		conv, _ := r.Conversation("C1")
		if conv.LastMessage == nil || conv.LastMessage.ID != "m1" {
			t.Errorf("preview = %+v, want m1", conv.LastMessage)
		}
	})

	t.Run("duplicate push is idempotent", func(t *testing.T) {
		r := NewReconciler()
		push := Message{ID: "m7", ConversationID: "C1", SenderID: "tutor", Body: "hi", SentAt: t0}
		r.ApplyPush(push)
		r.ApplyPush(push)
		if msgs := r.Messages("C1"); len(msgs) != 1 {
			t.Fatalf("expected one entry, got %+v", msgs)
		}
	})
}

func TestReconcilerFail(t *testing.T) {
	r := NewReconciler()
	r.ApplyConversation(Conversation{ID: "C1"})
	r.ApplyPush(Message{ID: "m0", ConversationID: "C1", SenderID: "tutor", Body: "ready?", SentAt: t0})

	temp := r.BeginSend("C1", "u1", "yes!", t0.Add(time.Minute))
	conv, _ := r.Conversation("C1")
	if conv.LastMessage == nil || conv.LastMessage.ID != temp.ID {
		t.Fatalf("preview should show the optimistic send, got %+v", conv.LastMessage)
	}

	restored := r.Fail("C1", temp.ID)
	if restored != "yes!" {
		t.Errorf("restored = %q", restored)
	}
	if r.Draft("C1") != "yes!" {
		t.Errorf("draft = %q", r.Draft("C1"))
	}
	msgs := r.Messages("C1")
	if len(msgs) != 1 || msgs[0].ID != "m0" {
		t.Fatalf("expected optimistic entry removed, got %+v", msgs)
	}
	conv, _ = r.Conversation("C1")
	if conv.LastMessage == nil || conv.LastMessage.ID != "m0" {
		t.Errorf("preview should fall back to m0, got %+v", conv.LastMessage)
	}
}

func TestReconcilerMarkers(t *testing.T) {
	t.Run("read marks messages from others", func(t *testing.T) {
		r := NewReconciler()
		r.ApplyPush(Message{ID: "m1", ConversationID: "C1", SenderID: "u1", Body: "a", SentAt: t0})
		r.ApplyPush(Message{ID: "m2", ConversationID: "C1", SenderID: "tutor", Body: "b", SentAt: t0.Add(time.Second)})

		r.ApplyRead(MessagesReadEvent{ConversationID: "C1", UserID: "tutor"})

		msgs := r.Messages("C1")
		if !msgs[0].IsRead || msgs[1].IsRead {
			t.Errorf("unexpected read flags %+v", msgs)
		}
	})

	t.Run("read on unloaded conversation keeps server preview", func(t *testing.T) {
		r := NewReconciler()
		preview := Message{ID: "m9", Body: "latest", SentAt: t0}
		r.ApplyConversation(Conversation{ID: "C2", LastMessage: &preview})

		r.ApplyRead(MessagesReadEvent{ConversationID: "C2", UserID: "tutor"})

		conv, _ := r.Conversation("C2")
		if conv.LastMessage == nil || conv.LastMessage.ID != "m9" {
			t.Errorf("preview lost: %+v", conv.LastMessage)
		}
	})

	t.Run("delivered", func(t *testing.T) {
		r := NewReconciler()
		r.ApplyPush(Message{ID: "m1", ConversationID: "C1", SenderID: "u1", Body: "a", SentAt: t0})

		var changed []string
		r.OnChange(func(id string) { changed = append(changed, id) })
		r.ApplyDelivered(MessageDeliveredEvent{MessageID: "m1", ConversationID: "C1"})
		r.ApplyDelivered(MessageDeliveredEvent{MessageID: "missing", ConversationID: "C1"})

		if msgs := r.Messages("C1"); !msgs[0].Delivered {
			t.Error("expected m1 delivered")
		}
		if len(changed) != 1 {
			t.Errorf("expected 1 change notification, got %d", len(changed))
		}
	})
}

func TestReconcilerHistory(t *testing.T) {
	r := NewReconciler()
	r.ApplyConversation(Conversation{ID: "C1"})
	temp := r.BeginSend("C1", "u1", "pending", t0.Add(time.Hour))

	r.ReplaceHistory("C1", []Message{
		{ID: "m2", ConversationID: "C1", SenderID: "tutor", Body: "second", SentAt: t0.Add(time.Minute)},
		{ID: "m1", ConversationID: "C1", SenderID: "u1", Body: "first", SentAt: t0},
	})

	msgs := r.Messages("C1")
	if len(msgs) != 3 {
		t.Fatalf("expected 3 entries, got %+v", msgs)
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" || msgs[2].ID != temp.ID {
		t.Errorf("unexpected order: %s %s %s", msgs[0].ID, msgs[1].ID, msgs[2].ID)
	}
	conv, _ := r.Conversation("C1")
	if conv.LastMessage == nil || conv.LastMessage.ID != temp.ID {
		t.Errorf("preview = %+v", conv.LastMessage)
	}
}

func TestReconcilerConversations(t *testing.T) {
	r := NewReconciler()
	r.SetConversations([]Conversation{
		{ID: "old", UpdatedAt: t0},
		{ID: "new", UpdatedAt: t0.Add(time.Hour)},
	})
	r.ApplyPush(Message{ID: "m1", ConversationID: "old", SenderID: "u1", Body: "bump", SentAt: t0.Add(2 * time.Hour)})

	convs := r.Conversations()
	if len(convs) != 2 || convs[0].ID != "old" {
		t.Fatalf("expected bumped conversation first, got %+v", convs)
	}

	r.ApplyConversation(Conversation{ID: "old", Members: []string{"u1", "tutor"}})
	conv, _ := r.Conversation("old")
	if len(conv.Members) != 2 || conv.LastMessage == nil || conv.LastMessage.ID != "m1" {
		t.Errorf("membership refresh lost state: %+v", conv)
	}

	r.Reset()
	if len(r.Conversations()) != 0 || len(r.Messages("old")) != 0 {
		t.Error("reset left state behind")
	}
}

func TestReconcilerReset(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("confirm after reset writes nothing", func(t *testing.T) {
		r := NewReconciler()
		temp := r.BeginSend("C1", "u1", "hello", t0)
		r.Reset()
		r.Confirm("C1", temp.ID, Message{ID: "m1", SenderID: "u1", Body: "hello", SentAt: t0})
		if msgs := r.Messages("C1"); len(msgs) != 0 {
			t.Fatalf("expected no messages, got %+v", msgs)
		}
	})

	t.Run("results from an older generation are dropped", func(t *testing.T) {
		r := NewReconciler()
		gen := r.Generation()
		temp := r.BeginSend("C1", "u1", "hello", t0)
		r.Reset()
		if r.Generation() == gen {
			t.Fatal("expected reset to start a new generation")
		}
		r.BeginSend("C1", "u2", "new session", t0.Add(time.Minute))

		r.confirmIn(gen, "C1", temp.ID, Message{ID: "m1", SenderID: "u1", Body: "hello", SentAt: t0})
		r.replaceHistoryIn(gen, "C1", []Message{{ID: "h1", SenderID: "u1", Body: "old", SentAt: t0}})
		r.applyConversationIn(gen, Conversation{ID: "C9"})
		if restored := r.failIn(gen, "C1", temp.ID); restored != "" {
			t.Errorf("restored draft %q from an older generation", restored)
		}

		msgs := r.Messages("C1")
		if len(msgs) != 1 || msgs[0].Body != "new session" {
			t.Fatalf("expected only the new session's message, got %+v", msgs)
		}
		if _, ok := r.Conversation("C9"); ok {
			t.Error("conversation from an older generation was added")
		}
	})
}
