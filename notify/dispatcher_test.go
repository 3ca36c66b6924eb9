package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	tutorly "github.com/tutorly/tutorly-go"
)

// failingStore rejects inserts for one user.
type failingStore struct {
	Store
	failFor string
}

var errStoreDown = errors.New("store down")

func (s *failingStore) Insert(ctx context.Context, n tutorly.Notification) error {
	if n.UserID == s.failFor {
		return errStoreDown
	}
	return s.Store.Insert(ctx, n)
}

type pushRecord struct {
	userID    string
	eventType string
	payload   any
}

type recordingPusher struct {
	mu     sync.Mutex
	pushes []pushRecord
	online map[string]int
}

func (p *recordingPusher) Push(userID, eventType string, payload any) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, pushRecord{userID, eventType, payload})
	return p.online[userID]
}

func TestDispatcherCreate(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("stores then pushes", func(t *testing.T) {
		store := NewMemoryStore()
		pusher := &recordingPusher{online: map[string]int{"amy": 2}}
		d := NewDispatcher(store, pusher, WithClock(func() time.Time { return now }))

		n, err := d.Create(ctx, "amy", tutorly.NotificationNewReview, map[string]int{"stars": 5})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n.ID == "" || !n.CreatedAt.Equal(now) || n.IsRead {
			t.Errorf("unexpected notification %+v", n)
		}

		rows, _ := store.List(ctx, "amy", 0)
		if len(rows) != 1 || rows[0].ID != n.ID {
			t.Fatalf("expected stored row, got %+v", rows)
		}
		var payload map[string]int
		json.Unmarshal(rows[0].Payload, &payload)
		if payload["stars"] != 5 {
			t.Errorf("payload = %s", rows[0].Payload)
		}

		if len(pusher.pushes) != 1 {
			t.Fatalf("expected one push, got %d", len(pusher.pushes))
		}
		p := pusher.pushes[0]
		ev, ok := p.payload.(tutorly.NewNotificationEvent)
		if p.userID != "amy" || p.eventType != tutorly.EventNewNotification || !ok || ev.Notification.ID != n.ID {
			t.Errorf("unexpected push %+v", p)
		}
	})

	t.Run("no session still persists", func(t *testing.T) {
		store := NewMemoryStore()
		d := NewDispatcher(store, &recordingPusher{})
		if _, err := d.Create(ctx, "bob", tutorly.NotificationSessionCompleted, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rows, _ := store.List(ctx, "bob", 0); len(rows) != 1 {
			t.Fatalf("expected row for offline user, got %d", len(rows))
		}
	})

	t.Run("store failure skips push", func(t *testing.T) {
		pusher := &recordingPusher{}
		d := NewDispatcher(&failingStore{Store: NewMemoryStore(), failFor: "amy"}, pusher)
		_, err := d.Create(ctx, "amy", tutorly.NotificationNewMessage, nil)
		if !errors.Is(err, errStoreDown) {
			t.Fatalf("expected store error, got %v", err)
		}
		if len(pusher.pushes) != 0 {
			t.Error("push must not happen without a stored row")
		}
	})

	t.Run("validation", func(t *testing.T) {
		d := NewDispatcher(NewMemoryStore(), nil)
		if _, err := d.Create(ctx, "", tutorly.NotificationNewMessage, nil); err == nil {
			t.Error("expected error for empty user")
		}
		if _, err := d.Create(ctx, "amy", "payment_refunded", nil); !errors.Is(err, ErrUnknownType) {
			t.Errorf("expected ErrUnknownType, got %v", err)
		}
		if _, err := d.Create(ctx, "amy", tutorly.NotificationNewMessage, func() {}); err == nil {
			t.Error("expected marshal error")
		}
	})
}

func TestDispatcherCreateForUsers(t *testing.T) {
	ctx := context.Background()

	t.Run("one failure does not stop the others", func(t *testing.T) {
		mem := NewMemoryStore()
		pusher := &recordingPusher{}
		d := NewDispatcher(&failingStore{Store: mem, failFor: "bob"}, pusher)

		created, err := d.CreateForUsers(ctx, []string{"amy", "bob", "cleo"}, tutorly.NotificationSessionCanceled, nil)
		if !errors.Is(err, errStoreDown) {
			t.Fatalf("expected joined store error, got %v", err)
		}
		if len(created) != 2 || created[0].UserID != "amy" || created[1].UserID != "cleo" {
			t.Fatalf("unexpected created list %+v", created)
		}
		for _, user := range []string{"amy", "cleo"} {
			if rows, _ := mem.List(ctx, user, 0); len(rows) != 1 {
				t.Errorf("%s: expected 1 row, got %d", user, len(rows))
			}
		}
		if len(pusher.pushes) != 2 {
			t.Errorf("expected 2 pushes, got %d", len(pusher.pushes))
		}
	})

	t.Run("all succeed", func(t *testing.T) {
		d := NewDispatcher(NewMemoryStore(), nil)
		created, err := d.CreateForUsers(ctx, []string{"amy", "bob"}, tutorly.NotificationNewConversation, nil)
		if err != nil || len(created) != 2 {
			t.Fatalf("got %d, %v", len(created), err)
		}
		if created[0].ID == created[1].ID {
			t.Error("each user gets a distinct notification id")
		}
	})
}
