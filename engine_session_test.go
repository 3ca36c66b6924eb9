package tutorly

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, userID string, ttl time.Duration) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": userID,
		"sub":    userID,
		"exp":    time.Now().Add(ttl).Unix(),
	}).SignedString([]byte("session-test"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

// ============================================================================
// Session switches
// ============================================================================

func TestEngineUserSwitch(t *testing.T) {
	c := NewClient(signedToken(t, "alice", time.Hour), WithBaseURL("http://127.0.0.1:1"))
	e := c.NewEngine(nil)
	unsubscribe := c.OnSessionChange(e.onSession)
	defer unsubscribe()

	e.attach(c.Session())
	ev := e.Channel.Events()
	ev.NewNotification.Publish(Notification{ID: "n1", UserID: "alice", Type: NotificationNewMessage, CreatedAt: time.Now()})
	ev.ConversationCreated.Publish(Conversation{ID: "c-alice", Members: []string{"alice", "tutor"}})
	ev.Presence.Publish(PresenceEvent{UserID: "tutor", Online: true})

	t.Run("refreshed credential keeps the caches", func(t *testing.T) {
		if err := c.SetToken(signedToken(t, "alice", 2*time.Hour)); err != nil {
			t.Fatal(err)
		}
		if got := len(e.Notifications.List()); got != 1 {
			t.Fatalf("notifications = %d, want 1", got)
		}
		if got := len(e.Messages.Conversations()); got != 1 {
			t.Fatalf("conversations = %d, want 1", got)
		}
	})

	t.Run("another user starts empty", func(t *testing.T) {
		if err := c.SetToken(signedToken(t, "bob", time.Hour)); err != nil {
			t.Fatal(err)
		}
		if !e.Attached() {
			t.Fatal("expected engine to stay attached")
		}
		if got := len(e.Notifications.List()); got != 0 {
			t.Errorf("notifications = %d, want 0", got)
		}
		if got := len(e.Messages.Conversations()); got != 0 {
			t.Errorf("conversations = %d, want 0", got)
		}
		if online := e.Presence.Online(); len(online) != 0 {
			t.Errorf("online = %v, want none", online)
		}
	})

	t.Run("events route for the new user", func(t *testing.T) {
		ev.Presence.Publish(PresenceEvent{UserID: "tutor", Online: true})
		if !e.Presence.IsOnline("tutor") {
			t.Error("expected presence to be tracked after the switch")
		}
		if got := ev.Presence.Len(); got != 1 {
			t.Errorf("presence subscribers = %d, want 1", got)
		}
	})
}

// ============================================================================
// Late results
// ============================================================================

// requestGate holds one request until the test releases it.
type requestGate struct {
	once    sync.Once
	arrived chan struct{}
	release chan struct{}
}

func newRequestGate() *requestGate {
	return &requestGate{arrived: make(chan struct{}), release: make(chan struct{})}
}

func TestEngineDropsLateResults(t *testing.T) {
	var (
		mu   sync.Mutex
		gate = newRequestGate()
	)
	current := func() *requestGate {
		mu.Lock()
		defer mu.Unlock()
		return gate
	}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g := current()
		g.once.Do(func() { close(g.arrived) })
		<-g.release
		switch r.Method {
		case http.MethodPost:
			writeJSONResponse(w, http.StatusOK, Message{ID: "m1", ConversationID: "C1", SenderID: "alice", Body: "hello", SentAt: time.Now()})
		default:
			writeJSONResponse(w, http.StatusOK, []Message{{ID: "h1", ConversationID: "C1", SenderID: "tutor", Body: "hi", SentAt: time.Now()}})
		}
	}))
	if err := c.SetToken(signedToken(t, "alice", time.Hour)); err != nil {
		t.Fatal(err)
	}
	e := c.NewEngine(nil)

	run := func(t *testing.T, action func(ctx context.Context) error) {
		t.Helper()
		e.attach(c.Session())
		e.Messages.ApplyConversation(Conversation{ID: "C1", Members: []string{"alice", "tutor"}})

		g := current()
		done := make(chan error, 1)
		go func() { done <- action(context.Background()) }()
		<-g.arrived

		e.detach()
		close(g.release)
		if err := <-done; err != nil {
			t.Fatalf("request failed: %v", err)
		}

		e.attach(c.Session())
		if msgs := e.Messages.Messages("C1"); len(msgs) != 0 {
			t.Errorf("messages after re-attach = %+v, want none", msgs)
		}
		if convs := e.Messages.Conversations(); len(convs) != 0 {
			t.Errorf("conversations after re-attach = %+v, want none", convs)
		}
	}

	t.Run("send confirmed after logout", func(t *testing.T) {
		run(t, func(ctx context.Context) error {
			_, err := e.Messenger.Send(ctx, "C1", "hello")
			return err
		})
	})

	mu.Lock()
	gate = newRequestGate()
	mu.Unlock()
	e.detach()

	t.Run("history fetched across logout", func(t *testing.T) {
		run(t, func(ctx context.Context) error {
			_, err := e.Messenger.LoadHistory(ctx, "C1")
			return err
		})
	})
}

func TestNotificationCacheDropsStaleFetch(t *testing.T) {
	n := NewNotificationCache()
	gen := n.Generation()
	n.Reset()
	n.replaceIn(gen, []Notification{{ID: "n1", CreatedAt: time.Now()}})
	if got := len(n.List()); got != 0 {
		t.Fatalf("expected stale fetch to be dropped, got %d entries", got)
	}
	n.Replace([]Notification{{ID: "n2", CreatedAt: time.Now()}})
	if got := len(n.List()); got != 1 {
		t.Fatalf("expected current fetch to land, got %d entries", got)
	}
}
