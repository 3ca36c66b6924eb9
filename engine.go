package tutorly

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Engine wires one realtime channel into the local caches of a session.
//
// While a user is logged in every inbound event is routed to its tracker or
// cache. On logout the subscriptions are released and the caches emptied
// before the channel closes, so nothing from the old session leaks into the
// next one.
type Engine struct {
	client *Client
	logger *zap.Logger

	Channel       *Channel
	Presence      *PresenceTracker
	Typing        *TypingTracker
	Notifier      *TypingNotifier
	Messages      *Reconciler
	Notifications *NotificationCache
	Messenger     *Messenger

	mu       sync.Mutex
	attached bool
	identity string // user the caches belong to
	subs     Subscriptions
}

// NewEngine creates the per-session state container. Call Run to start it.
func (c *Client) NewEngine(config *RealtimeConfig) *Engine {
	ch := c.Realtime.Channel(config)
	e := &Engine{
		client:        c,
		logger:        c.logger.Named("engine"),
		Channel:       ch,
		Presence:      NewPresenceTracker(),
		Typing:        NewTypingTracker(),
		Notifier:      NewTypingNotifier(ch, DefaultTypingIdle, c.logger.Named("typing")),
		Messages:      NewReconciler(),
		Notifications: NewNotificationCache(),
	}
	e.Messenger = &Messenger{
		client:  c,
		cache:   e.Messages,
		typing:  e.Notifier,
		channel: ch,
		logger:  c.logger.Named("messenger"),
		now:     time.Now,
	}
	return e
}

// Run routes events while the channel follows the session, until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	unsubscribe := e.client.OnSessionChange(e.onSession)
	defer unsubscribe()

	if s := e.client.Session(); TokenValid(s.Token, time.Now()) {
		e.attach(s)
	}
	defer e.detach()

	return e.Channel.Run(ctx)
}

// Attached reports whether events are currently routed into the caches.
func (e *Engine) Attached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attached
}

func (e *Engine) onSession(s Session) {
	if s.Token == "" {
		e.detach()
		return
	}
	e.attach(s)
}

// sessionIdentity names the owner of a session: the user id when known,
// otherwise the credential itself.
func sessionIdentity(s Session) string {
	if s.UserID != "" {
		return s.UserID
	}
	return s.Token
}

// attach routes events into the caches for s. A session of another user
// first empties everything the previous one left behind.
func (e *Engine) attach(s Session) {
	id := sessionIdentity(s)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attached {
		if e.identity == id {
			return
		}
		e.logger.Debug("engine_user_changed")
		e.detachLocked()
	}
	e.attached = true
	e.identity = id

	ev := e.Channel.Events()
	e.subs.Add(ev.Presence.Subscribe(e.Presence.Apply))
	e.subs.Add(ev.Typing.Subscribe(e.Typing.Apply))
	e.subs.Add(ev.NewMessage.Subscribe(e.Messages.ApplyPush))
	e.subs.Add(ev.ConversationCreated.Subscribe(e.Messages.ApplyConversation))
	e.subs.Add(ev.MessagesRead.Subscribe(e.Messages.ApplyRead))
	e.subs.Add(ev.MessageDelivered.Subscribe(e.Messages.ApplyDelivered))
	e.subs.Add(ev.NewNotification.Subscribe(func(n Notification) { e.Notifications.Add(n) }))
	e.logger.Debug("engine_attached")
}

func (e *Engine) detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detachLocked()
}

func (e *Engine) detachLocked() {
	if !e.attached {
		return
	}
	e.attached = false
	e.identity = ""

	e.subs.Release()
	e.Notifier.Close()
	e.Presence.Reset()
	e.Typing.Reset()
	e.Messages.Reset()
	e.Notifications.Reset()
	e.logger.Debug("engine_detached")
}

// Logout ends the session; Run keeps waiting for the next login.
func (e *Engine) Logout() error {
	return e.client.Auth.Logout()
}

// ============================================================================
// Notifications
// ============================================================================

// LoadNotifications fetches the notification list into the cache.
func (e *Engine) LoadNotifications(ctx context.Context) ([]Notification, error) {
	gen := e.Notifications.Generation()
	list, err := e.client.Notifications.List(ctx)
	if err != nil {
		return nil, err
	}
	e.Notifications.replaceIn(gen, list)
	return e.Notifications.List(), nil
}

// MarkNotificationRead flags a notification read locally, then on the server.
// The local flag is restored if the server call fails.
func (e *Engine) MarkNotificationRead(ctx context.Context, id string) error {
	previous, cached := e.Notifications.SetRead(id, true)
	if err := e.client.Notifications.MarkRead(ctx, id); err != nil {
		if cached {
			e.Notifications.SetRead(id, previous)
		}
		return err
	}
	return nil
}

// MarkAllNotificationsRead flags every notification read, restoring on failure.
func (e *Engine) MarkAllNotificationsRead(ctx context.Context) error {
	changed := e.Notifications.MarkAllRead()
	if err := e.client.Notifications.MarkAllRead(ctx); err != nil {
		for _, id := range changed {
			e.Notifications.SetRead(id, false)
		}
		return err
	}
	return nil
}
