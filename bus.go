package tutorly

import (
	"sync"
	"time"
)

// Bus is a typed publish/subscribe topic. Handlers run synchronously on the
// publishing goroutine in subscription order. The zero value is ready to use.
type Bus[T any] struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers []subscription[T]
}

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it.
// Calling the returned function more than once is a no-op.
func (b *Bus[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription[T]{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.handlers {
		if s.id == id {
			b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
			return
		}
	}
}

// Publish delivers v to every current subscriber, in subscription order.
// A panicking subscriber is not recovered.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	handlers := make([]subscription[T], len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, s := range handlers {
		s.fn(v)
	}
}

// Len returns the number of live subscriptions.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// Reset drops every subscription.
func (b *Bus[T]) Reset() {
	b.mu.Lock()
	b.handlers = nil
	b.mu.Unlock()
}

// ============================================================================
// Realtime event topics
// ============================================================================

// Events groups one typed topic per inbound realtime event.
type Events struct {
	Presence            Bus[PresenceEvent]
	NewMessage          Bus[Message]
	ConversationCreated Bus[Conversation]
	MessagesRead        Bus[MessagesReadEvent]
	Typing              Bus[TypingEvent]
	MessageDelivered    Bus[MessageDeliveredEvent]
	NewNotification     Bus[Notification]

	Connected    Bus[AuthenticatedEvent]
	Disconnected Bus[error]
	Reconnecting Bus[ReconnectAttempt]
}

// ReconnectAttempt describes a scheduled reconnect.
type ReconnectAttempt struct {
	Attempt int
	Delay   time.Duration
}

// Reset removes every subscription on every topic.
func (e *Events) Reset() {
	e.Presence.Reset()
	e.NewMessage.Reset()
	e.ConversationCreated.Reset()
	e.MessagesRead.Reset()
	e.Typing.Reset()
	e.MessageDelivered.Reset()
	e.NewNotification.Reset()
	e.Connected.Reset()
	e.Disconnected.Reset()
	e.Reconnecting.Reset()
}

// Subscriptions collects unsubscribe functions so they can be released together.
type Subscriptions struct {
	mu    sync.Mutex
	funcs []func()
}

// Add records an unsubscribe function.
func (s *Subscriptions) Add(unsubscribe func()) {
	s.mu.Lock()
	s.funcs = append(s.funcs, unsubscribe)
	s.mu.Unlock()
}

// Release calls every recorded unsubscribe function in reverse order.
func (s *Subscriptions) Release() {
	s.mu.Lock()
	funcs := s.funcs
	s.funcs = nil
	s.mu.Unlock()
	for i := len(funcs) - 1; i >= 0; i-- {
		funcs[i]()
	}
}
