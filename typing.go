package tutorly

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTypingIdle is how long after the last keystroke the local user stops "typing".
const DefaultTypingIdle = time.Second

// ============================================================================
// Inbound typing state
// ============================================================================

// TypingTracker holds, per conversation, the users currently composing.
// A lost stop event leaves a user marked as typing until the next event for them.
type TypingTracker struct {
	mu     sync.RWMutex
	byConv map[string]map[string]struct{}
}

func NewTypingTracker() *TypingTracker {
	return &TypingTracker{byConv: make(map[string]map[string]struct{})}
}

// Apply adds or removes the event's user from the conversation's set.
func (t *TypingTracker) Apply(ev TypingEvent) {
	if ev.ConversationID == "" || ev.UserID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	users := t.byConv[ev.ConversationID]
	if ev.IsTyping {
		if users == nil {
			users = make(map[string]struct{})
			t.byConv[ev.ConversationID] = users
		}
		users[ev.UserID] = struct{}{}
		return
	}
	delete(users, ev.UserID)
	if len(users) == 0 {
		delete(t.byConv, ev.ConversationID)
	}
}

// Typing returns the sorted ids of users composing in a conversation.
func (t *TypingTracker) Typing(conversationID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	users := t.byConv[conversationID]
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *TypingTracker) IsTyping(conversationID, userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byConv[conversationID][userID]
	return ok
}

func (t *TypingTracker) Reset() {
	t.mu.Lock()
	t.byConv = make(map[string]map[string]struct{})
	t.mu.Unlock()
}

// ============================================================================
// Local typing signal
// ============================================================================

// TypingSender delivers the local user's typing state. *Channel implements it.
type TypingSender interface {
	SendTyping(ctx context.Context, conversationID string, isTyping bool) error
}

// TypingNotifier turns keystrokes into typing signals: one "true" when the user
// starts composing, one "false" once input has been idle for the idle window.
// Signals for one conversation are sent under that conversation's lock, so a
// "false" from the idle timer can never overtake or follow a later "true".
type TypingNotifier struct {
	sender TypingSender
	idle   time.Duration
	logger *zap.Logger

	mu    sync.Mutex
	convs map[string]*typingState
}

type typingState struct {
	mu     sync.Mutex // held while sending
	typing bool       // last signal sent was "true"
	seq    uint64     // bumped by every keystroke, stop and close
	timer  *time.Timer
}

func NewTypingNotifier(sender TypingSender, idle time.Duration, logger *zap.Logger) *TypingNotifier {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TypingNotifier{
		sender: sender,
		idle:   idle,
		logger: logger,
		convs:  make(map[string]*typingState),
	}
}

func (n *TypingNotifier) state(conversationID string, create bool) *typingState {
	n.mu.Lock()
	defer n.mu.Unlock()
	st, ok := n.convs[conversationID]
	if !ok && create {
		st = &typingState{}
		n.convs[conversationID] = st
	}
	return st
}

// Input records a keystroke in a conversation.
func (n *TypingNotifier) Input(ctx context.Context, conversationID string) {
	st := n.state(conversationID, true)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.seq++
	seq := st.seq
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(n.idle, func() { n.expire(conversationID, st, seq) })
	if !st.typing {
		st.typing = true
		n.send(ctx, conversationID, true)
	}
}

// Stop ends the typing signal immediately, e.g. when the message is sent.
func (n *TypingNotifier) Stop(ctx context.Context, conversationID string) {
	st := n.state(conversationID, false)
	if st == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.seq++
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	if st.typing {
		st.typing = false
		n.send(ctx, conversationID, false)
	}
}

// Active reports whether a "true" signal is outstanding for the conversation.
func (n *TypingNotifier) Active(conversationID string) bool {
	st := n.state(conversationID, false)
	if st == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.typing
}

// Close cancels every pending idle timer without sending anything.
func (n *TypingNotifier) Close() {
	n.mu.Lock()
	convs := n.convs
	n.convs = make(map[string]*typingState)
	n.mu.Unlock()

	for _, st := range convs {
		st.mu.Lock()
		st.seq++
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.typing = false
		st.mu.Unlock()
	}
}

// expire sends the idle "false" unless a keystroke, stop or close came after
// the timer was armed.
func (n *TypingNotifier) expire(conversationID string, st *typingState, seq uint64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.seq != seq || !st.typing {
		return
	}
	st.typing = false
	st.timer = nil

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n.send(ctx, conversationID, false)
}

func (n *TypingNotifier) send(ctx context.Context, conversationID string, isTyping bool) {
	if err := n.sender.SendTyping(ctx, conversationID, isTyping); err != nil {
		n.logger.Debug("typing_send_failed",
			zap.String("conversation_id", conversationID),
			zap.Bool("is_typing", isTyping),
			zap.Error(err),
		)
	}
}
