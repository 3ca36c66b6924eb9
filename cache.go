package tutorly

import (
	"sort"
	"sync"
	"time"
)

// Reconciler is the per-session message cache. It folds optimistic sends,
// HTTP confirmations and pushed events into one list per conversation and keeps
// each conversation's LastMessage equal to the newest entry of that list.
//
// Every method performs its whole read-modify-write under one lock, so events
// handled from different goroutines never interleave inside a merge.
//
// Reset starts a new generation. Results of requests issued in an earlier
// generation are dropped instead of leaking into the next session.
type Reconciler struct {
	mu            sync.RWMutex
	gen           uint64
	messages      map[string][]Message
	conversations map[string]*Conversation
	drafts        map[string]string

	changes Bus[string]
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		messages:      make(map[string][]Message),
		conversations: make(map[string]*Conversation),
		drafts:        make(map[string]string),
	}
}

// anyGeneration applies a mutation whatever the current generation is.
const anyGeneration = ^uint64(0)

// Generation identifies the current session's contents. It changes on Reset.
func (r *Reconciler) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}

// lockGeneration takes r.mu and reports whether gen is still current.
// The lock is released when it is not.
func (r *Reconciler) lockGeneration(gen uint64) bool {
	r.mu.Lock()
	if gen != anyGeneration && gen != r.gen {
		r.mu.Unlock()
		return false
	}
	return true
}

// OnChange registers fn to run with the conversation id after every mutation.
func (r *Reconciler) OnChange(fn func(conversationID string)) (unsubscribe func()) {
	return r.changes.Subscribe(fn)
}

// ── Sends ────────────────────────────────────────────────

// BeginSend inserts an optimistic message and clears the conversation's draft.
func (r *Reconciler) BeginSend(conversationID, senderID, body string, now time.Time) Message {
	msg := Message{
		ID:             NewTempID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		SentAt:         now,
		State:          MessageOptimistic,
	}

	r.mu.Lock()
	r.messages[conversationID] = append(cloneMessages(r.messages[conversationID], 1), msg)
	delete(r.drafts, conversationID)
	r.refreshPreview(conversationID)
	r.mu.Unlock()

	r.changes.Publish(conversationID)
	return msg
}

// Confirm swaps the optimistic entry for the server's copy. A conversation
// with no cached list has been reset since the send began; nothing is written.
func (r *Reconciler) Confirm(conversationID, tempID string, msg Message) {
	r.confirmIn(anyGeneration, conversationID, tempID, msg)
}

func (r *Reconciler) confirmIn(gen uint64, conversationID, tempID string, msg Message) {
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	if !r.lockGeneration(gen) {
		return
	}
	list, loaded := r.messages[conversationID]
	if !loaded {
		r.mu.Unlock()
		return
	}
	r.messages[conversationID] = ApplyConfirmed(list, tempID, msg)
	r.refreshPreview(conversationID)
	r.mu.Unlock()

	r.changes.Publish(conversationID)
}

// Fail rolls back an optimistic send. The preview falls back to the previous
// newest message and the unsent text is restored as the draft and returned.
func (r *Reconciler) Fail(conversationID, tempID string) string {
	return r.failIn(anyGeneration, conversationID, tempID)
}

func (r *Reconciler) failIn(gen uint64, conversationID, tempID string) string {
	if !r.lockGeneration(gen) {
		return ""
	}
	list := r.messages[conversationID]
	var body string
	if i := indexOf(list, tempID); i >= 0 {
		body = list[i].Body
		r.messages[conversationID] = RemoveMessage(list, tempID)
		r.drafts[conversationID] = body
	}
	r.refreshPreview(conversationID)
	r.mu.Unlock()

	r.changes.Publish(conversationID)
	return body
}

// ── Pushes ───────────────────────────────────────────────

// ApplyPush merges a message received over the realtime channel.
func (r *Reconciler) ApplyPush(msg Message) {
	if msg.ConversationID == "" {
		return
	}
	r.mu.Lock()
	r.messages[msg.ConversationID] = ApplyIncoming(r.messages[msg.ConversationID], msg)
	r.refreshPreview(msg.ConversationID)
	r.mu.Unlock()

	r.changes.Publish(msg.ConversationID)
}

// ApplyRead marks the messages the reader received in the conversation as read.
func (r *Reconciler) ApplyRead(ev MessagesReadEvent) {
	r.mu.Lock()
	current, loaded := r.messages[ev.ConversationID]
	if !loaded {
		r.mu.Unlock()
		return
	}
	list := cloneMessages(current, 0)
	for i := range list {
		if list[i].SenderID != ev.UserID && !list[i].IsOptimistic() {
			list[i].IsRead = true
		}
	}
	r.messages[ev.ConversationID] = list
	r.refreshPreview(ev.ConversationID)
	r.mu.Unlock()

	r.changes.Publish(ev.ConversationID)
}

// ApplyDelivered flags a message as delivered.
func (r *Reconciler) ApplyDelivered(ev MessageDeliveredEvent) {
	r.mu.Lock()
	list := r.messages[ev.ConversationID]
	i := indexOf(list, ev.MessageID)
	if i >= 0 {
		list = cloneMessages(list, 0)
		list[i].Delivered = true
		r.messages[ev.ConversationID] = list
		r.refreshPreview(ev.ConversationID)
	}
	r.mu.Unlock()

	if i >= 0 {
		r.changes.Publish(ev.ConversationID)
	}
}

// ApplyConversation adds a conversation or refreshes its membership.
func (r *Reconciler) ApplyConversation(c Conversation) {
	r.applyConversationIn(anyGeneration, c)
}

func (r *Reconciler) applyConversationIn(gen uint64, c Conversation) {
	if c.ID == "" {
		return
	}
	if !r.lockGeneration(gen) {
		return
	}
	existing, ok := r.conversations[c.ID]
	if ok {
		existing.Members = append([]string(nil), c.Members...)
		if c.UpdatedAt.After(existing.UpdatedAt) {
			existing.UpdatedAt = c.UpdatedAt
		}
		if _, loaded := r.messages[c.ID]; !loaded && c.LastMessage != nil {
			m := *c.LastMessage
			existing.LastMessage = &m
		}
	} else {
		cp := copyConversation(&c)
		r.conversations[c.ID] = &cp
	}
	r.refreshPreview(c.ID)
	r.mu.Unlock()

	r.changes.Publish(c.ID)
}

// ── Fetches ──────────────────────────────────────────────

// SetConversations merges a fetched conversation list into the cache.
func (r *Reconciler) SetConversations(list []Conversation) {
	r.setConversationsIn(anyGeneration, list)
}

func (r *Reconciler) setConversationsIn(gen uint64, list []Conversation) {
	for _, c := range list {
		r.applyConversationIn(gen, c)
	}
}

// ReplaceHistory merges fetched history. Entries already cached are kept,
// optimistic entries that the history confirms are swapped, and the result is
// ordered by send time.
func (r *Reconciler) ReplaceHistory(conversationID string, fetched []Message) {
	r.replaceHistoryIn(anyGeneration, conversationID, fetched)
}

func (r *Reconciler) replaceHistoryIn(gen uint64, conversationID string, fetched []Message) {
	if !r.lockGeneration(gen) {
		return
	}
	list := r.messages[conversationID]
	if list == nil {
		list = []Message{}
	}
	for _, m := range fetched {
		list = ApplyIncoming(list, m)
	}
	sorted := cloneMessages(list, 0)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SentAt.Before(sorted[j].SentAt) })
	r.messages[conversationID] = sorted
	r.refreshPreview(conversationID)
	r.mu.Unlock()

	r.changes.Publish(conversationID)
}

// ── Reads ────────────────────────────────────────────────

// Messages returns a copy of the conversation's list.
func (r *Reconciler) Messages(conversationID string) []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneMessages(r.messages[conversationID], 0)
}

func (r *Reconciler) Conversation(id string) (Conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conversations[id]
	if !ok {
		return Conversation{}, false
	}
	return copyConversation(c), true
}

// Conversations returns every cached conversation, most recently updated first.
func (r *Reconciler) Conversations() []Conversation {
	r.mu.RLock()
	out := make([]Conversation, 0, len(r.conversations))
	for _, c := range r.conversations {
		out = append(out, copyConversation(c))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (r *Reconciler) Draft(conversationID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.drafts[conversationID]
}

func (r *Reconciler) SetDraft(conversationID, text string) {
	r.mu.Lock()
	if text == "" {
		delete(r.drafts, conversationID)
	} else {
		r.drafts[conversationID] = text
	}
	r.mu.Unlock()
}

// Reset drops every cached conversation, message and draft and starts a new
// generation.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.gen++
	r.messages = make(map[string][]Message)
	r.conversations = make(map[string]*Conversation)
	r.drafts = make(map[string]string)
	r.mu.Unlock()
}

// refreshPreview recomputes LastMessage. Callers hold r.mu.
// A conversation whose history was never loaded keeps the server's preview.
func (r *Reconciler) refreshPreview(conversationID string) {
	c, ok := r.conversations[conversationID]
	if !ok {
		return
	}
	list, loaded := r.messages[conversationID]
	if !loaded {
		return
	}
	newest, ok := Newest(list)
	if !ok {
		c.LastMessage = nil
		return
	}
	c.LastMessage = &newest
	if newest.SentAt.After(c.UpdatedAt) {
		c.UpdatedAt = newest.SentAt
	}
}

func copyConversation(c *Conversation) Conversation {
	cp := *c
	cp.Members = append([]string(nil), c.Members...)
	if c.LastMessage != nil {
		m := *c.LastMessage
		cp.LastMessage = &m
	}
	return cp
}
