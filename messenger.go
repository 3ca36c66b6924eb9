package tutorly

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Messenger drives user-facing message actions through the gateway and keeps
// the Reconciler in step with their outcome.
type Messenger struct {
	client  *Client
	cache   *Reconciler
	typing  *TypingNotifier
	channel *Channel
	logger  *zap.Logger
	now     func() time.Time
}

// Send posts body to a conversation. The message shows up immediately as an
// optimistic entry; on failure the entry is removed and the text goes back into
// the conversation's draft.
func (m *Messenger) Send(ctx context.Context, conversationID, body string) (*Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyMessage
	}

	gen := m.cache.Generation()
	pending := m.cache.BeginSend(conversationID, m.client.Session().UserID, body, m.now())
	if m.typing != nil {
		m.typing.Stop(ctx, conversationID)
	}

	msg, err := m.client.Messages.Send(ctx, conversationID, body)
	if err != nil {
		m.cache.failIn(gen, conversationID, pending.ID)
		m.logger.Debug("send_rolled_back", zap.String("conversation_id", conversationID), zap.Error(err))
		return nil, err
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	m.cache.confirmIn(gen, conversationID, pending.ID, *msg)
	return msg, nil
}

// Input stores the compose text and signals typing.
func (m *Messenger) Input(ctx context.Context, conversationID, text string) {
	m.cache.SetDraft(conversationID, text)
	if m.typing != nil && text != "" {
		m.typing.Input(ctx, conversationID)
	}
}

// LoadConversations fetches the conversation list into the cache.
func (m *Messenger) LoadConversations(ctx context.Context) ([]Conversation, error) {
	gen := m.cache.Generation()
	list, err := m.client.Conversations.List(ctx)
	if err != nil {
		return nil, err
	}
	m.cache.setConversationsIn(gen, list)
	return m.cache.Conversations(), nil
}

// LoadHistory fetches a conversation's messages and merges them into the cache.
func (m *Messenger) LoadHistory(ctx context.Context, conversationID string) ([]Message, error) {
	gen := m.cache.Generation()
	list, err := m.client.Messages.List(ctx, conversationID, nil)
	if err != nil {
		return nil, err
	}
	m.cache.replaceHistoryIn(gen, conversationID, list)
	return m.cache.Messages(conversationID), nil
}

// CreateConversation starts a conversation and adds it to the cache.
func (m *Messenger) CreateConversation(ctx context.Context, opts *CreateConversationOptions) (*Conversation, error) {
	gen := m.cache.Generation()
	conv, err := m.client.Conversations.Create(ctx, opts)
	if err != nil {
		return nil, err
	}
	m.cache.applyConversationIn(gen, *conv)
	return conv, nil
}

// Open joins a conversation's room, loads its history and marks it read.
func (m *Messenger) Open(ctx context.Context, conversationID string) ([]Message, error) {
	if err := m.channel.JoinConversation(ctx, conversationID); err != nil {
		m.logger.Debug("join_failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	list, err := m.LoadHistory(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := m.channel.MarkRead(ctx, conversationID); err != nil && !errors.Is(err, ErrNotConnected) {
		m.logger.Debug("mark_read_failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	return list, nil
}

// Close leaves a conversation's room and ends any typing signal.
func (m *Messenger) Close(ctx context.Context, conversationID string) error {
	if m.typing != nil {
		m.typing.Stop(ctx, conversationID)
	}
	return m.channel.LeaveConversation(ctx, conversationID)
}
