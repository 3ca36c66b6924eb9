package tutorly

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Messaging Types
// ============================================================================

// MessageState tracks whether a cached message has been acknowledged by the server.
type MessageState string

const (
	MessageConfirmed  MessageState = "confirmed"
	MessageOptimistic MessageState = "optimistic"
)

// Message is a chat message inside a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sentAt"`
	IsRead         bool      `json:"isRead"`
	Delivered      bool      `json:"delivered"`

	// State is local to the cache and never travels over the wire.
	State MessageState `json:"-"`
}

// IsOptimistic reports whether the message is a local, unconfirmed send.
func (m Message) IsOptimistic() bool {
	return m.State == MessageOptimistic
}

// Conversation is a thread between two or more users.
type Conversation struct {
	ID          string    `json:"id"`
	Members     []string  `json:"members"`
	LastMessage *Message  `json:"lastMessage,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type CreateConversationOptions struct {
	Members []string `json:"members"`
	Body    string   `json:"body,omitempty"`
}

type ListMessagesOptions struct {
	Limit  int
	Before string
}

// ============================================================================
// Notification Types
// ============================================================================

// NotificationType is the closed set of events a user can be notified about.
type NotificationType string

const (
	NotificationNewMessage       NotificationType = "new_message"
	NotificationNewConversation  NotificationType = "new_conversation"
	NotificationBookingCreated   NotificationType = "booking_created"
	NotificationSessionCanceled  NotificationType = "session_canceled"
	NotificationSessionCompleted NotificationType = "session_completed"
	NotificationNewReview        NotificationType = "new_review"
)

var notificationTypes = map[NotificationType]struct{}{
	NotificationNewMessage:       {},
	NotificationNewConversation:  {},
	NotificationBookingCreated:   {},
	NotificationSessionCanceled:  {},
	NotificationSessionCompleted: {},
	NotificationNewReview:        {},
}

// Valid reports whether t belongs to the known set of notification types.
func (t NotificationType) Valid() bool {
	_, ok := notificationTypes[t]
	return ok
}

// Notification is a persisted, per-user notification record.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
	IsRead    bool             `json:"isRead"`
	CreatedAt time.Time        `json:"createdAt"`
}

// ============================================================================
// Auth Types
// ============================================================================

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

type LoginOptions struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterOptions struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"` // "student" or "tutor"
}

type ResetPasswordOptions struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type AuthResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// ============================================================================
// Realtime Event Payloads
// ============================================================================

type PresenceEvent struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

type NewMessageEvent struct {
	Message Message `json:"message"`
}

type ConversationCreatedEvent struct {
	Conversation Conversation `json:"conversation"`
}

type MessagesReadEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
	IsTyping       bool   `json:"isTyping"`
}

type MessageDeliveredEvent struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type NewNotificationEvent struct {
	Notification Notification `json:"notification"`
}

// AuthenticatedEvent is the first frame a server sends on an accepted connection.
type AuthenticatedEvent struct {
	UserID string `json:"userId"`
}

// ConversationRef is the payload of room and read-marker commands.
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}
