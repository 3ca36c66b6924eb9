package tutorly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire format
// ============================================================================

// Inbound event types.
const (
	EventAuthenticated       = "authenticated"
	EventPresence            = "presence"
	EventNewMessage          = "newMessage"
	EventConversationCreated = "conversationCreated"
	EventMessagesRead        = "messagesRead"
	EventTyping              = "typing"
	EventMessageDelivered    = "messageDelivered"
	EventNewNotification     = "newNotification"
)

// Outbound command types. Typing shares its name with the inbound event.
const (
	EventJoinConversation  = "joinConversation"
	EventLeaveConversation = "leaveConversation"
	EventMarkRead          = "markRead"
)

// RealtimeEnvelope is the wire format for every realtime frame in both directions.
type RealtimeEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(eventType string, payload any) (*RealtimeEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &RealtimeEnvelope{Type: eventType, Payload: raw}, nil
}

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures realtime channels.
type RealtimeConfig struct {
	DisableReconnect     bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	// HTTPClient is used for the handshake. It must not set Timeout.
	HTTPClient *http.Client
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 10 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

var errHandshakeRejected = errors.New("realtime handshake rejected")

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts < 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	// A connection that stayed up for a minute earns a fresh backoff budget.
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ============================================================================
// Channel
// ============================================================================

// Channel owns the single realtime connection of a session. It connects when
// the session holds a valid credential, drops the connection when the session
// ends and routes inbound events to typed topics. It keeps no domain state.
type Channel struct {
	urlFor  func(token string) string
	config  *RealtimeConfig
	session *sessionManager
	logger  *zap.Logger
	metrics *clientMetrics
	events  *Events

	mu        sync.Mutex
	conn      *websocket.Conn
	state     RealtimeState
	recon     *reconnector
	rooms     map[string]struct{}
	running   bool
	lastToken string
	wake      chan struct{}
}

// Events returns the channel's inbound event topics.
func (ch *Channel) Events() *Events {
	return ch.events
}

// State returns the current connection state.
func (ch *Channel) State() RealtimeState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *Channel) setState(s RealtimeState) {
	ch.mu.Lock()
	ch.state = s
	ch.mu.Unlock()
}

// Run keeps the connection in step with the session until ctx is done.
// A logout closes the connection; the next login opens a new one.
func (ch *Channel) Run(ctx context.Context) error {
	ch.mu.Lock()
	if ch.running {
		ch.mu.Unlock()
		return errors.New("realtime channel already running")
	}
	ch.running = true
	ch.mu.Unlock()
	defer func() {
		ch.mu.Lock()
		ch.running = false
		ch.mu.Unlock()
	}()

	unsubscribe := ch.session.subscribe(func(Session) {
		select {
		case ch.wake <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		token := ch.session.token()
		ch.forgetRoomsOnUserChange(token)

		if !TokenValid(token, time.Now()) {
			ch.logger.Debug("realtime_waiting_for_session")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ch.wake:
				continue
			}
		}

		connCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- ch.serve(connCtx, token) }()

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return ctx.Err()
		case <-ch.wake:
			cancel()
			<-done
		case err := <-done:
			cancel()
			ch.logger.Warn("realtime_stopped", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ch.wake:
			}
		}
	}
}

func (ch *Channel) forgetRoomsOnUserChange(token string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if token != ch.lastToken {
		ch.rooms = make(map[string]struct{})
		ch.lastToken = token
	}
}

// serve holds one logical connection, reconnecting after unexpected drops.
// It returns nil when ctx ends and an error when it gives up.
func (ch *Channel) serve(ctx context.Context, token string) error {
	ch.recon.reset()
	for {
		err := ch.connect(ctx, token)
		if err == nil {
			hbCtx, stopHeartbeat := context.WithCancel(ctx)
			go ch.heartbeatLoop(hbCtx)
			err = ch.readLoop(ctx)
			stopHeartbeat()
		}
		ch.teardown()

		if ctx.Err() != nil {
			ch.logger.Debug("realtime_closed")
			return nil
		}
		ch.logger.Debug("realtime_disconnected", zap.Error(err))
		ch.events.Disconnected.Publish(err)

		if errors.Is(err, errHandshakeRejected) || ch.config.DisableReconnect || !ch.recon.shouldReconnect() {
			return err
		}

		delay := ch.recon.nextDelay()
		ch.setState(StateReconnecting)
		ch.events.Reconnecting.Publish(ReconnectAttempt{Attempt: ch.recon.attempt, Delay: delay})
		if sleepContext(ctx, delay) != nil {
			ch.setState(StateDisconnected)
			return nil
		}
	}
}

func (ch *Channel) connect(ctx context.Context, token string) error {
	ch.setState(StateConnecting)

	conn, resp, err := websocket.Dial(ctx, ch.urlFor(token), &websocket.DialOptions{
		HTTPClient: ch.config.HTTPClient,
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: http %d", errHandshakeRejected, resp.StatusCode)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	// The server confirms the credential before sending anything else.
	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("read auth message: %w", err)
	}
	var env RealtimeEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != EventAuthenticated {
		conn.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("expected '%s', got '%s'", EventAuthenticated, env.Type)
	}
	var auth AuthenticatedEvent
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &auth); err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return fmt.Errorf("decode '%s' payload: %w", EventAuthenticated, err)
		}
	}

	ch.mu.Lock()
	ch.conn = conn
	ch.state = StateConnected
	rooms := make([]string, 0, len(ch.rooms))
	for id := range ch.rooms {
		rooms = append(rooms, id)
	}
	ch.mu.Unlock()
	ch.recon.markConnected()

	ch.logger.Info("realtime_connected", zap.String("user_id", auth.UserID), zap.Int("rooms", len(rooms)))
	ch.events.Connected.Publish(auth)

	for _, id := range rooms {
		if err := ch.send(ctx, EventJoinConversation, ConversationRef{ConversationID: id}); err != nil {
			ch.logger.Debug("realtime_rejoin_failed", zap.String("conversation_id", id), zap.Error(err))
		}
	}
	return nil
}

// teardown closes and forgets the current connection.
func (ch *Channel) teardown() {
	ch.mu.Lock()
	conn := ch.conn
	ch.conn = nil
	ch.state = StateDisconnected
	ch.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
}

func (ch *Channel) readLoop(ctx context.Context) error {
	ch.mu.Lock()
	conn := ch.conn
	ch.mu.Unlock()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var env RealtimeEnvelope
		if json.Unmarshal(data, &env) != nil {
			ch.logger.Debug("realtime_bad_frame", zap.Int("bytes", len(data)))
			continue
		}
		ch.dispatch(env)
	}
}

func (ch *Channel) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(ch.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ch.mu.Lock()
			conn := ch.conn
			ch.mu.Unlock()
			if conn == nil {
				return
			}
			pingCtx, cancel := context.WithTimeout(ctx, ch.config.HeartbeatTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				// A missed pong closes the connection; readLoop sees the error.
				ch.logger.Debug("realtime_heartbeat_failed", zap.Error(err))
				return
			}
		}
	}
}

// dispatch decodes an inbound envelope and publishes it on its topic.
func (ch *Channel) dispatch(env RealtimeEnvelope) {
	var ok bool
	switch env.Type {
	case EventPresence:
		ok = publish(&ch.events.Presence, env.Payload, func(p PresenceEvent) PresenceEvent { return p })
	case EventNewMessage:
		ok = publish(&ch.events.NewMessage, env.Payload, func(p NewMessageEvent) Message { return p.Message })
	case EventConversationCreated:
		ok = publish(&ch.events.ConversationCreated, env.Payload, func(p ConversationCreatedEvent) Conversation { return p.Conversation })
	case EventMessagesRead:
		ok = publish(&ch.events.MessagesRead, env.Payload, func(p MessagesReadEvent) MessagesReadEvent { return p })
	case EventTyping:
		ok = publish(&ch.events.Typing, env.Payload, func(p TypingEvent) TypingEvent { return p })
	case EventMessageDelivered:
		ok = publish(&ch.events.MessageDelivered, env.Payload, func(p MessageDeliveredEvent) MessageDeliveredEvent { return p })
	case EventNewNotification:
		ok = publish(&ch.events.NewNotification, env.Payload, func(p NewNotificationEvent) Notification { return p.Notification })
	default:
		ch.logger.Debug("realtime_unknown_event", zap.String("type", env.Type))
		ch.metrics.events.WithLabelValues("unknown").Inc()
		return
	}
	if !ok {
		ch.logger.Debug("realtime_bad_payload", zap.String("type", env.Type))
		return
	}
	ch.metrics.events.WithLabelValues(env.Type).Inc()
}

func publish[P, T any](bus *Bus[T], raw json.RawMessage, extract func(P) T) bool {
	var p P
	if err := json.Unmarshal(raw, &p); err != nil {
		return false
	}
	bus.Publish(extract(p))
	return true
}

// ============================================================================
// Outbound commands
// ============================================================================

// JoinConversation subscribes to a conversation's events. Rooms are remembered
// and joined again after every reconnect; joining while disconnected is deferred.
func (ch *Channel) JoinConversation(ctx context.Context, conversationID string) error {
	ch.mu.Lock()
	ch.rooms[conversationID] = struct{}{}
	connected := ch.conn != nil
	ch.mu.Unlock()
	if !connected {
		return nil
	}
	return ch.send(ctx, EventJoinConversation, ConversationRef{ConversationID: conversationID})
}

// LeaveConversation unsubscribes from a conversation's events.
func (ch *Channel) LeaveConversation(ctx context.Context, conversationID string) error {
	ch.mu.Lock()
	delete(ch.rooms, conversationID)
	connected := ch.conn != nil
	ch.mu.Unlock()
	if !connected {
		return nil
	}
	return ch.send(ctx, EventLeaveConversation, ConversationRef{ConversationID: conversationID})
}

// SendTyping announces the local user's compose state.
func (ch *Channel) SendTyping(ctx context.Context, conversationID string, isTyping bool) error {
	return ch.send(ctx, EventTyping, TypingEvent{ConversationID: conversationID, IsTyping: isTyping})
}

// MarkRead tells the other members that the local user read the conversation.
func (ch *Channel) MarkRead(ctx context.Context, conversationID string) error {
	return ch.send(ctx, EventMarkRead, ConversationRef{ConversationID: conversationID})
}

func (ch *Channel) send(ctx context.Context, eventType string, payload any) error {
	ch.mu.Lock()
	conn := ch.conn
	ch.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	env, err := NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
