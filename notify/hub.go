package notify

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	tutorly "github.com/tutorly/tutorly-go"
)

const sendBuffer = 64

// Hub tracks the live WebSocket sessions of every user and the conversation
// rooms they joined. Pushes never block: a session whose buffer is full misses
// the event.
type Hub struct {
	secret   []byte
	upgrader websocket.Upgrader
	logger   *zap.Logger
	metrics  *hubMetrics
	allow    func(userID, conversationID string) bool

	mu       sync.RWMutex
	sessions map[string]map[*session]struct{} // userID -> sessions
	rooms    map[string]map[*session]struct{} // conversationID -> sessions
}

type session struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	rooms  map[string]struct{} // guarded by Hub.mu
}

type HubOption func(*Hub)

func WithHubLogger(logger *zap.Logger) HubOption {
	return func(h *Hub) { h.logger = logger }
}

// WithRoomAuthorizer decides which users may join a conversation room.
// Without one every authenticated session may join any room.
func WithRoomAuthorizer(fn func(userID, conversationID string) bool) HubOption {
	return func(h *Hub) { h.allow = fn }
}

// WithHubRegisterer registers the hub's metrics on reg.
func WithHubRegisterer(reg prometheus.Registerer) HubOption {
	return func(h *Hub) { h.metrics = newHubMetrics(reg) }
}

// NewHub creates a hub that accepts sessions signed with secret.
func NewHub(secret []byte, opts ...HubOption) *Hub {
	h := &Hub{
		secret: secret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:   zap.NewNop(),
		sessions: make(map[string]map[*session]struct{}),
		rooms:    make(map[string]map[*session]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = newHubMetrics(nil)
	}
	return h
}

// ServeHTTP authenticates the handshake and serves one session until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := authenticate(h.secret, r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade_failed", zap.Error(err))
		return
	}

	s := &session{
		userID: claims.UserID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		rooms:  make(map[string]struct{}),
	}
	// The authenticated frame must precede anything a concurrent push might enqueue.
	if data, err := encodeEnvelope(tutorly.EventAuthenticated, tutorly.AuthenticatedEvent{UserID: s.userID}); err == nil {
		s.send <- data
	}

	online := h.register(s)
	go s.writeLoop()
	if online {
		h.broadcastPresence(s.userID, true)
	}

	h.readLoop(s)

	if offline := h.unregister(s); offline {
		h.broadcastPresence(s.userID, false)
	}
}

// register adds s and reports whether it is the user's first session.
// The new session is told who else is online.
func (h *Hub) register(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID := range h.sessions {
		if userID == s.userID {
			continue
		}
		if data, err := encodeEnvelope(tutorly.EventPresence, tutorly.PresenceEvent{UserID: userID, Online: true}); err == nil {
			h.offer(s, data)
		}
	}

	set := h.sessions[s.userID]
	first := set == nil
	if first {
		set = make(map[*session]struct{})
		h.sessions[s.userID] = set
	}
	set[s] = struct{}{}
	h.metrics.sessions.Inc()
	h.logger.Info("session_opened", zap.String("user_id", s.userID), zap.Int("user_sessions", len(set)))
	return first
}

// unregister removes s and reports whether the user has no session left.
func (h *Hub) unregister(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id := range s.rooms {
		h.leaveLocked(s, id)
	}
	set := h.sessions[s.userID]
	delete(set, s)
	last := len(set) == 0
	if last {
		delete(h.sessions, s.userID)
	}
	close(s.send)
	h.metrics.sessions.Dec()
	h.logger.Info("session_closed", zap.String("user_id", s.userID))
	return last
}

func (h *Hub) readLoop(s *session) {
	defer s.conn.Close()
	s.conn.SetReadLimit(64 * 1024)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var env tutorly.RealtimeEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		h.handle(s, env)
	}
}

func (h *Hub) handle(s *session, env tutorly.RealtimeEnvelope) {
	switch env.Type {
	case tutorly.EventJoinConversation:
		var ref tutorly.ConversationRef
		if json.Unmarshal(env.Payload, &ref) != nil || ref.ConversationID == "" {
			return
		}
		if h.allow != nil && !h.allow(s.userID, ref.ConversationID) {
			h.metrics.joinsDenied.Inc()
			h.logger.Debug("join_denied", zap.String("user_id", s.userID), zap.String("conversation_id", ref.ConversationID))
			return
		}
		h.join(s, ref.ConversationID)
	case tutorly.EventLeaveConversation:
		var ref tutorly.ConversationRef
		if json.Unmarshal(env.Payload, &ref) == nil {
			h.mu.Lock()
			h.leaveLocked(s, ref.ConversationID)
			h.mu.Unlock()
		}
	case tutorly.EventTyping:
		var ev tutorly.TypingEvent
		if json.Unmarshal(env.Payload, &ev) == nil && h.member(s, ev.ConversationID) {
			ev.UserID = s.userID
			h.broadcastRoom(ev.ConversationID, tutorly.EventTyping, ev, s)
		}
	case tutorly.EventMarkRead:
		var ref tutorly.ConversationRef
		if json.Unmarshal(env.Payload, &ref) == nil && h.member(s, ref.ConversationID) {
			h.broadcastRoom(ref.ConversationID, tutorly.EventMessagesRead,
				tutorly.MessagesReadEvent{ConversationID: ref.ConversationID, UserID: s.userID}, s)
		}
	default:
		h.logger.Debug("unknown_command", zap.String("type", env.Type), zap.String("user_id", s.userID))
	}
}

func (h *Hub) join(s *session, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[conversationID]
	if room == nil {
		room = make(map[*session]struct{})
		h.rooms[conversationID] = room
	}
	room[s] = struct{}{}
	s.rooms[conversationID] = struct{}{}
}

// member reports whether s joined the room. Relays from outside a room are dropped.
func (h *Hub) member(s *session, conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := s.rooms[conversationID]
	return ok
}

func (h *Hub) leaveLocked(s *session, conversationID string) {
	delete(s.rooms, conversationID)
	if room, ok := h.rooms[conversationID]; ok {
		delete(room, s)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// ============================================================================
// Delivery
// ============================================================================

// Push sends an event to every session of userID and returns how many accepted it.
func (h *Hub) Push(userID, eventType string, payload any) int {
	data, err := encodeEnvelope(eventType, payload)
	if err != nil {
		h.logger.Error("encode_failed", zap.String("type", eventType), zap.Error(err))
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	reached := 0
	for s := range h.sessions[userID] {
		if h.offer(s, data) {
			reached++
		}
	}
	return reached
}

// Broadcast sends an event to every session that joined the conversation.
func (h *Hub) Broadcast(conversationID, eventType string, payload any) int {
	return h.broadcastRoom(conversationID, eventType, payload, nil)
}

func (h *Hub) broadcastRoom(conversationID, eventType string, payload any, except *session) int {
	data, err := encodeEnvelope(eventType, payload)
	if err != nil {
		h.logger.Error("encode_failed", zap.String("type", eventType), zap.Error(err))
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	reached := 0
	for s := range h.rooms[conversationID] {
		if s == except {
			continue
		}
		if h.offer(s, data) {
			reached++
		}
	}
	return reached
}

// broadcastPresence tells every other user's sessions that userID came or went.
func (h *Hub) broadcastPresence(userID string, online bool) {
	data, err := encodeEnvelope(tutorly.EventPresence, tutorly.PresenceEvent{UserID: userID, Online: online})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for other, set := range h.sessions {
		if other == userID {
			continue
		}
		for s := range set {
			h.offer(s, data)
		}
	}
}

// offer enqueues data without blocking. Callers hold h.mu.
func (h *Hub) offer(s *session, data []byte) bool {
	select {
	case s.send <- data:
		h.metrics.pushes.WithLabelValues("sent").Inc()
		return true
	default:
		h.metrics.pushes.WithLabelValues("dropped").Inc()
		h.logger.Debug("push_dropped", zap.String("user_id", s.userID))
		return false
	}
}

// Online reports whether userID has at least one live session.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID]) > 0
}

func (s *session) writeLoop() {
	defer s.conn.Close()
	for msg := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func encodeEnvelope(eventType string, payload any) ([]byte, error) {
	env, err := tutorly.NewEnvelope(eventType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
