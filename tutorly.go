// Package tutorly is the Go client SDK for the tutoring marketplace API.
//
// It keeps conversations, messages, notifications, presence and typing state
// in sync across optimistic local writes, HTTP acknowledgements and realtime
// push events.
//
// Example:
//
//	client := tutorly.NewClient("", tutorly.WithBaseURL("https://api.tutorly.dev"))
//	client.Auth.Login(ctx, &tutorly.LoginOptions{Email: "ana@example.com", Password: "..."})
//
//	engine := client.NewEngine(nil)
//	go engine.Run(ctx)
//	engine.Messenger.Send(ctx, "conv-1", "See you at 5?")
package tutorly

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.tutorly.dev"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

type Client struct {
	baseURL          string
	httpClient       *http.Client
	logger           *zap.Logger
	registerer       prometheus.Registerer
	store            SessionStore
	throttleInterval time.Duration
	redirectDelay    time.Duration
	onLoginRedirect  func()

	session *sessionManager
	metrics *clientMetrics
	gateway *Gateway

	Auth          *AuthClient
	Conversations *ConversationsClient
	Messages      *MessagesClient
	Notifications *NotificationsClient
	Realtime      *RealtimeClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithRegisterer registers the client's metrics on reg.
func WithRegisterer(reg prometheus.Registerer) ClientOption {
	return func(c *Client) { c.registerer = reg }
}

// WithSessionStore replaces the in-memory session store.
func WithSessionStore(store SessionStore) ClientOption {
	return func(c *Client) { c.store = store }
}

// WithThrottleInterval sets the minimum spacing between calls to one endpoint.
func WithThrottleInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.throttleInterval = d }
}

// WithLoginRedirect sets the hook that runs shortly after a 401 ended the session.
func WithLoginRedirect(delay time.Duration, fn func()) ClientOption {
	return func(c *Client) {
		c.redirectDelay = delay
		c.onLoginRedirect = fn
	}
}

// NewClient creates a new marketplace client.
// token is optional: pass "" and call Auth.Login to obtain one.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger:           zap.NewNop(),
		throttleInterval: DefaultThrottleInterval,
		redirectDelay:    DefaultRedirectDelay,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.store == nil {
		c.store = NewMemorySessionStore(token)
	} else if token != "" {
		_ = c.store.Save(Session{Token: token})
	}

	c.session = newSessionManager(c.store)
	c.metrics = newClientMetrics(c.registerer)
	c.gateway = newGateway(c)

	c.Auth = &AuthClient{c: c}
	c.Conversations = &ConversationsClient{c: c}
	c.Messages = &MessagesClient{c: c}
	c.Notifications = &NotificationsClient{c: c}
	c.Realtime = &RealtimeClient{c: c}
	return c
}

// Gateway returns the request gateway shared by every sub-client.
func (c *Client) Gateway() *Gateway {
	return c.gateway
}

// Session returns the current session.
func (c *Client) Session() Session {
	return c.session.current()
}

// SetToken replaces the session credential and notifies session listeners.
func (c *Client) SetToken(token string) error {
	return c.session.set(Session{Token: token, UserID: tokenSubject(token)})
}

// OnSessionChange registers fn for every login, logout and expiry.
// A zero Session means the user is logged out.
func (c *Client) OnSessionChange(fn func(Session)) (unsubscribe func()) {
	return c.session.subscribe(fn)
}

// ============================================================================
// Auth
// ============================================================================

// AuthClient handles login and account recovery.
type AuthClient struct{ c *Client }

// Login exchanges credentials for a session token and stores it.
func (a *AuthClient) Login(ctx context.Context, opts *LoginOptions) (*AuthResult, error) {
	return a.authenticate(ctx, "/api/auth/login", opts)
}

// Register creates an account and logs it in.
func (a *AuthClient) Register(ctx context.Context, opts *RegisterOptions) (*AuthResult, error) {
	return a.authenticate(ctx, "/api/auth/register", opts)
}

func (a *AuthClient) authenticate(ctx context.Context, endpoint string, body any) (*AuthResult, error) {
	res, err := Call[AuthResult](ctx, a.c.gateway, endpoint, &RequestOptions{Method: http.MethodPost, Body: body})
	if err != nil {
		return nil, err
	}
	if res.Token == "" {
		return nil, &NetworkError{Message: "login response carried no token"}
	}
	userID := res.User.ID
	if userID == "" {
		userID = tokenSubject(res.Token)
	}
	if err := a.c.session.set(Session{Token: res.Token, UserID: userID}); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return res, nil
}

func (a *AuthClient) ForgotPassword(ctx context.Context, email string) error {
	_, err := a.c.gateway.Send(ctx, "/api/auth/forgot-password", &RequestOptions{
		Method: http.MethodPost,
		Body:   map[string]string{"email": email},
	})
	return err
}

func (a *AuthClient) ResetPassword(ctx context.Context, opts *ResetPasswordOptions) error {
	_, err := a.c.gateway.Send(ctx, "/api/auth/reset-password", &RequestOptions{Method: http.MethodPost, Body: opts})
	return err
}

// Logout clears the stored session. Listeners tear down realtime state.
func (a *AuthClient) Logout() error {
	return a.c.session.clear()
}

// ============================================================================
// Conversations & Messages
// ============================================================================

// ConversationsClient handles conversation management.
type ConversationsClient struct{ c *Client }

func (cv *ConversationsClient) List(ctx context.Context) ([]Conversation, error) {
	res, err := Call[[]Conversation](ctx, cv.c.gateway, "/api/conversations", nil)
	if err != nil {
		return nil, err
	}
	return *res, nil
}

func (cv *ConversationsClient) Create(ctx context.Context, opts *CreateConversationOptions) (*Conversation, error) {
	return Call[Conversation](ctx, cv.c.gateway, "/api/conversations", &RequestOptions{Method: http.MethodPost, Body: opts})
}

// MessagesClient handles message history and sends.
type MessagesClient struct{ c *Client }

func (m *MessagesClient) List(ctx context.Context, conversationID string, opts *ListMessagesOptions) ([]Message, error) {
	var query map[string]string
	if opts != nil {
		query = map[string]string{}
		if opts.Limit > 0 {
			query["limit"] = strconv.Itoa(opts.Limit)
		}
		if opts.Before != "" {
			query["before"] = opts.Before
		}
		if len(query) == 0 {
			query = nil
		}
	}
	res, err := Call[[]Message](ctx, m.c.gateway, "/api/conversations/"+conversationID+"/messages", &RequestOptions{Query: query})
	if err != nil {
		return nil, err
	}
	for i := range *res {
		(*res)[i].State = MessageConfirmed
	}
	return *res, nil
}

func (m *MessagesClient) Send(ctx context.Context, conversationID, body string) (*Message, error) {
	msg, err := Call[Message](ctx, m.c.gateway, "/api/conversations/"+conversationID+"/messages", &RequestOptions{
		Method: http.MethodPost,
		Body:   map[string]string{"body": body},
	})
	if err != nil {
		return nil, err
	}
	msg.State = MessageConfirmed
	return msg, nil
}

// ============================================================================
// Notifications
// ============================================================================

// NotificationsClient reads and acknowledges notifications.
type NotificationsClient struct{ c *Client }

func (n *NotificationsClient) List(ctx context.Context) ([]Notification, error) {
	res, err := Call[[]Notification](ctx, n.c.gateway, "/api/notifications", nil)
	if err != nil {
		return nil, err
	}
	return *res, nil
}

func (n *NotificationsClient) MarkRead(ctx context.Context, notificationID string) error {
	_, err := n.c.gateway.Send(ctx, "/api/notifications/"+notificationID+"/read", &RequestOptions{Method: http.MethodPatch})
	return err
}

func (n *NotificationsClient) MarkAllRead(ctx context.Context) error {
	_, err := n.c.gateway.Send(ctx, "/api/notifications/read-all", &RequestOptions{Method: http.MethodPatch})
	return err
}

// ============================================================================
// Realtime factory
// ============================================================================

// RealtimeClient creates realtime channels bound to the client's session.
type RealtimeClient struct{ c *Client }

// WSUrl returns the WebSocket URL for token.
func (r *RealtimeClient) WSUrl(token string) string {
	base := strings.Replace(r.c.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	if token != "" {
		return base + "/ws?token=" + token
	}
	return base + "/ws"
}

// Channel creates a realtime channel. Call Run to follow the session.
func (r *RealtimeClient) Channel(config *RealtimeConfig) *Channel {
	var cfg RealtimeConfig
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &Channel{
		urlFor:  r.WSUrl,
		config:  &cfg,
		session: r.c.session,
		logger:  r.c.logger.Named("realtime"),
		metrics: r.c.metrics,
		events:  &Events{},
		state:   StateDisconnected,
		recon:   newReconnector(&cfg),
		rooms:   make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
	}
}
