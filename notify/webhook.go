package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	tutorly "github.com/tutorly/tutorly-go"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Tutorly-Signature"

// ============================================================================
// Webhook Types
// ============================================================================

// WebhookEvent is a marketplace event that should notify one or more users,
// e.g. a booking was created or a session was canceled.
type WebhookEvent struct {
	Source     string                   `json:"source"`
	Event      tutorly.NotificationType `json:"event"`
	Timestamp  int64                    `json:"timestamp"`
	Recipients []string                 `json:"recipients"`
	Payload    json.RawMessage          `json:"payload"`
}

// WebhookResult reports the outcome of a fan-out.
type WebhookResult struct {
	Created int      `json:"created"`
	Failed  []string `json:"failed,omitempty"`
}

// ============================================================================
// Standalone Functions
// ============================================================================

// VerifySignature checks an HMAC-SHA256 signature, with or without the
// "sha256=" prefix, in constant time.
func VerifySignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}
	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return false
	}

	expected := Sign(body, secret)
	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseEvent parses and validates a raw webhook body.
func ParseEvent(body string) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return nil, fmt.Errorf("invalid JSON in webhook body: %w", err)
	}
	if ev.Source != "tutorly" {
		return nil, fmt.Errorf("unknown webhook source: %s", ev.Source)
	}
	if ev.Event == "" {
		return nil, fmt.Errorf("missing event field in webhook payload")
	}
	if !ev.Event.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, ev.Event)
	}
	if len(ev.Recipients) == 0 {
		return nil, fmt.Errorf("missing recipients in webhook payload")
	}
	if len(ev.Payload) == 0 {
		ev.Payload = json.RawMessage("{}")
	}
	return &ev, nil
}

// ============================================================================
// WebhookHandler
// ============================================================================

// WebhookHandler verifies signed marketplace events and turns them into notifications.
type WebhookHandler struct {
	secret     string
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewWebhookHandler creates a handler that dispatches through d.
func NewWebhookHandler(secret string, d *Dispatcher, logger *zap.Logger) (*WebhookHandler, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{secret: secret, dispatcher: d, logger: logger}, nil
}

// Handle processes one webhook body (verify + parse + dispatch) and returns
// the status code and response body for the caller to write.
func (w *WebhookHandler) Handle(body, signature string) (int, any) {
	if !VerifySignature(body, signature, w.secret) {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}

	ev, err := ParseEvent(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	created, err := w.dispatcher.CreateForUsers(context.Background(), ev.Recipients, ev.Event, ev.Payload)
	result := WebhookResult{Created: len(created)}
	if err != nil {
		done := make(map[string]bool, len(created))
		for _, n := range created {
			done[n.UserID] = true
		}
		for _, id := range ev.Recipients {
			if !done[id] {
				result.Failed = append(result.Failed, id)
			}
		}
		w.logger.Warn("webhook_partial_failure",
			zap.String("event", string(ev.Event)),
			zap.Int("created", result.Created),
			zap.Strings("failed", result.Failed),
		)
	}
	if result.Created == 0 && len(result.Failed) > 0 {
		return http.StatusInternalServerError, result
	}
	return http.StatusOK, result
}

// HTTPHandler returns an http.Handler that processes webhook requests.
func (w *WebhookHandler) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(rw, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
			return
		}
		defer r.Body.Close()
		bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "Failed to read body"})
			return
		}

		status, data := w.Handle(string(bodyBytes), r.Header.Get(SignatureHeader))
		writeJSON(rw, status, data)
	})
}
