package tutorly

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotConnected is returned when a realtime command is sent without a live connection.
var ErrNotConnected = errors.New("realtime channel not connected")

// ErrEmptyMessage is returned when sending a message with no body.
var ErrEmptyMessage = errors.New("message body is empty")

const genericNetworkMessage = "unexpected response from server"

// APIError is the JSON error body returned by the marketplace API.
// Servers use either "message" or "error" for the human readable text.
type APIError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"error,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Text()
	}
	return e.Text()
}

// Text returns the message field, falling back to the error field.
func (e *APIError) Text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Detail
}

// parseAPIError decodes an error body. ok is false when the body is not JSON.
func parseAPIError(data []byte) (*APIError, bool) {
	var body APIError
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, false
	}
	return &body, true
}

// NetworkError reports a transport failure or a response body that could not be parsed.
type NetworkError struct {
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response with a parseable error body.
type HTTPError struct {
	Status  int
	Message string
	Body    *APIError
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// RateLimitError is returned after the server kept answering 429 through every retry.
type RateLimitError struct {
	Endpoint   string
	Attempts   int
	RetryAfter time.Duration
	Body       *APIError
}

func (e *RateLimitError) Error() string {
	msg := "rate limited"
	if e.Body != nil && e.Body.Text() != "" {
		msg = e.Body.Text()
	}
	return fmt.Sprintf("%s %s (after %d attempts)", e.Endpoint, msg, e.Attempts)
}

// SessionExpiredError is returned when a non-auth endpoint answers 401.
// The session has already been cleared when callers see it.
type SessionExpiredError struct {
	Endpoint string
	At       time.Time
}

func (e *SessionExpiredError) Error() string {
	return "session expired: " + e.Endpoint
}
