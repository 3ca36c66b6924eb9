package tutorly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	DefaultThrottleInterval = 100 * time.Millisecond
	DefaultMaxRetries       = 3
	DefaultRedirectDelay    = time.Second

	baseBackoff = time.Second
	maxBackoff  = 10 * time.Second
)

// Auth endpoints answer 401 for bad credentials; that must not end the session.
var authEndpoints = map[string]struct{}{
	"/api/auth/login":           {},
	"/api/auth/register":        {},
	"/api/auth/forgot-password": {},
	"/api/auth/reset-password":  {},
}

func isAuthEndpoint(endpoint string) bool {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}
	_, ok := authEndpoints[endpoint]
	return ok
}

// RequestOptions describes one outbound call. A nil *RequestOptions is a GET.
type RequestOptions struct {
	Method string
	Body   any
	Query  map[string]string
}

// ============================================================================
// Request state
// ============================================================================

// requestState is the mutable bookkeeping shared by every call through one gateway:
// the in-flight table, the per-endpoint throttles and the global rate-limit backoff.
type requestState struct {
	inflight singleflight.Group

	mu              sync.Mutex
	interval        time.Duration
	limiters        map[string]*rate.Limiter
	notBefore       time.Time
	lastRateLimited time.Time
}

func newRequestState(interval time.Duration) *requestState {
	return &requestState{
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (s *requestState) limiter(endpoint string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[endpoint]
	if !ok {
		l = rate.NewLimiter(rate.Every(s.interval), 1)
		s.limiters[endpoint] = l
	}
	return l
}

func (s *requestState) backoffUntil() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notBefore
}

func (s *requestState) markRateLimited(now time.Time, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRateLimited = now
	if until := now.Add(delay); until.After(s.notBefore) {
		s.notBefore = until
	}
}

// RateLimitStatus is a snapshot of the gateway's global backoff.
type RateLimitStatus struct {
	NotBefore       time.Time
	LastRateLimited time.Time
}

// ============================================================================
// Gateway
// ============================================================================

// Gateway sends every HTTP request of a client. Identical concurrent calls share
// one round trip, calls to the same endpoint are spaced by the throttle interval,
// and 429 responses push back all traffic until the server's retry window passes.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	session    *sessionManager
	logger     *zap.Logger
	metrics    *clientMetrics
	state      *requestState

	maxRetries    int
	redirectDelay time.Duration
	onRedirect    func()
	expired       Bus[*SessionExpiredError]

	redirectMu      sync.Mutex
	redirectPending bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newGateway(c *Client) *Gateway {
	return &Gateway{
		baseURL:       c.baseURL,
		httpClient:    c.httpClient,
		session:       c.session,
		logger:        c.logger.Named("gateway"),
		metrics:       c.metrics,
		state:         newRequestState(c.throttleInterval),
		maxRetries:    DefaultMaxRetries,
		redirectDelay: c.redirectDelay,
		onRedirect:    c.onLoginRedirect,
		now:           time.Now,
		sleep:         sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnSessionExpired registers fn to run whenever a 401 clears the session.
func (g *Gateway) OnSessionExpired(fn func(*SessionExpiredError)) (unsubscribe func()) {
	return g.expired.Subscribe(fn)
}

// RateLimitStatus returns the current global backoff window.
func (g *Gateway) RateLimitStatus() RateLimitStatus {
	g.state.mu.Lock()
	defer g.state.mu.Unlock()
	return RateLimitStatus{NotBefore: g.state.notBefore, LastRateLimited: g.state.lastRateLimited}
}

// Send performs a request and returns the raw response body of a 2xx answer.
func (g *Gateway) Send(ctx context.Context, endpoint string, opts *RequestOptions) ([]byte, error) {
	method := http.MethodGet
	var body []byte
	target := endpoint
	if opts != nil {
		if opts.Method != "" {
			method = opts.Method
		}
		if opts.Body != nil {
			b, err := json.Marshal(opts.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request: %w", err)
			}
			body = b
		}
		if len(opts.Query) > 0 {
			params := url.Values{}
			for k, v := range opts.Query {
				params.Set(k, v)
			}
			target += "?" + params.Encode()
		}
	}

	// The round trip runs with the first caller's ctx. A caller that joins it
	// still stops waiting when its own ctx ends.
	key := method + " " + target + " " + string(body)
	ch := g.state.inflight.DoChan(key, func() (interface{}, error) {
		return g.execute(ctx, method, endpoint, target, body)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Shared {
		g.metrics.shared.Inc()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	data := res.Val.([]byte)
	if res.Shared {
		data = append([]byte(nil), data...)
	}
	return data, nil
}

func (g *Gateway) execute(ctx context.Context, method, endpoint, target string, body []byte) ([]byte, error) {
	if err := g.state.limiter(endpoint).Wait(ctx); err != nil {
		return nil, &NetworkError{Message: "request cancelled", Err: err}
	}

	for attempt := 0; ; attempt++ {
		if err := g.waitBackoff(ctx); err != nil {
			return nil, &NetworkError{Message: "request cancelled", Err: err}
		}

		status, header, data, err := g.roundTrip(ctx, method, target, body)
		if err != nil {
			g.logger.Debug("request_failed", zap.String("method", method), zap.String("endpoint", endpoint), zap.Error(err))
			return nil, &NetworkError{Message: "request failed", Err: err}
		}
		g.metrics.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()

		switch {
		case status == http.StatusTooManyRequests:
			g.metrics.rateLimited.Inc()
			delay := retryDelay(header.Get("Retry-After"), attempt, g.now())
			g.state.markRateLimited(g.now(), delay)
			apiErr, _ := parseAPIError(data)
			if attempt >= g.maxRetries {
				g.logger.Warn("rate_limit_exhausted",
					zap.String("endpoint", endpoint),
					zap.Int("attempts", attempt+1),
				)
				return nil, &RateLimitError{Endpoint: endpoint, Attempts: attempt + 1, RetryAfter: delay, Body: apiErr}
			}
			g.logger.Debug("rate_limited",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)
			continue

		case status == http.StatusUnauthorized && !isAuthEndpoint(endpoint):
			return nil, g.expire(endpoint)

		case status >= 400:
			apiErr, ok := parseAPIError(data)
			if !ok {
				return nil, &NetworkError{Message: genericNetworkMessage}
			}
			return nil, &HTTPError{Status: status, Message: apiErr.Text(), Body: apiErr}
		}
		return data, nil
	}
}

func (g *Gateway) waitBackoff(ctx context.Context) error {
	if d := g.state.backoffUntil().Sub(g.now()); d > 0 {
		return g.sleep(ctx, d)
	}
	return nil
}

func (g *Gateway) roundTrip(ctx context.Context, method, target string, body []byte) (int, http.Header, []byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+target, bodyReader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := g.session.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, resp.Header, data, nil
}

func (g *Gateway) expire(endpoint string) error {
	expired := &SessionExpiredError{Endpoint: endpoint, At: g.now()}
	g.metrics.sessionExpired.Inc()
	g.logger.Info("session_expired", zap.String("endpoint", endpoint))

	if err := g.session.clear(); err != nil {
		g.logger.Warn("session_clear_failed", zap.Error(err))
	}
	g.expired.Publish(expired)
	g.scheduleRedirect()
	return expired
}

// scheduleRedirect runs the login hook once per burst of 401 responses.
func (g *Gateway) scheduleRedirect() {
	if g.onRedirect == nil {
		return
	}
	g.redirectMu.Lock()
	defer g.redirectMu.Unlock()
	if g.redirectPending {
		return
	}
	g.redirectPending = true
	time.AfterFunc(g.redirectDelay, func() {
		g.redirectMu.Lock()
		g.redirectPending = false
		g.redirectMu.Unlock()
		g.onRedirect()
	})
}

// retryDelay honours a Retry-After header (delta seconds or HTTP date) and
// falls back to exponential backoff.
func retryDelay(retryAfter string, attempt int, now time.Time) time.Duration {
	retryAfter = strings.TrimSpace(retryAfter)
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
			return time.Duration(secs) * 1000 * time.Millisecond
		}
		if at, err := http.ParseTime(retryAfter); err == nil {
			if d := at.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	return backoffDelay(attempt)
}

// backoffDelay is min(1s * 2^attempt, 10s).
func backoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 4 {
		return maxBackoff
	}
	return min(baseBackoff<<attempt, maxBackoff)
}

// Call sends a request through g and decodes the JSON answer into T.
func Call[T any](ctx context.Context, g *Gateway, endpoint string, opts *RequestOptions) (*T, error) {
	data, err := g.Send(ctx, endpoint, opts)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return new(T), nil
	}
	result, err := decodeJSON[T](data)
	if err != nil {
		return nil, &NetworkError{Message: genericNetworkMessage, Err: err}
	}
	return result, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}
