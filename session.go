package tutorly

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================================
// Session storage
// ============================================================================

// Session is the credential for one logged-in user.
type Session struct {
	Token  string `json:"token" toml:"token"`
	UserID string `json:"userId" toml:"user_id"`
}

// SessionStore persists the current session between process runs.
type SessionStore interface {
	Load() (Session, error)
	Save(Session) error
	Clear() error
}

// MemorySessionStore keeps the session in memory only.
type MemorySessionStore struct {
	mu      sync.RWMutex
	session Session
}

// NewMemorySessionStore returns a store seeded with token.
func NewMemorySessionStore(token string) *MemorySessionStore {
	return &MemorySessionStore{session: Session{Token: token}}
}

func (s *MemorySessionStore) Load() (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, nil
}

func (s *MemorySessionStore) Save(sess Session) error {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Clear() error {
	s.mu.Lock()
	s.session = Session{}
	s.mu.Unlock()
	return nil
}

// ============================================================================
// Token inspection
// ============================================================================

type tokenClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

func inspectToken(token string) (*tokenClaims, bool) {
	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// TokenExpiry returns the expiry encoded in a JWT credential.
// ok is false for opaque tokens or tokens without an exp claim.
func TokenExpiry(token string) (expires time.Time, ok bool) {
	claims, ok := inspectToken(token)
	if !ok || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// TokenValid reports whether token can be presented to the server at now.
// Opaque tokens are accepted as long as they are non-empty; the server is the
// final authority and answers 401 otherwise.
func TokenValid(token string, now time.Time) bool {
	if token == "" {
		return false
	}
	if exp, ok := TokenExpiry(token); ok {
		return now.Before(exp)
	}
	return true
}

// tokenSubject returns the user id carried by a JWT credential.
func tokenSubject(token string) string {
	claims, ok := inspectToken(token)
	if !ok {
		return ""
	}
	if claims.UserID != "" {
		return claims.UserID
	}
	return claims.Subject
}

// ============================================================================
// Session manager
// ============================================================================

// sessionManager wraps a SessionStore and announces every change.
type sessionManager struct {
	store   SessionStore
	changes Bus[Session]
}

func newSessionManager(store SessionStore) *sessionManager {
	return &sessionManager{store: store}
}

func (m *sessionManager) current() Session {
	sess, err := m.store.Load()
	if err != nil {
		return Session{}
	}
	if sess.UserID == "" && sess.Token != "" {
		sess.UserID = tokenSubject(sess.Token)
	}
	return sess
}

func (m *sessionManager) token() string {
	return m.current().Token
}

func (m *sessionManager) set(sess Session) error {
	if err := m.store.Save(sess); err != nil {
		return err
	}
	m.changes.Publish(sess)
	return nil
}

func (m *sessionManager) clear() error {
	if err := m.store.Clear(); err != nil {
		return err
	}
	m.changes.Publish(Session{})
	return nil
}

func (m *sessionManager) subscribe(fn func(Session)) func() {
	return m.changes.Subscribe(fn)
}
