package notify

import (
	"context"
	"errors"
	"sort"
	"sync"

	tutorly "github.com/tutorly/tutorly-go"
)

// ErrNotFound is returned when a notification does not exist for the user.
var ErrNotFound = errors.New("notification not found")

// Store persists notifications.
type Store interface {
	Insert(ctx context.Context, n tutorly.Notification) error
	List(ctx context.Context, userID string, limit int) ([]tutorly.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int, error)
}

// MemoryStore is a goroutine-safe in-memory Store.
type MemoryStore struct {
	mu     sync.RWMutex
	byUser map[string][]tutorly.Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byUser: make(map[string][]tutorly.Notification)}
}

func (s *MemoryStore) Insert(_ context.Context, n tutorly.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser[n.UserID] = append(s.byUser[n.UserID], n)
	return nil
}

func (s *MemoryStore) List(_ context.Context, userID string, limit int) ([]tutorly.Notification, error) {
	s.mu.RLock()
	out := make([]tutorly.Notification, len(s.byUser[userID]))
	copy(out, s.byUser[userID])
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.byUser[userID] {
		if s.byUser[userID][i].ID == id {
			s.byUser[userID][i].IsRead = true
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) MarkAllRead(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.byUser[userID] {
		if !s.byUser[userID][i].IsRead {
			s.byUser[userID][i].IsRead = true
			n++
		}
	}
	return n, nil
}
