// Package notify creates user notifications and pushes them to connected sessions.
//
// A notification is written to the Store exactly once and then offered to every
// live session of its user. Delivery is best effort: a user with no session, or
// a session whose buffer is full, simply finds the notification on next fetch.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	tutorly "github.com/tutorly/tutorly-go"
)

// ErrUnknownType is returned for a notification type outside the known set.
var ErrUnknownType = errors.New("unknown notification type")

// Pusher delivers an event to the live sessions of a user and reports how many it reached.
type Pusher interface {
	Push(userID, eventType string, payload any) int
}

// Dispatcher persists notifications and fans them out to connected sessions.
type Dispatcher struct {
	store  Store
	pusher Pusher
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

type Option func(*Dispatcher)

func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a dispatcher. pusher may be nil when no sessions are served.
func NewDispatcher(store Store, pusher Pusher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		pusher: pusher,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Create stores one notification for userID and pushes it to the user's sessions.
func (d *Dispatcher) Create(ctx context.Context, userID string, typ tutorly.NotificationType, payload any) (*tutorly.Notification, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal notification payload: %w", err)
	}
	n := tutorly.Notification{
		ID:        d.newID(),
		UserID:    userID,
		Type:      typ,
		Payload:   raw,
		CreatedAt: d.now().UTC(),
	}
	if err := d.store.Insert(ctx, n); err != nil {
		return nil, err
	}

	reached := 0
	if d.pusher != nil {
		reached = d.pusher.Push(userID, tutorly.EventNewNotification, tutorly.NewNotificationEvent{Notification: n})
	}
	d.logger.Debug("notification_created",
		zap.String("id", n.ID),
		zap.String("user_id", userID),
		zap.String("type", string(typ)),
		zap.Int("sessions", reached),
	)
	return &n, nil
}

// CreateForUsers runs Create for each user independently. A failure for one
// user does not stop the others; every failure is reported in the joined error.
func (d *Dispatcher) CreateForUsers(ctx context.Context, userIDs []string, typ tutorly.NotificationType, payload any) ([]tutorly.Notification, error) {
	created := make([]tutorly.Notification, 0, len(userIDs))
	var errs []error
	for _, userID := range userIDs {
		n, err := d.Create(ctx, userID, typ, payload)
		if err != nil {
			d.logger.Warn("notification_failed", zap.String("user_id", userID), zap.Error(err))
			errs = append(errs, fmt.Errorf("notify %s: %w", userID, err))
			continue
		}
		created = append(created, *n)
	}
	return created, errors.Join(errs...)
}
