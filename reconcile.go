package tutorly

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// The functions in this file never modify their input slice; they return a new one.

const (
	// TempIDPrefix marks ids assigned locally to unconfirmed sends.
	TempIDPrefix = "temp-"

	// MatchWindow is how far apart an echoed message and an optimistic entry
	// may be sent and still be treated as the same send.
	MatchWindow = 5 * time.Second
)

// NewTempID returns a fresh id for an optimistic message.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was assigned locally.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// ApplyIncoming merges a server-originated message into a conversation list.
//
// A message whose id is already present changes nothing. Otherwise the first
// optimistic entry from the same sender with the same body, sent within
// MatchWindow, is replaced in place. Anything else is appended.
func ApplyIncoming(list []Message, msg Message) []Message {
	if msg.ID != "" && indexOf(list, msg.ID) >= 0 {
		return list
	}
	msg.State = MessageConfirmed

	out := cloneMessages(list, 1)
	if i := matchOptimistic(list, msg); i >= 0 {
		out[i] = msg
		return out
	}
	return append(out, msg)
}

// ApplyConfirmed replaces the optimistic entry tempID with the server's copy.
// If a push already added the server copy separately, that duplicate is removed
// so exactly one entry carries the server id.
func ApplyConfirmed(list []Message, tempID string, msg Message) []Message {
	msg.State = MessageConfirmed
	tempIdx := indexOf(list, tempID)

	out := make([]Message, 0, len(list)+1)
	placed := false
	for i, m := range list {
		switch {
		case i == tempIdx:
			out = append(out, msg)
			placed = true
		case m.ID == msg.ID:
			// With no optimistic entry left, the existing copy keeps its position.
			if tempIdx < 0 && !placed {
				out = append(out, msg)
				placed = true
			}
		default:
			out = append(out, m)
		}
	}
	if !placed {
		out = append(out, msg)
	}
	return out
}

// RemoveMessage drops the entry with the given id.
func RemoveMessage(list []Message, id string) []Message {
	out := make([]Message, 0, len(list))
	for _, m := range list {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

// Newest returns the most recently sent message. Ties go to the later entry.
func Newest(list []Message) (Message, bool) {
	best := -1
	for i, m := range list {
		if best < 0 || !m.SentAt.Before(list[best].SentAt) {
			best = i
		}
	}
	if best < 0 {
		return Message{}, false
	}
	return list[best], true
}

func matchOptimistic(list []Message, msg Message) int {
	for i, m := range list {
		if !m.IsOptimistic() || m.SenderID != msg.SenderID || m.Body != msg.Body {
			continue
		}
		if absDuration(m.SentAt.Sub(msg.SentAt)) <= MatchWindow {
			return i
		}
	}
	return -1
}

func indexOf(list []Message, id string) int {
	if id == "" {
		return -1
	}
	for i, m := range list {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func cloneMessages(list []Message, extra int) []Message {
	out := make([]Message, len(list), len(list)+extra)
	copy(out, list)
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
