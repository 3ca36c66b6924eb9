package tutorly

import (
	"sort"
	"sync"
)

// PresenceTracker records which users are online.
//
// Events carry no timestamp, so the last event to arrive wins even when it was
// emitted earlier than the one it overwrites. Callers that need stronger
// ordering must get it from the server.
type PresenceTracker struct {
	mu     sync.RWMutex
	online map[string]bool
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]bool)}
}

// Apply overwrites the user's entry unconditionally.
func (p *PresenceTracker) Apply(ev PresenceEvent) {
	if ev.UserID == "" {
		return
	}
	p.mu.Lock()
	p.online[ev.UserID] = ev.Online
	p.mu.Unlock()
}

// IsOnline reports the last known state; unknown users are offline.
func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online[userID]
}

// Online returns the ids of every user currently marked online, sorted.
func (p *PresenceTracker) Online() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.online))
	for id, on := range p.online {
		if on {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (p *PresenceTracker) Reset() {
	p.mu.Lock()
	p.online = make(map[string]bool)
	p.mu.Unlock()
}
