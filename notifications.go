package tutorly

import (
	"sort"
	"sync"
)

// NotificationCache holds the session's notifications, newest first, with at
// most one entry per id. Pushes may repeat a notification; the first copy wins.
type NotificationCache struct {
	mu    sync.RWMutex
	gen   uint64
	items []Notification
	index map[string]int

	changes Bus[int]
}

func NewNotificationCache() *NotificationCache {
	return &NotificationCache{index: make(map[string]int)}
}

// OnChange registers fn to run with the unread count after every mutation.
func (c *NotificationCache) OnChange(fn func(unread int)) (unsubscribe func()) {
	return c.changes.Subscribe(fn)
}

// Add inserts n unless a notification with the same id is already cached.
func (c *NotificationCache) Add(n Notification) bool {
	c.mu.Lock()
	if _, ok := c.index[n.ID]; ok || n.ID == "" {
		c.mu.Unlock()
		return false
	}
	c.items = append(c.items, n)
	c.sortLocked()
	unread := c.unreadLocked()
	c.mu.Unlock()

	c.changes.Publish(unread)
	return true
}

// Generation changes on every Reset.
func (c *NotificationCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Replace merges a fetched list. Fetched copies overwrite cached ones.
func (c *NotificationCache) Replace(list []Notification) {
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()
	c.replaceIn(gen, list)
}

// replaceIn is Replace for a list fetched in generation gen. A list fetched
// before the last Reset is dropped.
func (c *NotificationCache) replaceIn(gen uint64, list []Notification) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	for _, n := range list {
		if n.ID == "" {
			continue
		}
		if i, ok := c.index[n.ID]; ok {
			c.items[i] = n
			continue
		}
		c.items = append(c.items, n)
		c.index[n.ID] = len(c.items) - 1
	}
	c.sortLocked()
	unread := c.unreadLocked()
	c.mu.Unlock()

	c.changes.Publish(unread)
}

// SetRead updates one notification's read flag and returns its previous value.
func (c *NotificationCache) SetRead(id string, read bool) (previous, ok bool) {
	c.mu.Lock()
	i, ok := c.index[id]
	if ok {
		previous = c.items[i].IsRead
		c.items[i].IsRead = read
	}
	unread := c.unreadLocked()
	c.mu.Unlock()

	if ok {
		c.changes.Publish(unread)
	}
	return previous, ok
}

// MarkAllRead flags every notification read and returns the ids that changed.
func (c *NotificationCache) MarkAllRead() []string {
	c.mu.Lock()
	var changed []string
	for i := range c.items {
		if !c.items[i].IsRead {
			c.items[i].IsRead = true
			changed = append(changed, c.items[i].ID)
		}
	}
	c.mu.Unlock()

	if len(changed) > 0 {
		c.changes.Publish(0)
	}
	return changed
}

// List returns a copy of the cached notifications, newest first.
func (c *NotificationCache) List() []Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Notification, len(c.items))
	copy(out, c.items)
	return out
}

func (c *NotificationCache) Unread() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unreadLocked()
}

func (c *NotificationCache) Reset() {
	c.mu.Lock()
	c.gen++
	c.items = nil
	c.index = make(map[string]int)
	c.mu.Unlock()
}

func (c *NotificationCache) unreadLocked() int {
	n := 0
	for _, item := range c.items {
		if !item.IsRead {
			n++
		}
	}
	return n
}

func (c *NotificationCache) sortLocked() {
	sort.SliceStable(c.items, func(i, j int) bool {
		return c.items[i].CreatedAt.After(c.items[j].CreatedAt)
	})
	for i, n := range c.items {
		c.index[n.ID] = i
	}
}
