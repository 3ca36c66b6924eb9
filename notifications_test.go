package tutorly

import (
	"testing"
	"time"
)

func TestNotificationCache(t *testing.T) {
	n1 := Notification{ID: "n1", Type: NotificationBookingCreated, CreatedAt: t0}
	n2 := Notification{ID: "n2", Type: NotificationNewMessage, CreatedAt: t0.Add(time.Minute)}

	t.Run("same id from two sessions is stored once", func(t *testing.T) {
		c := NewNotificationCache()
		if !c.Add(n1) {
			t.Fatal("first add must insert")
		}
		if c.Add(n1) {
			t.Fatal("second add must be ignored")
		}
		if got := c.List(); len(got) != 1 {
			t.Fatalf("expected one entry, got %+v", got)
		}
	})

	t.Run("newest first with unread count", func(t *testing.T) {
		c := NewNotificationCache()
		var counts []int
		c.OnChange(func(unread int) { counts = append(counts, unread) })

		c.Add(n1)
		c.Add(n2)
		list := c.List()
		if list[0].ID != "n2" || list[1].ID != "n1" {
			t.Errorf("unexpected order %s, %s", list[0].ID, list[1].ID)
		}
		if c.Unread() != 2 {
			t.Errorf("unread = %d", c.Unread())
		}
		if len(counts) != 2 || counts[1] != 2 {
			t.Errorf("change notifications = %v", counts)
		}
	})

	t.Run("replace merges fetched copies", func(t *testing.T) {
		c := NewNotificationCache()
		c.Add(n1)
		read := n1
		read.IsRead = true
		c.Replace([]Notification{read, n2})

		if len(c.List()) != 2 || c.Unread() != 1 {
			t.Errorf("unexpected state %+v", c.List())
		}
	})

	t.Run("set read reports previous value", func(t *testing.T) {
		c := NewNotificationCache()
		c.Add(n1)
		prev, ok := c.SetRead("n1", true)
		if !ok || prev {
			t.Errorf("SetRead = %v, %v", prev, ok)
		}
		if _, ok := c.SetRead("missing", true); ok {
			t.Error("missing id must report !ok")
		}
	})

	t.Run("mark all read returns changed ids", func(t *testing.T) {
		c := NewNotificationCache()
		c.Add(n1)
		c.Add(n2)
		c.SetRead("n1", true)

		changed := c.MarkAllRead()
		if len(changed) != 1 || changed[0] != "n2" {
			t.Errorf("changed = %v", changed)
		}
		if c.Unread() != 0 {
			t.Errorf("unread = %d", c.Unread())
		}
	})
}
