package store

import (
	"slices"
	"sync"
	"time"

	"github.com/pagewire/livesync/pkg/models"
)

// NotificationStore holds the session user's notifications, newest first.
// Notifications only ever arrive from the server.
type NotificationStore struct {
	mu        sync.Mutex
	items     []models.Notification
	now       func() time.Time
	listeners listeners[[]models.Notification]
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{now: time.Now}
}

func (s *NotificationStore) Subscribe(fn func([]models.Notification)) (cancel func()) {
	return s.listeners.subscribe(fn)
}

func (s *NotificationStore) Notifications() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items
}

func (s *NotificationStore) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.items {
		if !item.Read {
			n++
		}
	}
	return n
}

func (s *NotificationStore) mutate(fn func([]models.Notification) ([]models.Notification, bool)) {
	next, changed := func() ([]models.Notification, bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		next, changed := fn(s.items)
		if changed {
			s.items = next
		}
		return next, changed
	}()

	if changed {
		s.listeners.notify(next)
	}
}

// SetNotifications replaces the list.
func (s *NotificationStore) SetNotifications(items []models.Notification) {
	s.mutate(func([]models.Notification) ([]models.Notification, bool) {
		return slices.Clone(items), true
	})
}

// Add puts n at the front, or replaces the notification with the same id.
func (s *NotificationStore) Add(n models.Notification) {
	if n.ID == "" {
		return
	}
	s.mutate(func(items []models.Notification) ([]models.Notification, bool) {
		if i := slices.IndexFunc(items, func(x models.Notification) bool { return x.ID == n.ID }); i >= 0 {
			items = slices.Clone(items)
			items[i] = n
			return items, true
		}
		return append([]models.Notification{n}, items...), true
	})
}

// MarkRead flags id as read.
func (s *NotificationStore) MarkRead(id string) {
	s.mutate(func(items []models.Notification) ([]models.Notification, bool) {
		i := slices.IndexFunc(items, func(x models.Notification) bool { return x.ID == id })
		if i < 0 || items[i].Read {
			return items, false
		}
		items = slices.Clone(items)
		at := s.now()
		items[i].Read = true
		items[i].ReadAt = &at
		return items, true
	})
}

// MarkAllRead flags every unread notification as read.
func (s *NotificationStore) MarkAllRead() {
	s.mutate(func(items []models.Notification) ([]models.Notification, bool) {
		at := s.now()
		var out []models.Notification
		for i, item := range items {
			if item.Read {
				continue
			}
			if out == nil {
				out = slices.Clone(items)
			}
			out[i].Read = true
			out[i].ReadAt = &at
		}
		if out == nil {
			return items, false
		}
		return out, true
	})
}
