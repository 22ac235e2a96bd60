package store

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pagewire/livesync/pkg/models"
)

// PagePresence is the set of collaborators on one page after a change.
type PagePresence struct {
	PageID string
	Users  []models.PresenceEntry
}

// PresenceStore holds ephemeral per-page presence keyed by (pageID, userID).
// Pages are independent: joining page A never touches page B.
type PresenceStore struct {
	mu        sync.Mutex
	pages     map[string]map[string]models.PresenceEntry
	now       func() time.Time
	listeners listeners[PagePresence]
}

func NewPresenceStore() *PresenceStore {
	return &PresenceStore{
		pages: make(map[string]map[string]models.PresenceEntry),
		now:   time.Now,
	}
}

func (s *PresenceStore) Subscribe(fn func(PagePresence)) (cancel func()) {
	return s.listeners.subscribe(fn)
}

// Users returns the collaborators on pageID sorted by user id.
func (s *PresenceStore) Users(pageID string) []models.PresenceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usersLocked(pageID)
}

func (s *PresenceStore) usersLocked(pageID string) []models.PresenceEntry {
	users := slices.Collect(maps.Values(s.pages[pageID]))
	slices.SortFunc(users, func(a, b models.PresenceEntry) int { return strings.Compare(a.UserID, b.UserID) })
	return users
}

// Entry returns the presence of userID on pageID.
func (s *PresenceStore) Entry(pageID, userID string) (models.PresenceEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pages[pageID][userID]
	return e, ok
}

func (s *PresenceStore) mutate(pageID string, fn func(page map[string]models.PresenceEntry) bool) {
	users, changed := func() ([]models.PresenceEntry, bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		page := s.pages[pageID]
		if page == nil {
			page = make(map[string]models.PresenceEntry)
		}
		if !fn(page) {
			return nil, false
		}
		if len(page) == 0 {
			delete(s.pages, pageID)
		} else {
			s.pages[pageID] = page
		}
		return s.usersLocked(pageID), true
	}()

	if changed {
		s.listeners.notify(PagePresence{PageID: pageID, Users: users})
	}
}

// JoinPage adds or refreshes entry on pageID.
func (s *PresenceStore) JoinPage(pageID string, entry models.PresenceEntry) {
	if pageID == "" || entry.UserID == "" {
		return
	}
	entry.PageID = pageID
	if entry.Status == "" {
		entry.Status = models.PresenceActive
	}
	if entry.LastSeen.IsZero() {
		entry.LastSeen = s.now()
	}
	s.mutate(pageID, func(page map[string]models.PresenceEntry) bool {
		page[entry.UserID] = entry
		return true
	})
}

// LeavePage removes userID from pageID. Unknown users are ignored.
func (s *PresenceStore) LeavePage(pageID, userID string) {
	s.mutate(pageID, func(page map[string]models.PresenceEntry) bool {
		if _, ok := page[userID]; !ok {
			return false
		}
		delete(page, userID)
		return true
	})
}

// UpdateCursor moves userID's cursor on pageID. Unknown users are ignored.
func (s *PresenceStore) UpdateCursor(pageID, userID string, position models.Cursor) {
	s.mutate(pageID, func(page map[string]models.PresenceEntry) bool {
		e, ok := page[userID]
		if !ok {
			return false
		}
		e.Cursor = &position
		e.LastSeen = s.now()
		e.Status = models.PresenceActive
		page[userID] = e
		return true
	})
}

// Prune drops entries last seen before cutoff, on every page.
func (s *PresenceStore) Prune(cutoff time.Time) {
	s.mu.Lock()
	var pageIDs []string
	for pageID := range s.pages {
		pageIDs = append(pageIDs, pageID)
	}
	s.mu.Unlock()

	for _, pageID := range pageIDs {
		s.mutate(pageID, func(page map[string]models.PresenceEntry) bool {
			changed := false
			for userID, e := range page {
				if e.LastSeen.Before(cutoff) {
					delete(page, userID)
					changed = true
				}
			}
			return changed
		})
	}
}

// Clear forgets every page. Peers re-announce themselves after a reconnect.
func (s *PresenceStore) Clear() {
	s.mu.Lock()
	pageIDs := slices.Collect(maps.Keys(s.pages))
	s.pages = make(map[string]map[string]models.PresenceEntry)
	s.mu.Unlock()

	for _, pageID := range pageIDs {
		s.listeners.notify(PagePresence{PageID: pageID})
	}
}
