package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewire/livesync/pkg/models"
)

func TestPresenceStore(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewPresenceStore()
	s.now = func() time.Time { return now }

	s.JoinPage("page-1", models.PresenceEntry{UserID: "user-b", Name: "Bo"})
	s.JoinPage("page-1", models.PresenceEntry{UserID: "user-a", Name: "Al"})
	s.JoinPage("page-2", models.PresenceEntry{UserID: "user-a"})

	users := s.Users("page-1")
	require.Len(t, users, 2)
	assert.Equal(t, "user-a", users[0].UserID)
	assert.Equal(t, "page-1", users[0].PageID)
	assert.Equal(t, models.PresenceActive, users[0].Status)
	assert.Equal(t, now, users[0].LastSeen)

	s.UpdateCursor("page-1", "user-b", models.Cursor{BlockID: "block-1", Offset: 4})
	e, ok := s.Entry("page-1", "user-b")
	require.True(t, ok)
	require.NotNil(t, e.Cursor)
	assert.Equal(t, 4, e.Cursor.Offset)

	s.LeavePage("page-1", "user-a")
	assert.Len(t, s.Users("page-1"), 1)
	assert.Len(t, s.Users("page-2"), 1, "pages are independent")
}

func TestPresenceUnknownUser(t *testing.T) {
	s := NewPresenceStore()
	calls := 0
	s.Subscribe(func(PagePresence) { calls++ })

	s.UpdateCursor("page-1", "ghost", models.Cursor{Offset: 1})
	s.LeavePage("page-1", "ghost")
	s.JoinPage("page-1", models.PresenceEntry{})

	assert.Zero(t, calls)
	assert.Empty(t, s.Users("page-1"))
}

func TestPresencePruneAndClear(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewPresenceStore()

	s.JoinPage("page-1", models.PresenceEntry{UserID: "old", LastSeen: base})
	s.JoinPage("page-1", models.PresenceEntry{UserID: "fresh", LastSeen: base.Add(time.Minute)})

	s.Prune(base.Add(30 * time.Second))
	users := s.Users("page-1")
	require.Len(t, users, 1)
	assert.Equal(t, "fresh", users[0].UserID)

	var cleared []string
	s.Subscribe(func(p PagePresence) {
		assert.Empty(t, p.Users)
		cleared = append(cleared, p.PageID)
	})
	s.Clear()
	assert.Equal(t, []string{"page-1"}, cleared)
	assert.Empty(t, s.Users("page-1"))
}
