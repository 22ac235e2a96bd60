package store

import (
	"slices"
	"sync"
	"time"

	"github.com/pagewire/livesync/pkg/models"
)

// PageComments is the comment list of one page after a change.
type PageComments struct {
	PageID   string
	Comments []models.Comment
}

// CommentStore holds comments grouped by page. Every operation is scoped to
// the comment's page.
type CommentStore struct {
	mu        sync.Mutex
	pages     map[string][]models.Comment
	now       func() time.Time
	listeners listeners[PageComments]
}

func NewCommentStore() *CommentStore {
	return &CommentStore{
		pages: make(map[string][]models.Comment),
		now:   time.Now,
	}
}

func (s *CommentStore) Subscribe(fn func(PageComments)) (cancel func()) {
	return s.listeners.subscribe(fn)
}

// Comments returns every comment of pageID, top-level and replies, in
// insertion order.
func (s *CommentStore) Comments(pageID string) []models.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages[pageID]
}

// Pages returns the ids of every page with comments loaded.
func (s *CommentStore) Pages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pages))
	for id := range s.pages {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Thread returns the replies to parentID on pageID.
func (s *CommentStore) Thread(pageID, parentID string) []models.Comment {
	var out []models.Comment
	for _, c := range s.Comments(pageID) {
		if c.ParentID != nil && *c.ParentID == parentID {
			out = append(out, c)
		}
	}
	return out
}

// TopLevel returns the comments of pageID that are not replies.
func (s *CommentStore) TopLevel(pageID string) []models.Comment {
	var out []models.Comment
	for _, c := range s.Comments(pageID) {
		if c.ParentID == nil {
			out = append(out, c)
		}
	}
	return out
}

// SetComments replaces the comments of pageID.
func (s *CommentStore) SetComments(pageID string, comments []models.Comment) {
	s.mutate(pageID, func([]models.Comment) ([]models.Comment, bool) {
		return slices.Clone(comments), true
	})
}

func (s *CommentStore) mutate(pageID string, fn func([]models.Comment) ([]models.Comment, bool)) {
	if pageID == "" {
		return
	}
	next, changed := func() ([]models.Comment, bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		next, changed := fn(s.pages[pageID])
		if changed {
			s.pages[pageID] = next
		}
		return next, changed
	}()

	if changed {
		s.listeners.notify(PageComments{PageID: pageID, Comments: next})
	}
}

func (s *CommentStore) edit(commentID, pageID string, fn func(*models.Comment) bool) {
	s.mutate(pageID, func(list []models.Comment) ([]models.Comment, bool) {
		i := slices.IndexFunc(list, func(c models.Comment) bool { return c.ID == commentID })
		if i < 0 {
			return list, false
		}
		list = slices.Clone(list)
		if !fn(&list[i]) {
			return nil, false
		}
		return list, true
	})
}

// AddComment appends c to its page, or replaces the comment with the same id.
func (s *CommentStore) AddComment(c models.Comment) {
	if c.ID == "" {
		return
	}
	s.mutate(c.PageID, func(list []models.Comment) ([]models.Comment, bool) {
		list = slices.Clone(list)
		if i := slices.IndexFunc(list, func(x models.Comment) bool { return x.ID == c.ID }); i >= 0 {
			list[i] = c
		} else {
			list = append(list, c)
		}
		return list, true
	})
}

// UpdateComment replaces the content of a comment or reply.
func (s *CommentStore) UpdateComment(commentID, pageID, content string) {
	s.edit(commentID, pageID, func(c *models.Comment) bool {
		if c.Content == content {
			return false
		}
		c.Content = content
		c.UpdatedAt = s.now()
		return true
	})
}

// DeleteComment removes a top-level comment or a reply. Replies of a deleted
// comment are not removed with it.
func (s *CommentStore) DeleteComment(commentID, pageID string) {
	s.mutate(pageID, func(list []models.Comment) ([]models.Comment, bool) {
		i := slices.IndexFunc(list, func(c models.Comment) bool { return c.ID == commentID })
		if i < 0 {
			return list, false
		}
		return slices.Delete(slices.Clone(list), i, i+1), true
	})
}

// ResolveComment sets the resolved flag. resolvedBy is cleared when resolved is false.
func (s *CommentStore) ResolveComment(commentID, pageID string, resolved bool, resolvedBy *string) {
	s.edit(commentID, pageID, func(c *models.Comment) bool {
		c.Resolved = resolved
		if resolved {
			c.ResolvedBy = resolvedBy
		} else {
			c.ResolvedBy = nil
		}
		c.UpdatedAt = s.now()
		return true
	})
}
