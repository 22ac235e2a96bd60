package session

import (
	"github.com/pagewire/livesync/pkg/events"
	"github.com/pagewire/livesync/pkg/models"
	"github.com/pagewire/livesync/pkg/signal"
)

type handler func(events.Event)

// on adapts a typed handler to the dispatch table.
func on[E events.Event](fn func(E)) handler {
	return func(ev events.Event) {
		if e, ok := ev.(E); ok {
			fn(e)
		}
	}
}

// dispatchTable binds every event name to the store method that applies it.
// Names whose store is not configured are left out and their events dropped.
func (s *Session) dispatchTable() map[events.Name]handler {
	t := make(map[events.Name]handler)

	if docs := s.stores.Documents; docs != nil {
		t[events.NameDocCreate] = on(func(e *events.DocCreate) {
			docs.AddDocument(e.Document)
		})
		t[events.NameDocUpdate] = on(func(e *events.DocUpdate) {
			docs.UpdateDocument(e.ID, e.DocumentPatch)
		})
		t[events.NameDocDelete] = on(func(e *events.DocDelete) {
			docs.RemoveDocument(e.ID)
		})
		t[events.NameDocArchive] = on(func(e *events.DocArchive) {
			docs.UpdateDocument(e.ID, models.DocumentPatch{IsArchived: models.Some(true)})
		})
		t[events.NameDocRestore] = on(func(e *events.DocRestore) {
			docs.UpdateDocument(e.ID, models.DocumentPatch{IsArchived: models.Some(false)})
		})
	}

	if dbs := s.stores.Databases; dbs != nil {
		t[events.NameCellUpdate] = on(func(e *events.CellUpdate) {
			dbs.UpdateCell(e.DatabaseID, e.RowID, e.PropertyID, e.Value)
		})
		t[events.NameRowCreate] = on(func(e *events.RowCreate) {
			dbs.CreateRow(e.DatabaseID, *e.Row)
		})
		t[events.NameRowUpdate] = on(func(e *events.RowUpdate) {
			dbs.UpdateRow(e.DatabaseID, e.RowID, e.RowPatch)
		})
		t[events.NameRowDelete] = on(func(e *events.RowDelete) {
			dbs.DeleteRow(e.DatabaseID, e.RowID)
		})
		t[events.NamePropertyCreate] = on(func(e *events.PropertyCreate) {
			dbs.CreateProperty(e.DatabaseID, *e.Property)
		})
		t[events.NamePropertyUpdate] = on(func(e *events.PropertyUpdate) {
			dbs.UpdateProperty(e.DatabaseID, e.PropertyID, e.PropertyPatch)
		})
		t[events.NamePropertyDelete] = on(func(e *events.PropertyDelete) {
			dbs.DeleteProperty(e.DatabaseID, e.PropertyID)
		})
	}

	if comments := s.stores.Comments; comments != nil {
		t[events.NameCommentCreate] = on(func(e *events.CommentCreate) {
			comments.AddComment(*e.Comment)
		})
		t[events.NameCommentUpdate] = on(func(e *events.CommentUpdate) {
			if content, ok := e.Content.Get(); ok {
				comments.UpdateComment(e.CommentID, e.PageID, content)
			}
		})
		t[events.NameCommentDelete] = on(func(e *events.CommentDelete) {
			comments.DeleteComment(e.CommentID, e.PageID)
		})
		t[events.NameCommentResolve] = on(func(e *events.CommentResolve) {
			comments.ResolveComment(e.CommentID, e.PageID, e.Resolved, e.ResolvedBy)
		})
	}

	if notifications := s.stores.Notifications; notifications != nil {
		self := s.cfg.UserID
		t[events.NameNotificationNew] = on(func(e *events.NotificationNew) {
			if e.Notification.UserID != "" && self != "" && e.Notification.UserID != self {
				s.logger.Debug("dropping notification for another user", "notification_id", e.Notification.ID)
				return
			}
			notifications.Add(*e.Notification)
		})
		t[events.NameNotificationRead] = on(func(e *events.NotificationRead) {
			if e.All {
				notifications.MarkAllRead()
				return
			}
			notifications.MarkRead(e.NotificationID)
		})
	}

	if presence := s.stores.Presence; presence != nil {
		t[events.NamePresenceJoin] = on(func(e *events.PresenceJoin) {
			presence.JoinPage(e.PageID, models.PresenceEntry{
				UserID: e.UserID,
				Name:   e.DisplayName,
				Avatar: e.Avatar,
				Color:  e.Color,
				Status: e.Status,
				Cursor: e.Cursor,
			})
		})
		t[events.NamePresenceLeave] = on(func(e *events.PresenceLeave) {
			presence.LeavePage(e.PageID, e.UserID)
		})
		t[events.NamePresenceCursor] = on(func(e *events.PresenceCursor) {
			presence.UpdateCursor(e.PageID, e.UserID, *e.Position)
		})
	}

	// The favorites list is per user and re-fetched by whoever shows it;
	// remote favorite events only raise the local signal.
	if signals := s.stores.Signals; signals != nil {
		t[events.NameFavoriteAdd] = on(func(*events.FavoriteAdd) {
			signals.Publish(signal.FavoritesChanged)
		})
		t[events.NameFavoriteRemove] = on(func(*events.FavoriteRemove) {
			signals.Publish(signal.FavoritesChanged)
		})
	}

	return t
}
