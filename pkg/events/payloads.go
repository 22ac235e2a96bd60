package events

import (
	"encoding/json"
	"errors"

	"github.com/pagewire/livesync/pkg/models"
)

// Event is the closed set of payloads exchanged on the realtime channel.
// Only types in this package implement it.
type Event interface {
	Name() Name
	Validate() error
	isEvent()
}

// Mutation is an Event that carries the identity of the user who caused it.
type Mutation interface {
	Event
	Origin() string
}

var (
	errMissingID         = errors.New("missing id")
	errMissingDocument   = errors.New("missing document")
	errMissingDatabaseID = errors.New("missing databaseId")
	errMissingRowID      = errors.New("missing rowId")
	errMissingPropertyID = errors.New("missing propertyId")
	errMissingRow        = errors.New("missing row")
	errMissingProperty   = errors.New("missing property")
	errMissingComment    = errors.New("missing comment")
	errMissingCommentID  = errors.New("missing commentId")
	errMissingPageID     = errors.New("missing pageId")
	errMissingUserID     = errors.New("missing userId")
	errMissingNotif      = errors.New("missing notification")
	errMissingPosition   = errors.New("missing position")
	errDocumentMismatch  = errors.New("document id does not match documentId")
)

// Document lifecycle

type DocCreate struct {
	Document *models.Document `json:"document"`
	UserID   string           `json:"userId"`
}

func (*DocCreate) Name() Name        { return NameDocCreate }
func (*DocCreate) isEvent()          {}
func (e *DocCreate) Origin() string  { return e.UserID }
func (e *DocCreate) Validate() error {
	if e.Document == nil {
		return errMissingDocument
	}
	if e.Document.ID == "" {
		return errMissingID
	}
	return e.Document.CheckTree()
}

// DocUpdate is a partial update; only the keys present in the payload are applied.
type DocUpdate struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	models.DocumentPatch
}

func (*DocUpdate) Name() Name       { return NameDocUpdate }
func (*DocUpdate) isEvent()         {}
func (e *DocUpdate) Origin() string { return e.UserID }
func (e *DocUpdate) Validate() error {
	if e.ID == "" {
		return errMissingID
	}
	if children, ok := e.Children.Get(); ok {
		return models.CheckChildren(e.ID, children)
	}
	return nil
}

type DocDelete struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
}

func (*DocDelete) Name() Name       { return NameDocDelete }
func (*DocDelete) isEvent()         {}
func (e *DocDelete) Origin() string { return e.UserID }
func (e *DocDelete) Validate() error {
	if e.ID == "" {
		return errMissingID
	}
	return nil
}

type DocArchive struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
}

func (*DocArchive) Name() Name       { return NameDocArchive }
func (*DocArchive) isEvent()         {}
func (e *DocArchive) Origin() string { return e.UserID }
func (e *DocArchive) Validate() error {
	if e.ID == "" {
		return errMissingID
	}
	return nil
}

type DocRestore struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
}

func (*DocRestore) Name() Name       { return NameDocRestore }
func (*DocRestore) isEvent()         {}
func (e *DocRestore) Origin() string { return e.UserID }
func (e *DocRestore) Validate() error {
	if e.ID == "" {
		return errMissingID
	}
	return nil
}

// Database mutation

type CellUpdate struct {
	DatabaseID string          `json:"databaseId"`
	RowID      string          `json:"rowId"`
	PropertyID string          `json:"propertyId"`
	Value      json.RawMessage `json:"value"`
	UserID     string          `json:"userId"`
}

func (*CellUpdate) Name() Name       { return NameCellUpdate }
func (*CellUpdate) isEvent()         {}
func (e *CellUpdate) Origin() string { return e.UserID }
func (e *CellUpdate) Validate() error {
	switch {
	case e.DatabaseID == "":
		return errMissingDatabaseID
	case e.RowID == "":
		return errMissingRowID
	case e.PropertyID == "":
		return errMissingPropertyID
	}
	return nil
}

type RowCreate struct {
	DatabaseID string      `json:"databaseId"`
	Row        *models.Row `json:"row"`
	UserID     string      `json:"userId"`
}

func (*RowCreate) Name() Name       { return NameRowCreate }
func (*RowCreate) isEvent()         {}
func (e *RowCreate) Origin() string { return e.UserID }
func (e *RowCreate) Validate() error {
	switch {
	case e.DatabaseID == "":
		return errMissingDatabaseID
	case e.Row == nil:
		return errMissingRow
	case e.Row.ID == "":
		return errMissingID
	}
	return nil
}

type RowUpdate struct {
	DatabaseID string `json:"databaseId"`
	RowID      string `json:"rowId"`
	UserID     string `json:"userId"`
	models.RowPatch
}

func (*RowUpdate) Name() Name       { return NameRowUpdate }
func (*RowUpdate) isEvent()         {}
func (e *RowUpdate) Origin() string { return e.UserID }
func (e *RowUpdate) Validate() error {
	switch {
	case e.DatabaseID == "":
		return errMissingDatabaseID
	case e.RowID == "":
		return errMissingRowID
	}
	for _, c := range e.Cells {
		if c.PropertyID == "" {
			return errMissingPropertyID
		}
	}
	return nil
}

type RowDelete struct {
	DatabaseID string `json:"databaseId"`
	RowID      string `json:"rowId"`
	UserID     string `json:"userId"`
}

func (*RowDelete) Name() Name       { return NameRowDelete }
func (*RowDelete) isEvent()         {}
func (e *RowDelete) Origin() string { return e.UserID }
func (e *RowDelete) Validate() error {
	switch {
	case e.DatabaseID == "":
		return errMissingDatabaseID
	case e.RowID == "":
		return errMissingRowID
	}
	return nil
}

type PropertyCreate struct {
	DatabaseID string           `json:"databaseId"`
	Property   *models.Property `json:"property"`
	UserID     string           `json:"userId"`
}

func (*PropertyCreate) Name() Name       { return NamePropertyCreate }
func (*PropertyCreate) isEvent()         {}
func (e *PropertyCreate) Origin() string { return e.UserID }
func (e *PropertyCreate) Validate() error {
	switch {
	case e.DatabaseID == "":
		return errMissingDatabaseID
	case e.Property == nil:
		return errMissingProperty
	case e.Property.ID == "":
		return errMissingID
	}
	return nil
}

type PropertyUpdate struct {
	DatabaseID string `json:"databaseId"`
	PropertyID string `json:"propertyId"`
	UserID     string `json:"userId"`
	models.PropertyPatch
}

func (*PropertyUpdate) Name() Name       { return NamePropertyUpdate }
func (*PropertyUpdate) isEvent()         {}
func (e *PropertyUpdate) Origin() string { return e.UserID }
func (e *PropertyUpdate) Validate() error {
	switch {
	case e.DatabaseID == "":
		return errMissingDatabaseID
	case e.PropertyID == "":
		return errMissingPropertyID
	}
	return nil
}

type PropertyDelete struct {
	DatabaseID string `json:"databaseId"`
	PropertyID string `json:"propertyId"`
	UserID     string `json:"userId"`
}

func (*PropertyDelete) Name() Name       { return NamePropertyDelete }
func (*PropertyDelete) isEvent()         {}
func (e *PropertyDelete) Origin() string { return e.UserID }
func (e *PropertyDelete) Validate() error {
	switch {
	case e.DatabaseID == "":
		return errMissingDatabaseID
	case e.PropertyID == "":
		return errMissingPropertyID
	}
	return nil
}

// Comment lifecycle

type CommentCreate struct {
	Comment *models.Comment `json:"comment"`
	UserID  string          `json:"userId"`
}

func (*CommentCreate) Name() Name       { return NameCommentCreate }
func (*CommentCreate) isEvent()         {}
func (e *CommentCreate) Origin() string { return e.UserID }
func (e *CommentCreate) Validate() error {
	switch {
	case e.Comment == nil:
		return errMissingComment
	case e.Comment.ID == "":
		return errMissingID
	case e.Comment.PageID == "":
		return errMissingPageID
	}
	return nil
}

type CommentUpdate struct {
	CommentID string             `json:"commentId"`
	PageID    string             `json:"pageId"`
	Content   models.Opt[string] `json:"content,omitzero"`
	UserID    string             `json:"userId"`
}

func (*CommentUpdate) Name() Name       { return NameCommentUpdate }
func (*CommentUpdate) isEvent()         {}
func (e *CommentUpdate) Origin() string { return e.UserID }
func (e *CommentUpdate) Validate() error {
	switch {
	case e.CommentID == "":
		return errMissingCommentID
	case e.PageID == "":
		return errMissingPageID
	}
	return nil
}

type CommentDelete struct {
	CommentID string `json:"commentId"`
	PageID    string `json:"pageId"`
	UserID    string `json:"userId"`
}

func (*CommentDelete) Name() Name       { return NameCommentDelete }
func (*CommentDelete) isEvent()         {}
func (e *CommentDelete) Origin() string { return e.UserID }
func (e *CommentDelete) Validate() error {
	switch {
	case e.CommentID == "":
		return errMissingCommentID
	case e.PageID == "":
		return errMissingPageID
	}
	return nil
}

type CommentResolve struct {
	CommentID  string  `json:"commentId"`
	PageID     string  `json:"pageId"`
	Resolved   bool    `json:"resolved"`
	ResolvedBy *string `json:"resolvedBy,omitempty"`
	UserID     string  `json:"userId"`
}

func (*CommentResolve) Name() Name       { return NameCommentResolve }
func (*CommentResolve) isEvent()         {}
func (e *CommentResolve) Origin() string { return e.UserID }
func (e *CommentResolve) Validate() error {
	switch {
	case e.CommentID == "":
		return errMissingCommentID
	case e.PageID == "":
		return errMissingPageID
	}
	return nil
}

// Notifications are pushed by the server and have no originator.

type NotificationNew struct {
	Notification *models.Notification `json:"notification"`
}

func (*NotificationNew) Name() Name { return NameNotificationNew }
func (*NotificationNew) isEvent()   {}
func (e *NotificationNew) Validate() error {
	switch {
	case e.Notification == nil:
		return errMissingNotif
	case e.Notification.ID == "":
		return errMissingID
	}
	return nil
}

// NotificationRead marks one notification, or every notification when All is true.
type NotificationRead struct {
	NotificationID string `json:"notificationId,omitempty"`
	All            bool   `json:"all,omitempty"`
}

func (*NotificationRead) Name() Name { return NameNotificationRead }
func (*NotificationRead) isEvent()   {}
func (e *NotificationRead) Validate() error {
	if e.NotificationID == "" && !e.All {
		return errMissingID
	}
	return nil
}

// Presence

type PresenceJoin struct {
	PageID      string                `json:"pageId"`
	UserID      string                `json:"userId"`
	DisplayName string                `json:"name,omitempty"`
	Avatar      string                `json:"avatar,omitempty"`
	Color       string                `json:"color,omitempty"`
	Status      models.PresenceStatus `json:"status,omitempty"`
	Cursor      *models.Cursor        `json:"cursor,omitempty"`
}

func (*PresenceJoin) Name() Name       { return NamePresenceJoin }
func (*PresenceJoin) isEvent()         {}
func (e *PresenceJoin) Origin() string { return e.UserID }
func (e *PresenceJoin) Validate() error {
	switch {
	case e.PageID == "":
		return errMissingPageID
	case e.UserID == "":
		return errMissingUserID
	}
	return nil
}

type PresenceLeave struct {
	PageID string `json:"pageId"`
	UserID string `json:"userId"`
}

func (*PresenceLeave) Name() Name       { return NamePresenceLeave }
func (*PresenceLeave) isEvent()         {}
func (e *PresenceLeave) Origin() string { return e.UserID }
func (e *PresenceLeave) Validate() error {
	switch {
	case e.PageID == "":
		return errMissingPageID
	case e.UserID == "":
		return errMissingUserID
	}
	return nil
}

type PresenceCursor struct {
	PageID   string         `json:"pageId"`
	UserID   string         `json:"userId"`
	Position *models.Cursor `json:"position"`
}

func (*PresenceCursor) Name() Name       { return NamePresenceCursor }
func (*PresenceCursor) isEvent()         {}
func (e *PresenceCursor) Origin() string { return e.UserID }
func (e *PresenceCursor) Validate() error {
	switch {
	case e.PageID == "":
		return errMissingPageID
	case e.UserID == "":
		return errMissingUserID
	case e.Position == nil:
		return errMissingPosition
	}
	return nil
}

// Favorites

type FavoriteAdd struct {
	DocumentID string           `json:"documentId"`
	Document   *models.Document `json:"document,omitempty"`
	UserID     string           `json:"userId"`
}

func (*FavoriteAdd) Name() Name       { return NameFavoriteAdd }
func (*FavoriteAdd) isEvent()         {}
func (e *FavoriteAdd) Origin() string { return e.UserID }
func (e *FavoriteAdd) Validate() error {
	if e.DocumentID == "" {
		return errMissingID
	}
	if e.Document == nil {
		return nil
	}
	if e.Document.ID != e.DocumentID {
		return errDocumentMismatch
	}
	return e.Document.CheckTree()
}

type FavoriteRemove struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
}

func (*FavoriteRemove) Name() Name       { return NameFavoriteRemove }
func (*FavoriteRemove) isEvent()         {}
func (e *FavoriteRemove) Origin() string { return e.UserID }
func (e *FavoriteRemove) Validate() error {
	if e.DocumentID == "" {
		return errMissingID
	}
	return nil
}
