package models

import (
	"time"
)

// Comment is a page comment. ParentID is set for replies; threads are one level deep.
type Comment struct {
	ID         string    `json:"id"`
	PageID     string    `json:"pageId"`
	UserID     string    `json:"userId"`
	Content    string    `json:"content"`
	ParentID   *string   `json:"parentId,omitempty"`
	Resolved   bool      `json:"resolved"`
	ResolvedBy *string   `json:"resolvedBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt,omitzero"`
	UpdatedAt  time.Time `json:"updatedAt,omitzero"`
}

// NotificationType enumerates server-originated notification kinds.
type NotificationType string

const (
	NotificationMention NotificationType = "mention"
	NotificationComment NotificationType = "comment"
	NotificationReply   NotificationType = "reply"
	NotificationShare   NotificationType = "share"
	NotificationInvite  NotificationType = "invite"
	NotificationSystem  NotificationType = "system"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationMention, NotificationComment, NotificationReply,
		NotificationShare, NotificationInvite, NotificationSystem:
		return true
	}
	return false
}

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title,omitempty"`
	Message   string           `json:"message,omitempty"`
	PageID    *string          `json:"pageId,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt,omitzero"`
	ReadAt    *time.Time       `json:"readAt,omitempty"`
}

// PresenceStatus is the coarse activity state of a collaborator.
type PresenceStatus string

const (
	PresenceActive PresenceStatus = "active"
	PresenceIdle   PresenceStatus = "idle"
	PresenceAway   PresenceStatus = "away"
)

// Cursor is a collaborator's caret or pointer position on a page.
type Cursor struct {
	BlockID string  `json:"blockId,omitempty"`
	Offset  int     `json:"offset,omitempty"`
	X       float64 `json:"x,omitempty"`
	Y       float64 `json:"y,omitempty"`
}

// PresenceEntry is keyed by (PageID, UserID) and never persisted.
type PresenceEntry struct {
	PageID   string         `json:"pageId"`
	UserID   string         `json:"userId"`
	Name     string         `json:"name,omitempty"`
	Avatar   string         `json:"avatar,omitempty"`
	Color    string         `json:"color,omitempty"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"lastSeen"`
	Cursor   *Cursor        `json:"cursor,omitempty"`
}
