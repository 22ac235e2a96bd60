package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNilChild    = errors.New("nil child")
	ErrChildID     = errors.New("child without id")
	ErrChildParent = errors.New("child parentId does not match its parent")
)

// Document is a page node. Children is nil while the subtree has not been
// loaded, and every child's ParentID equals the node's ID.
//
// Stored documents are treated as immutable: stores replace a node with a
// fresh copy rather than editing it in place, so untouched subtrees keep
// their pointer identity across updates.
type Document struct {
	ID          string      `json:"id"`
	WorkspaceID string      `json:"workspaceId,omitempty"`
	Title       string      `json:"title"`
	Icon        *string     `json:"icon"`
	CoverImage  *string     `json:"coverImage,omitempty"`
	IsArchived  bool        `json:"isArchived"`
	IsPublished bool        `json:"isPublished"`
	ParentID    *string     `json:"parentId"`
	UpdatedAt   time.Time   `json:"updatedAt,omitzero"`
	Children    []*Document `json:"children,omitempty"`
}

// Clone returns a shallow copy. The Children slice header is shared.
func (d *Document) Clone() *Document {
	c := *d
	return &c
}

// CheckTree reports whether d and its loaded subtree are well formed: every
// child is non-nil, has an id and names its parent in ParentID.
func (d *Document) CheckTree() error {
	return CheckChildren(d.ID, d.Children)
}

// CheckChildren checks children as the subtree of the node parentID.
func CheckChildren(parentID string, children []*Document) error {
	for i, c := range children {
		switch {
		case c == nil:
			return fmt.Errorf("%s: child %d: %w", parentID, i, ErrNilChild)
		case c.ID == "":
			return fmt.Errorf("%s: child %d: %w", parentID, i, ErrChildID)
		case c.ParentID == nil || *c.ParentID != parentID:
			return fmt.Errorf("%s: child %s: %w", parentID, c.ID, ErrChildParent)
		}
		if err := CheckChildren(c.ID, c.Children); err != nil {
			return err
		}
	}
	return nil
}

// DocumentPatch carries only the fields that changed.
type DocumentPatch struct {
	Title       Opt[string]      `json:"title,omitzero"`
	Icon        Nullable[string] `json:"icon,omitzero"`
	CoverImage  Nullable[string] `json:"coverImage,omitzero"`
	IsArchived  Opt[bool]        `json:"isArchived,omitzero"`
	IsPublished Opt[bool]        `json:"isPublished,omitzero"`
	ParentID    Nullable[string] `json:"parentId,omitzero"`
	UpdatedAt   Opt[time.Time]   `json:"updatedAt,omitzero"`
	Children    Opt[[]*Document] `json:"children,omitzero"`
}

// IsEmpty reports whether the patch carries no field at all.
func (p DocumentPatch) IsEmpty() bool {
	return !p.Title.Set && !p.Icon.Set && !p.CoverImage.Set && !p.IsArchived.Set &&
		!p.IsPublished.Set && !p.ParentID.Set && !p.UpdatedAt.Set && !p.Children.Set
}

// Apply returns a new node with the patch merged into d. Fields that are not
// set in the patch, including Children, are carried over unchanged.
func (p DocumentPatch) Apply(d *Document) *Document {
	n := d.Clone()
	if v, ok := p.Title.Get(); ok {
		n.Title = v
	}
	if p.Icon.Set {
		n.Icon = p.Icon.Ptr()
	}
	if p.CoverImage.Set {
		n.CoverImage = p.CoverImage.Ptr()
	}
	if v, ok := p.IsArchived.Get(); ok {
		n.IsArchived = v
	}
	if v, ok := p.IsPublished.Get(); ok {
		n.IsPublished = v
	}
	if p.ParentID.Set {
		n.ParentID = p.ParentID.Ptr()
	}
	if v, ok := p.UpdatedAt.Get(); ok {
		n.UpdatedAt = v
	}
	if v, ok := p.Children.Get(); ok {
		n.Children = v
	}
	return n
}
