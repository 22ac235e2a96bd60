package store

import (
	"slices"

	"github.com/pagewire/livesync/pkg/models"
)

// updateTree returns nodes with fn applied to the node whose ID is id, at
// any depth. The current level is scanned before descending. Only the first
// match is replaced. Nil entries are skipped by every walk in this file.
//
// Structural sharing: the returned slice is nodes itself when nothing matched,
// and every node outside the path from the root to the match keeps its
// pointer identity.
func updateTree(nodes []*models.Document, id string, fn func(*models.Document) *models.Document) ([]*models.Document, bool) {
	for i, n := range nodes {
		if n != nil && n.ID == id {
			out := slices.Clone(nodes)
			out[i] = fn(n)
			return out, true
		}
	}

	for i, n := range nodes {
		if n == nil || n.Children == nil {
			continue
		}
		children, changed := updateTree(n.Children, id, fn)
		if !changed {
			continue
		}
		parent := n.Clone()
		parent.Children = children
		out := slices.Clone(nodes)
		out[i] = parent
		return out, true
	}

	return nodes, false
}

// removeFromTree returns nodes without the node whose ID is id. The removed
// node's children leave with it; nothing else is pruned.
func removeFromTree(nodes []*models.Document, id string) ([]*models.Document, bool) {
	for i, n := range nodes {
		if n != nil && n.ID == id {
			out := make([]*models.Document, 0, len(nodes)-1)
			out = append(out, nodes[:i]...)
			out = append(out, nodes[i+1:]...)
			return out, true
		}
	}

	for i, n := range nodes {
		if n == nil || n.Children == nil {
			continue
		}
		children, changed := removeFromTree(n.Children, id)
		if !changed {
			continue
		}
		parent := n.Clone()
		parent.Children = children
		out := slices.Clone(nodes)
		out[i] = parent
		return out, true
	}

	return nodes, false
}

// findInTree returns the first node with the given id, at any depth.
func findInTree(nodes []*models.Document, id string) (*models.Document, bool) {
	for _, n := range nodes {
		if n != nil && n.ID == id {
			return n, true
		}
	}
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if found, ok := findInTree(n.Children, id); ok {
			return found, true
		}
	}
	return nil, false
}

// placement is where a node sat in a list: the parent's id ("" for the top
// level) and the index among its siblings.
type placement struct {
	parentID string
	index    int
}

func locateInTree(nodes []*models.Document, id string) (placement, bool) {
	return locateUnder(nodes, "", id)
}

func locateUnder(nodes []*models.Document, parentID, id string) (placement, bool) {
	for i, n := range nodes {
		if n != nil && n.ID == id {
			return placement{parentID: parentID, index: i}, true
		}
	}
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if p, ok := locateUnder(n.Children, n.ID, id); ok {
			return p, true
		}
	}
	return placement{}, false
}

// insertAt inserts node into the list at p. When the parent is not in the
// list the node goes to the top level; when the parent's children are not
// loaded the list is returned unchanged and false is reported.
func insertAt(nodes []*models.Document, p placement, node *models.Document) ([]*models.Document, bool) {
	if p.parentID == "" {
		return insertIndex(nodes, p.index, node), true
	}

	parent, ok := findInTree(nodes, p.parentID)
	if !ok {
		return insertIndex(nodes, len(nodes), node), true
	}
	if parent.Children == nil {
		return nodes, false
	}

	return updateTree(nodes, p.parentID, func(n *models.Document) *models.Document {
		c := n.Clone()
		c.Children = insertIndex(n.Children, p.index, node)
		return c
	})
}

func insertIndex(nodes []*models.Document, index int, node *models.Document) []*models.Document {
	index = max(0, min(index, len(nodes)))
	out := make([]*models.Document, 0, len(nodes)+1)
	out = append(out, nodes[:index]...)
	out = append(out, node)
	out = append(out, nodes[index:]...)
	return out
}
