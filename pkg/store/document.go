package store

import (
	"slices"
	"sync"

	"github.com/pagewire/livesync/pkg/models"
	"github.com/pagewire/livesync/pkg/signal"
)

// List names one of the document collections a client tracks.
type List string

const (
	ListActive    List = "active"
	ListRecent    List = "recent"
	ListFavorites List = "favorites"
	ListPublished List = "published"
	ListShared    List = "shared"
	ListTrash     List = "trash"
)

// Lists is every tracked list, in lookup order.
var Lists = []List{ListActive, ListRecent, ListFavorites, ListPublished, ListShared, ListTrash}

// DocumentState is an immutable view of every tracked list.
type DocumentState struct {
	lists map[List][]*models.Document
}

// List returns the nodes of l. The slice must not be modified.
func (s DocumentState) List(l List) []*models.Document {
	return s.lists[l]
}

// Find returns the first node with id across all lists, at any depth.
func (s DocumentState) Find(id string) (*models.Document, bool) {
	for _, l := range Lists {
		if n, ok := findInTree(s.lists[l], id); ok {
			return n, true
		}
	}
	return nil, false
}

// Publisher receives local signals. *signal.Bus implements it.
type Publisher interface {
	Publish(topic signal.Topic)
}

// DocumentStore holds the page trees of every tracked list.
//
// All operations are total: an unknown id is a no-op. Local optimistic writes
// and remote events go through the same methods.
type DocumentStore struct {
	mu    sync.Mutex
	lists map[List][]*models.Document

	// archived remembers where each archived node sat in the non-trash lists,
	// so restoring it puts it back where it was.
	archived map[string]map[List]placement

	signals   Publisher
	listeners listeners[DocumentState]
}

func NewDocumentStore(signals Publisher) *DocumentStore {
	return &DocumentStore{
		lists:    make(map[List][]*models.Document),
		archived: make(map[string]map[List]placement),
		signals:  signals,
	}
}

// Snapshot returns the current state.
func (s *DocumentStore) Snapshot() DocumentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *DocumentStore) stateLocked() DocumentState {
	lists := make(map[List][]*models.Document, len(s.lists))
	for l, nodes := range s.lists {
		lists[l] = nodes
	}
	return DocumentState{lists: lists}
}

// Subscribe registers fn to be called with the new state after every change.
func (s *DocumentStore) Subscribe(fn func(DocumentState)) (cancel func()) {
	return s.listeners.subscribe(fn)
}

// mutate runs fn under the lock and notifies subscribers if fn reports a change.
func (s *DocumentStore) mutate(fn func() bool) bool {
	state, changed := s.apply(fn)
	if changed {
		s.listeners.notify(state)
	}
	return changed
}

func (s *DocumentStore) apply(fn func() bool) (DocumentState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !fn() {
		return DocumentState{}, false
	}
	return s.stateLocked(), true
}

// SetList replaces the content of l, typically with the result of a fetch.
func (s *DocumentStore) SetList(l List, docs []*models.Document) {
	s.mutate(func() bool {
		s.lists[l] = slices.Clone(docs)
		return true
	})
	if l == ListFavorites {
		s.publish(signal.FavoritesChanged)
	}
}

// Find returns the first node with id across all lists.
func (s *DocumentStore) Find(id string) (*models.Document, bool) {
	return s.Snapshot().Find(id)
}

// AddDocument inserts doc into the active list, or the trash when it is
// archived, and into the published list when it is published. A node with the
// same id that is already tracked is replaced in place in every list, never
// appended twice, and keeps its loaded children when doc carries none. List
// membership then follows IsArchived: a tracked node moves to or out of the
// trash as UpdateDocument would move it. A malformed subtree is ignored.
func (s *DocumentStore) AddDocument(doc *models.Document) {
	if doc == nil || doc.ID == "" || doc.CheckTree() != nil {
		return
	}

	s.mutate(func() bool {
		for _, l := range Lists {
			if nodes, ok := updateTree(s.lists[l], doc.ID, replaceWith(doc)); ok {
				s.lists[l] = nodes
			}
		}

		if doc.IsArchived {
			s.archiveLocked(doc.ID)
			if _, ok := findInTree(s.lists[ListTrash], doc.ID); !ok {
				s.lists[ListTrash] = insertIndex(s.lists[ListTrash], len(s.lists[ListTrash]), doc)
			}
			return true
		}

		s.restoreLocked(doc.ID)
		node := doc
		if n, ok := s.findLocked(doc.ID); ok {
			node = n
		}
		targets := []List{ListActive}
		if doc.IsPublished {
			targets = append(targets, ListPublished)
		}
		for _, l := range targets {
			if _, ok := findInTree(s.lists[l], doc.ID); ok {
				continue
			}
			s.lists[l] = s.insertUnderParent(s.lists[l], node)
		}
		return true
	})
}

// replaceWith returns an update swapping in doc. The tracked node's loaded
// children survive when doc has none.
func replaceWith(doc *models.Document) func(*models.Document) *models.Document {
	return func(old *models.Document) *models.Document {
		if doc.Children != nil || old.Children == nil {
			return doc
		}
		n := doc.Clone()
		n.Children = old.Children
		return n
	}
}

func (s *DocumentStore) findLocked(id string) (*models.Document, bool) {
	return DocumentState{lists: s.lists}.Find(id)
}

// Add puts doc into l only, replacing the node with the same id when l
// already holds it. Lists like recent or shared are filled this way.
func (s *DocumentStore) Add(l List, doc *models.Document) {
	if doc == nil || doc.ID == "" || doc.CheckTree() != nil {
		return
	}
	s.mutate(func() bool {
		if nodes, ok := updateTree(s.lists[l], doc.ID, replaceWith(doc)); ok {
			s.lists[l] = nodes
			return true
		}
		s.lists[l] = s.insertUnderParent(s.lists[l], doc)
		return true
	})
	if l == ListFavorites {
		s.publish(signal.FavoritesChanged)
	}
}

// insertUnderParent appends doc to its parent's children when the parent is
// in nodes with its subtree loaded, and to the top level otherwise.
func (s *DocumentStore) insertUnderParent(nodes []*models.Document, doc *models.Document) []*models.Document {
	if doc.ParentID != nil && *doc.ParentID != "" {
		if parent, ok := findInTree(nodes, *doc.ParentID); ok && parent.Children != nil {
			out, _ := insertAt(nodes, placement{parentID: parent.ID, index: len(parent.Children)}, doc)
			return out
		}
	}
	return insertIndex(nodes, len(nodes), doc)
}

// UpdateDocument merges patch into the node with id, at any depth, in every
// list that contains it. Fields absent from patch are left untouched.
//
// Setting IsArchived to true also moves the node out of every non-trash list
// into the trash; setting it to false moves it back. A patch whose Children
// are not a well-formed subtree of id is ignored.
func (s *DocumentStore) UpdateDocument(id string, patch models.DocumentPatch) {
	if id == "" || patch.IsEmpty() {
		return
	}
	if children, ok := patch.Children.Get(); ok && models.CheckChildren(id, children) != nil {
		return
	}

	s.mutate(func() bool {
		changed := false
		for _, l := range Lists {
			if nodes, ok := updateTree(s.lists[l], id, patch.Apply); ok {
				s.lists[l] = nodes
				changed = true
			}
		}
		if !changed {
			return false
		}

		if patch.ParentID.Set {
			parentID := ""
			if ptr := patch.ParentID.Ptr(); ptr != nil {
				parentID = *ptr
			}
			s.reparentLocked(id, parentID)
		}

		if archived, ok := patch.IsArchived.Get(); ok {
			if archived {
				s.archiveLocked(id)
			} else {
				s.restoreLocked(id)
			}
		}
		return true
	})
}

// reparentLocked keeps the children invariant after a move: a node nested
// under its old parent is taken out of that parent's children, and a node
// whose new parent is present with a loaded subtree is appended under it.
// Nodes at the top level of flat lists stay where they are otherwise.
func (s *DocumentStore) reparentLocked(id, parentID string) {
	for _, l := range Lists {
		p, ok := locateInTree(s.lists[l], id)
		if !ok || p.parentID == parentID {
			continue
		}
		node, _ := findInTree(s.lists[l], id)

		parent, hasParent := findInTree(s.lists[l], parentID)
		loaded := hasParent && parent.Children != nil

		switch {
		case loaded:
			nodes, _ := removeFromTree(s.lists[l], id)
			s.lists[l], _ = insertAt(nodes, placement{parentID: parentID, index: len(parent.Children)}, node)
		case p.parentID == "":
			// flat entry, nothing to fix
		case parentID == "":
			nodes, _ := removeFromTree(s.lists[l], id)
			s.lists[l] = insertIndex(nodes, len(nodes), node)
		default:
			// the new parent's subtree is not loaded here; the node
			// shows up again when it is
			s.lists[l], _ = removeFromTree(s.lists[l], id)
		}
	}
}

func (s *DocumentStore) archiveLocked(id string) {
	var node *models.Document
	placements := make(map[List]placement)

	for _, l := range Lists {
		if l == ListTrash {
			continue
		}
		p, ok := locateInTree(s.lists[l], id)
		if !ok {
			continue
		}
		if node == nil {
			node, _ = findInTree(s.lists[l], id)
		}
		placements[l] = p
		s.lists[l], _ = removeFromTree(s.lists[l], id)
	}

	if node == nil {
		// already only in the trash
		return
	}
	s.archived[id] = placements

	if _, ok := findInTree(s.lists[ListTrash], id); !ok {
		s.lists[ListTrash] = insertIndex(s.lists[ListTrash], len(s.lists[ListTrash]), node)
	}
}

func (s *DocumentStore) restoreLocked(id string) {
	node, ok := findInTree(s.lists[ListTrash], id)
	if !ok {
		return
	}
	s.lists[ListTrash], _ = removeFromTree(s.lists[ListTrash], id)

	placements, known := s.archived[id]
	delete(s.archived, id)

	if !known {
		if _, ok := findInTree(s.lists[ListActive], id); !ok {
			s.lists[ListActive] = s.insertUnderParent(s.lists[ListActive], node)
		}
		return
	}

	placed := false
	for _, l := range Lists {
		p, ok := placements[l]
		if !ok {
			continue
		}
		if out, ok := insertAt(s.lists[l], p, node); ok {
			s.lists[l] = out
			placed = true
		}
	}
	// a former parent whose children are no longer loaded cannot take the
	// node back; it goes under insertUnderParent rules instead of vanishing
	_, wasActive := placements[ListActive]
	if _, ok := findInTree(s.lists[ListActive], id); !ok && (wasActive || !placed) {
		s.lists[ListActive] = s.insertUnderParent(s.lists[ListActive], node)
	}
}

// RemoveDocument deletes the node with id, at any depth, from every list.
// Siblings are untouched; descendants are not deleted on their own, they
// only leave together with the removed subtree.
func (s *DocumentStore) RemoveDocument(id string) {
	if id == "" {
		return
	}
	s.mutate(func() bool {
		changed := false
		for _, l := range Lists {
			if nodes, ok := removeFromTree(s.lists[l], id); ok {
				s.lists[l] = nodes
				changed = true
			}
		}
		delete(s.archived, id)
		return changed
	})
}

// AddFavorite adds doc to the favorites list, replacing an existing entry.
func (s *DocumentStore) AddFavorite(doc *models.Document) {
	if doc == nil || doc.ID == "" || doc.CheckTree() != nil {
		return
	}
	changed := s.mutate(func() bool {
		if nodes, ok := updateTree(s.lists[ListFavorites], doc.ID, replaceWith(doc)); ok {
			s.lists[ListFavorites] = nodes
			return true
		}
		s.lists[ListFavorites] = insertIndex(s.lists[ListFavorites], len(s.lists[ListFavorites]), doc)
		return true
	})
	if changed {
		s.publish(signal.FavoritesChanged)
	}
}

// RemoveFavorite removes id from the favorites list only.
func (s *DocumentStore) RemoveFavorite(id string) {
	changed := s.mutate(func() bool {
		nodes, ok := removeFromTree(s.lists[ListFavorites], id)
		if ok {
			s.lists[ListFavorites] = nodes
		}
		return ok
	})
	if changed {
		s.publish(signal.FavoritesChanged)
	}
}

func (s *DocumentStore) publish(topic signal.Topic) {
	if s.signals != nil {
		s.signals.Publish(topic)
	}
}
