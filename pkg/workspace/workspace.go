// Package workspace provisions the stores and the realtime session of one
// signed-in workspace and scopes them to a context.
//
// A Root replaces process-wide singletons: everything a view needs is reached
// through the context it was mounted into.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pagewire/livesync/pkg/connection"
	"github.com/pagewire/livesync/pkg/connection/gorillaws"
	"github.com/pagewire/livesync/pkg/connection/gws"
	"github.com/pagewire/livesync/pkg/connection/polling"
	"github.com/pagewire/livesync/pkg/debounce"
	"github.com/pagewire/livesync/pkg/events"
	"github.com/pagewire/livesync/pkg/logger"
	"github.com/pagewire/livesync/pkg/models"
	"github.com/pagewire/livesync/pkg/session"
	"github.com/pagewire/livesync/pkg/signal"
	"github.com/pagewire/livesync/pkg/store"
)

// ErrNotMounted is returned by Unmount on a root that is not mounted.
var ErrNotMounted = errors.New("workspace: not mounted")

// emitTimeout bounds a debounced emit, which runs without a caller context.
const emitTimeout = 10 * time.Second

type Config struct {
	URL    string
	Path   string
	UserID string
	Token  string
	Header http.Header

	// Transports names the transports to try in order. Ignored when
	// Dialers is set.
	Transports []string
	Dialers    []connection.Dialer
	Retryer    session.Retryer

	// Debounce is the quiet period of coalesced local edits.
	Debounce time.Duration
	Logger   logger.Logger
}

// Dialers returns the dialers for the named transports. "gws" is the
// websocket transport on the gws client instead of gorilla.
func Dialers(names []string) ([]connection.Dialer, error) {
	if len(names) == 0 {
		return nil, connection.ErrNoDialers
	}
	dialers := make([]connection.Dialer, 0, len(names))
	for _, name := range names {
		switch name {
		case connection.TransportWebSocket:
			dialers = append(dialers, gorillaws.NewDialer())
		case gws.Name:
			dialers = append(dialers, gws.NewDialer())
		case connection.TransportPolling:
			dialers = append(dialers, polling.NewDialer())
		default:
			return nil, fmt.Errorf("workspace: unknown transport %q", name)
		}
	}
	return dialers, nil
}

// Root owns every store of a workspace and the session feeding them.
type Root struct {
	Documents     *store.DocumentStore
	Databases     *store.DatabaseStore
	Comments      *store.CommentStore
	Notifications *store.NotificationStore
	Presence      *store.PresenceStore
	Signals       *signal.Bus
	Session       *session.Session

	logger    logger.Logger
	debouncer *debounce.Debouncer

	mu      sync.Mutex
	mounted bool
	// docEdits accumulates the fields edited locally since the last emit
	// of each document.
	docEdits map[string]models.DocumentPatch
}

func New(cfg Config) (*Root, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}

	dialers := cfg.Dialers
	if len(dialers) == 0 {
		var err error
		if dialers, err = Dialers(cfg.Transports); err != nil {
			return nil, err
		}
	}

	bus := signal.NewBus()
	r := &Root{
		Documents:     store.NewDocumentStore(bus),
		Databases:     store.NewDatabaseStore(),
		Comments:      store.NewCommentStore(),
		Notifications: store.NewNotificationStore(),
		Presence:      store.NewPresenceStore(),
		Signals:       bus,
		logger:        log,
		debouncer:     debounce.New(cfg.Debounce),
		docEdits:      make(map[string]models.DocumentPatch),
	}
	r.Session = session.New(session.Config{
		URL:     cfg.URL,
		Path:    cfg.Path,
		UserID:  cfg.UserID,
		Token:   cfg.Token,
		Header:  cfg.Header,
		Dialers: dialers,
		Retryer: cfg.Retryer,
		Logger:  log,
	}, session.Stores{
		Documents:     r.Documents,
		Databases:     r.Databases,
		Comments:      r.Comments,
		Notifications: r.Notifications,
		Presence:      r.Presence,
		Signals:       bus,
	})

	return r, nil
}

// Mount opens the session and returns a context carrying the root and its
// session.
func (r *Root) Mount(ctx context.Context) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.Session.Open(ctx); err != nil {
		return ctx, fmt.Errorf("workspace: mount: %w", err)
	}
	r.mounted = true

	ctx = context.WithValue(ctx, contextKey{}, r)
	return session.WithSession(ctx, r.Session), nil
}

// Unmount emits the pending local edits, then closes the session. Once it
// returns no store is written by the session again.
func (r *Root) Unmount(ctx context.Context) error {
	r.mu.Lock()
	if !r.mounted {
		r.mu.Unlock()
		return ErrNotMounted
	}
	r.mounted = false
	ids := make([]string, 0, len(r.docEdits))
	for id := range r.docEdits {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.debouncer.Flush(docKey(id))
	}
	r.debouncer.Stop()

	return r.Session.Close(ctx)
}

func docKey(id string) string {
	return "doc:" + id
}

func cellKey(databaseID, rowID, propertyID string) string {
	return "cell:" + databaseID + "/" + rowID + "/" + propertyID
}

// EditDocument applies patch locally at once and emits the accumulated edits
// of the document after the debounce quiet period.
func (r *Root) EditDocument(id string, patch models.DocumentPatch) {
	if id == "" || patch.IsEmpty() {
		return
	}
	r.Documents.UpdateDocument(id, patch)

	r.mu.Lock()
	r.docEdits[id] = mergeDocumentPatch(r.docEdits[id], patch)
	r.mu.Unlock()

	r.debouncer.Schedule(docKey(id), func() { r.emitDocument(id) })
}

// FlushDocument emits the pending edits of a document now, as on blur. It
// reports whether anything was pending.
func (r *Root) FlushDocument(id string) bool {
	return r.debouncer.Flush(docKey(id))
}

func (r *Root) emitDocument(id string) {
	r.mu.Lock()
	patch, ok := r.docEdits[id]
	delete(r.docEdits, id)
	r.mu.Unlock()
	if !ok {
		return
	}

	r.emit(&events.DocUpdate{ID: id, UserID: r.Session.UserID(), DocumentPatch: patch})
}

// EditCell applies a cell value locally and emits the last value written to
// the cell after the quiet period.
func (r *Root) EditCell(databaseID, rowID, propertyID string, value json.RawMessage) {
	r.Databases.UpdateCell(databaseID, rowID, propertyID, value)
	r.debouncer.Schedule(cellKey(databaseID, rowID, propertyID), func() {
		r.emit(&events.CellUpdate{
			DatabaseID: databaseID,
			RowID:      rowID,
			PropertyID: propertyID,
			Value:      value,
			UserID:     r.Session.UserID(),
		})
	})
}

// AddFavorite adds doc to the local favorites list and tells collaborators.
func (r *Root) AddFavorite(ctx context.Context, doc *models.Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("workspace: %w: favorite without a document", events.ErrMalformedPayload)
	}
	r.Documents.AddFavorite(doc)
	return r.Session.Emit(ctx, &events.FavoriteAdd{DocumentID: doc.ID, UserID: r.Session.UserID()})
}

// RemoveFavorite is the inverse of AddFavorite.
func (r *Root) RemoveFavorite(ctx context.Context, id string) error {
	r.Documents.RemoveFavorite(id)
	return r.Session.Emit(ctx, &events.FavoriteRemove{DocumentID: id, UserID: r.Session.UserID()})
}

// emit sends a debounced edit. The local change is already applied, so a
// failure only means collaborators see it once they re-fetch.
func (r *Root) emit(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()
	if err := r.Session.Emit(ctx, ev); err != nil {
		r.logger.Warn("failed to emit local edit", "event", ev.Name(), "error", err)
	}
}

// mergeDocumentPatch overlays the fields set in next onto prev.
func mergeDocumentPatch(prev, next models.DocumentPatch) models.DocumentPatch {
	if next.Title.Set {
		prev.Title = next.Title
	}
	if next.Icon.Set {
		prev.Icon = next.Icon
	}
	if next.CoverImage.Set {
		prev.CoverImage = next.CoverImage
	}
	if next.IsArchived.Set {
		prev.IsArchived = next.IsArchived
	}
	if next.IsPublished.Set {
		prev.IsPublished = next.IsPublished
	}
	if next.ParentID.Set {
		prev.ParentID = next.ParentID
	}
	if next.UpdatedAt.Set {
		prev.UpdatedAt = next.UpdatedAt
	}
	if next.Children.Set {
		prev.Children = next.Children
	}
	return prev
}

type contextKey struct{}

// FromContext returns the root mounted into ctx, if any.
func FromContext(ctx context.Context) (*Root, bool) {
	r, ok := ctx.Value(contextKey{}).(*Root)
	return r, ok && r != nil
}

// MustFromContext panics when ctx does not carry a mounted root.
func MustFromContext(ctx context.Context) *Root {
	r, ok := FromContext(ctx)
	if !ok {
		panic("workspace: no workspace in context; Mount must run first")
	}
	return r
}
