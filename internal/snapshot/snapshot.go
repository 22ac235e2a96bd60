// Package snapshot persists the durable part of the client stores between
// runs, so a restarted client renders at once and resumes the relay stream
// from where it stopped.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/pagewire/livesync/pkg/models"
	"github.com/pagewire/livesync/pkg/store"
)

// Version is the snapshot format written by Save.
const Version = 1

// ErrVersion is returned by Load for a snapshot written by another format.
var ErrVersion = errors.New("snapshot: unsupported version")

// Snapshot is everything worth keeping across restarts. Presence is
// ephemeral and peers re-announce it, so it is never saved.
type Snapshot struct {
	Version int       `cbor:"version"`
	SavedAt time.Time `cbor:"savedAt"`
	UserID  string    `cbor:"userId"`
	// LastSeq is the relay sequence the client had applied.
	LastSeq int64 `cbor:"lastSeq"`

	Documents     map[store.List][]*models.Document `cbor:"documents"`
	Databases     []Database                        `cbor:"databases"`
	Comments      map[string][]models.Comment       `cbor:"comments"`
	Notifications []models.Notification             `cbor:"notifications"`
}

type Database struct {
	ID         string            `cbor:"id"`
	Properties []models.Property `cbor:"properties"`
	Rows       []models.Row      `cbor:"rows"`
}

// Stores are the stores a snapshot is taken from and restored into. Nil
// stores are skipped.
type Stores struct {
	Documents     *store.DocumentStore
	Databases     *store.DatabaseStore
	Comments      *store.CommentStore
	Notifications *store.NotificationStore
}

// Capture copies the current state of s.
func Capture(s Stores, userID string, lastSeq int64) *Snapshot {
	snap := &Snapshot{
		Version:   Version,
		SavedAt:   time.Now().UTC(),
		UserID:    userID,
		LastSeq:   lastSeq,
		Documents: make(map[store.List][]*models.Document),
		Comments:  make(map[string][]models.Comment),
	}

	if s.Documents != nil {
		state := s.Documents.Snapshot()
		for _, l := range store.Lists {
			if nodes := state.List(l); len(nodes) > 0 {
				snap.Documents[l] = nodes
			}
		}
	}
	if s.Databases != nil {
		for _, id := range s.Databases.IDs() {
			db, _ := s.Databases.Database(id)
			snap.Databases = append(snap.Databases, Database{ID: db.ID, Properties: db.Properties, Rows: db.Rows})
		}
	}
	if s.Comments != nil {
		for _, page := range s.Comments.Pages() {
			snap.Comments[page] = s.Comments.Comments(page)
		}
	}
	if s.Notifications != nil {
		snap.Notifications = s.Notifications.Notifications()
	}
	return snap
}

// Restore loads snap into s, replacing what the stores held.
func (snap *Snapshot) Restore(s Stores) {
	if s.Documents != nil {
		for _, l := range store.Lists {
			s.Documents.SetList(l, snap.Documents[l])
		}
	}
	if s.Databases != nil {
		for _, db := range snap.Databases {
			s.Databases.Load(db.ID, db.Properties, db.Rows)
		}
	}
	if s.Comments != nil {
		for page, comments := range snap.Comments {
			s.Comments.SetComments(page, comments)
		}
	}
	if s.Notifications != nil {
		s.Notifications.SetNotifications(snap.Notifications)
	}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Time: cbor.TimeRFC3339Nano,
		Sort: cbor.SortCanonical,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: cbor encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: cbor decoder: %v", err))
	}
}

func Marshal(snap *Snapshot) ([]byte, error) {
	return encMode.Marshal(snap)
}

func Unmarshal(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := decMode.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	if snap.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, snap.Version)
	}
	return &snap, nil
}

// Save writes snap to path atomically: readers see either the previous file
// or the new one, never a partial write.
func Save(path string, snap *Snapshot) error {
	data, err := Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	tmpName = ""
	return nil
}

// Load reads the snapshot at path. A missing file yields an error matching
// os.ErrNotExist.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return Unmarshal(data)
}
