package cli

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagewire/livesync/internal/snapshot"
	"github.com/pagewire/livesync/pkg/logger"
	"github.com/pagewire/livesync/pkg/models"
	"github.com/pagewire/livesync/pkg/signal"
	"github.com/pagewire/livesync/pkg/store"
	"github.com/pagewire/livesync/pkg/workspace"
)

func newWatchCommand(g *globalFlags) *cobra.Command {
	var (
		snapshotPath string
		presenceTTL  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "connect as a user and log every store change until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("snapshot") {
				cfg.Snapshot = snapshotPath
			}

			log, closeLog, err := newLogger(cmd, cfg.LogLevel)
			if err != nil {
				return err
			}
			defer closeLog()

			root, err := newWorkspace(cfg, log)
			if err != nil {
				return err
			}
			stores := snapshotStores(root)

			if cfg.Snapshot != "" {
				snap, err := snapshot.Load(cfg.Snapshot)
				switch {
				case err == nil:
					snap.Restore(stores)
					root.Session.SetLastSeq(snap.LastSeq)
					log.Info("restored snapshot", "path", cfg.Snapshot, "last_seq", snap.LastSeq)
				case errors.Is(err, os.ErrNotExist):
				default:
					log.Warn("ignoring unreadable snapshot", "path", cfg.Snapshot, "error", err)
				}
			}

			cancel := watchStores(root, log)
			defer cancel()

			states, stopStates := root.Session.Watch()
			defer stopStates()

			if _, err := root.Mount(cmd.Context()); err != nil {
				return err
			}

			var prune <-chan time.Time
			if presenceTTL > 0 {
				ticker := time.NewTicker(presenceTTL / 2)
				defer ticker.Stop()
				prune = ticker.C
			}

		loop:
			for {
				select {
				case st := <-states:
					log.Info("session state", "state", st.String())
				case now := <-prune:
					root.Presence.Prune(now.Add(-presenceTTL))
				case <-cmd.Context().Done():
					break loop
				}
			}

			unmountCtx, cancelUnmount := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelUnmount()
			if err := root.Unmount(unmountCtx); err != nil {
				log.Warn("unmount failed", "error", err)
			}

			if cfg.Snapshot == "" {
				return nil
			}
			snap := snapshot.Capture(stores, cfg.UserID, root.Session.LastSeq())
			if err := snapshot.Save(cfg.Snapshot, snap); err != nil {
				return err
			}
			log.Info("saved snapshot", "path", cfg.Snapshot, "last_seq", snap.LastSeq)
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "CBOR snapshot to restore on start and save on exit")
	cmd.Flags().DurationVar(&presenceTTL, "presence-ttl", 2*time.Minute, "drop presence entries not seen for this long (0 keeps them)")
	return cmd
}

func snapshotStores(root *workspace.Root) snapshot.Stores {
	return snapshot.Stores{
		Documents:     root.Documents,
		Databases:     root.Databases,
		Comments:      root.Comments,
		Notifications: root.Notifications,
	}
}

// watchStores logs a line for every store change.
func watchStores(root *workspace.Root, log logger.Logger) func() {
	cancels := []func(){
		root.Documents.Subscribe(func(s store.DocumentState) {
			log.Info("documents changed", "active", len(s.List(store.ListActive)), "trash", len(s.List(store.ListTrash)))
		}),
		root.Databases.Subscribe(func(db store.Database) {
			log.Info("database changed", "database", db.ID, "rows", len(db.Rows))
		}),
		root.Comments.Subscribe(func(c store.PageComments) {
			log.Info("comments changed", "page", c.PageID, "comments", len(c.Comments))
		}),
		root.Notifications.Subscribe(func(items []models.Notification) {
			log.Info("notifications changed", "count", len(items), "unread", root.Notifications.UnreadCount())
		}),
		root.Presence.Subscribe(func(p store.PagePresence) {
			log.Info("presence changed", "page", p.PageID, "users", len(p.Users))
		}),
		root.Signals.Subscribe(signal.FavoritesChanged, func() {
			log.Info("favorites changed")
		}),
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}
