package cli

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/pagewire/livesync/internal/relay"
)

func newRelayCommand(g *globalFlags) *cobra.Command {
	var addr, db string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "run the development relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Relay.Addr = addr
			}
			if cmd.Flags().Changed("db") {
				cfg.Relay.DB = db
			}
			if err := cfg.ValidateRelay(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			log, closeLog, err := newLogger(cmd, cfg.LogLevel)
			if err != nil {
				return err
			}
			defer closeLog()

			srv, err := relay.New(relay.Config{
				Path:         cfg.Path,
				JournalDSN:   cfg.Relay.DB,
				PingInterval: cfg.Relay.PingInterval,
				PingTimeout:  cfg.Relay.PingTimeout,
				Logger:       log,
			})
			if err != nil {
				return err
			}
			defer srv.Close()

			if err := srv.ListenAndServe(cmd.Context(), cfg.Relay.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :3001)")
	cmd.Flags().StringVar(&db, "db", "", "journal SQLite file, or :memory:")
	return cmd
}
