package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagewire/livesync/pkg/events"
)

func newEmitCommand(g *globalFlags) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "emit <event> <json>",
		Short: "send one event to the relay",
		Long: `Send one event to the relay and exit.

The payload is validated against the event contract before it is sent, so a
malformed payload is rejected locally.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := events.Decode(events.Name(args[0]), json.RawMessage(args[1]))
			if err != nil {
				return err
			}

			cfg, err := g.load(cmd)
			if err != nil {
				return err
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
			if err := mountAndWait(cmd.Context(), root, wait); err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = root.Unmount(ctx)
			}()

			if err := root.Session.Emit(cmd.Context(), ev); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", ev.Name())
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for the connection")
	return cmd
}
