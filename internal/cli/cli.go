// Package cli implements the livesync command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagewire/livesync/internal/config"
	"github.com/pagewire/livesync/pkg/logger"
	"github.com/pagewire/livesync/pkg/session"
	"github.com/pagewire/livesync/pkg/workspace"
)

// Main runs the command line with args, writing to the process streams. It
// can be called from tests without building the binary; cancelling ctx stops
// long-running commands gracefully.
func Main(ctx context.Context, args []string) error {
	return Run(ctx, args, os.Stdout, os.Stderr)
}

// Run is Main with explicit output streams.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

type globalFlags struct {
	configPath string
	envFile    string
	url        string
	userID     string
	token      string
	transports []string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "livesync",
		Short: "realtime sync client and development relay",
		Example: `livesync relay --addr :3001 --db relay.db
livesync watch --user user-1 --snapshot state.cbor
livesync emit --user user-1 doc:update '{"id":"page-1","userId":"user-1","title":"Hello"}'`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})
	cmd.CompletionOptions.HiddenDefaultCmd = true

	f := cmd.PersistentFlags()
	f.StringVarP(&g.configPath, "config", "c", "", "YAML config file")
	f.StringVar(&g.envFile, "env-file", ".env", "dotenv file to load when present")
	f.StringVar(&g.url, "url", "", "relay origin, e.g. http://localhost:3001")
	f.StringVarP(&g.userID, "user", "u", "", "user id of the session")
	f.StringVar(&g.token, "token", "", "auth token sent on connect")
	f.StringSliceVar(&g.transports, "transports", nil, "transports to try in order (websocket,polling)")
	f.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error")

	cmd.AddCommand(newRelayCommand(g), newWatchCommand(g), newEmitCommand(g))
	return cmd
}

// load reads the configuration and applies the flags the user set.
func (g *globalFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(g.configPath, g.envFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.URL = g.url
	}
	if flags.Changed("user") {
		cfg.UserID = g.userID
	}
	if flags.Changed("token") {
		cfg.Token = g.token
	}
	if flags.Changed("transports") {
		cfg.Transports = g.transports
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = g.logLevel
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, level string) (logger.Logger, func() error, error) {
	log, closeFn, err := logger.Build().FromBuffer(cmd.ErrOrStderr()).Console().Level(level).Make()
	if err != nil {
		return nil, nil, err
	}
	return log, closeFn, nil
}

func newWorkspace(cfg *config.Config, log logger.Logger) (*workspace.Root, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return workspace.New(workspace.Config{
		URL:        cfg.URL,
		Path:       cfg.Path,
		UserID:     cfg.UserID,
		Token:      cfg.Token,
		Transports: cfg.Transports,
		Retryer:    retryer(cfg.MaxRetries),
		Debounce:   cfg.Debounce,
		Logger:     log,
	})
}

// mountAndWait mounts root and waits until its session is connected. The
// root is unmounted again when that does not happen within wait.
func mountAndWait(ctx context.Context, root *workspace.Root, wait time.Duration) error {
	states, cancel := root.Session.Watch()
	defer cancel()

	if _, err := root.Mount(ctx); err != nil {
		return err
	}

	timeout := time.After(wait)
	for !root.Session.IsConnected() {
		var err error
		select {
		case st := <-states:
			if st == session.StateReconnectFailed {
				err = errors.New("could not connect to the relay")
			}
		case <-timeout:
			err = fmt.Errorf("not connected after %v", wait)
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil {
			_ = root.Unmount(context.Background())
			return err
		}
	}
	return nil
}

func retryer(maxRetries int) session.Retryer {
	r := session.NewExponentialBackoffRetryer()
	r.MaxRetries = maxRetries
	return r
}
