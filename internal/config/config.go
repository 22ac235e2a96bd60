// Package config loads livesync settings from a YAML file, a .env file and
// LIVESYNC_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pagewire/livesync/pkg/connection"
	"github.com/pagewire/livesync/pkg/connection/gws"
)

// Environment variables that override the file.
const (
	EnvURL        = "LIVESYNC_URL"
	EnvPath       = "LIVESYNC_PATH"
	EnvUserID     = "LIVESYNC_USER_ID"
	EnvToken      = "LIVESYNC_TOKEN"
	EnvTransports = "LIVESYNC_TRANSPORTS"
	EnvMaxRetries = "LIVESYNC_MAX_RETRIES"
	EnvRelayAddr  = "LIVESYNC_RELAY_ADDR"
	EnvRelayDB    = "LIVESYNC_RELAY_DB"
	EnvSnapshot   = "LIVESYNC_SNAPSHOT"
	EnvLogLevel   = "LIVESYNC_LOG_LEVEL"
)

// Config holds everything a client or relay process needs.
type Config struct {
	// Relay origin, e.g. "http://localhost:3001"
	URL string `yaml:"url"`
	// Socket.IO endpoint path
	Path   string `yaml:"path"`
	UserID string `yaml:"userId"`
	Token  string `yaml:"token"`

	// Transports are tried in order; "websocket", "gws" and "polling" are
	// known.
	Transports []string `yaml:"transports"`
	// MaxRetries bounds reconnection; 0 retries forever.
	MaxRetries int `yaml:"maxRetries"`
	// Debounce is the quiet period for coalesced local writes.
	Debounce time.Duration `yaml:"debounce"`

	// Snapshot is where the watch command persists store state. Empty
	// disables snapshots.
	Snapshot string `yaml:"snapshot"`

	Relay RelayConfig `yaml:"relay"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`
}

// RelayConfig configures the development relay.
type RelayConfig struct {
	Addr string `yaml:"addr"`
	// Journal database file; ":memory:" keeps it in memory.
	DB           string        `yaml:"db"`
	PingInterval time.Duration `yaml:"pingInterval"`
	PingTimeout  time.Duration `yaml:"pingTimeout"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		URL:        "http://localhost:3001",
		Path:       connection.DefaultPath,
		Transports: []string{connection.TransportWebSocket, connection.TransportPolling},
		MaxRetries: 10,
		Debounce:   500 * time.Millisecond,
		Relay: RelayConfig{
			Addr:         ":3001",
			DB:           ":memory:",
			PingInterval: 25 * time.Second,
			PingTimeout:  20 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path over the defaults, then the .env files
// (missing ones are skipped), then the environment. An empty path skips the
// file.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	for _, f := range envFiles {
		if f == "" {
			continue
		}
		// godotenv.Load never overrides variables that are already set.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the LIVESYNC_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		EnvURL:       &c.URL,
		EnvPath:      &c.Path,
		EnvUserID:    &c.UserID,
		EnvToken:     &c.Token,
		EnvRelayAddr: &c.Relay.Addr,
		EnvRelayDB:   &c.Relay.DB,
		EnvSnapshot:  &c.Snapshot,
		EnvLogLevel:  &c.LogLevel,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup(EnvTransports); ok {
		c.Transports = splitList(v)
	}
	if v, ok := lookup(EnvMaxRetries); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxRetries, err)
		}
		c.MaxRetries = n
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var knownTransports = []string{connection.TransportWebSocket, gws.Name, connection.TransportPolling}

// Validate checks the client settings.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if len(c.Transports) == 0 {
		return fmt.Errorf("at least one transport is required")
	}
	for _, t := range c.Transports {
		if !slices.Contains(knownTransports, t) {
			return fmt.Errorf("unknown transport %q", t)
		}
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must not be negative")
	}
	return nil
}

// ValidateRelay checks the relay settings.
func (c *Config) ValidateRelay() error {
	if c.Relay.Addr == "" {
		return fmt.Errorf("relay addr is required")
	}
	if c.Relay.DB == "" {
		return fmt.Errorf("relay db is required")
	}
	if c.Relay.PingInterval <= 0 || c.Relay.PingTimeout <= 0 {
		return fmt.Errorf("relay ping interval and timeout must be positive")
	}
	return nil
}
