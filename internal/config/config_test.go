package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.ValidateRelay())
	assert.Equal(t, []string{"websocket", "polling"}, cfg.Transports)
	assert.Equal(t, "/socket.io/", cfg.Path)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "livesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
url: https://relay.example.com
userId: user-1
transports: [polling]
maxRetries: 3
debounce: 250ms
relay:
  addr: ":4000"
  db: journal.db
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://relay.example.com", cfg.URL)
	assert.Equal(t, "user-1", cfg.UserID)
	assert.Equal(t, []string{"polling"}, cfg.Transports)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Debounce)
	assert.Equal(t, ":4000", cfg.Relay.Addr)
	assert.Equal(t, "journal.db", cfg.Relay.DB)
	// untouched keys keep their defaults
	assert.Equal(t, 25*time.Second, cfg.Relay.PingInterval)
	assert.Equal(t, "/socket.io/", cfg.Path)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("url: [unterminated"), 0o600))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "parse config")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("LIVESYNC_USER_ID=from-dotenv\n"), 0o600))
	t.Setenv(EnvUserID, "")
	require.NoError(t, os.Unsetenv(EnvUserID))

	cfg, err := Load("", envFile, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.UserID)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		EnvURL:        "http://other:9000",
		EnvTransports: " polling , websocket ,",
		EnvMaxRetries: "0",
		EnvRelayDB:    "relay.db",
	}))
	require.NoError(t, err)
	assert.Equal(t, "http://other:9000", cfg.URL)
	assert.Equal(t, []string{"polling", "websocket"}, cfg.Transports)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, "relay.db", cfg.Relay.DB)

	err = cfg.ApplyEnv(env(map[string]string{EnvMaxRetries: "many"}))
	assert.ErrorContains(t, err, EnvMaxRetries)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing url", func(c *Config) { c.URL = "" }, "url is required"},
		{"bad scheme", func(c *Config) { c.URL = "ftp://host" }, "unsupported url scheme"},
		{"no transports", func(c *Config) { c.Transports = nil }, "at least one transport"},
		{"unknown transport", func(c *Config) { c.Transports = []string{"carrier-pigeon"} }, "unknown transport"},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "maxRetries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}

	relay := Default()
	relay.Relay.PingTimeout = 0
	assert.Error(t, relay.ValidateRelay())
}
