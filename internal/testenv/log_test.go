package testenv

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogHandler(t *testing.T) {
	h := NewLogHandler()
	log := slog.New(h)

	log.Info("connected", "transport", "websocket")
	log.With("session", "s1").WithGroup("retry").Error("connect_error", "attempt", 2)
	log.Debug("dropping event")

	records := h.Records()
	require.Len(t, records, 3)
	assert.Equal(t, "INFO: connected transport=websocket", records[0].String())
	assert.Equal(t, "ERROR: connect_error session=s1, retry.attempt=2", records[1].String())
	assert.Equal(t, []string{"connect_error"}, h.Messages(slog.LevelError))
	assert.Equal(t, 1, h.Count(slog.LevelDebug, "dropping event"))
}

func TestLogHandlerIgnoreDebug(t *testing.T) {
	log, h := NewLogger(WithIgnoreDebug(), WithTestLog(t))

	log.Debug("hidden")
	log.Warn("shown")

	assert.Equal(t, []string{"shown"}, h.Messages(slog.LevelWarn))
	assert.Len(t, h.Records(), 1)
}
