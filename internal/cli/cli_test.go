package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewire/livesync/internal/relay"
	"github.com/pagewire/livesync/internal/snapshot"
	"github.com/pagewire/livesync/pkg/events"
	"github.com/pagewire/livesync/pkg/models"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a logger.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startRelay(t *testing.T) (*relay.Server, string) {
	t.Helper()
	srv, err := relay.New(relay.Config{})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = srv.Close() })
	return srv, ts.URL
}

func run(ctx context.Context, args ...string) (string, string, error) {
	var stdout, stderr syncBuffer
	err := Run(ctx, append(args, "--env-file", ""), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestEmit(t *testing.T) {
	srv, url := startRelay(t)

	out, _, err := run(context.Background(), "emit", "--url", url, "--user", "alice",
		"doc:update", `{"id":"page-1","userId":"alice","title":"Hello"}`)
	require.NoError(t, err)
	assert.Equal(t, "sent doc:update\n", out)

	require.Eventually(t, func() bool {
		seq, err := srv.Journal().LastSeq(context.Background())
		return err == nil && seq == 1
	}, 3*time.Second, 5*time.Millisecond)
}

func TestEmitRejectsBadInput(t *testing.T) {
	_, _, err := run(context.Background(), "emit", "doc:update", `{"title":"no id"}`)
	assert.ErrorIs(t, err, events.ErrMalformedPayload)

	_, _, err = run(context.Background(), "emit", "made:up", `{}`)
	assert.ErrorIs(t, err, events.ErrUnknownEvent)

	_, _, err = run(context.Background(), "emit", "doc:update")
	assert.Error(t, err)

	_, _, err = run(context.Background(), "emit", "--url", "ftp://relay", "doc:delete", `{"id":"page-1"}`)
	assert.ErrorContains(t, err, "invalid config")
}

func TestWatchSavesSnapshot(t *testing.T) {
	srv, url := startRelay(t)
	path := filepath.Join(t.TempDir(), "state.cbor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stderr syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, []string{"watch", "--env-file", "", "--url", url, "--user", "alice", "--snapshot", path}, &bytes.Buffer{}, &stderr)
	}()

	require.Eventually(t, func() bool { return srv.Peers() == 1 }, 3*time.Second, 5*time.Millisecond)
	// the peer joins the namespace shortly after it opens
	require.Eventually(t, func() bool {
		_, err := srv.Publish(context.Background(), &events.NotificationNew{
			Notification: &models.Notification{ID: "n1", UserID: "alice", Type: models.NotificationMention},
		})
		return err == nil && bytes.Contains([]byte(stderr.String()), []byte("notifications changed"))
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}

	snap, err := snapshot.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", snap.UserID)
	require.Len(t, snap.Notifications, 1)
	assert.Equal(t, "n1", snap.Notifications[0].ID)
	assert.Positive(t, snap.LastSeq)
}

func TestRelayCommandStops(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, _, err := run(ctx, "relay", "--addr", "127.0.0.1:0")
	assert.NoError(t, err)
}
