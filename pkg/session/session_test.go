package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewire/livesync/internal/fakeio"
	"github.com/pagewire/livesync/internal/testenv"
	"github.com/pagewire/livesync/pkg/connection"
	"github.com/pagewire/livesync/pkg/engineio"
	"github.com/pagewire/livesync/pkg/events"
	"github.com/pagewire/livesync/pkg/models"
	"github.com/pagewire/livesync/pkg/signal"
	"github.com/pagewire/livesync/pkg/socketio"
	"github.com/pagewire/livesync/pkg/store"
)

const selfID = "user-1"

type fixture struct {
	session *Session
	dialer  *fakeio.Dialer
	stores  Stores
	bus     *signal.Bus
	logs    *testenv.LogHandler
}

func newFixture(t *testing.T, retryer Retryer) *fixture {
	t.Helper()

	log, logs := testenv.NewLogger()
	bus := signal.NewBus()
	stores := Stores{
		Documents:     store.NewDocumentStore(bus),
		Databases:     store.NewDatabaseStore(),
		Comments:      store.NewCommentStore(),
		Notifications: store.NewNotificationStore(),
		Presence:      store.NewPresenceStore(),
		Signals:       bus,
	}
	dialer := fakeio.NewDialer(connection.TransportWebSocket)
	s := New(Config{
		URL:     "http://relay.test",
		UserID:  selfID,
		Dialers: []connection.Dialer{dialer},
		Retryer: retryer,
		Logger:  log,
	}, stores)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})

	return &fixture{session: s, dialer: dialer, stores: stores, bus: bus, logs: logs}
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, 2*time.Second, 2*time.Millisecond,
		"session never reached %v", want)
}

// connected opens the session over a fresh transport and returns it with the
// connect packet already consumed.
func (f *fixture) connected(t *testing.T) *fakeio.Transport {
	t.Helper()
	tr := fakeio.New(connection.TransportWebSocket)
	tr.Accept("sid-1")
	f.dialer.Add(tr)

	require.NoError(t, f.session.Open(context.Background()))
	waitState(t, f.session, StateConnected)
	_, err := tr.Next(time.Second)
	require.NoError(t, err)
	return tr
}

// barrier pushes a marker event and waits until it has been applied, so
// every event pushed before it has been dispatched too.
func (f *fixture) barrier(t *testing.T, tr *fakeio.Transport) {
	t.Helper()
	id := "barrier-" + time.Now().Format(time.RFC3339Nano)
	tr.Event("doc:create", map[string]any{"document": map[string]any{"id": id, "title": "b"}, "userId": "someone"})
	require.Eventually(t, func() bool {
		_, ok := f.stores.Documents.Find(id)
		return ok
	}, 2*time.Second, 2*time.Millisecond)
}

func seedPage(f *fixture) {
	f.stores.Documents.SetList(store.ListActive, []*models.Document{{ID: "page-1", Title: "Test Page"}})
	f.stores.Documents.SetList(store.ListFavorites, []*models.Document{{ID: "page-1", Title: "Test Page"}})
}

func TestRemoteUpdateApplied(t *testing.T) {
	f := newFixture(t, NewFixedDelayRetryer(time.Millisecond, 3))
	seedPage(f)
	tr := f.connected(t)

	tr.Event("doc:update", map[string]any{"id": "page-1", "userId": "user-2", "title": "Renamed"})
	f.barrier(t, tr)

	state := f.stores.Documents.Snapshot()
	assert.Equal(t, "Renamed", state.List(store.ListActive)[0].Title)
	assert.Equal(t, "Renamed", state.List(store.ListFavorites)[0].Title)
}

func TestSelfEchoSuppressed(t *testing.T) {
	f := newFixture(t, NewFixedDelayRetryer(time.Millisecond, 3))
	seedPage(f)
	tr := f.connected(t)

	tr.Event("doc:update", map[string]any{"id": "page-1", "userId": selfID, "title": "X"})
	f.barrier(t, tr)

	got, ok := f.stores.Documents.Find("page-1")
	require.True(t, ok)
	assert.Equal(t, "Test Page", got.Title)
	assert.Equal(t, 1, f.logs.Count(slog.LevelDebug, "dropping own echo"))
}

func TestMalformedPayloadsDropped(t *testing.T) {
	f := newFixture(t, NewFixedDelayRetryer(time.Millisecond, 3))
	seedPage(f)
	tr := f.connected(t)
	before, _ := f.stores.Documents.Find("page-1")

	tr.PushMessage(`2["doc:update",null]`)
	tr.PushMessage(`2["doc:update",{}]`)
	tr.PushMessage(`2["doc:update",{"id":"page-1"}]`)
	tr.PushMessage(`2["doc:update","page-1"]`)
	tr.PushMessage(`2["no:such:event",{"id":"page-1"}]`)
	tr.PushMessage(`2["doc:update"]`)
	f.barrier(t, tr)

	after, _ := f.stores.Documents.Find("page-1")
	assert.Same(t, before, after)
	assert.Equal(t, 5, f.logs.Count(slog.LevelDebug, "dropping event"))
	assert.Equal(t, StateConnected, f.session.State())
}

func TestMalformedSubtreeDropped(t *testing.T) {
	f := newFixture(t, NewFixedDelayRetryer(time.Millisecond, 3))
	seedPage(f)
	tr := f.connected(t)

	tr.PushMessage(`2["doc:create",{"document":{"id":"evil","children":[null]},"userId":"user-2"}]`)
	tr.PushMessage(`2["doc:create",{"document":{"id":"stray","children":[{"id":"c","parentId":"elsewhere"}]},"userId":"user-2"}]`)
	tr.PushMessage(`2["doc:update",{"id":"page-1","children":[{"id":"c"}],"userId":"user-2"}]`)
	tr.Event("doc:update", map[string]any{"id": "nowhere", "userId": "user-2", "title": "x"})
	tr.Event("doc:update", map[string]any{"id": "page-1", "userId": "user-2", "title": "Still alive"})
	f.barrier(t, tr)

	_, ok := f.stores.Documents.Find("evil")
	assert.False(t, ok)
	_, ok = f.stores.Documents.Find("stray")
	assert.False(t, ok)
	got, ok := f.stores.Documents.Find("page-1")
	require.True(t, ok)
	assert.Equal(t, "Still alive", got.Title)
	assert.Nil(t, got.Children)
	assert.Equal(t, 3, f.logs.Count(slog.LevelDebug, "dropping event"))
	assert.Equal(t, StateConnected, f.session.State())
}

func TestNotificationsNotSuppressed(t *testing.T) {
	f := newFixture(t, NewFixedDelayRetryer(time.Millisecond, 3))
	tr := f.connected(t)

	tr.Event("notification:new", map[string]any{"notification": map[string]any{"id": "n1", "userId": selfID, "type": "mention"}})
	tr.Event("notification:new", map[string]any{"notification": map[string]any{"id": "n2", "userId": "user-2", "type": "mention"}})
	tr.Event("notification:read", map[string]any{"notificationId": "n1"})
	f.barrier(t, tr)

	items := f.stores.Notifications.Notifications()
	require.Len(t, items, 1)
	assert.Equal(t, "n1", items[0].ID)
	assert.True(t, items[0].Read)
}

func TestEventsReachEveryStore(t *testing.T) {
	f := newFixture(t, NewFixedDelayRetryer(time.Millisecond, 3))
	f.stores.Databases.Load("db-1", nil, []models.Row{{ID: "row-1"}})
	tr := f.connected(t)

	var favorites atomic.Int32
	f.bus.Subscribe(signal.FavoritesChanged, func() { favorites.Add(1) })

	tr.Event("db:cell:update", map[string]any{"databaseId": "db-1", "rowId": "row-1", "propertyId": "p", "value": "todo", "userId": "user-2"})
	tr.Event("db:cell:update", map[string]any{"databaseId": "db-1", "rowId": "row-1", "propertyId": "p", "value": "done", "userId": "user-2"})
	tr.Event("comment:create", map[string]any{"comment": map[string]any{"id": "c1", "pageId": "page-1", "content": "hi"}, "userId": "user-2"})
	tr.Event("comment:resolve", map[string]any{"commentId": "c1", "pageId": "page-1", "resolved": true, "resolvedBy": "user-2", "userId": "user-2"})
	tr.Event("presence:join", map[string]any{"pageId": "page-1", "userId": "user-2", "name": "Bo"})
	tr.Event("presence:cursor", map[string]any{"pageId": "page-1", "userId": "user-2", "position": map[string]any{"blockId": "b1", "offset": 3}})
	tr.Event("favorite:add", map[string]any{"documentId": "page-1", "userId": "user-2"})
	f.barrier(t, tr)

	row := f.stores.Databases.Rows("db-1")[0]
	require.Len(t, row.Cells, 1)
	assert.JSONEq(t, `"done"`, string(row.Cells[0].Value))

	comments := f.stores.Comments.Comments("page-1")
	require.Len(t, comments, 1)
	assert.True(t, comments[0].Resolved)

	entry, ok := f.stores.Presence.Entry("page-1", "user-2")
	require.True(t, ok)
	assert.Equal(t, "Bo", entry.Name)
	require.NotNil(t, entry.Cursor)
	assert.Equal(t, 3, entry.Cursor.Offset)

	assert.EqualValues(t, 1, favorites.Load())
	assert.Empty(t, f.stores.Documents.Snapshot().List(store.ListFavorites))
}

func TestReconnectFailedIsTerminal(t *testing.T) {
	f := newFixture(t, NewFixedDelayRetryer(time.Millisecond, 3))

	require.NoError(t, f.session.Open(context.Background()))
	waitState(t, f.session, StateReconnectFailed)
	assert.Equal(t, 4, f.dialer.Dials())
	assert.Equal(t, 4, f.logs.Count(slog.LevelError, "connect_error"))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 4, f.dialer.Dials(), "nothing is scheduled after giving up")
	assert.False(t, f.session.IsConnected())

	tr := fakeio.New(connection.TransportWebSocket)
	tr.Accept("sid-2")
	f.dialer.Add(tr)
	require.NoError(t, f.session.Reconnect(context.Background()))
	waitState(t, f.session, StateConnected)
}

func TestReconnectResumesAndClearsPresence(t *testing.T) {
	f := newFixture(t, NewFixedDelayRetryer(time.Millisecond, 3))
	first := f.connected(t)

	first.Event("presence:join", map[string]any{"pageId": "page-1", "userId": "user-2"}, map[string]any{"seq": 5})
	f.barrier(t, first)
	require.Len(t, f.stores.Presence.Users("page-1"), 1)
	assert.Equal(t, int64(5), f.session.LastSeq())

	watch, cancel := f.session.Watch()
	defer cancel()

	second := fakeio.New(connection.TransportWebSocket)
	second.Accept("sid-2")
	f.dialer.Add(second)
	require.NoError(t, first.Close(context.Background()))

	assert.Equal(t, StateReconnecting, <-watch)
	assert.Equal(t, StateConnected, <-watch)
	assert.Empty(t, f.stores.Presence.Users("page-1"))

	connect, err := second.Next(time.Second)
	require.NoError(t, err)
	p, err := socketio.Decode(connect.Data)
	require.NoError(t, err)
	require.Equal(t, socketio.Connect, p.Type)
	var auth map[string]any
	require.NoError(t, json.Unmarshal(p.Data, &auth))
	assert.Equal(t, selfID, auth["userId"])
	assert.EqualValues(t, 5, auth["lastSeq"])
}

func TestTransportPanicRecovered(t *testing.T) {
	f := newFixture(t, NewFixedDelayRetryer(time.Millisecond, 3))
	watch, cancel := f.session.Watch()
	defer cancel()

	f.dialer.Add(func() *fakeio.Transport { panic("boom") })
	tr := fakeio.New(connection.TransportWebSocket)
	tr.Accept("sid-1")
	f.dialer.Add(tr)

	require.NoError(t, f.session.Open(context.Background()))

	var seen []State
	timeout := time.After(2 * time.Second)
	for len(seen) == 0 || seen[len(seen)-1] != StateConnected {
		select {
		case st := <-watch:
			seen = append(seen, st)
		case <-timeout:
			t.Fatalf("never connected, saw %v", seen)
		}
	}
	assert.Equal(t, []State{StateConnecting, StateDisconnected, StateReconnecting, StateConnected}, seen)
	assert.Equal(t, 1, f.logs.Count(slog.LevelError, "transport constructor panicked"))
}

func TestNoHandlerAfterClose(t *testing.T) {
	f := newFixture(t, NewFixedDelayRetryer(time.Millisecond, 3))
	seedPage(f)
	tr := f.connected(t)

	var changes atomic.Int32
	f.stores.Documents.Subscribe(func(store.DocumentState) { changes.Add(1) })

	require.NoError(t, f.session.Close(context.Background()))
	assert.Equal(t, StateClosed, f.session.State())
	<-tr.Closed()

	f.session.handle(socketio.Message{
		Name: "doc:update",
		Args: []json.RawMessage{json.RawMessage(`{"id":"page-1","userId":"user-2","title":"late"}`)},
	})
	assert.Zero(t, changes.Load())

	assert.ErrorIs(t, f.session.Emit(context.Background(), &events.DocDelete{ID: "page-1", UserID: selfID}), ErrClosed)
	assert.Error(t, f.session.Close(context.Background()))
	assert.ErrorIs(t, f.session.Open(context.Background()), ErrClosed)
}

func TestEmit(t *testing.T) {
	f := newFixture(t, NewFixedDelayRetryer(time.Millisecond, 3))

	err := f.session.Emit(context.Background(), &events.DocUpdate{ID: "page-1", UserID: selfID})
	assert.ErrorIs(t, err, ErrNotConnected)

	tr := f.connected(t)
	require.NoError(t, f.session.Emit(context.Background(), &events.DocUpdate{
		ID:            "page-1",
		UserID:        selfID,
		DocumentPatch: models.DocumentPatch{Title: models.Some("New")},
	}))

	sent, err := tr.Next(time.Second)
	require.NoError(t, err)
	require.Equal(t, engineio.Message, sent.Type)
	p, err := socketio.Decode(sent.Data)
	require.NoError(t, err)
	msg, err := p.Message()
	require.NoError(t, err)
	assert.Equal(t, "doc:update", msg.Name)
	assert.JSONEq(t, `{"id":"page-1","userId":"user-1","title":"New"}`, string(msg.Payload()))

	err = f.session.Emit(context.Background(), &events.DocUpdate{})
	assert.ErrorIs(t, err, events.ErrMalformedPayload)
}

func TestOpenTwice(t *testing.T) {
	f := newFixture(t, NewFixedDelayRetryer(time.Millisecond, 3))
	f.connected(t)
	assert.ErrorIs(t, f.session.Open(context.Background()), ErrAlreadyOpen)
}

func TestContext(t *testing.T) {
	f := newFixture(t, nil)

	_, ok := FromContext(context.Background())
	assert.False(t, ok)
	assert.Panics(t, func() { MustFromContext(context.Background()) })

	ctx := WithSession(context.Background(), f.session)
	assert.Same(t, f.session, MustFromContext(ctx))
}
