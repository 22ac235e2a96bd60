package socketio_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewire/livesync/internal/fakeio"
	"github.com/pagewire/livesync/pkg/connection"
	"github.com/pagewire/livesync/pkg/engineio"
	"github.com/pagewire/livesync/pkg/socketio"
)

func TestHandshake(t *testing.T) {
	ctx := context.Background()
	tr := fakeio.New(connection.TransportWebSocket)
	tr.Accept("sid-1")

	conn, err := socketio.Handshake(ctx, tr, map[string]any{"userId": "user-1", "lastSeq": 7}, nil)
	require.NoError(t, err)
	assert.Equal(t, "sid-1", conn.SID())
	assert.Equal(t, connection.TransportWebSocket, conn.Transport())
	assert.Equal(t, 25000, conn.EngineHandshake().PingInterval)

	sent, err := tr.Next(time.Second)
	require.NoError(t, err)
	assert.Equal(t, engineio.Message, sent.Type)
	assert.Equal(t, byte('0'), sent.Data[0])
	assert.JSONEq(t, `{"userId":"user-1","lastSeq":7}`, string(sent.Data[1:]))
}

func TestHandshakeRejected(t *testing.T) {
	tr := fakeio.New(connection.TransportWebSocket)
	tr.Open("sid-1", 25000, 20000)
	tr.PushMessage(`4{"message":"invalid token"}`)

	_, err := socketio.Handshake(context.Background(), tr, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, socketio.ErrConnectRejected)
	assert.Contains(t, err.Error(), "invalid token")
}

func TestHandshakeWithoutOpen(t *testing.T) {
	tr := fakeio.New(connection.TransportPolling)
	tr.PushMessage(`0{"sid":"x"}`)

	_, err := socketio.Handshake(context.Background(), tr, nil, nil)
	assert.ErrorIs(t, err, socketio.ErrHandshake)
}

func TestReadAnswersPings(t *testing.T) {
	ctx := context.Background()
	tr := fakeio.New(connection.TransportWebSocket)
	tr.Accept("sid-1")
	conn, err := socketio.Handshake(ctx, tr, nil, nil)
	require.NoError(t, err)
	_, _ = tr.Next(time.Second) // connect

	tr.Push(engineio.Packet{Type: engineio.Ping})
	tr.PushMessage(`2/other,["ignored"]`)
	tr.PushMessage(`2["doc:delete",{"id":"a","userId":"u"},{"seq":3}]`)

	msg, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "doc:delete", msg.Name)
	assert.JSONEq(t, `{"seq":3}`, string(msg.Meta()))

	pong, err := tr.Next(time.Second)
	require.NoError(t, err)
	assert.Equal(t, engineio.Pong, pong.Type)
}

func TestReadDisconnect(t *testing.T) {
	ctx := context.Background()
	tr := fakeio.New(connection.TransportWebSocket)
	tr.Accept("sid-1")
	conn, err := socketio.Handshake(ctx, tr, nil, nil)
	require.NoError(t, err)

	tr.PushMessage(`1`)
	_, err = conn.Read(ctx)
	assert.ErrorIs(t, err, socketio.ErrDisconnected)
}

func TestHeartbeatTimeout(t *testing.T) {
	ctx := context.Background()
	tr := fakeio.New(connection.TransportWebSocket)
	tr.Open("sid-1", 20, 20)
	tr.PushMessage(`0{"sid":"sid-1"}`)
	conn, err := socketio.Handshake(ctx, tr, nil, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = conn.Read(ctx)
	assert.ErrorIs(t, err, socketio.ErrHeartbeatTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEmitAndClose(t *testing.T) {
	ctx := context.Background()
	tr := fakeio.New(connection.TransportWebSocket)
	tr.Accept("sid-1")
	conn, err := socketio.Handshake(ctx, tr, nil, nil)
	require.NoError(t, err)
	_, _ = tr.Next(time.Second)

	require.NoError(t, conn.Emit(ctx, "presence:join", map[string]string{"pageId": "p"}))
	sent, err := tr.Next(time.Second)
	require.NoError(t, err)
	p, err := socketio.Decode(sent.Data)
	require.NoError(t, err)
	msg, err := p.Message()
	require.NoError(t, err)
	assert.Equal(t, "presence:join", msg.Name)
	var body map[string]string
	require.NoError(t, json.Unmarshal(msg.Payload(), &body))
	assert.Equal(t, "p", body["pageId"])

	require.NoError(t, conn.Close(ctx))
	require.NoError(t, conn.Close(ctx))
	<-tr.Closed()

	err = conn.Emit(ctx, "presence:leave", nil)
	assert.True(t, errors.Is(err, connection.ErrClosed))
}
