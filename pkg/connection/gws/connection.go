// Package gws is a websocket transport built on lxzan/gws, an alternative to
// the gorilla based transport with lower per-connection overhead.
package gws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lxzan/gws"

	"github.com/pagewire/livesync/pkg/connection"
	"github.com/pagewire/livesync/pkg/engineio"
	"github.com/pagewire/livesync/pkg/logger"
)

// Name selects this transport in a transport list. On the wire it is still
// the Engine.IO websocket transport.
const Name = "gws"

// Dialer opens websocket transports with gws.
type Dialer struct {
	// Compression enables permessage-deflate.
	Compression bool
}

func NewDialer() *Dialer {
	return &Dialer{Compression: true}
}

func (d *Dialer) Name() string {
	return connection.TransportWebSocket
}

func (d *Dialer) Dial(ctx context.Context, cfg *connection.Config) (connection.Transport, error) {
	u, err := cfg.Endpoint(connection.TransportWebSocket, "")
	if err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}

	// gws dials without a context, so the deadline becomes its handshake timeout.
	timeout := connection.DefaultDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, ctx.Err()
		}
	}

	header := http.Header{}
	for k, vs := range cfg.Header {
		header[k] = append([]string(nil), vs...)
	}

	c := &Connection{
		logger:  log,
		packets: make(chan engineio.Packet, 16),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	socket, res, err := gws.NewClient(c, &gws.ClientOption{
		Addr:             u.String(),
		RequestHeader:    header,
		HandshakeTimeout: timeout,
		PermessageDeflate: gws.PermessageDeflate{
			Enabled: d.Compression,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gws: dial %s: %w", u.Redacted(), err)
	}
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}
	c.socket = socket

	go func() {
		defer close(c.done)
		socket.ReadLoop()
	}()

	return c, nil
}

// Connection is a websocket transport driven by the gws read loop. It
// implements gws.Event; every Engine.IO packet is one text frame.
type Connection struct {
	socket *gws.Conn
	logger logger.Logger

	packets chan engineio.Packet

	closeCh   chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	closeErr  error

	// done is closed when the read loop returns.
	done chan struct{}
}

var (
	_ connection.Transport = (*Connection)(nil)
	_ gws.Event            = (*Connection)(nil)
)

func (c *Connection) Name() string {
	return connection.TransportWebSocket
}

func (c *Connection) Read(ctx context.Context) (engineio.Packet, error) {
	select {
	case p := <-c.packets:
		return p, nil
	case <-ctx.Done():
		return engineio.Packet{}, ctx.Err()
	case <-c.closeCh:
		select {
		case p := <-c.packets:
			return p, nil
		default:
		}
		return engineio.Packet{}, c.closeError()
	}
}

func (c *Connection) Write(ctx context.Context, packets ...engineio.Packet) error {
	select {
	case <-c.closeCh:
		return c.closeError()
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.socket.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("gws: set write deadline: %w", err)
		}
		defer func() { _ = c.socket.SetWriteDeadline(time.Time{}) }()
	}

	// gws serializes concurrent writers itself.
	for _, p := range packets {
		if err := c.socket.WriteMessage(gws.OpcodeText, p.Encode()); err != nil {
			return fmt.Errorf("gws: write: %w", err)
		}
	}
	return nil
}

// Close sends a close frame and waits for the read loop to stop, or for ctx.
func (c *Connection) Close(ctx context.Context) error {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.setCloseError(connection.ErrClosed)
		close(c.closeCh)
	})
	if first {
		c.socket.WriteClose(connection.CloseMessageCode, nil)
		_ = c.socket.NetConn().Close()
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) setCloseError(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.closeErr == nil {
		c.closeErr = err
	}
}

func (c *Connection) closeError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.closeErr == nil {
		return connection.ErrClosed
	}
	return c.closeErr
}

func (c *Connection) OnOpen(*gws.Conn) {}

func (c *Connection) OnClose(_ *gws.Conn, err error) {
	c.closeOnce.Do(func() {
		var ce *gws.CloseError
		switch {
		case errors.As(err, &ce) && (ce.Code == 1000 || ce.Code == 1001):
			c.logger.Debug("websocket closed by server", "code", ce.Code)
		case err != nil:
			c.logger.Error("websocket read failed", "error", err)
		}
		if err == nil {
			err = connection.ErrClosed
		}
		c.setCloseError(fmt.Errorf("gws: read: %w", err))
		close(c.closeCh)
	})
}

func (c *Connection) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.WritePong(payload)
}

func (c *Connection) OnPong(*gws.Conn, []byte) {}

func (c *Connection) OnMessage(_ *gws.Conn, message *gws.Message) {
	defer message.Close()

	p, err := engineio.Decode(message.Bytes())
	if err != nil {
		c.logger.Debug("dropping invalid engine.io packet", "error", err)
		return
	}
	select {
	case c.packets <- p:
	case <-c.closeCh:
	}
}
