package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/pagewire/livesync/pkg/connection"
	"github.com/pagewire/livesync/pkg/engineio"
	"github.com/pagewire/livesync/pkg/logger"
)

// DefaultDialer is the gorilla dialer used when Dialer.Dialer is nil.
//
// It is the default gorilla dialer with EnableCompression set to true.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
}

// Dialer opens websocket transports.
type Dialer struct {
	Dialer *gorilla.Dialer
}

func NewDialer() *Dialer {
	return &Dialer{Dialer: DefaultDialer}
}

func (d *Dialer) Name() string {
	return connection.TransportWebSocket
}

func (d *Dialer) Dial(ctx context.Context, cfg *connection.Config) (connection.Transport, error) {
	u, err := cfg.Endpoint(connection.TransportWebSocket, "")
	if err != nil {
		return nil, err
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = DefaultDialer
	}
	conn, res, err := dialer.DialContext(ctx, u.String(), cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("gorillaws: dial %s: %w", u.Redacted(), err)
	}
	defer res.Body.Close()

	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	return newConnection(conn, log), nil
}

// Connection is a websocket transport. Each Engine.IO packet is one text frame.
type Connection struct {
	conn *gorilla.Conn
	// connLock serializes writes, and guards conn against use after Close.
	connLock sync.Mutex

	logger logger.Logger

	packets chan engineio.Packet

	// connCloseCh signals that the connection is being closed.
	// It stops the readLoop goroutine and makes Read and Write fail fast.
	connCloseCh chan struct{}
	closeOnce   sync.Once
	// closed is set by the first Close call. The websocket itself is
	// released only once even if the server went away first.
	closed bool

	errMu          sync.Mutex
	connCloseError error

	readLoopDone chan struct{}
}

var _ connection.Transport = (*Connection)(nil)

func newConnection(conn *gorilla.Conn, log logger.Logger) *Connection {
	c := &Connection{
		conn:         conn,
		logger:       log,
		packets:      make(chan engineio.Packet, 16),
		connCloseCh:  make(chan struct{}),
		readLoopDone: make(chan struct{}),
	}

	// The read loop runs until connCloseCh is closed or a read error
	// indicating a lost connection occurs.
	go c.readLoop()

	return c
}

func (c *Connection) Name() string {
	return connection.TransportWebSocket
}

func (c *Connection) Read(ctx context.Context) (engineio.Packet, error) {
	select {
	case p := <-c.packets:
		return p, nil
	case <-ctx.Done():
		return engineio.Packet{}, ctx.Err()
	case <-c.connCloseCh:
		// drain what the read loop delivered before it stopped
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
	case <-c.connCloseCh:
		return c.closeError()
	default:
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("gorillaws: set write deadline: %w", err)
		}
		defer func() {
			if err := c.conn.SetWriteDeadline(time.Time{}); err != nil {
				c.logger.Error("BUG: gorillaws failed to reset write deadline", "error", err)
			}
		}()
	}

	for _, p := range packets {
		err := c.conn.WriteMessage(gorilla.TextMessage, p.Encode())
		if errors.Is(err, gorilla.ErrCloseSent) {
			c.closeWithError(err)
		}
		if err != nil {
			return fmt.Errorf("gorillaws: write: %w", err)
		}
	}
	return nil
}

// Close sends a websocket close frame and closes the connection.
//
// The close frame write is bounded by ctx. If ctx is done first the
// underlying connection is closed anyway.
func (c *Connection) Close(ctx context.Context) error {
	c.closeWithError(connection.ErrClosed)

	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	// Phase 1: tell the server we are leaving.
	writeErr := make(chan error, 1)
	go func() {
		if deadline, ok := ctx.Deadline(); ok {
			if err := c.conn.SetWriteDeadline(deadline); err != nil {
				writeErr <- fmt.Errorf("BUG: gorillaws failed to set write deadline: %w", err)
				return
			}
		}
		writeErr <- c.conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(connection.CloseMessageCode, ""))
	}()

	select {
	case err := <-writeErr:
		if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, gorilla.ErrCloseSent) {
			c.logger.Debug("failed to write close message", "error", err)
		}
	case <-ctx.Done():
	}

	// Phase 2: close locally regardless of whether the server heard us.
	err := c.conn.Close()
	<-c.readLoopDone
	return err
}

func (c *Connection) setCloseError(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.connCloseError == nil {
		c.connCloseError = err
	}
}

func (c *Connection) closeError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.connCloseError == nil {
		return connection.ErrClosed
	}
	return c.connCloseError
}

func (c *Connection) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.setCloseError(err)
		close(c.connCloseCh)
	})
}

func (c *Connection) readLoop() {
	defer close(c.readLoopDone)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.handleError(err)
			return
		}

		p, err := engineio.Decode(data)
		if err != nil {
			c.logger.Debug("dropping invalid engine.io packet", "error", err)
			continue
		}

		select {
		case c.packets <- p:
		case <-c.connCloseCh:
			return
		}
	}
}

func (c *Connection) handleError(err error) {
	select {
	case <-c.connCloseCh:
		// closed locally, the read error is expected
		return
	default:
	}

	if gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) {
		c.logger.Debug("websocket closed by server", "error", err)
	} else {
		c.logger.Error("websocket read failed", "error", err)
	}
	c.closeWithError(fmt.Errorf("gorillaws: read: %w", err))
}
