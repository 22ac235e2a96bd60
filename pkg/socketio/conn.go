package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pagewire/livesync/pkg/connection"
	"github.com/pagewire/livesync/pkg/engineio"
	"github.com/pagewire/livesync/pkg/logger"
)

var (
	// ErrHandshake means the server did not complete the connect exchange.
	ErrHandshake = errors.New("socketio: handshake failed")
	// ErrConnectRejected means the server answered the connect with connect_error.
	ErrConnectRejected = errors.New("socketio: connection rejected")
	// ErrDisconnected means the server closed the namespace or the session.
	ErrDisconnected = errors.New("socketio: disconnected by server")
	// ErrHeartbeatTimeout means no ping arrived within pingInterval+pingTimeout.
	ErrHeartbeatTimeout = errors.New("socketio: heartbeat timeout")
)

// Conn is a Socket.IO client connection on the default namespace.
type Conn struct {
	transport connection.Transport
	handshake engineio.Handshake
	sid       string
	logger    logger.Logger

	// writeMu keeps pongs and events from interleaving mid-write.
	writeMu sync.Mutex

	closeOnce sync.Once
}

// Handshake performs the Engine.IO open and Socket.IO connect exchange on t.
// auth is sent as the connect payload and may be nil.
func Handshake(ctx context.Context, t connection.Transport, auth any, log logger.Logger) (*Conn, error) {
	if log == nil {
		log = logger.Discard()
	}

	open, err := t.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read open packet: %w", ErrHandshake, err)
	}
	h, err := engineio.ParseHandshake(open)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	c := &Conn{transport: t, handshake: h, logger: log}

	connect := Packet{Type: Connect, ID: -1}
	if auth != nil {
		data, err := json.Marshal(auth)
		if err != nil {
			return nil, fmt.Errorf("%w: encode auth: %w", ErrHandshake, err)
		}
		connect.Data = data
	}
	if err := c.write(ctx, connect); err != nil {
		return nil, fmt.Errorf("%w: send connect: %w", ErrHandshake, err)
	}

	for {
		p, err := c.next(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
		}
		switch p.Type {
		case Connect:
			var body struct {
				SID string `json:"sid"`
			}
			if len(p.Data) > 0 {
				if err := json.Unmarshal(p.Data, &body); err != nil {
					return nil, fmt.Errorf("%w: connect body: %w", ErrHandshake, err)
				}
			}
			c.sid = body.SID
			return c, nil
		case ConnectError:
			var body struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(p.Data, &body)
			if body.Message == "" {
				body.Message = string(p.Data)
			}
			return nil, connection.Final(fmt.Errorf("%w: %s", ErrConnectRejected, body.Message))
		default:
			log.Debug("ignoring packet before connect", "type", p.Type)
		}
	}
}

// SID returns the Socket.IO session id.
func (c *Conn) SID() string {
	return c.sid
}

// Transport returns the name of the transport in use.
func (c *Conn) Transport() string {
	return c.transport.Name()
}

func (c *Conn) EngineHandshake() engineio.Handshake {
	return c.handshake
}

// next returns the next Socket.IO packet on the default namespace, answering
// pings on the way. It fails with ErrHeartbeatTimeout when the server stays
// silent longer than the negotiated heartbeat.
func (c *Conn) next(ctx context.Context) (Packet, error) {
	for {
		readCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout := c.handshake.HeartbeatTimeout(); timeout > 0 {
			readCtx, cancel = context.WithTimeoutCause(ctx, timeout, ErrHeartbeatTimeout)
		}
		ep, err := c.transport.Read(readCtx)
		cause := context.Cause(readCtx)
		cancel()
		if err != nil {
			if errors.Is(cause, ErrHeartbeatTimeout) && ctx.Err() == nil {
				return Packet{}, ErrHeartbeatTimeout
			}
			return Packet{}, err
		}

		switch ep.Type {
		case engineio.Ping:
			if err := c.writeRaw(ctx, engineio.Packet{Type: engineio.Pong, Data: ep.Data}); err != nil {
				return Packet{}, fmt.Errorf("socketio: pong: %w", err)
			}
		case engineio.Close:
			return Packet{}, ErrDisconnected
		case engineio.Message:
			p, err := Decode(ep.Data)
			if err != nil {
				c.logger.Debug("dropping invalid socket.io packet", "error", err)
				continue
			}
			if p.Namespace != DefaultNamespace {
				continue
			}
			return p, nil
		default:
			// noop, pong, upgrade
		}
	}
}

// Read blocks until the next event from the server.
func (c *Conn) Read(ctx context.Context) (Message, error) {
	for {
		p, err := c.next(ctx)
		if err != nil {
			return Message{}, err
		}
		switch p.Type {
		case Event:
			m, err := p.Message()
			if err != nil {
				c.logger.Debug("dropping invalid event", "error", err)
				continue
			}
			return m, nil
		case Disconnect:
			return Message{}, ErrDisconnected
		default:
			c.logger.Debug("ignoring packet", "type", p.Type)
		}
	}
}

// Emit sends an event with args.
func (c *Conn) Emit(ctx context.Context, name string, args ...any) error {
	p, err := NewEvent(name, args...)
	if err != nil {
		return err
	}
	return c.write(ctx, p)
}

func (c *Conn) write(ctx context.Context, p Packet) error {
	return c.writeRaw(ctx, engineio.NewMessage(p.Encode()))
}

func (c *Conn) writeRaw(ctx context.Context, p engineio.Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.Write(ctx, p)
}

// Close leaves the namespace and closes the transport.
func (c *Conn) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		writeCtx, cancel := context.WithTimeout(ctx, time.Second)
		if werr := c.write(writeCtx, Packet{Type: Disconnect, ID: -1}); werr != nil {
			c.logger.Debug("failed to send disconnect", "error", werr)
		}
		cancel()
		err = c.transport.Close(ctx)
	})
	return err
}
