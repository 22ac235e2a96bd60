// Package polling implements the Engine.IO HTTP long-polling transport, used
// when a websocket cannot be established.
package polling

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/pagewire/livesync/pkg/connection"
	"github.com/pagewire/livesync/pkg/engineio"
	"github.com/pagewire/livesync/pkg/logger"
)

// Dialer opens long-polling transports.
type Dialer struct {
	// Client must not set a Timeout shorter than the server's ping
	// interval, because a poll is held open until the server has data.
	Client *http.Client
}

func NewDialer() *Dialer {
	return &Dialer{Client: &http.Client{}}
}

func (d *Dialer) Name() string {
	return connection.TransportPolling
}

func (d *Dialer) Dial(ctx context.Context, cfg *connection.Config) (connection.Transport, error) {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}

	c := &Connection{
		cfg:     cfg,
		client:  client,
		logger:  log,
		packets: make(chan engineio.Packet, 64),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}

	// The first poll carries the open packet, which names the sid every
	// later request must send.
	packets, err := c.get(ctx, "")
	if err != nil {
		return nil, err
	}
	if len(packets) == 0 {
		return nil, fmt.Errorf("polling: %w: empty handshake response", engineio.ErrInvalidPacket)
	}
	h, err := engineio.ParseHandshake(packets[0])
	if err != nil {
		return nil, fmt.Errorf("polling: %w", err)
	}
	c.sid = h.SID
	for _, p := range packets {
		c.packets <- p
	}

	var pollCtx context.Context
	pollCtx, c.cancelPoll = context.WithCancel(context.Background())
	go c.pollLoop(pollCtx)

	return c, nil
}

// Connection is a long-polling transport. A background loop keeps one GET
// outstanding; writes are sent as separate POSTs.
type Connection struct {
	cfg    *connection.Config
	client *http.Client
	logger logger.Logger
	sid    string

	packets    chan engineio.Packet
	cancelPoll context.CancelFunc

	closeCh   chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	closeErr  error
	done      chan struct{}

	// writeMu keeps POSTs in order.
	writeMu sync.Mutex
}

var _ connection.Transport = (*Connection)(nil)

func (c *Connection) Name() string {
	return connection.TransportPolling
}

// SID returns the Engine.IO session id assigned by the server.
func (c *Connection) SID() string {
	return c.sid
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
	return c.post(ctx, packets...)
}

func (c *Connection) post(ctx context.Context, packets ...engineio.Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	u, err := c.cfg.Endpoint(connection.TransportPolling, c.sid)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(engineio.EncodePayload(packets...)))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("polling: post: %w", err)
	}
	return nil
}

func (c *Connection) get(ctx context.Context, sid string) ([]engineio.Packet, error) {
	u, err := c.cfg.Endpoint(connection.TransportPolling, sid)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("polling: get: %w", err)
	}
	return engineio.DecodePayload(body)
}

func (c *Connection) setHeaders(req *http.Request) {
	for k, vs := range c.cfg.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}

func (c *Connection) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}

func (c *Connection) pollLoop(ctx context.Context) {
	defer close(c.done)

	for {
		packets, err := c.get(ctx, c.sid)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("long poll failed", "error", err)
				c.closeWithError(err)
			}
			return
		}

		for _, p := range packets {
			select {
			case c.packets <- p:
			case <-ctx.Done():
				return
			}
			if p.Type == engineio.Close {
				c.closeWithError(io.EOF)
				return
			}
		}
	}
}

func (c *Connection) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.closeErr = err
		c.errMu.Unlock()
		close(c.closeCh)
	})
}

func (c *Connection) closeError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.closeErr == nil || errors.Is(c.closeErr, io.EOF) {
		return connection.ErrClosed
	}
	return c.closeErr
}

// Close sends an Engine.IO close packet when the server has not already
// ended the session, then stops the poll loop.
func (c *Connection) Close(ctx context.Context) error {
	select {
	case <-c.closeCh:
	default:
		if err := c.post(ctx, engineio.Packet{Type: engineio.Close}); err != nil {
			c.logger.Debug("failed to post close packet", "error", err)
		}
	}
	c.closeWithError(connection.ErrClosed)
	c.cancelPoll()

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
