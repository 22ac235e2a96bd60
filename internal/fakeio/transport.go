// Package fakeio provides an in-memory Engine.IO transport for tests. The
// test plays the server: it pushes packets the client will read and observes
// the packets the client writes.
package fakeio

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pagewire/livesync/pkg/connection"
	"github.com/pagewire/livesync/pkg/engineio"
)

// Transport is the client half of an in-memory connection.
type Transport struct {
	name string

	toClient   chan engineio.Packet
	fromClient chan engineio.Packet

	closeOnce sync.Once
	closed    chan struct{}

	mu       sync.Mutex
	writeErr error
}

var _ connection.Transport = (*Transport)(nil)

func New(name string) *Transport {
	return &Transport{
		name:       name,
		toClient:   make(chan engineio.Packet, 64),
		fromClient: make(chan engineio.Packet, 64),
		closed:     make(chan struct{}),
	}
}

func (t *Transport) Name() string { return t.name }

func (t *Transport) Read(ctx context.Context) (engineio.Packet, error) {
	select {
	case p := <-t.toClient:
		return p, nil
	case <-ctx.Done():
		return engineio.Packet{}, ctx.Err()
	case <-t.closed:
		return engineio.Packet{}, connection.ErrClosed
	}
}

func (t *Transport) Write(ctx context.Context, packets ...engineio.Packet) error {
	t.mu.Lock()
	err := t.writeErr
	t.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case <-t.closed:
		return connection.ErrClosed
	default:
	}

	for _, p := range packets {
		select {
		case t.fromClient <- p:
		case <-ctx.Done():
			return ctx.Err()
		case <-t.closed:
			return connection.ErrClosed
		}
	}
	return nil
}

func (t *Transport) Close(context.Context) error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// Closed is closed once the client or the test closed the transport.
func (t *Transport) Closed() <-chan struct{} {
	return t.closed
}

// FailWrites makes every later Write return err.
func (t *Transport) FailWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

// Push queues packets for the client to read.
func (t *Transport) Push(packets ...engineio.Packet) {
	for _, p := range packets {
		select {
		case t.toClient <- p:
		case <-t.closed:
			return
		}
	}
}

// PushMessage queues a raw Socket.IO packet such as `2["doc:create",{}]`.
func (t *Transport) PushMessage(raw string) {
	t.Push(engineio.NewMessage([]byte(raw)))
}

// Next returns the next packet written by the client.
func (t *Transport) Next(timeout time.Duration) (engineio.Packet, error) {
	select {
	case p := <-t.fromClient:
		return p, nil
	case <-time.After(timeout):
		return engineio.Packet{}, fmt.Errorf("fakeio: no packet written within %v", timeout)
	}
}

// Open queues an open packet with the given heartbeat in milliseconds.
func (t *Transport) Open(sid string, pingInterval, pingTimeout int) {
	p, err := engineio.OpenPacket(engineio.Handshake{
		SID:          sid,
		Upgrades:     []string{},
		PingInterval: pingInterval,
		PingTimeout:  pingTimeout,
		MaxPayload:   1_000_000,
	})
	if err != nil {
		panic(err)
	}
	t.Push(p)
}

// Accept queues an open packet and a connect acknowledgement, so a client
// handshake on t completes at once.
func (t *Transport) Accept(sid string) {
	t.Open(sid, 25000, 20000)
	t.PushMessage(`0{"sid":"` + sid + `"}`)
}

// Event queues an event with a JSON payload and optional meta.
func (t *Transport) Event(name string, payload any, meta ...any) {
	arr := append([]any{name, payload}, meta...)
	data, err := json.Marshal(arr)
	if err != nil {
		panic(err)
	}
	t.PushMessage("2" + string(data))
}

// Dialer hands out transports from a queue. Each entry is either a transport
// or an error to return from Dial. An empty queue makes Dial fail.
type Dialer struct {
	TransportName string

	mu    sync.Mutex
	queue []any
	dials int
}

var _ connection.Dialer = (*Dialer)(nil)

func NewDialer(name string) *Dialer {
	return &Dialer{TransportName: name}
}

// Add queues a transport or an error.
func (d *Dialer) Add(items ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, items...)
}

// Dials reports how many times Dial was called.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *Dialer) Name() string { return d.TransportName }

func (d *Dialer) Dial(ctx context.Context, _ *connection.Config) (connection.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.queue) == 0 {
		return nil, fmt.Errorf("fakeio: %s: connection refused", d.TransportName)
	}
	item := d.queue[0]
	d.queue = d.queue[1:]
	switch v := item.(type) {
	case *Transport:
		return v, nil
	case error:
		return nil, v
	case func() *Transport:
		return v(), nil
	default:
		panic(fmt.Sprintf("fakeio: unexpected dial entry %T", item))
	}
}
