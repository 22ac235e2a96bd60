package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/buger/jsonparser"

	"github.com/pagewire/livesync/pkg/connection"
	"github.com/pagewire/livesync/pkg/events"
	"github.com/pagewire/livesync/pkg/logger"
	"github.com/pagewire/livesync/pkg/socketio"
	"github.com/pagewire/livesync/pkg/store"
)

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session: closed")
	// ErrNotConnected is returned by Emit while no connection is established.
	ErrNotConnected = errors.New("session: not connected")
	// ErrAlreadyOpen is returned by a second Open.
	ErrAlreadyOpen = errors.New("session: already open")
)

// DefaultHandshakeTimeout bounds one dial plus Socket.IO handshake.
const DefaultHandshakeTimeout = 20 * time.Second

type Config struct {
	// URL is the relay origin, such as "http://localhost:3001".
	URL string
	// Path defaults to connection.DefaultPath.
	Path string
	// UserID identifies the session user. Mutations that originate from
	// this user are not applied when they echo back.
	UserID string
	// Token is sent in the Socket.IO connect auth.
	Token  string
	Header http.Header

	// Dialers are tried in order on every connection attempt.
	Dialers []connection.Dialer
	// Retryer paces reconnection. Defaults to NewExponentialBackoffRetryer.
	Retryer Retryer

	HandshakeTimeout time.Duration
	Logger           logger.Logger
}

// Stores receive remote events. A nil store ignores its events.
type Stores struct {
	Documents     *store.DocumentStore
	Databases     *store.DatabaseStore
	Comments      *store.CommentStore
	Notifications *store.NotificationStore
	Presence      *store.PresenceStore
	Signals       store.Publisher
}

// Session owns one long-lived realtime connection and applies what arrives
// on it to the stores.
//
// Events are applied on a single goroutine in transport order. Store state is
// never cleared on disconnect; only presence, which peers re-announce, is
// dropped on reconnection.
type Session struct {
	cfg    Config
	stores Stores
	logger logger.Logger

	// dispatchMu is held while a handler runs. Close takes it to guarantee
	// that no handler fires after Close returns.
	dispatchMu sync.Mutex
	handlers   map[events.Name]handler

	state   State
	stateMu sync.Mutex
	watch   watchers

	connMu sync.Mutex
	conn   *socketio.Conn

	lastSeq atomic.Int64

	opened      bool
	everOnline  bool
	reconnectCh chan struct{}
	// closeCh signals the run loop to stop.
	closeCh chan struct{}
	// loopDoneCh is closed when the run loop has exited, so Close can wait
	// for it.
	loopDoneCh chan struct{}
}

func New(cfg Config, stores Stores) *Session {
	if cfg.Retryer == nil {
		cfg.Retryer = NewExponentialBackoffRetryer()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}

	return &Session{
		cfg:         cfg,
		stores:      stores,
		logger:      cfg.Logger,
		state:       StateDisconnected,
		reconnectCh: make(chan struct{}, 1),
		closeCh:     make(chan struct{}),
		loopDoneCh:  make(chan struct{}),
	}
}

func (s *Session) UserID() string {
	return s.cfg.UserID
}

// State returns the current connection state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// Transport returns the name of the transport in use, or "" while no
// connection is established.
func (s *Session) Transport() string {
	if conn := s.currentConn(); conn != nil {
		return conn.Transport()
	}
	return ""
}

// Watch returns a channel that receives every state change until cancel is
// called. Slow receivers miss intermediate states rather than blocking the
// session.
func (s *Session) Watch() (<-chan State, func()) {
	return s.watch.add()
}

// LastSeq returns the highest relay sequence number applied so far.
func (s *Session) LastSeq() int64 {
	return s.lastSeq.Load()
}

// SetLastSeq seeds the sequence to resume from, typically from a snapshot.
func (s *Session) SetLastSeq(seq int64) {
	s.observeSeq(seq)
}

func (s *Session) observeSeq(seq int64) {
	for {
		cur := s.lastSeq.Load()
		if seq <= cur || s.lastSeq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

func (s *Session) transitionTo(newState State) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.state == StateClosed && newState != StateClosed {
		return ErrClosed
	}
	if err := s.state.validateTransitionTo(newState); err != nil {
		return err
	}

	s.state = newState
	s.logger.Debug("session state transitioned", "new_state", newState)
	s.watch.notify(newState, s.logger)

	return nil
}

func (s *Session) mustTransitionTo(newState State) {
	err := s.transitionTo(newState)
	if err != nil && !errors.Is(err, ErrClosed) {
		s.logger.Error("BUG: session failed to transition state", "error", err)
	}
}

// Open builds the dispatch table and starts connecting.
//
// Open does not wait for the connection. A failed first attempt is retried in
// the background like any lost connection; State and Watch report progress.
func (s *Session) Open(ctx context.Context) error {
	s.stateMu.Lock()
	if s.state == StateClosed {
		s.stateMu.Unlock()
		return ErrClosed
	}
	if s.opened {
		s.stateMu.Unlock()
		return ErrAlreadyOpen
	}
	s.opened = true
	s.stateMu.Unlock()

	s.dispatchMu.Lock()
	s.handlers = s.dispatchTable()
	s.dispatchMu.Unlock()

	if err := s.transitionTo(StateConnecting); err != nil {
		return err
	}

	go s.run()
	return nil
}

// Reconnect restarts connection attempts after the session gave up in
// StateReconnectFailed. It is a no-op in any other state.
func (s *Session) Reconnect(ctx context.Context) error {
	if s.State() == StateClosed {
		return ErrClosed
	}
	select {
	case s.reconnectCh <- struct{}{}:
	default:
	}
	return nil
}

// Close stops the reconnection loop, removes every handler and closes the
// connection. Once Close returns no store is touched by this session again.
func (s *Session) Close(ctx context.Context) error {
	s.stateMu.Lock()
	wasOpen := s.opened
	s.stateMu.Unlock()

	if err := s.transitionTo(StateClosed); err != nil {
		return fmt.Errorf("session is already closed: %w", err)
	}

	s.dispatchMu.Lock()
	s.handlers = nil
	s.dispatchMu.Unlock()

	close(s.closeCh)

	var closeErr error
	if conn := s.currentConn(); conn != nil {
		closeErr = conn.Close(ctx)
	}

	if wasOpen {
		select {
		case <-s.loopDoneCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return closeErr
}

func (s *Session) closing() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}

func (s *Session) currentConn() *socketio.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

func (s *Session) setConn(c *socketio.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conn = c
}

// Emit sends ev to the relay. The caller applies its own optimistic change to
// the stores; the echo of ev is suppressed on arrival.
func (s *Session) Emit(ctx context.Context, ev events.Event) error {
	if s.closing() {
		return ErrClosed
	}
	name, payload, err := events.Encode(ev)
	if err != nil {
		return err
	}
	conn := s.currentConn()
	if conn == nil || !s.IsConnected() {
		return ErrNotConnected
	}
	if err := conn.Emit(ctx, string(name), payload); err != nil {
		return fmt.Errorf("session: emit %s: %w", name, err)
	}
	return nil
}

func (s *Session) auth() map[string]any {
	auth := map[string]any{}
	if s.cfg.UserID != "" {
		auth["userId"] = s.cfg.UserID
	}
	if s.cfg.Token != "" {
		auth["token"] = s.cfg.Token
	}
	if seq := s.LastSeq(); seq > 0 {
		auth["lastSeq"] = seq
	}
	return auth
}

// connect dials the transports in order and performs the handshake on the
// first one that answers. A panic while constructing a transport is recovered
// and reported as an error.
func (s *Session) connect(ctx context.Context) (conn *socketio.Conn, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("transport constructor panicked", "panic", fmt.Sprint(r))
			conn, err = nil, fmt.Errorf("%w: %v", errTransportPanic, r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	cfg := &connection.Config{
		BaseURL: s.cfg.URL,
		Path:    s.cfg.Path,
		Header:  s.cfg.Header,
		Logger:  s.logger,
	}
	_, err = connection.DialFirst(ctx, cfg, s.cfg.Dialers, func(t connection.Transport) error {
		c, err := socketio.Handshake(ctx, t, s.auth(), s.logger)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

var errTransportPanic = errors.New("session: transport constructor panicked")

// run is the reconnection loop. It owns the connection: it connects, reads
// until the connection is lost, and retries as the Retryer allows.
func (s *Session) run() {
	defer close(s.loopDoneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	attempt := 0
	for {
		conn, err := s.connect(ctx)
		if s.closing() {
			if conn != nil {
				_ = conn.Close(context.Background())
			}
			return
		}

		if err == nil {
			attempt = 0
			s.cfg.Retryer.Reset()
			s.online(conn)

			err = s.readLoop(ctx, conn)
			s.setConn(nil)
			_ = conn.Close(context.Background())
			if s.closing() {
				return
			}
			s.logger.Warn("session lost connection", "error", err)
			s.mustTransitionTo(StateReconnecting)
			continue
		}

		s.logger.Error("connect_error", "error", err, "attempt", attempt)
		if errors.Is(err, errTransportPanic) {
			s.mustTransitionTo(StateDisconnected)
		}

		delay, ok := s.cfg.Retryer.NextDelay(attempt, err)
		attempt++
		if !ok {
			if s.State() == StateDisconnected {
				s.mustTransitionTo(StateReconnecting)
			}
			s.mustTransitionTo(StateReconnectFailed)
			s.logger.Error("session gave up reconnecting", "attempts", attempt)
			select {
			case <-s.closeCh:
				return
			case <-s.reconnectCh:
			}
			attempt = 0
			s.cfg.Retryer.Reset()
			s.mustTransitionTo(StateConnecting)
			continue
		}

		if st := s.State(); st != StateReconnecting {
			s.mustTransitionTo(StateReconnecting)
		}
		s.logger.Debug("session is waiting before reconnecting", "delay", delay)
		select {
		case <-s.closeCh:
			return
		case <-time.After(delay):
		}
	}
}

func (s *Session) online(conn *socketio.Conn) {
	s.setConn(conn)

	s.stateMu.Lock()
	reconnected := s.everOnline
	s.everOnline = true
	s.stateMu.Unlock()

	if reconnected && s.stores.Presence != nil {
		s.dispatchMu.Lock()
		if s.handlers != nil {
			s.stores.Presence.Clear()
		}
		s.dispatchMu.Unlock()
	}

	s.mustTransitionTo(StateConnected)
	s.logger.Info("session connected", "transport", conn.Transport(), "sid", conn.SID(), "last_seq", s.LastSeq())
}

func (s *Session) readLoop(ctx context.Context, conn *socketio.Conn) error {
	for {
		msg, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		s.handle(msg)
	}
}

// handle decodes msg and runs its handler. Unknown and malformed events are
// dropped.
func (s *Session) handle(msg socketio.Message) {
	if meta := msg.Meta(); len(meta) > 0 {
		if seq, err := jsonparser.GetInt(meta, "seq"); err == nil && seq > 0 {
			defer s.observeSeq(seq)
		}
	}

	name := events.Name(msg.Name)
	ev, err := events.Decode(name, msg.Payload())
	if err != nil {
		s.logger.Debug("dropping event", "event", msg.Name, "error", err)
		return
	}

	if origin, ok := events.IsMutation(ev); ok && s.cfg.UserID != "" && origin == s.cfg.UserID {
		s.logger.Debug("dropping own echo", "event", msg.Name)
		return
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	h, ok := s.handlers[name]
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("BUG: event handler panicked", "event", msg.Name, "panic", r)
		}
	}()
	h(ev)
}

// watchers fans state changes out to Watch subscribers.
type watchers struct {
	mu     sync.Mutex
	nextID int
	chans  map[int]chan State
}

func (w *watchers) add() (<-chan State, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.chans == nil {
		w.chans = make(map[int]chan State)
	}
	w.nextID++
	id := w.nextID
	ch := make(chan State, 16)
	w.chans[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			delete(w.chans, id)
			close(ch)
		})
	}
}

func (w *watchers) notify(st State, log logger.Logger) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.chans {
		select {
		case ch <- st:
		default:
			log.Warn("state watcher is not keeping up, dropping state", "state", st)
		}
	}
}
