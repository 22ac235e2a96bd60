// Package relay is a Socket.IO compatible broadcast server for development
// and integration tests. Every event a client emits is journaled and sent to
// every other connected client with its sequence number; a reconnecting client
// is replayed what it missed.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gofrs/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/pagewire/livesync/pkg/connection"
	"github.com/pagewire/livesync/pkg/engineio"
	"github.com/pagewire/livesync/pkg/events"
	"github.com/pagewire/livesync/pkg/logger"
	"github.com/pagewire/livesync/pkg/socketio"
)

const (
	DefaultPingInterval = 25 * time.Second
	DefaultPingTimeout  = 20 * time.Second
	DefaultReplayLimit  = 1000
	DefaultMaxPayload   = 1_000_000

	writeWait = 10 * time.Second
)

var ErrServerClosed = errors.New("relay: server closed")

type Config struct {
	// Path defaults to connection.DefaultPath.
	Path string
	// JournalDSN is the SQLite database of the journal; ":memory:" by default.
	JournalDSN   string
	PingInterval time.Duration
	PingTimeout  time.Duration
	// ReplayLimit bounds how many missed events a reconnecting client is sent.
	ReplayLimit int
	MaxPayload  int64
	Logger      logger.Logger
}

func (c *Config) setDefaults() {
	if c.Path == "" {
		c.Path = connection.DefaultPath
	}
	if c.JournalDSN == "" {
		c.JournalDSN = ":memory:"
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	if c.ReplayLimit <= 0 {
		c.ReplayLimit = DefaultReplayLimit
	}
	if c.MaxPayload <= 0 {
		c.MaxPayload = DefaultMaxPayload
	}
	if c.Logger == nil {
		c.Logger = logger.Discard()
	}
}

type Server struct {
	cfg      Config
	logger   logger.Logger
	journal  *Journal
	router   *mux.Router
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	peers map[string]*peer
	// rooms maps a page id to the peers present on it.
	rooms map[string]mapset.Set[*peer]

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

func New(cfg Config) (*Server, error) {
	cfg.setDefaults()

	journal, err := OpenJournal(cfg.JournalDSN)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger,
		journal: journal,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The relay is a development tool; any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		peers:   make(map[string]*peer),
		rooms:   make(map[string]mapset.Set[*peer]),
		closeCh: make(chan struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc(cfg.Path, s.handleEngineIO).Queries("EIO", fmt.Sprint(engineio.Protocol))
	r.HandleFunc(cfg.Path, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unsupported protocol version", http.StatusBadRequest)
	})
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router = r

	return s, nil
}

// Handler returns the HTTP handler serving the Socket.IO endpoint.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Journal() *Journal {
	return s.journal
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", "addr", addr, "path", s.cfg.Path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.closePeers()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("relay: shutdown: %w", err)
	}
	return nil
}

// Close disconnects every peer and closes the journal.
func (s *Server) Close() error {
	s.closePeers()
	s.wg.Wait()
	return s.journal.Close()
}

func (s *Server) closePeers() {
	s.closeOnce.Do(func() { close(s.closeCh) })

	s.mu.RLock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()

	for _, p := range peers {
		p.send(engineio.Packet{Type: engineio.Close})
		s.closePeer(p, "server closing")
	}
}

// Peers returns the number of connected Engine.IO sessions.
func (s *Server) Peers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// RoomSize returns how many peers announced presence on pageID.
func (s *Server) RoomSize(pageID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if room, ok := s.rooms[pageID]; ok {
		return room.Cardinality()
	}
	return 0
}

// Publish journals a server-originated event, such as a notification, and
// sends it to every connected client.
func (s *Server) Publish(ctx context.Context, ev events.Event) (int64, error) {
	name, payload, err := events.Encode(ev)
	if err != nil {
		return 0, err
	}
	entry, err := s.journal.Append(ctx, string(name), payload, "")
	if err != nil {
		return 0, err
	}
	s.broadcast(entry, nil)
	return entry.Seq, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	seq, err := s.journal.LastSeq(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"peers": s.Peers(), "lastSeq": seq})
}

func (s *Server) handleEngineIO(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sid := q.Get("sid")

	switch q.Get("transport") {
	case connection.TransportWebSocket:
		if sid != "" {
			http.Error(w, "transport upgrade is not supported", http.StatusBadRequest)
			return
		}
		s.serveWebSocket(w, r)
	case connection.TransportPolling:
		switch {
		case r.Method == http.MethodGet && sid == "":
			s.openPolling(w)
		case r.Method == http.MethodGet:
			s.poll(w, r, sid)
		case r.Method == http.MethodPost:
			s.receive(w, r, sid)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		http.Error(w, "unknown transport", http.StatusBadRequest)
	}
}

// open registers a new peer and queues its open packet.
func (s *Server) open(transport string) (*peer, error) {
	select {
	case <-s.closeCh:
		return nil, ErrServerClosed
	default:
	}

	p := newPeer(uuid.Must(uuid.NewV4()).String(), transport)
	open, err := engineio.OpenPacket(engineio.Handshake{
		SID:          p.id,
		Upgrades:     []string{},
		PingInterval: int(s.cfg.PingInterval / time.Millisecond),
		PingTimeout:  int(s.cfg.PingTimeout / time.Millisecond),
		MaxPayload:   int(s.cfg.MaxPayload),
	})
	if err != nil {
		return nil, err
	}
	p.send(open)

	s.mu.Lock()
	s.peers[p.id] = p
	s.mu.Unlock()

	s.wg.Add(1)
	go s.heartbeat(p)

	s.logger.Debug("relay peer opened", "peer", p.id, "transport", transport)
	return p, nil
}

// heartbeat pings p every interval and closes it when a pong does not arrive
// within the timeout.
func (s *Server) heartbeat(p *peer) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.closeCh:
			return
		case <-ticker.C:
		}

		if !p.send(engineio.Packet{Type: engineio.Ping}) {
			s.closePeer(p, "outbox full")
			return
		}
		select {
		case <-p.closeCh:
			return
		case <-p.pongCh:
		case <-time.After(s.cfg.PingTimeout):
			s.closePeer(p, "ping timeout")
			return
		}
	}
}

// closePeer closes p, removes it from every room and tells the rooms it left.
func (s *Server) closePeer(p *peer, reason string) {
	if !p.close() {
		return
	}

	s.mu.Lock()
	delete(s.peers, p.id)
	pages := p.pages.ToSlice()
	s.mu.Unlock()

	_, userID, joined := p.identity()
	s.logger.Debug("relay peer closed", "peer", p.id, "user", userID, "reason", reason)
	for _, page := range pages {
		remaining := s.leaveRoom(p, page)
		if !joined || userID == "" {
			continue
		}
		payload, err := json.Marshal(events.PresenceLeave{PageID: page, UserID: userID})
		if err != nil {
			continue
		}
		s.deliver(JournalEntry{Name: string(events.NamePresenceLeave), Payload: payload, UserID: userID}, remaining)
	}
}

type connectAuth struct {
	UserID  string `json:"userId"`
	Token   string `json:"token"`
	LastSeq int64  `json:"lastSeq"`
}

// onPacket handles one packet read from p.
func (s *Server) onPacket(ctx context.Context, p *peer, pkt engineio.Packet) {
	switch pkt.Type {
	case engineio.Pong:
		select {
		case p.pongCh <- struct{}{}:
		default:
		}
	case engineio.Close:
		s.closePeer(p, "client closed")
	case engineio.Message:
		sp, err := socketio.Decode(pkt.Data)
		if err != nil {
			s.logger.Debug("relay dropping invalid packet", "peer", p.id, "error", err)
			return
		}
		if sp.Namespace != socketio.DefaultNamespace {
			s.sendSocketIO(p, socketio.Packet{
				Type:      socketio.ConnectError,
				Namespace: sp.Namespace,
				ID:        -1,
				Data:      json.RawMessage(`{"message":"Invalid namespace"}`),
			})
			return
		}
		switch sp.Type {
		case socketio.Connect:
			s.onConnect(ctx, p, sp)
		case socketio.Disconnect:
			s.closePeer(p, "client disconnected")
		case socketio.Event:
			s.onEvent(ctx, p, sp)
		}
	}
}

func (s *Server) onConnect(ctx context.Context, p *peer, sp socketio.Packet) {
	var auth connectAuth
	if len(sp.Data) > 0 {
		if err := json.Unmarshal(sp.Data, &auth); err != nil {
			s.sendSocketIO(p, socketio.Packet{Type: socketio.ConnectError, ID: -1, Data: json.RawMessage(`{"message":"invalid auth"}`)})
			return
		}
	}

	sid := uuid.Must(uuid.NewV4()).String()
	p.join(sid, auth.UserID)
	data, _ := json.Marshal(map[string]string{"sid": sid})
	s.sendSocketIO(p, socketio.Packet{Type: socketio.Connect, ID: -1, Data: data})
	s.logger.Info("relay client connected", "peer", p.id, "user", auth.UserID, "transport", p.transport, "last_seq", auth.LastSeq)

	if auth.LastSeq <= 0 {
		return
	}
	missed, err := s.journal.Since(ctx, auth.LastSeq, s.cfg.ReplayLimit)
	if err != nil {
		s.logger.Error("relay replay failed", "peer", p.id, "error", err)
		return
	}
	for _, entry := range missed {
		pkt, err := eventPacket(entry)
		if err != nil || !p.send(pkt) {
			return
		}
	}
	s.logger.Debug("relay replayed missed events", "peer", p.id, "count", len(missed))
}

func (s *Server) onEvent(ctx context.Context, p *peer, sp socketio.Packet) {
	_, userID, joined := p.identity()
	if !joined {
		s.logger.Debug("relay dropping event before connect", "peer", p.id)
		return
	}
	msg, err := sp.Message()
	if err != nil {
		s.logger.Debug("relay dropping event", "peer", p.id, "error", err)
		return
	}
	name := events.Name(msg.Name)
	ev, err := events.Decode(name, msg.Payload())
	if err != nil {
		s.logger.Debug("relay dropping event", "peer", p.id, "event", msg.Name, "error", err)
		return
	}

	// Presence is ephemeral and peers re-announce it, so it only reaches
	// the page's room, without a sequence number, and is never replayed.
	presence := JournalEntry{Name: msg.Name, Payload: msg.Payload(), UserID: userID}
	switch e := ev.(type) {
	case *events.NotificationNew, *events.NotificationRead:
		s.logger.Debug("relay dropping client notification", "peer", p.id, "event", msg.Name)
		return
	case *events.PresenceJoin:
		members := s.joinRoom(p, e.PageID, msg.Payload())
		s.deliver(presence, members)
		s.sendRoster(p, e.PageID, members)
		return
	case *events.PresenceLeave:
		s.deliver(presence, s.leaveRoom(p, e.PageID))
		return
	case *events.PresenceCursor:
		s.deliver(presence, s.roomMembers(e.PageID, p))
		return
	}

	entry, err := s.journal.Append(ctx, msg.Name, msg.Payload(), userID)
	if err != nil {
		s.logger.Error("relay failed to journal event", "event", msg.Name, "error", err)
		return
	}
	s.broadcast(entry, p)
}

// joinRoom adds p to the room of pageID and returns the other members.
func (s *Server) joinRoom(p *peer, pageID string, payload json.RawMessage) []*peer {
	p.setJoin(pageID, payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[pageID]
	if !ok {
		room = mapset.NewSet[*peer]()
		s.rooms[pageID] = room
	}
	room.Add(p)
	p.pages.Add(pageID)
	return s.membersLocked(pageID, p)
}

// leaveRoom removes p from the room of pageID and returns who is left.
func (s *Server) leaveRoom(p *peer, pageID string) []*peer {
	p.setJoin(pageID, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	p.pages.Remove(pageID)
	if room, ok := s.rooms[pageID]; ok {
		room.Remove(p)
		if room.Cardinality() == 0 {
			delete(s.rooms, pageID)
		}
	}
	return s.membersLocked(pageID, p)
}

func (s *Server) roomMembers(pageID string, except *peer) []*peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.membersLocked(pageID, except)
}

func (s *Server) membersLocked(pageID string, except *peer) []*peer {
	room, ok := s.rooms[pageID]
	if !ok {
		return nil
	}
	members := make([]*peer, 0, room.Cardinality())
	for m := range room.Iter() {
		if m != except {
			members = append(members, m)
		}
	}
	return members
}

// sendRoster tells p who was already on pageID, one presence:join each.
func (s *Server) sendRoster(p *peer, pageID string, members []*peer) {
	for _, m := range members {
		payload, ok := m.presenceJoin(pageID)
		if !ok {
			continue
		}
		_, userID, _ := m.identity()
		s.deliver(JournalEntry{Name: string(events.NamePresenceJoin), Payload: payload, UserID: userID}, []*peer{p})
	}
}

// eventPacket renders entry as `2["name",payload,{"seq":N}]`. Entries
// without a sequence number carry no meta.
func eventPacket(entry JournalEntry) (engineio.Packet, error) {
	args := []any{json.RawMessage(entry.Payload)}
	if entry.Seq > 0 {
		args = append(args, map[string]int64{"seq": entry.Seq})
	}
	sp, err := socketio.NewEvent(entry.Name, args...)
	if err != nil {
		return engineio.Packet{}, err
	}
	return engineio.NewMessage(sp.Encode()), nil
}

// broadcast sends entry to every joined peer except the sender.
func (s *Server) broadcast(entry JournalEntry, except *peer) {
	s.mu.RLock()
	targets := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		if p != except {
			targets = append(targets, p)
		}
	}
	s.mu.RUnlock()

	s.deliver(entry, targets)
}

// deliver sends entry to the joined peers among targets. A peer whose outbox
// is full is disconnected.
func (s *Server) deliver(entry JournalEntry, targets []*peer) {
	if len(targets) == 0 {
		return
	}
	pkt, err := eventPacket(entry)
	if err != nil {
		s.logger.Error("relay failed to encode event", "event", entry.Name, "error", err)
		return
	}

	for _, p := range targets {
		if _, _, joined := p.identity(); !joined {
			continue
		}
		if !p.send(pkt) {
			s.logger.Warn("relay peer is not keeping up, disconnecting", "peer", p.id)
			s.closePeer(p, "outbox full")
		}
	}
}

func (s *Server) sendSocketIO(p *peer, sp socketio.Packet) {
	p.send(engineio.NewMessage(sp.Encode()))
}

func (s *Server) lookup(sid string) (*peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[sid]
	return p, ok
}

func readBody(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("payload exceeds %d bytes", limit)
	}
	return data, nil
}
