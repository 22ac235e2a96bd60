package relay

import (
	"encoding/json"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/pagewire/livesync/pkg/engineio"
)

// outboxSize bounds the packets queued for one peer. A peer that falls this
// far behind is disconnected and catches up by replay on reconnection.
const outboxSize = 256

// peer is one Engine.IO session, over either transport.
type peer struct {
	id        string
	transport string

	out    chan engineio.Packet
	pongCh chan struct{}

	closeOnce sync.Once
	closeCh   chan struct{}

	mu     sync.Mutex
	sid    string // socket.io sid, set once the namespace is joined
	userID string
	// pages are the rooms the peer announced presence in.
	pages mapset.Set[string]
	// joins holds the last presence:join payload per page, sent to peers
	// entering the room later.
	joins map[string]json.RawMessage

	// pollMu serializes long-poll GETs of polling peers.
	pollMu sync.Mutex
}

func newPeer(id, transport string) *peer {
	return &peer{
		id:        id,
		transport: transport,
		out:       make(chan engineio.Packet, outboxSize),
		pongCh:    make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
		pages:     mapset.NewSet[string](),
		joins:     make(map[string]json.RawMessage),
	}
}

// send queues p and reports false when the outbox is full or the peer is
// closed.
func (p *peer) send(pkt engineio.Packet) bool {
	select {
	case <-p.closeCh:
		return false
	default:
	}
	select {
	case p.out <- pkt:
		return true
	default:
		return false
	}
}

// drain returns the packets queued right now without blocking.
func (p *peer) drain(first ...engineio.Packet) []engineio.Packet {
	packets := first
	for {
		select {
		case pkt := <-p.out:
			packets = append(packets, pkt)
		default:
			return packets
		}
	}
}

func (p *peer) close() bool {
	closed := false
	p.closeOnce.Do(func() {
		close(p.closeCh)
		closed = true
	})
	return closed
}

func (p *peer) closed() bool {
	select {
	case <-p.closeCh:
		return true
	default:
		return false
	}
}

func (p *peer) join(sid, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sid, p.userID = sid, userID
}

// identity returns the socket.io sid and user, and whether the peer has
// joined the namespace.
func (p *peer) identity() (sid, userID string, joined bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sid, p.userID, p.sid != ""
}

func (p *peer) setJoin(pageID string, payload json.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if payload == nil {
		delete(p.joins, pageID)
		return
	}
	p.joins[pageID] = payload
}

func (p *peer) presenceJoin(pageID string) (json.RawMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payload, ok := p.joins[pageID]
	return payload, ok
}
