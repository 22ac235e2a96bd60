package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pagewire/livesync/pkg/connection"
	"github.com/pagewire/livesync/pkg/engineio"
)

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Debug("relay websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxPayload)

	p, err := s.open(connection.TransportWebSocket)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeWebSocket(conn, p)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.closeCh:
			// unblock ReadMessage
			_ = conn.SetReadDeadline(time.Now())
		case <-ctx.Done():
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !p.closed() {
				s.logger.Debug("relay websocket read failed", "peer", p.id, "error", err)
			}
			break
		}
		pkt, err := engineio.Decode(data)
		if err != nil {
			s.logger.Debug("relay dropping invalid engine.io packet", "peer", p.id, "error", err)
			continue
		}
		s.onPacket(ctx, p, pkt)
		if p.closed() {
			break
		}
	}

	s.closePeer(p, "websocket closed")
	<-writerDone
	_ = conn.Close()
}

// writeWebSocket writes queued packets as text frames until p closes, then
// flushes what is left and sends a close frame.
func (s *Server) writeWebSocket(conn *websocket.Conn, p *peer) {
	write := func(pkt engineio.Packet) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, pkt.Encode()); err != nil {
			s.logger.Debug("relay websocket write failed", "peer", p.id, "error", err)
			return false
		}
		return true
	}

	for {
		select {
		case pkt := <-p.out:
			if !write(pkt) {
				s.closePeer(p, "write failed")
				return
			}
		case <-p.closeCh:
			for _, pkt := range p.drain() {
				if !write(pkt) {
					return
				}
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

func (s *Server) openPolling(w http.ResponseWriter) {
	p, err := s.open(connection.TransportPolling)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writePayload(w, p.drain())
}

// poll holds a GET open until the peer has packets to deliver.
func (s *Server) poll(w http.ResponseWriter, r *http.Request, sid string) {
	p, ok := s.lookup(sid)
	if !ok {
		http.Error(w, "unknown sid", http.StatusBadRequest)
		return
	}
	if !p.pollMu.TryLock() {
		http.Error(w, "overlapping poll", http.StatusBadRequest)
		s.closePeer(p, "overlapping poll")
		return
	}
	defer p.pollMu.Unlock()

	timer := time.NewTimer(s.cfg.PingInterval + s.cfg.PingTimeout)
	defer timer.Stop()

	select {
	case pkt := <-p.out:
		writePayload(w, p.drain(pkt))
	case <-p.closeCh:
		writePayload(w, p.drain(engineio.Packet{Type: engineio.Close}))
	case <-timer.C:
		writePayload(w, []engineio.Packet{{Type: engineio.Noop}})
	case <-r.Context().Done():
	}
}

// receive handles a POST of client packets.
func (s *Server) receive(w http.ResponseWriter, r *http.Request, sid string) {
	p, ok := s.lookup(sid)
	if !ok {
		http.Error(w, "unknown sid", http.StatusBadRequest)
		return
	}
	body, err := readBody(r.Body, s.cfg.MaxPayload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	packets, err := engineio.DecodePayload(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, pkt := range packets {
		s.onPacket(r.Context(), p, pkt)
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte("ok"))
}

func writePayload(w http.ResponseWriter, packets []engineio.Packet) {
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	_, _ = w.Write(engineio.EncodePayload(packets...))
}
