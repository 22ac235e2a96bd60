package connection

import (
	"errors"
	"time"
)

const (
	// DefaultPath is the Socket.IO endpoint path on the server.
	DefaultPath = "/socket.io/"
	// CloseMessageCode is the websocket close code sent on a normal close.
	CloseMessageCode = 1000
	// DefaultDialTimeout bounds a single transport dial when the caller's
	// context has no deadline.
	DefaultDialTimeout = 10 * time.Second
)

// Transport names as they appear in the transport query parameter.
const (
	TransportWebSocket = "websocket"
	TransportPolling   = "polling"
)

var (
	ErrNoBaseURL = errors.New("connection: base URL not set")
	ErrClosed    = errors.New("connection: transport closed")
	ErrNoDialers = errors.New("connection: no transports configured")
)
