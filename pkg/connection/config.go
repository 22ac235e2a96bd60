package connection

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pagewire/livesync/pkg/engineio"
	"github.com/pagewire/livesync/pkg/logger"
)

// Config describes the Socket.IO endpoint a transport connects to.
type Config struct {
	// BaseURL is the server origin, such as "http://localhost:3001".
	// ws and wss schemes are accepted too.
	BaseURL string
	// Path defaults to DefaultPath.
	Path string
	// Header is sent with every HTTP request and the websocket upgrade.
	Header http.Header
	Logger logger.Logger
}

func NewConfig(baseURL string) *Config {
	return &Config{
		BaseURL: baseURL,
		Path:    DefaultPath,
		Logger:  logger.Discard(),
	}
}

func (c *Config) logger() logger.Logger {
	if c.Logger == nil {
		return logger.Discard()
	}
	return c.Logger
}

// Endpoint returns the URL for transport, with sid when it is not empty.
// websocket URLs use the ws/wss scheme and polling URLs http/https.
func (c *Config) Endpoint(transport, sid string) (*url.URL, error) {
	if c.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("connection: parse base URL: %w", err)
	}

	secure := u.Scheme == "https" || u.Scheme == "wss"
	switch {
	case transport == TransportWebSocket && secure:
		u.Scheme = "wss"
	case transport == TransportWebSocket:
		u.Scheme = "ws"
	case secure:
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}

	path := c.Path
	if path == "" {
		path = DefaultPath
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Trim(path, "/") + "/"

	q := u.Query()
	q.Set("EIO", fmt.Sprint(engineio.Protocol))
	q.Set("transport", transport)
	if sid != "" {
		q.Set("sid", sid)
	}
	u.RawQuery = q.Encode()
	return u, nil
}
