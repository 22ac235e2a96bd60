// Package connection defines the Engine.IO transports a session runs over and
// dials them in order of preference.
package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/pagewire/livesync/pkg/engineio"
)

// Transport carries Engine.IO packets. The first packet read from a fresh
// transport is the server's open packet.
type Transport interface {
	// Name is the transport name, TransportWebSocket or TransportPolling.
	Name() string
	// Read blocks until the next packet arrives, ctx is done, or the
	// transport is closed.
	Read(ctx context.Context) (engineio.Packet, error)
	Write(ctx context.Context, packets ...engineio.Packet) error
	// Close releases the transport. Calling it twice is harmless.
	Close(ctx context.Context) error
}

// Dialer opens one kind of transport.
type Dialer interface {
	Name() string
	Dial(ctx context.Context, cfg *Config) (Transport, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc struct {
	TransportName string
	Func          func(ctx context.Context, cfg *Config) (Transport, error)
}

func (d DialFunc) Name() string { return d.TransportName }

func (d DialFunc) Dial(ctx context.Context, cfg *Config) (Transport, error) {
	return d.Func(ctx, cfg)
}

// DialFirst tries dialers in order and returns the first transport that
// accept does not reject. accept may run a handshake on the transport; when it
// returns an error the transport is closed and the next dialer is tried,
// unless the error is marked final with Final.
func DialFirst(ctx context.Context, cfg *Config, dialers []Dialer, accept func(Transport) error) (Transport, error) {
	if len(dialers) == 0 {
		return nil, ErrNoDialers
	}

	log := cfg.logger()
	var errs []error
	for _, d := range dialers {
		t, err := d.Dial(ctx, cfg)
		if err != nil {
			log.Debug("transport dial failed", "transport", d.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if accept == nil {
			return t, nil
		}
		err = accept(t)
		if err == nil {
			return t, nil
		}

		if closeErr := t.Close(ctx); closeErr != nil {
			log.Debug("failed to close rejected transport", "transport", d.Name(), "error", closeErr)
		}
		var final *finalError
		if errors.As(err, &final) {
			return nil, final.err
		}
		log.Debug("transport handshake failed", "transport", d.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

type finalError struct{ err error }

func (e *finalError) Error() string { return e.err.Error() }
func (e *finalError) Unwrap() error { return e.err }

// Final marks err as one that falling back to another transport cannot fix,
// such as the server refusing the connection.
func Final(err error) error {
	if err == nil {
		return nil
	}
	return &finalError{err: err}
}
