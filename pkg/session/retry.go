package session

import (
	"math"
	"math/rand"
	"time"
)

// Retryer paces reconnection attempts.
type Retryer interface {
	// NextDelay returns how long to wait before reconnect attempt number
	// attempt (0-based) after lastErr, and false once the session should
	// give up and enter StateReconnectFailed.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)

	// Reset is called after every successful connection.
	Reset()
}

// ExponentialBackoffRetryer grows the delay by Multiplier on every attempt,
// capped at MaxDelay, with optional jitter.
type ExponentialBackoffRetryer struct {
	// InitialDelay is the wait before the first reconnect attempt
	InitialDelay time.Duration

	// MaxDelay caps the grown delay, before jitter is applied
	MaxDelay time.Duration

	// Multiplier is applied to the delay once per attempt
	Multiplier float64

	// MaxRetries is how many attempts are made before the session enters
	// StateReconnectFailed (0 retries forever)
	MaxRetries int

	// Jitter spreads delays so clients dropped by the same relay restart do
	// not all come back at once
	Jitter bool

	// JitterFactor is the largest spread as a fraction of the delay, in
	// either direction (0.0 to 1.0)
	JitterFactor float64
}

// DefaultMaxRetries bounds reconnection in NewExponentialBackoffRetryer. A
// session that gives up ends in StateReconnectFailed until Reconnect is called.
const DefaultMaxRetries = 10

// NewExponentialBackoffRetryer waits 1s, 2s, 4s, then 5s between attempts,
// each spread by half, and gives up after DefaultMaxRetries.
func NewExponentialBackoffRetryer() *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: 1 * time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   DefaultMaxRetries,
		Jitter:       true,
		JitterFactor: 0.5,
	}
}

// NextDelay implements Retryer
func (r *ExponentialBackoffRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	delay = math.Min(delay, float64(r.MaxDelay))

	if r.Jitter && r.JitterFactor > 0 {
		//nolint:gosec // jitter does not need a secure source
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}

	return time.Duration(delay), true
}

// Reset implements Retryer. The delay depends only on the attempt number, so
// there is nothing to reset.
func (r *ExponentialBackoffRetryer) Reset() {}

// FixedDelayRetryer waits Delay between attempts. Tests use it with a tiny
// delay to drive the session into StateReconnectFailed quickly.
type FixedDelayRetryer struct {
	// Delay is the wait before every reconnect attempt
	Delay time.Duration

	// MaxRetries is how many attempts are made before giving up (0 retries
	// forever)
	MaxRetries int
}

// NewFixedDelayRetryer returns a retryer waiting delay between at most
// maxRetries attempts.
func NewFixedDelayRetryer(delay time.Duration, maxRetries int) *FixedDelayRetryer {
	return &FixedDelayRetryer{
		Delay:      delay,
		MaxRetries: maxRetries,
	}
}

// NextDelay implements Retryer
func (r *FixedDelayRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

// Reset implements Retryer
func (r *FixedDelayRetryer) Reset() {}
