package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoffRetryer(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		r := NewExponentialBackoffRetryer()

		delay, ok := r.NextDelay(0, nil)
		assert.True(t, ok)
		assert.GreaterOrEqual(t, delay, 500*time.Millisecond)
		assert.LessOrEqual(t, delay, 1500*time.Millisecond)

		delay, ok = r.NextDelay(5, nil)
		assert.True(t, ok)
		assert.GreaterOrEqual(t, delay, 2500*time.Millisecond)
		assert.LessOrEqual(t, delay, 7500*time.Millisecond)

		_, ok = r.NextDelay(DefaultMaxRetries, errors.New("refused"))
		assert.False(t, ok)
	})

	t.Run("without jitter", func(t *testing.T) {
		r := &ExponentialBackoffRetryer{
			InitialDelay: time.Second,
			MaxDelay:     5 * time.Second,
			Multiplier:   2,
		}
		want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
		for attempt, w := range want {
			delay, ok := r.NextDelay(attempt, nil)
			assert.True(t, ok)
			assert.Equal(t, w, delay, "attempt %d", attempt)
		}
	})

	t.Run("unbounded", func(t *testing.T) {
		r := &ExponentialBackoffRetryer{InitialDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
		_, ok := r.NextDelay(1000, nil)
		assert.True(t, ok)
	})
}

func TestFixedDelayRetryer(t *testing.T) {
	r := NewFixedDelayRetryer(10*time.Millisecond, 3)

	for attempt := range 3 {
		delay, ok := r.NextDelay(attempt, nil)
		assert.True(t, ok)
		assert.Equal(t, 10*time.Millisecond, delay)
	}
	_, ok := r.NextDelay(3, nil)
	assert.False(t, ok)

	forever := NewFixedDelayRetryer(time.Millisecond, 0)
	_, ok = forever.NextDelay(1_000_000, nil)
	assert.True(t, ok)
}
