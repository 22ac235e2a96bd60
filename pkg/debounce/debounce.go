// Package debounce coalesces bursts of local writes, such as keystrokes in a
// title field, into one call per key.
package debounce

import (
	"sync"
	"time"
)

// DefaultDelay is the quiet period used when New is given zero.
const DefaultDelay = 500 * time.Millisecond

// Debouncer runs at most one pending function per key. Scheduling a key again
// supersedes the pending call and restarts the quiet period.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	pending map[string]*call
	stopped bool
}

type call struct {
	timer *time.Timer
	fn    func()
}

func New(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Debouncer{
		delay:   delay,
		pending: make(map[string]*call),
	}
}

// Schedule arranges for fn to run after the quiet period unless key is
// scheduled again, flushed or cancelled first.
func (d *Debouncer) Schedule(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if prev, ok := d.pending[key]; ok {
		prev.timer.Stop()
	}

	c := &call{fn: fn}
	c.timer = time.AfterFunc(d.delay, func() { d.fire(key, c) })
	d.pending[key] = c
}

func (d *Debouncer) fire(key string, c *call) {
	d.mu.Lock()
	if d.pending[key] != c {
		// superseded after the timer already fired
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	c.fn()
}

// Flush runs the pending call for key now, on the calling goroutine. It
// reports whether there was one.
func (d *Debouncer) Flush(key string) bool {
	d.mu.Lock()
	c, ok := d.pending[key]
	if ok {
		c.timer.Stop()
		delete(d.pending, key)
	}
	d.mu.Unlock()

	if ok {
		c.fn()
	}
	return ok
}

// Cancel drops the pending call for key.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.pending[key]; ok {
		c.timer.Stop()
		delete(d.pending, key)
	}
}

// Pending reports whether key has a call waiting.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Stop cancels every pending call. Later calls to Schedule are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, c := range d.pending {
		c.timer.Stop()
		delete(d.pending, key)
	}
}
