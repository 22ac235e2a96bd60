// Package signal is a same-process broadcast for UI subtrees that need to
// re-fetch after a local change, such as the favorites list. It never crosses
// the network.
package signal

import (
	"sync"
)

// Topic names a local signal.
type Topic string

const (
	// FavoritesChanged tells subscribers that the favorites list should be re-fetched.
	FavoritesChanged Topic = "favorites-changed"
	// DocumentsChanged tells subscribers that a document list was reloaded.
	DocumentsChanged Topic = "documents-changed"
)

// Bus fans a topic out to its subscribers. The zero value is ready to use.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic]map[uint64]func()
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for topic and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(topic Topic, fn func()) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[Topic]map[uint64]func())
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]func())
	}
	b.nextID++
	id := b.nextID
	b.subs[topic][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

// Publish calls every subscriber of topic synchronously, outside the lock,
// so a subscriber may itself subscribe or publish.
func (b *Bus) Publish(topic Topic) {
	b.mu.RLock()
	fns := make([]func(), 0, len(b.subs[topic]))
	for _, fn := range b.subs[topic] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}
