package store

import (
	"sync"
)

// listeners is a set of change callbacks. Callbacks run synchronously, after
// the store lock has been released.
type listeners[S any] struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(S)
}

func (l *listeners[S]) subscribe(fn func(S)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fns == nil {
		l.fns = make(map[int]func(S))
	}
	l.nextID++
	id := l.nextID
	l.fns[id] = fn

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *listeners[S]) notify(s S) {
	l.mu.Lock()
	fns := make([]func(S), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
