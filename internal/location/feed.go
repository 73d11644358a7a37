package location

import (
	"context"
	"sync"

	"github.com/samirrijal/geoproof/internal/core/domain"
)

// Feed is a push-driven LocationSource. The websocket handler pushes the
// readings a client streams; tests push readings directly.
type Feed struct {
	mu       sync.Mutex
	next     int
	watchers map[int]watcher
	closed   error
}

type watcher struct {
	onUpdate func(domain.LocationReading)
	onError  func(error)
}

func NewFeed() *Feed {
	return &Feed{watchers: make(map[int]watcher)}
}

// Watch implements ports.LocationSource.
func (f *Feed) Watch(_ context.Context, onUpdate func(domain.LocationReading), onError func(error)) (func(), error) {
	f.mu.Lock()
	if f.closed != nil {
		err := f.closed
		f.mu.Unlock()
		return nil, err
	}
	id := f.next
	f.next++
	f.watchers[id] = watcher{onUpdate: onUpdate, onError: onError}
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.watchers, id)
		f.mu.Unlock()
	}, nil
}

// Push delivers a reading to every watcher.
func (f *Feed) Push(r domain.LocationReading) {
	for _, w := range f.snapshot() {
		w.onUpdate(r)
	}
}

// Fail delivers a terminal fault and closes the feed.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	if f.closed != nil {
		f.mu.Unlock()
		return
	}
	f.closed = err
	ws := make([]watcher, 0, len(f.watchers))
	for _, w := range f.watchers {
		ws = append(ws, w)
	}
	f.watchers = map[int]watcher{}
	f.mu.Unlock()

	for _, w := range ws {
		w.onError(err)
	}
}

func (f *Feed) snapshot() []watcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws := make([]watcher, 0, len(f.watchers))
	for _, w := range f.watchers {
		ws = append(ws, w)
	}
	return ws
}
