package http

import (
	"context"
	"sync"
	"time"

	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/location"
)

// sensorSession is the sensor stream of one websocket connection. A fault
// ends the attempts waiting on the current feed; the connection continues
// on a fresh feed, so later readings are used again.
type sensorSession struct {
	ctx     context.Context
	onFault func(error)

	mu   sync.Mutex
	feed *location.Feed
	sub  *location.Subscription

	latestMu sync.Mutex
	latest   *domain.LocationReading
}

func newSensorSession(ctx context.Context, onFault func(error)) (*sensorSession, error) {
	s := &sensorSession{ctx: ctx, onFault: onFault}
	feed, sub, err := s.open()
	if err != nil {
		return nil, err
	}
	s.feed, s.sub = feed, sub
	return s, nil
}

func (s *sensorSession) open() (*location.Feed, *location.Subscription, error) {
	feed := location.NewFeed()
	sub, err := location.Subscribe(s.ctx, feed,
		func(r domain.LocationReading) {
			s.latestMu.Lock()
			s.latest = &r
			s.latestMu.Unlock()
		},
		s.onFault,
	)
	if err != nil {
		return nil, nil, err
	}
	return feed, sub, nil
}

// Feed returns the feed new attempts should wait on.
func (s *sensorSession) Feed() *location.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feed
}

func (s *sensorSession) Push(r domain.LocationReading) {
	s.Feed().Push(r)
}

// Fail delivers err to everything watching the current feed and swaps in a
// fresh one. The last known fix is dropped with it.
func (s *sensorSession) Fail(err error) error {
	feed, sub, openErr := s.open()
	if openErr != nil {
		return openErr
	}

	s.mu.Lock()
	oldFeed, oldSub := s.feed, s.sub
	s.feed, s.sub = feed, sub
	s.mu.Unlock()

	s.latestMu.Lock()
	s.latest = nil
	s.latestMu.Unlock()

	oldFeed.Fail(err)
	oldSub.Stop()
	return nil
}

// Fresh returns the latest reading when it is younger than maxAge.
func (s *sensorSession) Fresh(maxAge time.Duration) *domain.LocationReading {
	s.latestMu.Lock()
	defer s.latestMu.Unlock()
	if s.latest == nil || time.Since(s.latest.Timestamp) > maxAge {
		return nil
	}
	r := *s.latest
	return &r
}

func (s *sensorSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sub.Stop()
}
