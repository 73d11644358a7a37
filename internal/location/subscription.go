// Package location turns a device's sensor stream into cancellable
// subscriptions the proof pipeline can consume.
package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/core/ports"
)

// Sensor faults. Each one ends the subscription and the attempt that was
// waiting on it.
var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrTimeout             = errors.New("location request timed out")
	ErrStopped             = errors.New("subscription stopped")
)

// IsFault reports whether err is one of the sensor faults.
func IsFault(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrPositionUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// Subscription is a handle on a running Watch. Updates arrive one at a time,
// in timestamp order; readings not newer than the last delivered one are
// dropped. The first error ends the subscription.
type Subscription struct {
	cbMu     sync.Mutex
	onUpdate func(domain.LocationReading)
	onError  func(error)
	last     time.Time

	stopped  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	srcStop func()
	err     error
}

// Subscribe starts watching src. Cancelling ctx is equivalent to Stop.
func Subscribe(ctx context.Context, src ports.LocationSource, onUpdate func(domain.LocationReading), onError func(error)) (*Subscription, error) {
	s := &Subscription{
		onUpdate: onUpdate,
		onError:  onError,
		done:     make(chan struct{}),
	}

	stop, err := src.Watch(ctx, s.update, s.fail)
	if err != nil {
		s.Stop()
		return nil, err
	}

	s.mu.Lock()
	s.srcStop = stop
	s.mu.Unlock()
	// the source may have faulted before Watch returned
	if s.stopped.Load() && stop != nil {
		stop()
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()
	return s, nil
}

func (s *Subscription) update(r domain.LocationReading) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	if s.stopped.Load() {
		return
	}
	if !s.last.IsZero() && !r.Timestamp.After(s.last) {
		return
	}
	s.last = r.Timestamp
	if s.onUpdate != nil {
		s.onUpdate(r)
	}
}

func (s *Subscription) fail(err error) {
	s.cbMu.Lock()
	if s.stopped.Load() {
		s.cbMu.Unlock()
		return
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	if s.onError != nil {
		s.onError(err)
	}
	s.cbMu.Unlock()
	s.Stop()
}

// Stop unsubscribes. It is safe to call more than once and from inside a
// callback.
func (s *Subscription) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.mu.Lock()
		stop := s.srcStop
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		close(s.done)
	})
}

// Done is closed once the subscription has stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Next waits for the first reading from src and unsubscribes. Sensor faults
// come back as input errors, since no retry of the same attempt can fix them.
func Next(ctx context.Context, src ports.LocationSource, timeout time.Duration) (domain.LocationReading, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	readings := make(chan domain.LocationReading, 1)
	faults := make(chan error, 1)
	sub, err := Subscribe(ctx, src,
		func(r domain.LocationReading) {
			select {
			case readings <- r:
			default:
			}
		},
		func(err error) {
			select {
			case faults <- err:
			default:
			}
		},
	)
	if err != nil {
		return domain.LocationReading{}, domain.InputError(domain.StageCodec, err)
	}
	defer sub.Stop()

	select {
	case r := <-readings:
		return r, nil
	case err := <-faults:
		return domain.LocationReading{}, domain.InputError(domain.StageCodec, err)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.LocationReading{}, domain.InputError(domain.StageCodec, fmt.Errorf("%w: no fix within %s", ErrTimeout, timeout))
		}
		return domain.LocationReading{}, ctx.Err()
	}
}
