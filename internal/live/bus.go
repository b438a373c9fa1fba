// Package live fans out device positions for active rides to any number of
// readers. Each ride has a single writer.
package live

import (
	"context"
	"sync"

	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/observability"
)

type Bus interface {
	Publish(ctx context.Context, u models.PositionUpdate) error
	// Subscribe returns a handle that receives updates for rideID until it is
	// closed or ctx ends. The last known position, if any, is delivered first.
	Subscribe(ctx context.Context, rideID string) (*Subscription, error)
}

const subscriptionBuffer = 8

// Subscription is a scoped reader handle. A slow reader never blocks the
// publisher: when the buffer is full the oldest pending update is dropped.
type Subscription struct {
	rideID string
	ch     chan models.PositionUpdate

	mu      sync.Mutex
	latest  models.PositionUpdate
	has     bool
	closed  bool
	once    sync.Once
	release func()
	stop    func() bool
}

func newSubscription(rideID string, release func()) *Subscription {
	observability.ActiveSubscriptions.Inc()
	return &Subscription{
		rideID:  rideID,
		ch:      make(chan models.PositionUpdate, subscriptionBuffer),
		release: release,
	}
}

// bind closes the subscription when ctx ends. Called once the handle is
// registered so a canceled ctx always unregisters it.
func (s *Subscription) bind(ctx context.Context) {
	stop := context.AfterFunc(ctx, s.Close)
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
}

func (s *Subscription) RideID() string { return s.rideID }

func (s *Subscription) C() <-chan models.PositionUpdate { return s.ch }

// Latest is the most recent update seen by this subscription.
func (s *Subscription) Latest() (models.PositionUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.has
}

func (s *Subscription) deliver(u models.PositionUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.latest, s.has = u, true
	select {
	case s.ch <- u:
	default:
		select {
		case <-s.ch:
		default:
		}
		s.ch <- u
	}
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		stop := s.stop
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		if s.release != nil {
			s.release()
		}
		observability.ActiveSubscriptions.Dec()
	})
}
