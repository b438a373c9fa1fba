package live

import (
	"context"
	"sync"

	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/observability"
)

// MemoryBus is an in-process Bus.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
	last map[string]models.PositionUpdate
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string]map[*Subscription]struct{}),
		last: make(map[string]models.PositionUpdate),
	}
}

func (b *MemoryBus) Publish(_ context.Context, u models.PositionUpdate) error {
	b.mu.Lock()
	b.last[u.RideID] = u
	subs := make([]*Subscription, 0, len(b.subs[u.RideID]))
	for s := range b.subs[u.RideID] {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.deliver(u)
	}
	observability.PositionsPublished.Inc()
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, rideID string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var s *Subscription
	s = newSubscription(rideID, func() { b.remove(rideID, s) })

	b.mu.Lock()
	if b.subs[rideID] == nil {
		b.subs[rideID] = make(map[*Subscription]struct{})
	}
	b.subs[rideID][s] = struct{}{}
	// replay under the lock so a concurrent Publish cannot be overwritten by
	// an older value
	if last, ok := b.last[rideID]; ok {
		s.deliver(last)
	}
	b.mu.Unlock()

	s.bind(ctx)
	return s, nil
}

// Subscribers reports how many open subscriptions rideID has.
func (b *MemoryBus) Subscribers(rideID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[rideID])
}

// Forget drops the retained position for a finished ride.
func (b *MemoryBus) Forget(rideID string) {
	b.mu.Lock()
	delete(b.last, rideID)
	b.mu.Unlock()
}

func (b *MemoryBus) remove(rideID string, s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[rideID], s)
	if len(b.subs[rideID]) == 0 {
		delete(b.subs, rideID)
	}
}
