package ride

import (
	"context"

	"github.com/example/ride-tracking/internal/live"
	"github.com/example/ride-tracking/internal/models"
)

// startLive attaches the position feed and, for passengers, a subscription to
// the ride's updates. Both are owned by the session until Finish or Close.
func (s *Session) startLive(gen uint64, rideID string, start *models.Coord) {
	if s.cfg.Bus == nil {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)

	var sub *live.Subscription
	if s.role == models.RolePassenger {
		var err error
		if sub, err = s.cfg.Bus.Subscribe(ctx, rideID); err != nil {
			s.logger.Warn("live subscribe failed", "ride_id", rideID, "error", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(gen) || s.status != models.StatusActive {
		cancel()
		return
	}
	s.stopLiveLocked()
	s.liveCancel = cancel

	if sub != nil {
		s.wg.Add(1)
		go s.track(sub)
	}
	if s.cfg.Feed != nil && start != nil {
		done := make(chan struct{})
		s.liveDone = done
		bus := positionTap{Bus: s.cfg.Bus, s: s}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer close(done)
			if err := live.Stream(ctx, bus, s.cfg.Feed, rideID, *start, s.Status, s.logger); err != nil {
				s.logger.Warn("position feed stopped", "ride_id", rideID, "error", err)
			}
		}()
	}
}

func (s *Session) track(sub *live.Subscription) {
	defer s.wg.Done()
	for u := range sub.C() {
		if u.Coord == (models.Coord{}) {
			continue
		}
		s.mu.Lock()
		if s.ride != nil && s.ride.RideID == u.RideID && s.status == models.StatusActive {
			c := u.Coord
			s.counterpartyPos = &c
		}
		s.mu.Unlock()
	}
}

// stopLiveLocked cancels the feed and subscription. It returns a channel that
// closes once the feed has published its last position, or nil without one.
func (s *Session) stopLiveLocked() <-chan struct{} {
	if s.liveCancel != nil {
		s.liveCancel()
		s.liveCancel = nil
	}
	done := s.liveDone
	s.liveDone = nil
	return done
}

// positionTap remembers the last position the feed published for this session.
type positionTap struct {
	live.Bus
	s *Session
}

func (p positionTap) Publish(ctx context.Context, u models.PositionUpdate) error {
	c := u.Coord
	p.s.mu.Lock()
	p.s.lastPos = &c
	p.s.mu.Unlock()
	return p.Bus.Publish(ctx, u)
}

func (s *Session) lastKnownLocked() *models.Coord {
	for _, c := range []*models.Coord{s.lastPos, s.counterpartyPos, s.device, s.origin} {
		if c != nil {
			return copyCoord(c)
		}
	}
	return nil
}

// publishStatus tells live viewers about a status change. The coordinate is
// the last known one; without any the update carries status only.
func (s *Session) publishStatus(rideID string, status models.RideStatus, at *models.Coord) {
	if s.cfg.Bus == nil {
		return
	}
	u := models.PositionUpdate{RideID: rideID, Status: status, At: s.cfg.Now()}
	if at != nil {
		u.Coord = *at
	}
	if err := s.cfg.Bus.Publish(s.ctx, u); err != nil {
		s.logger.Warn("publish ride status failed", "ride_id", rideID, "status", string(status), "error", err)
	}
}
