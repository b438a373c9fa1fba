package live

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/example/ride-tracking/internal/logging"
	"github.com/example/ride-tracking/internal/models"
)

// Feed is a device location source. Run emits positions until ctx ends or the
// source is exhausted.
type Feed interface {
	Run(ctx context.Context, start models.Coord, emit func(models.Coord)) error
}

// RandomWalk nudges the position by up to Step degrees per axis every Interval.
type RandomWalk struct {
	Interval time.Duration
	Step     float64
	Rand     func() float64 // [0,1); rand.Float64 when nil
}

func NewRandomWalk(interval time.Duration, step float64) *RandomWalk {
	return &RandomWalk{Interval: interval, Step: step}
}

func (w *RandomWalk) Run(ctx context.Context, start models.Coord, emit func(models.Coord)) error {
	rnd := w.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	interval := w.Interval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	pos := start
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			pos.Lat += (rnd() - 0.5) * 2 * w.Step
			pos.Lon += (rnd() - 0.5) * 2 * w.Step
			emit(pos)
		}
	}
}

// Static replays fixed points, Interval apart, then stops.
type Static struct {
	Points   []models.Coord
	Interval time.Duration
}

func (s *Static) Run(ctx context.Context, _ models.Coord, emit func(models.Coord)) error {
	for i, p := range s.Points {
		if i > 0 && s.Interval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.Interval):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		emit(p)
	}
	return nil
}

// Stream runs feed and publishes every emitted position for rideID with the
// status reported by status at emit time.
func Stream(ctx context.Context, bus Bus, feed Feed, rideID string, start models.Coord, status func() models.RideStatus, logger *slog.Logger) error {
	logger = logging.OrDefault(logger)
	return feed.Run(ctx, start, func(c models.Coord) {
		u := models.PositionUpdate{RideID: rideID, Coord: c, At: time.Now().UTC()}
		if status != nil {
			u.Status = status()
		}
		if err := bus.Publish(ctx, u); err != nil && ctx.Err() == nil {
			logger.Warn("live: publish failed", "ride_id", rideID, "error", err)
		}
	})
}
