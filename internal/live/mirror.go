package live

import (
	"context"
	"log/slog"

	"github.com/example/ride-tracking/internal/logging"
	"github.com/example/ride-tracking/internal/models"
)

// Sink receives a copy of every published position. ingest.KafkaProducer is one.
type Sink interface {
	PublishPosition(ctx context.Context, u models.PositionUpdate) error
}

// Mirror publishes to Bus and then copies to every sink. Sink failures are
// logged and never fail the publish.
type Mirror struct {
	Bus
	Sinks  []Sink
	Logger *slog.Logger
}

func (m *Mirror) Publish(ctx context.Context, u models.PositionUpdate) error {
	if err := m.Bus.Publish(ctx, u); err != nil {
		return err
	}
	for _, s := range m.Sinks {
		if err := s.PublishPosition(ctx, u); err != nil {
			logging.OrDefault(m.Logger).Warn("live: mirror sink failed", "ride_id", u.RideID, "error", err)
		}
	}
	return nil
}
