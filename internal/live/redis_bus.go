package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-tracking/internal/logging"
	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/observability"
)

// DefaultPositionTTL bounds how long a ride's last position outlives its
// final publish.
const DefaultPositionTTL = time.Hour

// RedisBus publishes on channel ride-updates-<id> and keeps the last value
// under ride:position:<id> so late subscribers start from the current spot.
type RedisBus struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisBus(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisBus {
	if ttl <= 0 {
		ttl = DefaultPositionTTL
	}
	return &RedisBus{client: client, ttl: ttl, logger: logging.OrDefault(logger)}
}

func Channel(rideID string) string     { return "ride-updates-" + rideID }
func positionKey(rideID string) string { return "ride:position:" + rideID }

func (b *RedisBus) Publish(ctx context.Context, u models.PositionUpdate) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}
	if err := b.client.Set(ctx, positionKey(u.RideID), string(payload), b.ttl).Err(); err != nil {
		return fmt.Errorf("store position for ride %s: %w", u.RideID, err)
	}
	if err := b.client.Publish(ctx, Channel(u.RideID), string(payload)).Err(); err != nil {
		return fmt.Errorf("publish position for ride %s: %w", u.RideID, err)
	}
	observability.PositionsPublished.Inc()
	return nil
}

// Last reads the retained position for rideID.
func (b *RedisBus) Last(ctx context.Context, rideID string) (models.PositionUpdate, bool, error) {
	raw, err := b.client.Get(ctx, positionKey(rideID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.PositionUpdate{}, false, nil
	}
	if err != nil {
		return models.PositionUpdate{}, false, fmt.Errorf("read position for ride %s: %w", rideID, err)
	}
	var u models.PositionUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		return models.PositionUpdate{}, false, fmt.Errorf("decode position for ride %s: %w", rideID, err)
	}
	return u, true, nil
}

func (b *RedisBus) Subscribe(ctx context.Context, rideID string) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, Channel(rideID))
	// wait for the subscription to be confirmed before reading the retained value
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe ride %s: %w", rideID, err)
	}
	sub := newSubscription(rideID, func() { _ = ps.Close() })
	sub.bind(ctx)

	if last, ok, err := b.Last(ctx, rideID); err != nil {
		b.logger.Warn("live: last position unavailable", "ride_id", rideID, "error", err)
	} else if ok {
		sub.deliver(last)
	}

	go func() {
		for msg := range ps.Channel() {
			var u models.PositionUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				b.logger.Warn("live: dropping malformed update", "channel", msg.Channel, "error", err)
				continue
			}
			sub.deliver(u)
		}
	}()
	return sub, nil
}
