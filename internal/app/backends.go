// Package app wires configured backends for the binaries under cmd/.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-tracking/internal/config"
	httpapi "github.com/example/ride-tracking/internal/http"
	"github.com/example/ride-tracking/internal/ingest"
	"github.com/example/ride-tracking/internal/live"
	"github.com/example/ride-tracking/internal/storage"
)

type Store interface {
	storage.RideStore
	storage.ShareStore
}

// Backends holds the shared infrastructure. Anything not configured falls back
// to an in-process implementation.
type Backends struct {
	Store Store
	Bus   live.Bus
	Redis redis.UniversalClient // nil without REDIS_ADDR
	Ready map[string]httpapi.ReadyCheck

	closers []func() error
}

func Open(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*Backends, error) {
	b := &Backends{Ready: map[string]httpapi.ReadyCheck{}}

	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		b.closers = append(b.closers, pg.Close)
		if cfg.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				_ = b.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied")
		}
		b.Store = pg
		b.Ready["postgres"] = pg.Ping
		logger.Info("using postgres store")
	} else {
		b.Store = storage.NewMemoryStore()
		logger.Info("using in-memory store")
	}

	var bus live.Bus
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		b.Redis = rc
		b.closers = append(b.closers, rc.Close)
		b.Ready["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
		bus = live.NewRedisBus(rc, 0, logger)
		logger.Info("using redis bus", "addr", cfg.RedisAddr)
	} else {
		bus = live.NewMemoryBus()
		logger.Info("using in-memory bus")
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		b.closers = append(b.closers, producer.Close)
		bus = &live.Mirror{Bus: bus, Sinks: []live.Sink{producer}, Logger: logger}
		logger.Info("mirroring positions to kafka", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}
	b.Bus = bus
	return b, nil
}

// Close releases backends in reverse order of opening.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
