// Command ridesim drives one passenger or driver session end to end against the
// configured geocoder, router and backends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ride-tracking/internal/app"
	"github.com/example/ride-tracking/internal/autocomplete"
	"github.com/example/ride-tracking/internal/config"
	"github.com/example/ride-tracking/internal/discovery"
	"github.com/example/ride-tracking/internal/geo"
	"github.com/example/ride-tracking/internal/live"
	"github.com/example/ride-tracking/internal/logging"
	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/ride"
	"github.com/example/ride-tracking/internal/routing"
	"github.com/example/ride-tracking/internal/share"
)

type options struct {
	role        string
	name        string
	origin      string
	destination string
	device      string
	suggest     string
	duration    time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.role, "role", "passenger", "passenger or driver")
	flag.StringVar(&opts.name, "name", "João", "display name of the simulated user")
	flag.StringVar(&opts.origin, "origin", "", "origin address or \"lat, lon\" (passenger; empty uses -device)")
	flag.StringVar(&opts.destination, "destination", "Shopping Ibirapuera", "destination address or \"lat, lon\" (passenger)")
	flag.StringVar(&opts.device, "device", "-23.5613, -46.6565", "device position as \"lat, lon\"")
	flag.StringVar(&opts.suggest, "suggest", "", "print autocomplete suggestions for this text and exit")
	flag.DurationVar(&opts.duration, "ride-duration", 10*time.Second, "how long the active ride lasts before finishing")
	flag.Parse()

	cfg, err := config.LoadServerConfig()
	logger := logging.New(os.Stderr, cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, os.Stdout, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, opts options, out io.Writer, logger *slog.Logger) error {
	backends, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	geocoder := geo.NewGeocoder(cfg.GeocoderURL, cfg.ProviderTimeout)
	geocoder.Language = cfg.AcceptLanguage
	geocoder.UserAgent = cfg.UserAgent
	geocoder.Logger = logger

	osrm := routing.NewOSRMClient(cfg.OSRMURL, cfg.ProviderTimeout)
	router := &routing.Router{Provider: osrm, Cache: routing.NewCache[models.Route](cfg.RouteCacheTTL)}

	var index geo.Nearby = geo.NewIndex()
	if backends.Redis != nil {
		geocoder.Cache = geo.NewRedisCache(backends.Redis, 24*time.Hour)
		index = geo.NewRedisGeo(backends.Redis, cfg.RedisGeoKey)
	}

	if opts.suggest != "" {
		return suggest(ctx, geocoder, cfg.CountryFilter, opts.suggest, out, logger)
	}

	pool := discovery.NewPool(index)
	pool.TopN = cfg.DiscoveryTopN
	pool.DefaultSpeedKmh = cfg.DefaultSpeedKmh
	pool.ETAClient = osrm
	pool.ETACache = routing.NewCache[float64](cfg.RouteCacheTTL)
	pool.Delay = cfg.Timing.DiscoveryDelay

	role := models.Role(opts.role)
	sess, err := ride.NewSession(ride.Config{
		User:          models.User{ID: "sim-" + opts.role, Name: opts.name, Role: role},
		Geocoder:      geocoder,
		Router:        router,
		Discovery:     pool,
		Rides:         backends.Store,
		Bus:           backends.Bus,
		Feed:          live.NewRandomWalk(cfg.Timing.MoveInterval, cfg.Timing.MoveStepDeg),
		Shares:        share.NewManager(backends.Store, backends.Store, backends.Bus, cfg.BaseURL, logger),
		Timing:        cfg.Timing,
		CountryFilter: cfg.CountryFilter,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	if opts.device != "" {
		c, ok := geo.ParseLatLon(opts.device)
		if !ok {
			return fmt.Errorf("invalid -device %q", opts.device)
		}
		if err := sess.SetDevicePosition(c); err != nil {
			return err
		}
	}

	if role == models.RoleDriver {
		return runDriver(ctx, sess, opts, out)
	}
	return runPassenger(ctx, sess, opts, out)
}

func runPassenger(ctx context.Context, sess *ride.Session, opts options, out io.Writer) error {
	if err := sess.SetOrigin(opts.origin); err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	if err := sess.SetDestination(opts.destination); err != nil {
		return fmt.Errorf("destination: %w", err)
	}

	route, err := sess.DrawRoute(ctx)
	if err != nil {
		return fmt.Errorf("route: %w", err)
	}
	fmt.Fprintf(out, "route: %d points, %.1f km straight line\n", len(route.Path), route.StraightLineKm)

	candidates, err := sess.Search(ctx)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(candidates) == 0 {
		return errors.New("no drivers nearby")
	}
	for i, c := range candidates {
		fmt.Fprintf(out, "%d. %s (%s) %.1f km, %d min, %s\n", i+1, c.DisplayName, c.Vehicle, c.DistanceKm, c.ETAMinutes, c.Price)
	}

	r, err := sess.Confirm(candidates[0].ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "confirmed ride %s with %s\n", r.RideID, r.Counterparty.DisplayName)

	if err := waitStatus(ctx, sess, models.StatusActive); err != nil {
		return err
	}
	if link, err := sess.Share(ctx); err == nil {
		fmt.Fprintf(out, "share: %s\nwhatsapp: %s\n", link.URL, link.WhatsAppURL)
	} else {
		fmt.Fprintf(out, "share unavailable: %v\n", err)
	}

	return finishAfter(ctx, sess, opts.duration, out)
}

func runDriver(ctx context.Context, sess *ride.Session, opts options, out io.Writer) error {
	if err := sess.GoOnline(); err != nil {
		return err
	}
	fmt.Fprintln(out, "online, waiting for requests")

	if err := waitStatus(ctx, sess, models.StatusRequested); err != nil {
		return err
	}
	snap := sess.Snapshot()
	if len(snap.Candidates) == 0 {
		return errors.New("request disappeared")
	}
	req := snap.Candidates[0]
	fmt.Fprintf(out, "request from %s: %s -> %s, %.1f km, %s\n", req.DisplayName, req.OriginText, req.DestinationText, req.DistanceKm, req.Price)

	r, err := sess.Accept(req.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "accepted ride %s\n", r.RideID)
	if err := waitStatus(ctx, sess, models.StatusActive); err != nil {
		return err
	}
	if err := finishAfter(ctx, sess, opts.duration, out); err != nil {
		return err
	}
	e := sess.Snapshot().Earnings
	fmt.Fprintf(out, "earnings today %s, week %s, total %s\n", e.Today, e.Week, e.Total)
	if err := waitStatus(ctx, sess, models.StatusAvailable); err != nil {
		return err
	}
	return sess.GoOffline()
}

func finishAfter(ctx context.Context, sess *ride.Session, d time.Duration, out io.Writer) error {
	t := time.NewTimer(d)
	defer t.Stop()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if p := sess.Snapshot().CounterpartyPosition; p != nil {
				fmt.Fprintf(out, "driver at %s\n", p)
			}
		case <-t.C:
			r, err := sess.Finish()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "ride %s completed, fare %s\n", r.RideID, r.Price)
			return nil
		}
	}
}

func waitStatus(ctx context.Context, sess *ride.Session, want models.RideStatus) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for sess.Status() != want {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// suggest types text one character at a time, the way a user would, and
// prints whatever list is current once the last lookup settles.
func suggest(ctx context.Context, s autocomplete.Suggester, country, text string, out io.Writer, logger *slog.Logger) error {
	field := autocomplete.NewField(s, autocomplete.Options{CountryFilter: country, Debounce: 150 * time.Millisecond, Logger: logger})
	defer field.Close()
	runes := []rune(text)
	for i := range runes {
		field.OnInput(string(runes[:i+1]))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	field.Wait()
	for i, sg := range field.Suggestions() {
		fmt.Fprintf(out, "%d. %s (%s)\n", i+1, sg.DisplayName, sg.Coord)
	}
	return nil
}
