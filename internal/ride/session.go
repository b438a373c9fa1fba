// Package ride runs the ride lifecycle for one signed-in user. Passengers and
// drivers share the same engine; the role only selects the transition table.
package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-tracking/internal/config"
	"github.com/example/ride-tracking/internal/discovery"
	"github.com/example/ride-tracking/internal/geo"
	"github.com/example/ride-tracking/internal/live"
	"github.com/example/ride-tracking/internal/logging"
	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/observability"
	"github.com/example/ride-tracking/internal/share"
	"github.com/example/ride-tracking/internal/storage"
)

var (
	ErrClosed = errors.New("session closed")
	// ErrSuperseded is returned when the trip was reset while a lookup ran.
	ErrSuperseded = errors.New("session state changed during operation")
)

type Geocoder interface {
	Resolve(ctx context.Context, query, countryFilter string) (models.Coord, error)
}

type Router interface {
	Route(ctx context.Context, from, to models.Coord) (models.Route, error)
}

type Sharer interface {
	Create(ctx context.Context, ride models.ActiveRide) (share.Link, error)
}

type Config struct {
	User      models.User
	Geocoder  Geocoder
	Router    Router
	Discovery discovery.Discoverer
	Rides     storage.RideStore // optional
	Bus       live.Bus          // optional
	Feed      live.Feed         // optional; publishes while a ride is active
	Shares    Sharer            // optional
	Scheduler Scheduler
	Timing    config.RideTiming

	CountryFilter string
	Logger        *slog.Logger
	Now           func() time.Time
	NewID         func() string
}

type Earnings struct {
	Today models.Money `json:"today"`
	Week  models.Money `json:"week"`
	Total models.Money `json:"total"`
}

// Snapshot is a copy of the session state; nothing in it aliases the session.
type Snapshot struct {
	Role                 models.Role
	Status               models.RideStatus
	Online               bool
	OriginText           string
	DestinationText      string
	Origin               *models.Coord
	Destination          *models.Coord
	Device               *models.Coord
	Route                *models.Route
	Bounds               *geo.Bounds
	Candidates           []models.Candidate
	Ride                 *models.ActiveRide
	CounterpartyPosition *models.Coord
	RouteError           error
	DiscoveryError       error
	Earnings             Earnings
}

type Session struct {
	cfg    Config
	table  table
	role   models.Role
	logger *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu         sync.Mutex
	closed     bool
	gen        uint64
	timerSeq   uint64
	timers     map[uint64]Timer
	liveCancel context.CancelFunc
	liveDone   chan struct{}

	status          models.RideStatus
	online          bool
	originText      string
	destinationText string
	origin          *models.Coord
	destination     *models.Coord
	device          *models.Coord
	route           *models.Route
	bounds          *geo.Bounds
	candidates      []models.Candidate
	ride            *models.ActiveRide
	counterpartyPos *models.Coord
	lastPos         *models.Coord
	routeErr        error
	discoveryErr    error
	earnings        Earnings
	earningsDay     string
	earningsWeek    string
}

func NewSession(cfg Config) (*Session, error) {
	tbl, err := tableFor(cfg.User.Role)
	if err != nil {
		return nil, err
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = RealScheduler()
	}
	if cfg.Timing == (config.RideTiming{}) {
		cfg.Timing = config.DefaultRideTiming()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:    cfg,
		table:  tbl,
		role:   cfg.User.Role,
		logger: logging.OrDefault(cfg.Logger).With("user_id", cfg.User.ID, "role", string(cfg.User.Role)),
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[uint64]Timer),
		status: models.StatusIdle,
	}, nil
}

func (s *Session) Status() models.RideStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetOrigin sets the origin address. Blank means the device position.
func (s *Session) SetOrigin(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editTripLocked(); err != nil {
		return err
	}
	s.originText = text
	return nil
}

func (s *Session) SetDestination(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editTripLocked(); err != nil {
		return err
	}
	s.destinationText = text
	return nil
}

// editTripLocked rejects trip changes once a counterparty is booked.
func (s *Session) editTripLocked() error {
	if s.closed {
		return ErrClosed
	}
	switch s.status {
	case models.StatusIdle, models.StatusAvailable, models.StatusRequested:
		return nil
	}
	return s.rejectLocked(EventEditTrip)
}

// SetDevicePosition records the last known device location, used as the trip
// origin when no origin address is given.
func (s *Session) SetDevicePosition(c models.Coord) error {
	if !c.Valid() {
		return fmt.Errorf("device position %s out of range", c)
	}
	s.mu.Lock()
	s.device = &c
	s.mu.Unlock()
	return nil
}

// DrawRoute resolves both ends and computes the route. Nothing is committed
// unless every step succeeds; a failure only sets RouteError.
func (s *Session) DrawRoute(ctx context.Context) (models.Route, error) {
	s.mu.Lock()
	if err := s.editTripLocked(); err != nil {
		s.mu.Unlock()
		return models.Route{}, err
	}
	originText := strings.TrimSpace(s.originText)
	destText := strings.TrimSpace(s.destinationText)
	device := copyCoord(s.device)
	gen := s.gen
	s.mu.Unlock()

	route, from, to, err := s.resolveRoute(ctx, originText, destText, device)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.Route{}, ErrClosed
	}
	if s.gen != gen {
		return models.Route{}, ErrSuperseded
	}
	if err := s.editTripLocked(); err != nil {
		return models.Route{}, err
	}
	if err != nil {
		s.routeErr = err
		s.logger.Warn("route failed", "error", err)
		return models.Route{}, err
	}
	b := geo.BoundsOf(from, to).Pad(0.1)
	s.origin, s.destination = &from, &to
	s.route = &route
	s.bounds = &b
	s.routeErr = nil
	return route, nil
}

func (s *Session) resolveRoute(ctx context.Context, originText, destText string, device *models.Coord) (models.Route, models.Coord, models.Coord, error) {
	var from, to models.Coord
	if destText == "" {
		return models.Route{}, from, to, ErrNoDestination
	}
	if originText == "" {
		if device == nil {
			return models.Route{}, from, to, ErrNoOrigin
		}
		from = *device
	} else {
		c, err := s.cfg.Geocoder.Resolve(ctx, originText, s.cfg.CountryFilter)
		if err != nil {
			return models.Route{}, from, to, fmt.Errorf("origin %q: %w", originText, err)
		}
		from = c
	}
	to, err := s.cfg.Geocoder.Resolve(ctx, destText, s.cfg.CountryFilter)
	if err != nil {
		return models.Route{}, from, to, fmt.Errorf("destination %q: %w", destText, err)
	}
	route, err := s.cfg.Router.Route(ctx, from, to)
	if err != nil {
		return models.Route{}, from, to, fmt.Errorf("route: %w", err)
	}
	return route, from, to, nil
}

// Search asks discovery for nearby drivers. Failures land in DiscoveryError
// and leave the session idle so the search can be retried.
func (s *Session) Search(ctx context.Context) ([]models.Candidate, error) {
	s.mu.Lock()
	to, err := s.nextLocked(EventSearch)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if strings.TrimSpace(s.destinationText) == "" {
		s.mu.Unlock()
		return nil, ErrNoDestination
	}
	origin := s.origin
	if origin == nil {
		origin = s.device
	}
	if origin == nil {
		s.mu.Unlock()
		return nil, ErrNoOrigin
	}
	if s.cfg.Discovery == nil {
		s.mu.Unlock()
		return nil, errors.New("discovery unavailable")
	}
	req := models.RideRequest{Origin: *origin, OriginText: s.originText, DestinationText: s.destinationText}
	if s.destination != nil {
		req.Destination = *s.destination
	}
	s.commitLocked(EventSearch, to)
	s.candidates = nil
	s.discoveryErr = nil
	gen := s.gen
	s.mu.Unlock()

	cands, derr := s.cfg.Discovery.NearbyDrivers(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(gen) || s.status != models.StatusSearching {
		return nil, ErrClosed
	}
	to, _ = s.nextLocked(EventDiscovered)
	s.commitLocked(EventDiscovered, to)
	if derr != nil {
		s.discoveryErr = derr
		s.logger.Warn("discovery failed", "error", derr)
		return nil, derr
	}
	s.candidates = append([]models.Candidate(nil), cands...)
	return append([]models.Candidate(nil), cands...), nil
}

// Confirm books a candidate from the last search.
func (s *Session) Confirm(candidateID string) (models.ActiveRide, error) {
	s.mu.Lock()
	to, err := s.nextLocked(EventConfirm)
	if err != nil {
		s.mu.Unlock()
		return models.ActiveRide{}, err
	}
	c, ok := s.candidateLocked(candidateID)
	if !ok {
		err := s.rejectLocked(EventConfirm)
		s.mu.Unlock()
		return models.ActiveRide{}, err
	}
	s.ride = &models.ActiveRide{
		RideID:          s.cfg.NewID(),
		Counterparty:    c,
		OriginText:      s.originText,
		DestinationText: s.destinationText,
		Price:           c.Price,
	}
	s.commitLocked(EventConfirm, to)
	s.candidates = nil
	rec := s.recordLocked()
	at := s.lastKnownLocked()
	s.afterLocked(s.cfg.Timing.ConfirmToActive, s.arrive)
	ride := *s.ride
	s.mu.Unlock()

	s.saveRide(rec)
	s.publishStatus(ride.RideID, ride.Status, at)
	return ride, nil
}

func (s *Session) GoOnline() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	to, err := s.nextLocked(EventGoOnline)
	if err != nil {
		return err
	}
	s.commitLocked(EventGoOnline, to)
	s.online = true
	s.discoveryErr = nil
	s.afterLocked(s.cfg.Timing.FirstOfferDelay, s.offer)
	return nil
}

// GoOffline drops any pending offer and stops future ones.
func (s *Session) GoOffline() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	to, err := s.nextLocked(EventGoOffline)
	if err != nil {
		return err
	}
	s.gen++
	s.stopTimersLocked()
	s.commitLocked(EventGoOffline, to)
	s.online = false
	s.candidates = nil
	return nil
}

func (s *Session) offer(gen uint64) {
	s.mu.Lock()
	if !s.currentLocked(gen) || s.status != models.StatusAvailable {
		s.mu.Unlock()
		return
	}
	var at models.Coord
	if s.device != nil {
		at = *s.device
	}
	s.mu.Unlock()

	c, err := s.cfg.Discovery.NextRequest(s.ctx, at)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(gen) || s.status != models.StatusAvailable {
		return
	}
	if err != nil {
		s.discoveryErr = err
		s.logger.Warn("ride request discovery failed", "error", err)
		s.afterLocked(s.cfg.Timing.NextOfferDelay, s.offer)
		return
	}
	to, err := s.nextLocked(EventOffer)
	if err != nil {
		return
	}
	s.commitLocked(EventOffer, to)
	s.candidates = []models.Candidate{c}
	s.discoveryErr = nil
}

func (s *Session) Accept(requestID string) (models.ActiveRide, error) {
	s.mu.Lock()
	to, err := s.nextLocked(EventAccept)
	if err != nil {
		s.mu.Unlock()
		return models.ActiveRide{}, err
	}
	c, ok := s.candidateLocked(requestID)
	if !ok {
		err := s.rejectLocked(EventAccept)
		s.mu.Unlock()
		return models.ActiveRide{}, err
	}
	s.ride = &models.ActiveRide{
		RideID:          s.cfg.NewID(),
		Counterparty:    c,
		OriginText:      c.OriginText,
		DestinationText: c.DestinationText,
		Price:           c.Price,
	}
	s.originText, s.destinationText = c.OriginText, c.DestinationText
	s.commitLocked(EventAccept, to)
	s.candidates = nil
	rec := s.recordLocked()
	at := s.lastKnownLocked()
	s.afterLocked(s.cfg.Timing.AcceptToActive, s.arrive)
	ride := *s.ride
	s.mu.Unlock()

	s.saveRide(rec)
	s.publishStatus(ride.RideID, ride.Status, at)
	return ride, nil
}

func (s *Session) Reject(requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	to, err := s.nextLocked(EventReject)
	if err != nil {
		return err
	}
	if _, ok := s.candidateLocked(requestID); !ok {
		return s.rejectLocked(EventReject)
	}
	s.commitLocked(EventReject, to)
	s.candidates = nil
	s.afterLocked(s.cfg.Timing.NextOfferDelay, s.offer)
	return nil
}

func (s *Session) arrive(gen uint64) {
	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		return
	}
	to, err := s.nextLocked(EventArrive)
	if err != nil {
		s.mu.Unlock()
		return
	}
	s.commitLocked(EventArrive, to)
	rideID := s.ride.RideID
	start := s.trackStartLocked()
	s.lastPos = nil
	s.mu.Unlock()

	s.recordStatus(rideID, models.StatusActive)
	s.publishStatus(rideID, models.StatusActive, start)
	s.startLive(gen, rideID, start)
}

// Finish completes the active ride. Drivers are credited with the fare and
// become available again after the release delay.
func (s *Session) Finish() (models.ActiveRide, error) {
	s.mu.Lock()
	to, err := s.nextLocked(EventFinish)
	if err != nil {
		s.mu.Unlock()
		return models.ActiveRide{}, err
	}
	s.commitLocked(EventFinish, to)
	feedDone := s.stopLiveLocked()
	at := s.lastKnownLocked()
	s.counterpartyPos = nil
	ride := *s.ride
	if s.role == models.RoleDriver {
		s.creditLocked(ride.Price)
		s.afterLocked(s.cfg.Timing.CompletedRelease, s.release)
	}
	s.mu.Unlock()

	// the completed update must be the last thing viewers see
	if feedDone != nil {
		<-feedDone
		s.mu.Lock()
		if s.lastPos != nil {
			at = copyCoord(s.lastPos)
		}
		s.mu.Unlock()
	}
	s.recordStatus(ride.RideID, models.StatusCompleted)
	s.publishStatus(ride.RideID, models.StatusCompleted, at)
	return ride, nil
}

func (s *Session) release(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(gen) {
		return
	}
	to, err := s.nextLocked(EventRelease)
	if err != nil {
		return
	}
	if !s.online {
		to = models.StatusIdle
	}
	s.commitLocked(EventRelease, to)
	s.ride = nil
	s.candidates = nil
	if s.online {
		s.afterLocked(s.cfg.Timing.NextOfferDelay, s.offer)
	}
}

// NewRide clears the finished trip so the passenger can start over.
func (s *Session) NewRide() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	to, err := s.nextLocked(EventNewRide)
	if err != nil {
		return err
	}
	s.gen++
	s.stopTimersLocked()
	s.commitLocked(EventNewRide, to)
	s.originText, s.destinationText = "", ""
	s.origin, s.destination = nil, nil
	s.route, s.bounds = nil, nil
	s.candidates = nil
	s.ride = nil
	s.counterpartyPos, s.lastPos = nil, nil
	s.routeErr, s.discoveryErr = nil, nil
	return nil
}

// Share publishes a link to the ride in progress.
func (s *Session) Share(ctx context.Context) (share.Link, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return share.Link{}, ErrClosed
	}
	if s.ride == nil || s.status == models.StatusCompleted {
		s.mu.Unlock()
		return share.Link{}, ErrNoRide
	}
	ride := *s.ride
	s.mu.Unlock()

	if s.cfg.Shares == nil {
		return share.Link{}, errors.New("sharing unavailable")
	}
	return s.cfg.Shares.Create(ctx, ride)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Role:                 s.role,
		Status:               s.status,
		Online:               s.online,
		OriginText:           s.originText,
		DestinationText:      s.destinationText,
		Origin:               copyCoord(s.origin),
		Destination:          copyCoord(s.destination),
		Device:               copyCoord(s.device),
		Candidates:           append([]models.Candidate(nil), s.candidates...),
		CounterpartyPosition: copyCoord(s.counterpartyPos),
		RouteError:           s.routeErr,
		DiscoveryError:       s.discoveryErr,
		Earnings:             s.earnings,
	}
	if s.route != nil {
		r := *s.route
		r.Path = append([]models.Coord(nil), s.route.Path...)
		snap.Route = &r
	}
	if s.bounds != nil {
		b := *s.bounds
		snap.Bounds = &b
	}
	if s.ride != nil {
		r := *s.ride
		snap.Ride = &r
	}
	return snap
}

// Close stops every timer, live feed and subscription owned by the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.gen++
		s.stopTimersLocked()
		s.stopLiveLocked()
		s.mu.Unlock()
		s.cancel()
		s.wg.Wait()
	})
}

func (s *Session) nextLocked(ev Event) (models.RideStatus, error) {
	if s.closed {
		return "", ErrClosed
	}
	to, ok := s.table[s.status][ev]
	if !ok {
		return "", s.rejectLocked(ev)
	}
	return to, nil
}

func (s *Session) rejectLocked(ev Event) error {
	observability.TransitionsRejected.WithLabelValues(string(s.role), string(ev)).Inc()
	return &TransitionError{Role: s.role, From: s.status, Event: ev}
}

func (s *Session) commitLocked(ev Event, to models.RideStatus) {
	from := s.status
	s.status = to
	if s.ride != nil {
		switch to {
		case models.StatusConfirmed, models.StatusAccepted, models.StatusActive, models.StatusCompleted:
			s.ride.Status = to
		}
	}
	observability.Transitions.WithLabelValues(string(s.role), string(ev), string(to)).Inc()
	s.logger.Debug("ride transition", "event", string(ev), "from", string(from), "to", string(to))
}

func (s *Session) currentLocked(gen uint64) bool { return !s.closed && s.gen == gen }

// afterLocked schedules fn; fn receives the generation it was scheduled in and
// must re-check it under the lock.
func (s *Session) afterLocked(d time.Duration, fn func(gen uint64)) {
	gen := s.gen
	s.timerSeq++
	id := s.timerSeq
	s.timers[id] = s.cfg.Scheduler.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		stale := !s.currentLocked(gen)
		s.mu.Unlock()
		if stale {
			return
		}
		fn(gen)
	})
}

func (s *Session) stopTimersLocked() {
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Session) candidateLocked(id string) (models.Candidate, bool) {
	for _, c := range s.candidates {
		if c.ID == id {
			return c, true
		}
	}
	return models.Candidate{}, false
}

func (s *Session) recordLocked() models.RideRecord {
	now := s.cfg.Now()
	rec := models.RideRecord{ID: s.ride.RideID, Status: s.status, CreatedAt: now, UpdatedAt: now}
	if s.origin != nil {
		rec.Origin = copyCoord(s.origin)
	} else {
		rec.Origin = copyCoord(s.device)
	}
	return rec
}

func (s *Session) trackStartLocked() *models.Coord {
	switch {
	case s.device != nil:
		return copyCoord(s.device)
	case s.origin != nil:
		return copyCoord(s.origin)
	case s.ride != nil && s.ride.Counterparty.Loc != (models.Coord{}):
		c := s.ride.Counterparty.Loc
		return &c
	}
	return nil
}

func (s *Session) creditLocked(m models.Money) {
	now := s.cfg.Now()
	day := now.Format("2006-01-02")
	y, w := now.ISOWeek()
	week := fmt.Sprintf("%d-W%02d", y, w)
	if day != s.earningsDay {
		s.earnings.Today = 0
		s.earningsDay = day
	}
	if week != s.earningsWeek {
		s.earnings.Week = 0
		s.earningsWeek = week
	}
	s.earnings.Today += m
	s.earnings.Week += m
	s.earnings.Total += m
}

func (s *Session) saveRide(rec models.RideRecord) {
	if s.cfg.Rides == nil {
		return
	}
	if err := s.cfg.Rides.SaveRide(s.ctx, rec); err != nil {
		s.logger.Warn("persist ride failed", "ride_id", rec.ID, "error", err)
	}
}

func (s *Session) recordStatus(rideID string, status models.RideStatus) {
	if s.cfg.Rides == nil {
		return
	}
	if err := s.cfg.Rides.UpdateRideStatus(s.ctx, rideID, status, s.cfg.Now()); err != nil {
		s.logger.Warn("persist ride status failed", "ride_id", rideID, "status", string(status), "error", err)
	}
}

func copyCoord(c *models.Coord) *models.Coord {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}
