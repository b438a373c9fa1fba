// Package discovery supplies counterparties to a ride session: nearby drivers
// for passengers and inbound ride requests for drivers. The pool is synthetic.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-tracking/internal/geo"
	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/routing"
)

type Discoverer interface {
	// NearbyDrivers lists ranked driver offers for a passenger's trip.
	NearbyDrivers(ctx context.Context, req models.RideRequest) ([]models.Candidate, error)
	// NextRequest produces the next ride request offered to an online driver.
	NextRequest(ctx context.Context, driverAt models.Coord) (models.Candidate, error)
}

// ETAClient is satisfied by routing.OSRMClient.
type ETAClient interface {
	EstimateSeconds(ctx context.Context, from, to models.Coord) (float64, error)
}

// Seed places a synthetic driver relative to the search origin.
type Seed struct {
	ID         string
	Name       string
	Vehicle    string
	DistanceKm float64
	BearingDeg float64
	Rating     float64
	Price      models.Money
}

func DefaultSeeds() []Seed {
	return []Seed{
		{ID: "1", Name: "Carlos Silva", Vehicle: "Honda Civic Preto", DistanceKm: 2.5, BearingDeg: 30, Rating: 4.8, Price: 1250},
		{ID: "2", Name: "Ana Oliveira", Vehicle: "Toyota Corolla Prata", DistanceKm: 3.2, BearingDeg: 160, Rating: 4.9, Price: 1500},
		{ID: "3", Name: "Roberto Santos", Vehicle: "Hyundai HB20 Branco", DistanceKm: 1.8, BearingDeg: 250, Rating: 4.7, Price: 1100},
	}
}

// Request is the template for inbound requests offered to drivers.
type Request struct {
	PassengerName   string
	OriginText      string
	DestinationText string
	DistanceKm      float64
	ETAMinutes      int
	Price           models.Money
}

func DefaultRequest() Request {
	return Request{
		PassengerName:   "Maria Santos",
		OriginText:      "Av. Paulista, 1000",
		DestinationText: "Shopping Ibirapuera",
		DistanceKm:      5.2,
		ETAMinutes:      15,
		Price:           1850,
	}
}

// Pool is the synthetic Discoverer. Drivers are upserted into Index around the
// origin on every search, then ranked the same way a real dispatcher would.
type Pool struct {
	Index           geo.Nearby
	Seeds           []Seed
	Request         Request
	TopN            int
	DefaultSpeedKmh float64
	ETAClient       ETAClient               // optional OSRM client
	ETACache        *routing.Cache[float64] // optional ETA cache, seconds
	// Delay simulates provider latency; ctx cancellation cuts it short.
	Delay time.Duration
	NewID func() string
}

func NewPool(index geo.Nearby) *Pool {
	return &Pool{Index: index, Seeds: DefaultSeeds(), Request: DefaultRequest(), TopN: 3}
}

func (p *Pool) NearbyDrivers(ctx context.Context, req models.RideRequest) ([]models.Candidate, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	for _, s := range p.Seeds {
		rating := s.Rating
		c := models.Candidate{
			ID:          s.ID,
			DisplayName: s.Name,
			Vehicle:     s.Vehicle,
			Rating:      &rating,
			Price:       s.Price,
			Loc:         geo.Offset(req.Origin, s.DistanceKm, s.BearingDeg),
		}
		if err := p.Index.Upsert(ctx, c); err != nil {
			return nil, fmt.Errorf("seed driver %s: %w", s.ID, err)
		}
	}

	topN := p.TopN
	if topN <= 0 {
		topN = 10
	}
	cands, err := p.Index.Nearby(ctx, req.Origin, topN)
	if err != nil {
		return nil, fmt.Errorf("nearby drivers: %w", err)
	}

	type scored struct {
		c    models.Candidate
		cost float64
	}
	list := make([]scored, 0, len(cands))
	for _, c := range cands {
		etaSec := p.etaSeconds(ctx, c.Loc, req.Origin)
		c.ETAMinutes = int((etaSec + 59) / 60)
		rating := 5.0
		if c.Rating != nil {
			rating = *c.Rating
		}
		cost := etaSec + 30.0*(5.0-rating) // cost = w1*eta + w2*(5 - rating)
		list = append(list, scored{c, cost})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].cost < list[j].cost })

	out := make([]models.Candidate, len(list))
	for i, s := range list {
		out[i] = s.c
	}
	return out, nil
}

func (p *Pool) etaSeconds(ctx context.Context, from, to models.Coord) float64 {
	if v, ok := p.ETACache.Get(from, to); ok {
		return v
	}
	if p.ETAClient != nil {
		if v, err := p.ETAClient.EstimateSeconds(ctx, from, to); err == nil {
			p.ETACache.Set(from, to, v)
			return v
		}
		// fallback to naive estimator
	}
	return routing.EstimateSeconds(from, to, p.DefaultSpeedKmh)
}

func (p *Pool) NextRequest(ctx context.Context, _ models.Coord) (models.Candidate, error) {
	if err := p.wait(ctx); err != nil {
		return models.Candidate{}, err
	}
	id := uuid.NewString()
	if p.NewID != nil {
		id = p.NewID()
	}
	r := p.Request
	return models.Candidate{
		ID:              id,
		DisplayName:     r.PassengerName,
		DistanceKm:      r.DistanceKm,
		ETAMinutes:      r.ETAMinutes,
		Price:           r.Price,
		OriginText:      r.OriginText,
		DestinationText: r.DestinationText,
	}, nil
}

func (p *Pool) wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
