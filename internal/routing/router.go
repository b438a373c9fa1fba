package routing

import (
	"context"
	"errors"
	"math"

	"github.com/example/ride-tracking/internal/geo"
	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/observability"
)

var ErrRouteNotFound = errors.New("route not found")

// PathProvider returns a driving path and the provider's driving distance in km.
type PathProvider interface {
	Path(ctx context.Context, from, to models.Coord) ([]models.Coord, float64, error)
}

// Router combines the local straight-line distance with a provider path.
type Router struct {
	Provider PathProvider
	Cache    *Cache[models.Route]
}

// Route always fills StraightLineKm before asking the provider, so the
// distance is usable even when the returned error is non-nil.
func (r *Router) Route(ctx context.Context, from, to models.Coord) (models.Route, error) {
	route := models.Route{StraightLineKm: geo.DistanceKm(from, to)}
	if cached, ok := r.Cache.Get(from, to); ok {
		observability.RouteCacheHits.Inc()
		return cached, nil
	}
	path, routedKm, err := r.Provider.Path(ctx, from, to)
	if err != nil {
		return route, err
	}
	route.Path = path
	route.RoutedKm = routedKm
	r.Cache.Set(from, to, route)
	return route, nil
}

// EstimateSeconds is the naive ETA: straight-line distance at speedKmh.
func EstimateSeconds(from, to models.Coord, speedKmh float64) float64 {
	if speedKmh <= 0 {
		speedKmh = 30 // city traffic default
	}
	return geo.DistanceKm(from, to) / speedKmh * 3600
}

// EstimateMinutes is EstimateSeconds rounded up to whole minutes.
func EstimateMinutes(from, to models.Coord, speedKmh float64) int {
	return int(math.Ceil(EstimateSeconds(from, to, speedKmh) / 60))
}
