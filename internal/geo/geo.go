package geo

import (
	"context"
	"math"
	"sync"

	"github.com/example/ride-tracking/internal/models"
)

const EarthRadiusKm = 6371.0

// Nearby is the minimal interface discovery needs from a location index.
type Nearby interface {
	Nearby(ctx context.Context, at models.Coord, limit int) ([]models.Candidate, error)
	Upsert(ctx context.Context, c models.Candidate) error
}

// Index is an in-memory Nearby keyed by candidate id.
type Index struct {
	mu    sync.RWMutex
	items map[string]models.Candidate
}

func NewIndex() *Index {
	return &Index{items: make(map[string]models.Candidate)}
}

func (g *Index) Upsert(_ context.Context, c models.Candidate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.items[c.ID] = c
	return nil
}

func (g *Index) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.items)
}

// Nearby returns up to limit candidates ordered by distance from at, with
// DistanceKm filled in. Naive scan; the Redis index does the same server-side.
func (g *Index) Nearby(_ context.Context, at models.Coord, limit int) ([]models.Candidate, error) {
	g.mu.RLock()
	arr := make([]models.Candidate, 0, len(g.items))
	for _, c := range g.items {
		c.DistanceKm = DistanceKm(at, c.Loc)
		arr = append(arr, c)
	}
	g.mu.RUnlock()

	// partial selection sort for top-N
	n := limit
	if n <= 0 || n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].DistanceKm < arr[minIdx].DistanceKm ||
				(arr[j].DistanceKm == arr[minIdx].DistanceKm && arr[j].ID < arr[minIdx].ID) {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	return arr[:n], nil
}

// DistanceKm is the great-circle distance between a and b.
func DistanceKm(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// Haversine distance in kilometres.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Offset returns the point km away from c along the initial bearing (degrees
// clockwise from north).
func Offset(c models.Coord, km, bearingDeg float64) models.Coord {
	d := km / EarthRadiusKm
	brng := bearingDeg * math.Pi / 180
	lat1 := c.Lat * math.Pi / 180
	lon1 := c.Lon * math.Pi / 180
	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(brng))
	lon2 := lon1 + math.Atan2(math.Sin(brng)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))
	lon := math.Mod(lon2*180/math.Pi+540, 360) - 180
	return models.Coord{Lat: lat2 * 180 / math.Pi, Lon: lon}
}
