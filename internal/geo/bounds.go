package geo

import (
	"math"

	"github.com/example/ride-tracking/internal/models"
)

// Bounds is a lat/lon box used to center a map on a trip.
type Bounds struct {
	SouthWest models.Coord `json:"south_west"`
	NorthEast models.Coord `json:"north_east"`
}

// BoundsOf returns the smallest box containing every point. The zero Bounds is
// returned for no points.
func BoundsOf(points ...models.Coord) Bounds {
	if len(points) == 0 {
		return Bounds{}
	}
	b := Bounds{SouthWest: points[0], NorthEast: points[0]}
	for _, p := range points[1:] {
		b.SouthWest.Lat = math.Min(b.SouthWest.Lat, p.Lat)
		b.SouthWest.Lon = math.Min(b.SouthWest.Lon, p.Lon)
		b.NorthEast.Lat = math.Max(b.NorthEast.Lat, p.Lat)
		b.NorthEast.Lon = math.Max(b.NorthEast.Lon, p.Lon)
	}
	return b
}

// Pad grows the box by frac of its span on every side, clamped to WGS84.
func (b Bounds) Pad(frac float64) Bounds {
	dLat := (b.NorthEast.Lat - b.SouthWest.Lat) * frac
	dLon := (b.NorthEast.Lon - b.SouthWest.Lon) * frac
	return Bounds{
		SouthWest: models.Coord{Lat: math.Max(-90, b.SouthWest.Lat-dLat), Lon: math.Max(-180, b.SouthWest.Lon-dLon)},
		NorthEast: models.Coord{Lat: math.Min(90, b.NorthEast.Lat+dLat), Lon: math.Min(180, b.NorthEast.Lon+dLon)},
	}
}

func (b Bounds) Contains(c models.Coord) bool {
	return c.Lat >= b.SouthWest.Lat && c.Lat <= b.NorthEast.Lat &&
		c.Lon >= b.SouthWest.Lon && c.Lon <= b.NorthEast.Lon
}

func (b Bounds) Center() models.Coord {
	return models.Coord{
		Lat: (b.SouthWest.Lat + b.NorthEast.Lat) / 2,
		Lon: (b.SouthWest.Lon + b.NorthEast.Lon) / 2,
	}
}
