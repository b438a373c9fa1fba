package geo

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/example/ride-tracking/internal/models"
)

var latLonPattern = regexp.MustCompile(`^([-+]?\d+(?:\.\d+)?)\s*,\s*([-+]?\d+(?:\.\d+)?)$`)

// ParseLatLon reads a literal "lat, lon" pair. It reports false for anything
// else, including pairs outside WGS84 bounds, so callers fall back to geocoding.
func ParseLatLon(input string) (models.Coord, bool) {
	m := latLonPattern.FindStringSubmatch(strings.TrimSpace(input))
	if m == nil {
		return models.Coord{}, false
	}
	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return models.Coord{}, false
	}
	lon, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return models.Coord{}, false
	}
	c := models.Coord{Lat: lat, Lon: lon}
	if !c.Valid() {
		return models.Coord{}, false
	}
	return c, true
}
