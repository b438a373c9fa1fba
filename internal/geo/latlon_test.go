package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/ride-tracking/internal/models"
)

func TestParseLatLon(t *testing.T) {
	cases := []struct {
		in   string
		want models.Coord
		ok   bool
	}{
		{"-23.55, -46.63", models.Coord{Lat: -23.55, Lon: -46.63}, true},
		{"  -23.561,-46.656 ", models.Coord{Lat: -23.561, Lon: -46.656}, true},
		{"+10 ,  20", models.Coord{Lat: 10, Lon: 20}, true},
		{"51.505, -0.09", models.Coord{Lat: 51.505, Lon: -0.09}, true},
		{"Shopping Ibirapuera", models.Coord{}, false},
		{"Rua 10, 200", models.Coord{}, false},
		{"95, 10", models.Coord{}, false},
		{"10, 190", models.Coord{}, false},
		{"-23.55", models.Coord{}, false},
		{"", models.Coord{}, false},
	}
	for _, tc := range cases {
		got, ok := ParseLatLon(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}
