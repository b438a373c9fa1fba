package geo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-tracking/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
	p := models.Coord{Lat: -23.561, Lon: -46.656}
	assert.Zero(t, DistanceKm(p, p))
}

func TestHaversineSymmetric(t *testing.T) {
	pairs := [][2]models.Coord{
		{{Lat: -23.561, Lon: -46.656}, {Lat: -23.5874, Lon: -46.6576}},
		{{Lat: 51.505, Lon: -0.09}, {Lat: 40.7128, Lon: -74.006}},
		{{Lat: 89.9, Lon: 179.9}, {Lat: -89.9, Lon: -179.9}},
		{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 180}},
	}
	for _, p := range pairs {
		assert.InDelta(t, DistanceKm(p[0], p[1]), DistanceKm(p[1], p[0]), 1e-9)
	}
}

func TestHaversineOneDegreeAtEquator(t *testing.T) {
	assert.InDelta(t, 111.195, Haversine(0, 0, 0, 1), 0.001)
}

func TestIndexNearbyOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	origin := models.Coord{Lat: -23.561, Lon: -46.656}
	require.NoError(t, idx.Upsert(ctx, models.Candidate{ID: "far", Loc: models.Coord{Lat: -23.60, Lon: -46.70}}))
	require.NoError(t, idx.Upsert(ctx, models.Candidate{ID: "near", Loc: models.Coord{Lat: -23.562, Lon: -46.657}}))
	require.NoError(t, idx.Upsert(ctx, models.Candidate{ID: "mid", Loc: models.Coord{Lat: -23.57, Lon: -46.66}}))

	got, err := idx.Nearby(ctx, origin, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
	assert.Greater(t, got[1].DistanceKm, got[0].DistanceKm)

	all, err := idx.Nearby(ctx, origin, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, 3, idx.Len())
}

func TestBoundsContainBothEndpoints(t *testing.T) {
	a := models.Coord{Lat: -23.561, Lon: -46.656}
	b := models.Coord{Lat: -23.5874, Lon: -46.6576}
	bb := BoundsOf(a, b)
	assert.True(t, bb.Contains(a))
	assert.True(t, bb.Contains(b))

	padded := bb.Pad(0.1)
	assert.True(t, padded.Contains(a))
	assert.True(t, padded.Contains(b))
	assert.True(t, padded.Contains(bb.Center()))
	assert.False(t, bb.Contains(models.Coord{Lat: 0, Lon: 0}))
}

func TestBoundsOfEmpty(t *testing.T) {
	assert.Equal(t, Bounds{}, BoundsOf())
}

func TestOffsetKeepsDistance(t *testing.T) {
	start := models.Coord{Lat: -23.561, Lon: -46.656}
	for _, b := range []float64{0, 45, 120, 270} {
		p := Offset(start, 2.5, b)
		assert.InDelta(t, 2.5, DistanceKm(start, p), 1e-6)
	}
}

func TestOffsetWrapsAntimeridian(t *testing.T) {
	fiji := models.Coord{Lat: -17.7, Lon: 179.99}
	p := Offset(fiji, 5, 90)
	require.True(t, p.Valid(), "got %s", p)
	assert.Less(t, p.Lon, -179.9)
	assert.InDelta(t, 5, DistanceKm(fiji, p), 1e-6)

	west := Offset(models.Coord{Lat: 10, Lon: -179.99}, 5, 270)
	require.True(t, west.Valid(), "got %s", west)
	assert.Greater(t, west.Lon, 179.9)
}
