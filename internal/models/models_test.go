package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordValid(t *testing.T) {
	assert.True(t, Coord{Lat: -23.55, Lon: -46.63}.Valid())
	assert.True(t, Coord{Lat: 90, Lon: 180}.Valid())
	assert.False(t, Coord{Lat: 91, Lon: 0}.Valid())
	assert.False(t, Coord{Lat: 0, Lon: -180.5}.Valid())
}

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "R$ 12,50", Reais(12.5).String())
	assert.Equal(t, "R$ 0,00", Money(0).String())
	assert.Equal(t, "R$ 1.250,00", Reais(1250).String())
	assert.Equal(t, "-R$ 3,05", Money(-305).String())
}

func TestParseMoney(t *testing.T) {
	cases := map[string]Money{
		"R$ 12,50":    1250,
		"18,50":       1850,
		"R$ 1.250,00": 125000,
		"12.5":        1250,
	}
	for in, want := range cases {
		got, err := ParseMoney(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMoney("R$ ")
	assert.Error(t, err)
	_, err = ParseMoney("abc")
	assert.Error(t, err)
}

func TestShareRecordExpired(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := ShareRecord{CreatedAt: created, ExpiresAt: created.Add(ShareTTL)}
	assert.False(t, rec.Expired(created.Add(23*time.Hour+59*time.Minute)))
	assert.False(t, rec.Expired(created.Add(ShareTTL)))
	assert.True(t, rec.Expired(created.Add(ShareTTL+time.Second)))
}

func TestDefaultMarkerIconsStable(t *testing.T) {
	a := DefaultMarkerIcons()
	b := DefaultMarkerIcons()
	assert.Equal(t, a, b)
	assert.Contains(t, a.IconURL, "marker-icon.png")
}
