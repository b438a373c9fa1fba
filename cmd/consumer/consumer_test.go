package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/storage"
)

// fakeUpdater implements RideUpdater for tests
type fakeUpdater struct {
	failPos     int // number of times to fail UpdateRidePosition before succeeding
	failStatus  int
	posCalls    int
	statusCalls int
	notFound    bool
}

func (f *fakeUpdater) UpdateRidePosition(_ context.Context, _ string, _ models.Coord, _ time.Time) error {
	f.posCalls++
	if f.notFound {
		return storage.ErrNotFound
	}
	if f.posCalls <= f.failPos {
		return errors.New("position fail")
	}
	return nil
}

func (f *fakeUpdater) UpdateRideStatus(_ context.Context, _ string, _ models.RideStatus, _ time.Time) error {
	f.statusCalls++
	if f.statusCalls <= f.failStatus {
		return errors.New("status fail")
	}
	return nil
}

func position(status models.RideStatus) models.PositionUpdate {
	return models.PositionUpdate{RideID: "r1", Coord: models.Coord{Lat: 1, Lon: 2}, Status: status, At: time.Now()}
}

func TestPersistWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failPos: 1, failStatus: 1}
	start := time.Now()
	require.NoError(t, persistWithRetry(context.Background(), f, position(models.StatusActive), 3, 10*time.Millisecond))
	assert.GreaterOrEqual(t, f.posCalls, 2)
	assert.GreaterOrEqual(t, f.statusCalls, 2)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond, "expected at least one backoff")
}

func TestPersistWithRetry_SkipsStatusWhenAbsent(t *testing.T) {
	f := &fakeUpdater{}
	require.NoError(t, persistWithRetry(context.Background(), f, position(""), 3, time.Millisecond))
	assert.Equal(t, 1, f.posCalls)
	assert.Equal(t, 0, f.statusCalls)
}

func TestPersistWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failPos: 5}
	err := persistWithRetry(context.Background(), f, position(""), 3, 5*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, 3, f.posCalls)
}

func TestPersistWithRetry_UnknownRideNotRetried(t *testing.T) {
	f := &fakeUpdater{notFound: true}
	err := persistWithRetry(context.Background(), f, position(""), 3, time.Millisecond)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, 1, f.posCalls)
}

func TestPersistWithRetry_StopsOnCancel(t *testing.T) {
	f := &fakeUpdater{failPos: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := persistWithRetry(ctx, f, position(""), 3, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.posCalls)
}
