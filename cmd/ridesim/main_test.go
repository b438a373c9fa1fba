package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-tracking/internal/geo"
	"github.com/example/ride-tracking/internal/logging"
	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/ride"
)

type recordingSuggester struct {
	mu      sync.Mutex
	queries []string
}

func (r *recordingSuggester) Suggest(_ context.Context, q, _ string, _ int) ([]geo.Suggestion, error) {
	r.mu.Lock()
	r.queries = append(r.queries, q)
	r.mu.Unlock()
	return []geo.Suggestion{{PlaceID: "1", DisplayName: "Rua Augusta, São Paulo", Coord: models.Coord{Lat: -23.55, Lon: -46.65}}}, nil
}

func TestSuggestPrintsSettledList(t *testing.T) {
	s := &recordingSuggester{}
	var out bytes.Buffer
	require.NoError(t, suggest(context.Background(), s, "br", "Rua Aug", &out, logging.Discard()))

	assert.Contains(t, out.String(), "1. Rua Augusta, São Paulo")
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.queries)
	assert.Equal(t, "Rua Aug", s.queries[len(s.queries)-1])
}

func TestSuggestShortTextPrintsNothing(t *testing.T) {
	s := &recordingSuggester{}
	var out bytes.Buffer
	require.NoError(t, suggest(context.Background(), s, "br", "Ru", &out, logging.Discard()))
	assert.Empty(t, strings.TrimSpace(out.String()))
}

func TestWaitStatusHonorsContext(t *testing.T) {
	sess, err := ride.NewSession(ride.Config{User: models.User{ID: "u", Role: models.RolePassenger}, Logger: logging.Discard()})
	require.NoError(t, err)
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, waitStatus(ctx, sess, models.StatusActive), context.DeadlineExceeded)
	assert.NoError(t, waitStatus(context.Background(), sess, models.StatusIdle))
}
