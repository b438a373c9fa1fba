package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-tracking/internal/live"
	"github.com/example/ride-tracking/internal/logging"
	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/observability"
	"github.com/example/ride-tracking/internal/share"
	"github.com/example/ride-tracking/internal/storage"
)

type fixture struct {
	srv   *Server
	store *storage.MemoryStore
	bus   *live.MemoryBus
	mgr   *share.Manager
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: storage.NewMemoryStore(),
		bus:   live.NewMemoryBus(),
		now:   time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC),
	}
	f.mgr = share.NewManager(f.store, f.store, f.bus, "https://vium.example", logging.Discard())
	f.mgr.Now = func() time.Time { return f.now }
	f.srv = NewServer(Options{
		Shares: f.mgr,
		Bus:    f.bus,
		Rides:  f.store,
		Logger: logging.Discard(),
		Now:    func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) activeRide(t *testing.T, id string) share.Link {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.SaveRide(ctx, models.RideRecord{
		ID: id, Status: models.StatusActive, CreatedAt: f.now, UpdatedAt: f.now,
	}))
	link, err := f.mgr.Create(ctx, models.ActiveRide{
		RideID:          id,
		Counterparty:    models.Candidate{DisplayName: "Carlos Silva", Vehicle: "Toyota Corolla"},
		OriginText:      "Av. Paulista, 1000",
		DestinationText: "Shopping Ibirapuera",
		Price:           1850,
		Status:          models.StatusActive,
	})
	require.NoError(t, err)
	return link
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetShareUnknown(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodGet, "/share/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"invalid or expired link"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestGetShareSnapshot(t *testing.T) {
	f := newFixture(t)
	link := f.activeRide(t, "ride-1")

	rec := do(t, f.srv, http.MethodGet, "/share/"+link.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap share.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "ride-1", snap.RideID)
	assert.Equal(t, models.StatusActive, snap.Status)
	assert.Equal(t, "Carlos Silva", snap.CounterpartyName)
	assert.Equal(t, models.Money(1850), snap.Price)
	assert.Equal(t, 0, f.bus.Subscribers("ride-1"), "view must be closed after the response")
}

func TestGetShareExpired(t *testing.T) {
	f := newFixture(t)
	link := f.activeRide(t, "ride-1")
	f.now = f.now.Add(models.ShareTTL + time.Second)

	rec := do(t, f.srv, http.MethodGet, "/share/"+link.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostPosition(t *testing.T) {
	f := newFixture(t)
	f.activeRide(t, "ride-1")

	rec := do(t, f.srv, http.MethodPost, "/internal/rides/ride-1/position", `{"lat":-23.5874,"lon":-46.6576}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := f.store.GetRide(context.Background(), "ride-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastPosition)
	assert.InDelta(t, -23.5874, got.LastPosition.Lat, 1e-9)

	sub, err := f.bus.Subscribe(context.Background(), "ride-1")
	require.NoError(t, err)
	defer sub.Close()
	u, ok := sub.Latest()
	require.True(t, ok)
	assert.InDelta(t, -46.6576, u.Coord.Lon, 1e-9)
	assert.True(t, u.At.Equal(f.now))
}

func TestPostPositionValidation(t *testing.T) {
	f := newFixture(t)
	f.activeRide(t, "ride-1")

	cases := map[string]string{
		"bad json":    `{"lat":`,
		"missing lon": `{"lat":-23.5}`,
		"lat range":   `{"lat":91,"lon":0}`,
		"lon range":   `{"lat":0,"lon":-181}`,
		"bad status":  `{"lat":0,"lon":0,"status":"teleported"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, f.srv, http.MethodPost, "/internal/rides/ride-1/position", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPostPositionUnknownRide(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodPost, "/internal/rides/ghost/position", `{"lat":0,"lon":0}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, f.bus.Subscribers("ghost"))
}

func TestReady(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	f.srv.ready = map[string]ReadyCheck{"redis": func(context.Context) error { return errors.New("connection refused") }}
	rec = do(t, f.srv, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestShareWebsocketStreamsUpdates(t *testing.T) {
	f := newFixture(t)
	link := f.activeRide(t, "ride-1")

	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/share/" + link.ID
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first share.Snapshot
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, models.StatusActive, first.Status)
	assert.Nil(t, first.Position)

	require.NoError(t, f.bus.Publish(context.Background(), models.PositionUpdate{
		RideID: "ride-1",
		Coord:  models.Coord{Lat: -23.57, Lon: -46.64},
		At:     f.now.Add(time.Second),
	}))

	var next share.Snapshot
	require.NoError(t, conn.ReadJSON(&next))
	require.NotNil(t, next.Position)
	assert.InDelta(t, -23.57, next.Position.Lat, 1e-9)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return f.bus.Subscribers("ride-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestShareWebsocketUnknownLink(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/share/nope"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestMetricsUseRouteNames(t *testing.T) {
	f := newFixture(t)
	link := f.activeRide(t, "ride-1")

	cases := []struct {
		method, path, body string
		route, status      string
	}{
		{http.MethodGet, "/share/" + link.ID, "", "share_view", "200"},
		{http.MethodGet, "/share/unknown-link", "", "share_view", "404"},
		{http.MethodPost, "/internal/rides/ride-1/position", `{"lat":-23.57,"lon":-46.64}`, "position_ingest", "204"},
		{http.MethodPost, "/internal/rides/ride-1/position", `{"lat":`, "position_ingest", "400"},
		{http.MethodGet, "/healthz", "", "healthz", "200"},
	}
	for _, tc := range cases {
		t.Run(tc.route+"_"+tc.status, func(t *testing.T) {
			counter := observability.HTTPRequestsTotal.WithLabelValues(tc.method, tc.route, tc.status)
			before := testutil.ToFloat64(counter)
			rec := do(t, f.srv, tc.method, tc.path, tc.body)
			require.Equal(t, tc.status, strconv.Itoa(rec.Code))
			assert.Equal(t, before+1, testutil.ToFloat64(counter))
		})
	}

	// raw paths carry ids and must not become label values
	raw := observability.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/share/"+link.ID, "200")
	assert.Zero(t, testutil.ToFloat64(raw))
}
