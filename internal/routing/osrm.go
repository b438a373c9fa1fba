package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/observability"
)

// OSRMClient performs route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
}

func NewOSRMClient(endpoint string, timeout time.Duration) *OSRMClient {
	return &OSRMClient{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: timeout}}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

// Path requests the first driving route between from and to with full
// geometry. OSRM speaks [lon, lat]; the returned path is swapped to Coord.
func (o *OSRMClient) Path(ctx context.Context, from, to models.Coord) ([]models.Coord, float64, error) {
	out, err := o.route(ctx, from, to, "overview=full&geometries=geojson")
	if err != nil {
		return nil, 0, err
	}
	r := out.Routes[0]
	path := make([]models.Coord, 0, len(r.Geometry.Coordinates))
	for _, p := range r.Geometry.Coordinates {
		if len(p) < 2 {
			continue
		}
		path = append(path, models.Coord{Lat: p[1], Lon: p[0]})
	}
	if len(path) == 0 {
		return nil, 0, fmt.Errorf("osrm route without geometry: %w", ErrRouteNotFound)
	}
	return path, r.Distance / 1000, nil
}

// EstimateSeconds queries OSRM /route between points and returns duration in seconds.
func (o *OSRMClient) EstimateSeconds(ctx context.Context, from, to models.Coord) (float64, error) {
	out, err := o.route(ctx, from, to, "overview=false")
	if err != nil {
		return 0, err
	}
	return out.Routes[0].Duration, nil
}

func (o *OSRMClient) route(ctx context.Context, from, to models.Coord, query string) (*osrmResponse, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?%s", o.Endpoint, from.Lon, from.Lat, to.Lon, to.Lat, query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if o.UserAgent != "" {
		req.Header.Set("User-Agent", o.UserAgent)
	}

	start := time.Now()
	resp, err := o.client().Do(req)
	if err != nil {
		observe(start, "error")
		return nil, fmt.Errorf("osrm request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observe(start, "status")
		return nil, fmt.Errorf("osrm returned %d: %w", resp.StatusCode, ErrRouteNotFound)
	}
	var out osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		observe(start, "decode")
		return nil, fmt.Errorf("osrm decode: %w", err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		observe(start, "no_route")
		return nil, fmt.Errorf("osrm no route (%s): %w", out.Code, ErrRouteNotFound)
	}
	observe(start, "ok")
	return &out, nil
}

func (o *OSRMClient) client() *http.Client {
	if o.Client == nil {
		return http.DefaultClient
	}
	return o.Client
}

func observe(start time.Time, outcome string) {
	observability.ProviderLatency.WithLabelValues("osrm", outcome).Observe(time.Since(start).Seconds())
}
