package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/ride-tracking/internal/logging"
	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/observability"
)

var (
	// ErrNotFound means the provider answered but had no match for the query.
	ErrNotFound = errors.New("address not found")
	// ErrResolution means the lookup itself failed (transport or bad payload).
	ErrResolution = errors.New("address resolution failed")
)

const defaultSuggestLimit = 5

// Suggestion is one autocomplete match.
type Suggestion struct {
	PlaceID     string       `json:"place_id"`
	DisplayName string       `json:"display_name"`
	Coord       models.Coord `json:"coord"`
}

// Cache stores forward lookup results. Implementations must be safe for
// concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (models.Coord, bool)
	Set(ctx context.Context, key string, c models.Coord)
}

// Geocoder resolves free text against a Nominatim-compatible search endpoint.
type Geocoder struct {
	Endpoint  string
	Language  string
	UserAgent string
	Client    *http.Client
	Cache     Cache
	Logger    *slog.Logger
}

func NewGeocoder(endpoint string, timeout time.Duration) *Geocoder {
	return &Geocoder{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Client:   &http.Client{Timeout: timeout},
	}
}

type nominatimPlace struct {
	PlaceID     json.Number `json:"place_id"`
	Lat         string      `json:"lat"`
	Lon         string      `json:"lon"`
	DisplayName string      `json:"display_name"`
}

// Resolve turns query into a coordinate. A literal "lat, lon" pair is parsed
// locally; anything else costs exactly one provider request for the single
// best match inside countryFilter.
func (g *Geocoder) Resolve(ctx context.Context, query, countryFilter string) (models.Coord, error) {
	q := strings.TrimSpace(query)
	if c, ok := ParseLatLon(q); ok {
		return c, nil
	}
	if q == "" {
		return models.Coord{}, fmt.Errorf("empty address: %w", ErrNotFound)
	}

	key := cacheKey(q, countryFilter)
	if g.Cache != nil {
		if c, ok := g.Cache.Get(ctx, key); ok {
			return c, nil
		}
	}

	places, err := g.search(ctx, q, countryFilter, 1)
	if err != nil {
		return models.Coord{}, err
	}
	if len(places) == 0 {
		return models.Coord{}, fmt.Errorf("%q: %w", q, ErrNotFound)
	}
	c, err := places[0].coord()
	if err != nil {
		return models.Coord{}, fmt.Errorf("%q: %w: %v", q, ErrResolution, err)
	}
	if g.Cache != nil {
		g.Cache.Set(ctx, key, c)
	}
	return c, nil
}

// Suggest returns up to limit matches for autocomplete.
func (g *Geocoder) Suggest(ctx context.Context, query, countryFilter string, limit int) ([]Suggestion, error) {
	if limit <= 0 {
		limit = defaultSuggestLimit
	}
	places, err := g.search(ctx, strings.TrimSpace(query), countryFilter, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Suggestion, 0, len(places))
	for _, p := range places {
		c, err := p.coord()
		if err != nil {
			continue
		}
		out = append(out, Suggestion{PlaceID: p.PlaceID.String(), DisplayName: p.DisplayName, Coord: c})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (g *Geocoder) search(ctx context.Context, q, countryFilter string, limit int) ([]nominatimPlace, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("q", q)
	params.Set("addressdetails", "1")
	params.Set("limit", strconv.Itoa(limit))
	if countryFilter != "" {
		params.Set("countrycodes", countryFilter)
	}
	reqURL := fmt.Sprintf("%s/search?%s", g.Endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolution, err)
	}
	if g.Language != "" {
		req.Header.Set("Accept-Language", g.Language)
	}
	if g.UserAgent != "" {
		req.Header.Set("User-Agent", g.UserAgent)
	}

	start := time.Now()
	resp, err := g.client().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// canceled by the caller; still matches context.Canceled via errors.Is
			observe(start, "canceled")
		} else {
			observe(start, "error")
			logging.OrDefault(g.Logger).Warn("geocode request failed", "error", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrResolution, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observe(start, "status")
		return nil, fmt.Errorf("geocoder returned %d: %w", resp.StatusCode, ErrNotFound)
	}
	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		observe(start, "decode")
		return nil, fmt.Errorf("%w: decode: %v", ErrResolution, err)
	}
	observe(start, "ok")
	return places, nil
}

func (g *Geocoder) client() *http.Client {
	if g.Client == nil {
		return http.DefaultClient
	}
	return g.Client
}

func (p nominatimPlace) coord() (models.Coord, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return models.Coord{}, fmt.Errorf("lat %q: %w", p.Lat, err)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return models.Coord{}, fmt.Errorf("lon %q: %w", p.Lon, err)
	}
	return models.Coord{Lat: lat, Lon: lon}, nil
}

func cacheKey(q, country string) string {
	return "geocode:forward:" + strings.ToLower(country) + ":" + strings.ToLower(q)
}

func observe(start time.Time, outcome string) {
	observability.ProviderLatency.WithLabelValues("geocoder", outcome).Observe(time.Since(start).Seconds())
}
