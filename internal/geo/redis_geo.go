package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-tracking/internal/models"
)

const nearbyRadiusKm = 5

// RedisGeo implements Nearby using Redis GEO commands, with candidate metadata
// kept in a hash per member.
type RedisGeo struct {
	client redis.Cmdable
	key    string
}

func NewRedisGeo(client redis.Cmdable, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, c models.Candidate) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: c.Loc.Lon, Latitude: c.Loc.Lat, Name: c.ID}).Err(); err != nil {
		return fmt.Errorf("geoadd %s: %w", c.ID, err)
	}
	meta := []interface{}{
		"name", c.DisplayName,
		"vehicle", c.Vehicle,
		"updated", time.Now().Format(time.RFC3339),
	}
	if c.Rating != nil {
		meta = append(meta, "rating", strconv.FormatFloat(*c.Rating, 'f', 2, 64))
	}
	if err := r.client.HSet(ctx, metaKey(c.ID), meta...).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", c.ID, err)
	}
	return nil
}

func (r *RedisGeo) Nearby(ctx context.Context, at models.Coord, limit int) ([]models.Candidate, error) {
	res, err := r.client.GeoRadius(ctx, r.key, at.Lon, at.Lat, &redis.GeoRadiusQuery{
		Radius: nearbyRadiusKm, Unit: "km", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("georadius: %w", err)
	}
	out := make([]models.Candidate, 0, len(res))
	for _, g := range res {
		c := models.Candidate{
			ID:         g.Name,
			Loc:        models.Coord{Lat: g.Latitude, Lon: g.Longitude},
			DistanceKm: g.Dist,
		}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			c.DisplayName = m["name"]
			c.Vehicle = m["vehicle"]
			if v, ok := m["rating"]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					c.Rating = &f
				}
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func metaKey(id string) string { return "driver:meta:" + id }

// RedisCache is a geocoding Cache backed by plain Redis keys.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (models.Coord, bool) {
	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return models.Coord{}, false
	}
	var out models.Coord
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return models.Coord{}, false
	}
	return out, true
}

func (c *RedisCache) Set(ctx context.Context, key string, v models.Coord) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key, b, c.ttl).Err()
}
