package routing

import (
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-tracking/internal/models"
)

// Cache is a tiny in-memory TTL cache keyed by an ordered coordinate pair.
type Cache[V any] struct {
	mu    sync.RWMutex
	store map[string]cacheEntry[V]
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry[V any] struct {
	v  V
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{store: make(map[string]cacheEntry[V]), ttl: ttl, now: time.Now}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Get returns cached value and true if present and not expired.
func (c *Cache[V]) Get(a, b models.Coord) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return zero, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache[V]) Set(a, b models.Coord, v V) {
	if c == nil {
		return
	}
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry[V]{v: v, ts: c.now()}
	c.mu.Unlock()
}
