package route

import (
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-client/internal/models"
)

// Cache is a tiny in-memory cache for route lookups keyed by endpoint pair.
// Fare estimates get recomputed every time pickup/dropoff/ride type change
// in the UI, so identical lookups arrive in bursts.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  models.RoutePath
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.LocationPoint) string {
	return fmtPoint(a) + "->" + fmtPoint(b)
}

func fmtPoint(p models.LocationPoint) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// Get returns the cached route and true if present and not expired.
func (c *Cache) Get(a, b models.LocationPoint) (models.RoutePath, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return models.RoutePath{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return models.RoutePath{}, false
	}
	return e.v, true
}

// Set stores a route in the cache.
func (c *Cache) Set(a, b models.LocationPoint, v models.RoutePath) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}
