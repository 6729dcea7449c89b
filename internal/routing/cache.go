package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-passenger/internal/models"
)

// Cache is a small in-memory cache for route lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	r  Route
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl, now: time.Now}
}

func keyFor(a, b models.Coordinate) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coordinate) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// Get returns the cached route if present and not expired.
func (c *Cache) Get(a, b models.Coordinate) (Route, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return Route{}, false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return Route{}, false
	}
	return e.r, true
}

func (c *Cache) Set(a, b models.Coordinate, r Route) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{r: r, ts: c.now()}
	c.mu.Unlock()
}

// Cached wraps a Source so repeated picks of the same destination do not
// hit the provider again.
type Cached struct {
	Source Source
	Cache  *Cache
}

func (c Cached) Route(ctx context.Context, from, to models.Coordinate) (Route, error) {
	if r, ok := c.Cache.Get(from, to); ok {
		return r, nil
	}
	r, err := c.Source.Route(ctx, from, to)
	if err != nil {
		return Route{}, err
	}
	c.Cache.Set(from, to, r)
	return r, nil
}
