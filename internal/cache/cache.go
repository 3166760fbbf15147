package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/dailyreport-bot/internal/models"
)

// Cache stores forecast windows by key. Get returns (value, true, nil) on a hit
// within TTL and (zero, false, nil) on a miss; backend failures are returned as
// errors so callers can treat them as misses.
type Cache interface {
	Get(ctx context.Context, key string) (models.ForecastWindow, bool, error)
	Set(ctx context.Context, key string, value models.ForecastWindow, ttl time.Duration) error
}

// InMemoryCache is a process-wide map guarded by one mutex. Entries are never
// evicted; an expired entry is simply ignored until a later Set overwrites it.
// Key cardinality is small (cities x target dates), so growth is bounded in practice.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     models.ForecastWindow
	expiresAt time.Time
}

// NewInMemoryCache creates an empty in-memory cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// WithClock replaces the clock used for expiry. time.Now readings carry a
// monotonic component, so wall-clock jumps do not affect TTLs.
func (c *InMemoryCache) WithClock(now func() time.Time) *InMemoryCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

func (c *InMemoryCache) Get(ctx context.Context, key string) (models.ForecastWindow, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.data[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return models.ForecastWindow{}, false, nil
	}
	return entry.value, true, nil
}

func (c *InMemoryCache) Set(ctx context.Context, key string, value models.ForecastWindow, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Len reports stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
