package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/dailyreport-bot/internal/models"
)

const keyPrefix = "forecast:"

// MemcachedCache implements Cache on memcached. Values are stored as JSON.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is comma-separated
// ("host1:11211,host2:11211"); zero timeout or maxIdleConns keep client defaults.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) *MemcachedCache {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// memcachedKey keeps keys within memcached's 250-byte, no-whitespace limit.
func memcachedKey(k string) string {
	k = strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return '_'
		}
		return r
	}, k)
	if len(k) > 240 {
		k = k[:240]
	}
	return keyPrefix + k
}

func (c *MemcachedCache) Get(ctx context.Context, key string) (models.ForecastWindow, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.ForecastWindow{}, false, err
	}
	item, err := c.client.Get(memcachedKey(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.ForecastWindow{}, false, nil
		}
		return models.ForecastWindow{}, false, fmt.Errorf("memcached get: %w", err)
	}
	var w models.ForecastWindow
	if err := json.Unmarshal(item.Value, &w); err != nil {
		return models.ForecastWindow{}, false, fmt.Errorf("memcached decode: %w", err)
	}
	return w, true, nil
}

func (c *MemcachedCache) Set(ctx context.Context, key string, value models.ForecastWindow, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memcached encode: %w", err)
	}
	return c.client.Set(&memcache.Item{
		Key:        memcachedKey(key),
		Value:      raw,
		Expiration: expirationSeconds(ttl),
	})
}

// expirationSeconds converts ttl to memcached's relative expiry. Sub-second TTLs
// round up to one second; values beyond 30 days would be read as a unix time.
func expirationSeconds(ttl time.Duration) int32 {
	const maxRelative = 30 * 24 * 60 * 60
	sec := int64((ttl + time.Second - 1) / time.Second)
	if sec <= 0 {
		sec = 1
	}
	if sec > maxRelative {
		sec = maxRelative
	}
	return int32(sec)
}

// Ping checks that memcached is reachable. Used by /health.
func (c *MemcachedCache) Ping(ctx context.Context) error {
	return c.client.Ping()
}

func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
