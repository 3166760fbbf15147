package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjstillabower/dailyreport-bot/internal/models"
)

// RedisCache implements Cache on Redis with per-key TTLs.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to addr. A zero timeout keeps go-redis defaults.
func NewRedisCache(addr, password string, db int, timeout time.Duration) *RedisCache {
	opts := &redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}
	if timeout > 0 {
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
	}
	return &RedisCache{client: redis.NewClient(opts)}
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (models.ForecastWindow, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.ForecastWindow{}, false, nil
		}
		return models.ForecastWindow{}, false, fmt.Errorf("redis get: %w", err)
	}
	var w models.ForecastWindow
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.ForecastWindow{}, false, fmt.Errorf("redis decode: %w", err)
	}
	return w, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value models.ForecastWindow, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis encode: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks that Redis is reachable. Used by /health.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
