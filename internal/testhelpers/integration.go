//go:build integration
// +build integration

// Package testhelpers sets up clients against the live forecast and geocoding
// endpoints for integration tests.
package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kjstillabower/dailyreport-bot/internal/app"
	"github.com/kjstillabower/dailyreport-bot/internal/config"
	"github.com/kjstillabower/dailyreport-bot/internal/geocode"
	"github.com/kjstillabower/dailyreport-bot/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	ForecastURL   string
	GeocodingURL  string
	CacheBackend  string // "in_memory", "memcached" or "redis"
	MemcachedAddr string
	RedisAddr     string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test unless INTEGRATION_UPSTREAMS is set, since the tests reach the
// public endpoints.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	if os.Getenv("INTEGRATION_UPSTREAMS") == "" {
		t.Skip("INTEGRATION_UPSTREAMS not set, skipping integration test")
	}
	return IntegrationTestConfig{
		ForecastURL:   envOr("FORECAST_URL", "https://api.open-meteo.com/v1/forecast"),
		GeocodingURL:  envOr("GEOCODING_URL", "https://geocoding-api.open-meteo.com/v1/search"),
		CacheBackend:  envOr("INTEGRATION_CACHE_BACKEND", "in_memory"),
		MemcachedAddr: envOr("MEMCACHED_ADDRS", "localhost:11211"),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Config returns a service config pointing at the integration endpoints.
func (c IntegrationTestConfig) Config() *config.Config {
	return &config.Config{
		ForecastURL:             c.ForecastURL,
		ForecastTimeout:         15 * time.Second,
		GeocodingURL:            c.GeocodingURL,
		GeocodingTimeout:        10 * time.Second,
		RetryAttempts:           2,
		RetryBackoffBase:        2,
		RetryBackoffUnit:        time.Second,
		RateLimitFloor:          60 * time.Second,
		BreakerFailureThreshold: 5,
		BreakerOpenTimeout:      30 * time.Second,
		CacheBackend:            c.CacheBackend,
		CacheTTL:                5 * time.Minute,
		MemcachedAddrs:          c.MemcachedAddr,
		MemcachedTimeout:        500 * time.Millisecond,
		MemcachedMaxIdleConns:   2,
		RedisAddr:               c.RedisAddr,
		RedisTimeout:            500 * time.Millisecond,
	}
}

// SetupIntegrationService creates a weather service on the configured cache
// backend. An unreachable remote cache falls back to in-memory. The cleanup
// func closes the cache.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.WeatherService, func()) {
	t.Helper()
	sc := cfg.Config()
	fc, err := app.NewForecastCache(sc)
	if err != nil {
		t.Fatalf("NewForecastCache() error = %v", err)
	}
	if fc.Ping != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := fc.Ping(ctx)
		cancel()
		if err != nil {
			t.Logf("%s not available (%v), using in-memory cache", fc.Backend, err)
			_ = fc.Close()
			sc.CacheBackend = "in_memory"
			fc, _ = app.NewForecastCache(sc)
		}
	}
	cleanup := func() {
		if fc.Close != nil {
			_ = fc.Close()
		}
	}
	return app.NewWeatherService(sc, fc, zaptest.NewLogger(t)), cleanup
}

// SetupIntegrationResolver creates a place resolver against the live geocoder.
func SetupIntegrationResolver(t *testing.T, cfg IntegrationTestConfig) *geocode.Resolver {
	t.Helper()
	return app.NewPlaceResolver(cfg.Config(), zaptest.NewLogger(t))
}
