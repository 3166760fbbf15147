// Package app builds the components shared by the webhook server and the
// broadcast command from a loaded config.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/dailyreport-bot/internal/broadcast"
	"github.com/kjstillabower/dailyreport-bot/internal/cache"
	"github.com/kjstillabower/dailyreport-bot/internal/client"
	"github.com/kjstillabower/dailyreport-bot/internal/config"
	"github.com/kjstillabower/dailyreport-bot/internal/geocode"
	"github.com/kjstillabower/dailyreport-bot/internal/messaging"
	"github.com/kjstillabower/dailyreport-bot/internal/models"
	"github.com/kjstillabower/dailyreport-bot/internal/service"
)

// ForecastCache is the configured cache backend plus its lifecycle hooks.
// Ping and Close are nil for the in-memory backend.
type ForecastCache struct {
	cache.Cache
	Backend string
	Ping    func(ctx context.Context) error
	Close   func() error
}

// NewForecastCache opens the backend named by cfg.CacheBackend.
func NewForecastCache(cfg *config.Config) (*ForecastCache, error) {
	switch cfg.CacheBackend {
	case "memcached":
		mc := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		return &ForecastCache{Cache: mc, Backend: cfg.CacheBackend, Ping: mc.Ping, Close: mc.Close}, nil
	case "redis":
		rc := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTimeout)
		return &ForecastCache{Cache: rc, Backend: cfg.CacheBackend, Ping: rc.Ping, Close: rc.Close}, nil
	case "in_memory", "":
		return &ForecastCache{Cache: cache.NewInMemoryCache(), Backend: "in_memory"}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

func retryPolicy(cfg *config.Config) client.RetryPolicy {
	return client.RetryPolicy{
		Attempts:       cfg.RetryAttempts,
		BackoffBase:    cfg.RetryBackoffBase,
		BackoffUnit:    cfg.RetryBackoffUnit,
		RateLimitFloor: cfg.RateLimitFloor,
	}
}

// NewForecastClient builds the forecast endpoint client with its own fetcher,
// so the forecast and geocoding breakers trip independently.
func NewForecastClient(cfg *config.Config, logger *zap.Logger) *client.ForecastClient {
	f := client.NewFetcher(client.FetcherConfig{
		Upstream:                "forecast",
		Timeout:                 cfg.ForecastTimeout,
		Retry:                   retryPolicy(cfg),
		BreakerFailureThreshold: cfg.BreakerFailureThreshold,
		BreakerOpenTimeout:      cfg.BreakerOpenTimeout,
	}, logger)
	return client.NewForecastClient(cfg.ForecastURL, f)
}

// NewPlaceResolver builds the geocoding client and the resolver on top of it.
func NewPlaceResolver(cfg *config.Config, logger *zap.Logger) *geocode.Resolver {
	f := client.NewFetcher(client.FetcherConfig{
		Upstream:                "geocoding",
		Timeout:                 cfg.GeocodingTimeout,
		Retry:                   retryPolicy(cfg),
		BreakerFailureThreshold: cfg.BreakerFailureThreshold,
		BreakerOpenTimeout:      cfg.BreakerOpenTimeout,
	}, logger)
	return geocode.NewResolver(client.NewGeocodingClient(cfg.GeocodingURL, f), geocode.DefaultLanguage, logger)
}

// NewWeatherService wires the forecast client behind the cache.
func NewWeatherService(cfg *config.Config, c cache.Cache, logger *zap.Logger) *service.WeatherService {
	return service.NewWeatherService(NewForecastClient(cfg, logger), c, cfg.CacheTTL, logger).
		WithFetchTimeout(cfg.RequestTimeout)
}

// NewMessagingClient builds the outbound messaging client.
func NewMessagingClient(cfg *config.Config, logger *zap.Logger) *messaging.Client {
	return messaging.NewClient(cfg.LineAPIBaseURL, cfg.LineChannelAccessToken, cfg.LineTimeout, logger)
}

// BroadcastCities converts the configured cities.
func BroadcastCities(cfg *config.Config) []broadcast.City {
	out := make([]broadcast.City, 0, len(cfg.BroadcastCities))
	for _, c := range cfg.BroadcastCities {
		out = append(out, broadcast.City{Name: c.Name, Latitude: c.Latitude, Longitude: c.Longitude})
	}
	return out
}

// PlaceLookup resolves a city name. *geocode.Resolver implements it.
type PlaceLookup interface {
	Resolve(ctx context.Context, query string) (models.ResolvedPlace, bool)
}

// WarmTargets resolves the broadcast city names through places, the resolver
// interactive text lookups use, so a warmed window carries the coordinates and
// timezone a user's query for the same name produces. Cities that do not
// resolve are skipped.
func WarmTargets(ctx context.Context, cfg *config.Config, places PlaceLookup, logger *zap.Logger) []cache.WarmTarget {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make([]cache.WarmTarget, 0, len(cfg.BroadcastCities))
	for _, c := range cfg.BroadcastCities {
		place, ok := places.Resolve(ctx, c.Name)
		if !ok {
			logger.Warn("warm target not resolved, skipping", zap.String("city", c.Name))
			continue
		}
		out = append(out, cache.WarmTarget{Name: c.Name, Latitude: place.Latitude, Longitude: place.Longitude, Timezone: place.Timezone})
	}
	return out
}

// NewBroadcastJob builds the daily report job.
func NewBroadcastJob(cfg *config.Config, forecaster broadcast.MorningForecaster, sender broadcast.Sender, logger *zap.Logger) (*broadcast.Job, error) {
	return broadcast.NewJob(forecaster, sender, broadcast.Options{
		Cities:         BroadcastCities(cfg),
		Timezone:       cfg.BroadcastTimezone,
		Hour:           cfg.BroadcastHour,
		IncludeWeather: cfg.BroadcastIncludeWeather,
		TestMode:       cfg.TestMode,
		TestUserID:     cfg.TestUserID,
		SendTimeout:    cfg.LineTimeout,
	}, logger)
}
