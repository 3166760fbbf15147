package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/dailyreport-bot/internal/cache"
	"github.com/kjstillabower/dailyreport-bot/internal/client"
	"github.com/kjstillabower/dailyreport-bot/internal/forecast"
	"github.com/kjstillabower/dailyreport-bot/internal/models"
	"github.com/kjstillabower/dailyreport-bot/internal/observability"
)

// forecastDays covers today, tomorrow and a spare day for timezones ahead of
// the upstream's notion of "today".
const forecastDays = 3

// DefaultFetchTimeout bounds one shared upstream fetch, retries included.
const DefaultFetchTimeout = 45 * time.Second

// ErrNoForecast is returned when the upstream answered but held no data for
// the requested date.
var ErrNoForecast = errors.New("no forecast data for date")

// ForecastSource is the upstream hourly forecast endpoint.
type ForecastSource interface {
	Hourly(ctx context.Context, lat, lon float64, tz string, days int) (client.HourlyForecast, error)
}

// WeatherService serves forecast windows cache-aside. Concurrent misses for the
// same key share one upstream call.
type WeatherService struct {
	source          ForecastSource
	cache           cache.Cache
	ttl             time.Duration
	group           singleflight.Group
	stampedeTracker *stampedeTracker
	fetchTimeout    time.Duration
	now             func() time.Time
	logger          *zap.Logger
}

// NewWeatherService creates a WeatherService caching windows for ttl.
func NewWeatherService(source ForecastSource, c cache.Cache, ttl time.Duration, logger *zap.Logger) *WeatherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherService{
		source:          source,
		cache:           c,
		ttl:             ttl,
		stampedeTracker: newStampedeTracker(),
		fetchTimeout:    DefaultFetchTimeout,
		now:             time.Now,
		logger:          logger,
	}
}

// WithClock replaces the clock used to pick the target date.
func (s *WeatherService) WithClock(now func() time.Time) *WeatherService {
	s.now = now
	return s
}

// WithFetchTimeout replaces the bound on one shared upstream fetch.
func (s *WeatherService) WithFetchTimeout(d time.Duration) *WeatherService {
	if d > 0 {
		s.fetchTimeout = d
	}
	return s
}

// shared runs fn once for concurrent callers of key. fn gets a context that
// keeps ctx's values but not its cancellation, bounded by fetchTimeout, so one
// caller giving up does not fail the others. Each caller stops waiting when its
// own ctx is done.
func (s *WeatherService) shared(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, bool, error) {
	ch := s.group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		return fn(fetchCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// CacheKey identifies a forecast window: coordinates rounded to 4 decimals,
// timezone and target date.
func CacheKey(lat, lon float64, tz string, date time.Time) string {
	return fmt.Sprintf("%.4f:%.4f:%s:%s", round4(lat), round4(lon), tz, date.Format("2006-01-02"))
}

// round4 rounds to 4 decimals. Values that round to zero from below become +0
// so they share a key with zero instead of printing as -0.0000.
func round4(v float64) float64 {
	r := math.Round(v*1e4) / 1e4
	if r == 0 {
		r = 0
	}
	return r
}

// GetForecastWindow returns the 09-21h forecast for the date chosen by the local
// time at tz: today before 08:00, tomorrow otherwise. Upstream failures are
// returned as errors; no stale or synthetic data is substituted.
func (s *WeatherService) GetForecastWindow(ctx context.Context, lat, lon float64, tz string) (models.ForecastWindow, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return models.ForecastWindow{}, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	date, header := forecast.TargetDate(s.now().In(loc))
	key := CacheKey(lat, lon, tz, date)
	logger := observability.LoggerFromContext(ctx, s.logger)
	start := time.Now()

	cached, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		observability.CacheLookupsTotal.WithLabelValues("error").Inc()
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	case ok:
		observability.CacheLookupsTotal.WithLabelValues("hit").Inc()
		logger.Debug("forecast served", zap.String("key", key), zap.Bool("cached", true))
		return cached, nil
	default:
		observability.CacheLookupsTotal.WithLabelValues("miss").Inc()
	}

	concurrent := s.stampedeTracker.RecordMiss(key)
	defer s.stampedeTracker.RecordHit(key)
	if concurrent > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
	}

	v, shared, err := s.shared(ctx, key, func(ctx context.Context) (interface{}, error) {
		hourly, err := s.source.Hourly(ctx, lat, lon, tz, forecastDays)
		if err != nil {
			return nil, err
		}
		w := forecast.Window(hourly, date, header, loc)
		if setErr := s.cache.Set(ctx, key, w, s.ttl); setErr != nil {
			logger.Warn("cache set failed", zap.String("key", key), zap.Error(setErr))
		}
		return w, nil
	})
	if err != nil {
		return models.ForecastWindow{}, fmt.Errorf("fetch forecast for %s: %w", key, err)
	}
	logger.Debug("forecast served",
		zap.String("key", key),
		zap.Bool("cached", false),
		zap.Bool("shared", shared),
		zap.Duration("duration", time.Since(start)))
	return v.(models.ForecastWindow), nil
}

// GetMorningForecast returns tomorrow's slot at hour (local to tz), falling
// back to tomorrow's first slot. Used by the evening broadcast, so it bypasses
// the window cache.
func (s *WeatherService) GetMorningForecast(ctx context.Context, lat, lon float64, tz string, hour int) (models.ForecastSlot, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return models.ForecastSlot{}, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	now := s.now().In(loc)
	y, m, d := now.Date()
	tomorrow := time.Date(y, m, d+1, 0, 0, 0, 0, loc)

	key := "morning:" + CacheKey(lat, lon, tz, tomorrow)
	v, _, err := s.shared(ctx, key, func(ctx context.Context) (interface{}, error) {
		return s.source.Hourly(ctx, lat, lon, tz, forecastDays)
	})
	if err != nil {
		return models.ForecastSlot{}, fmt.Errorf("fetch morning forecast: %w", err)
	}
	slot, ok := forecast.Morning(v.(client.HourlyForecast), tomorrow, hour, loc)
	if !ok {
		return models.ForecastSlot{}, fmt.Errorf("%w %s", ErrNoForecast, tomorrow.Format("2006-01-02"))
	}
	return slot, nil
}
