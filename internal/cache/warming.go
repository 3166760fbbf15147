package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/dailyreport-bot/internal/models"
	"github.com/kjstillabower/dailyreport-bot/internal/observability"
)

// WindowFetcher is implemented by the service layer. Declared here so the
// warmer does not import the service package.
type WindowFetcher interface {
	GetForecastWindow(ctx context.Context, lat, lon float64, tz string) (models.ForecastWindow, error)
}

// WarmTarget is one place whose forecast window is kept warm.
type WarmTarget struct {
	Name      string
	Latitude  float64
	Longitude float64
	Timezone  string
}

// CacheWarmer prefetches forecast windows so the first user asking about a
// common place does not wait on the upstream.
type CacheWarmer struct {
	fetcher WindowFetcher
	logger  *zap.Logger
}

// NewCacheWarmer creates a warmer over fetcher. A nil logger disables logging.
func NewCacheWarmer(fetcher WindowFetcher, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger}
}

// Warm fetches every target concurrently. Failures are joined into one error;
// successful targets stay cached regardless.
func (w *CacheWarmer) Warm(ctx context.Context, targets []WarmTarget) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("targets", len(targets)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(targets))
	for _, t := range targets {
		wg.Add(1)
		go func(t WarmTarget) {
			defer wg.Done()
			if _, err := w.fetcher.GetForecastWindow(ctx, t.Latitude, t.Longitude, t.Timezone); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", t.Name, err)
			}
		}(t)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	w.logger.Info("cache warming complete",
		zap.Int("targets", len(targets)),
		zap.Int("errors", len(errs)),
		zap.Duration("duration", time.Since(start)))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic warms once, then again every interval until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, targets []WarmTarget, interval time.Duration) error {
	if err := w.Warm(ctx, targets); err != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, targets); err != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
