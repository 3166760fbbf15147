package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/dailyreport-bot/internal/app"
	"github.com/kjstillabower/dailyreport-bot/internal/cache"
	"github.com/kjstillabower/dailyreport-bot/internal/config"
	"github.com/kjstillabower/dailyreport-bot/internal/dialogue"
	httphandler "github.com/kjstillabower/dailyreport-bot/internal/http"
	"github.com/kjstillabower/dailyreport-bot/internal/lifecycle"
	"github.com/kjstillabower/dailyreport-bot/internal/observability"
	"github.com/kjstillabower/dailyreport-bot/internal/state"
	"github.com/kjstillabower/dailyreport-bot/internal/tz"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	if err := cfg.ValidateWebhook(); err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	forecastCache, err := app.NewForecastCache(cfg)
	if err != nil {
		logger.Fatal("forecast cache", zap.Error(err))
	}
	logger.Info("cache backend", zap.String("backend", forecastCache.Backend))

	weatherService := app.NewWeatherService(cfg, forecastCache, logger)
	places := app.NewPlaceResolver(cfg, logger)
	notifier := app.NewMessagingClient(cfg, logger)

	store := state.NewStore(cfg.StateIdleTimeout, cfg.StateMaxLifetime, logger)
	observability.RegisterActiveConversations(store.Len)

	controller := dialogue.NewController(store, places, weatherService, tz.NewCalculator(), notifier, logger).
		WithCoordinateTimezone(cfg.CoordinateTimezone).
		WithReplyTimeout(cfg.LineTimeout)

	// Background work stops when bgCtx is cancelled during shutdown.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go store.SweepPeriodic(bgCtx, cfg.StateSweepInterval)

	if cfg.WarmEnabled {
		warmer := cache.NewCacheWarmer(weatherService, logger)
		go func() {
			targets := app.WarmTargets(bgCtx, cfg, places, logger)
			if len(targets) == 0 {
				logger.Warn("no warm targets resolved, cache warming disabled")
				return
			}
			if err := warmer.WarmPeriodic(bgCtx, targets, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("periodic cache warming stopped", zap.Error(err))
			}
		}()
	}

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		DenialWindow:     cfg.DegradedWindow,
		CachePing:        forecastCache.Ping,
		Version:          version,
	}
	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(controller, cfg.LineChannelSecret, healthConfig, logger)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		WebhookTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		lifecycle.SetPhase(lifecycle.PhaseServing)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetPhase(lifecycle.PhaseDraining)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	bgCancel()

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if forecastCache.Close != nil {
		if err := forecastCache.Close(); err != nil {
			logger.Error("cache close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
