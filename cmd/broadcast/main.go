package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/kjstillabower/dailyreport-bot/internal/app"
	"github.com/kjstillabower/dailyreport-bot/internal/broadcast"
	"github.com/kjstillabower/dailyreport-bot/internal/cache"
	"github.com/kjstillabower/dailyreport-bot/internal/config"
	"github.com/kjstillabower/dailyreport-bot/internal/observability"
)

func main() {
	schedule := flag.String("schedule", "", `cron expression (e.g. "0 21 * * *"); empty sends once and exits. Overrides broadcast.schedule`)
	useConfigSchedule := flag.Bool("scheduled", false, "run on broadcast.schedule from config instead of sending once")
	runTimeout := flag.Duration("timeout", 2*time.Minute, "bound on one build-and-send run")
	flag.Parse()

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

	// Each run fetches every city once, so a process-local cache is enough.
	weatherService := app.NewWeatherService(cfg, cache.NewInMemoryCache(), logger)
	job, err := app.NewBroadcastJob(cfg, weatherService, app.NewMessagingClient(cfg, logger), logger)
	if err != nil {
		logger.Fatal("broadcast job", zap.Error(err))
	}

	expr := *schedule
	if expr == "" && *useConfigSchedule {
		expr = cfg.BroadcastSchedule
	}

	if expr == "" {
		ctx, cancel := context.WithTimeout(context.Background(), *runTimeout)
		defer cancel()
		if err := job.Run(ctx); err != nil {
			logger.Error("daily report failed", zap.Error(err))
			_ = observability.FlushTelemetry(context.Background(), logger)
			os.Exit(1)
		}
		return
	}

	sched, err := broadcast.NewScheduler(job, expr, *runTimeout, logger)
	if err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Info("running on schedule",
		zap.String("schedule", expr),
		zap.String("timezone", cfg.BroadcastTimezone),
		zap.Bool("test_mode", cfg.TestMode))
	sched.Run(ctx)
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
}
