package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Scheduler runs a Job on a cron expression in the job's timezone.
type Scheduler struct {
	job       *Job
	scheduler *gocron.Scheduler
	timeout   time.Duration
	logger    *zap.Logger
}

// NewScheduler registers job under cronExpr (five fields, e.g. "0 21 * * *").
// timeout bounds each run; zero means two minutes.
func NewScheduler(job *Job, cronExpr string, timeout time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		job:       job,
		scheduler: gocron.NewScheduler(job.loc),
		timeout:   timeout,
		logger:    logger,
	}
	// A slow run must not overlap the next one.
	s.scheduler.SingletonModeAll()
	if _, err := s.scheduler.Cron(cronExpr).Do(s.runOnce); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", cronExpr, err)
	}
	return s, nil
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.job.Run(ctx); err != nil {
		s.logger.Error("scheduled daily report failed", zap.Error(err))
	}
}

// NextRun reports when the job fires next. Zero before Start.
func (s *Scheduler) NextRun() time.Time {
	_, next := s.scheduler.NextRun()
	return next
}

// Run starts the scheduler and blocks until ctx is done, then stops it.
func (s *Scheduler) Run(ctx context.Context) {
	s.scheduler.StartAsync()
	s.logger.Info("daily report scheduler started", zap.Time("next_run", s.NextRun()))
	<-ctx.Done()
	s.scheduler.Stop()
	s.logger.Info("daily report scheduler stopped")
}
