package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kjstillabower/dailyreport-bot/internal/observability"
	"github.com/kjstillabower/dailyreport-bot/internal/traffic"
)

// maxResponseBytes bounds how much of an upstream body is read.
const maxResponseBytes = 4 << 20

// RetryPolicy controls how many times an upstream fetch is attempted and how long
// to wait in between. The wait after failed attempt n is BackoffBase^(n-1) units,
// raised to RateLimitFloor when the failure was a rate-limit response.
type RetryPolicy struct {
	Attempts       int
	BackoffBase    float64
	BackoffUnit    time.Duration
	RateLimitFloor time.Duration
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int, err error) time.Duration {
	unit := p.BackoffUnit
	if unit <= 0 {
		unit = time.Second
	}
	base := p.BackoffBase
	if base <= 0 {
		base = 1
	}
	wait := time.Duration(math.Pow(base, float64(attempt-1)) * float64(unit))
	if errors.Is(err, ErrRateLimited) && wait < p.RateLimitFloor {
		wait = p.RateLimitFloor
	}
	return wait
}

// FetcherConfig configures one upstream endpoint family.
type FetcherConfig struct {
	Upstream                string // metric/log label, e.g. "forecast"
	Timeout                 time.Duration
	Retry                   RetryPolicy
	BreakerFailureThreshold uint32
	BreakerOpenTimeout      time.Duration
	// HTTPClient overrides the default client built from Timeout. Used in tests.
	HTTPClient *http.Client
}

// Fetcher performs GET requests returning JSON with retry, backoff and a circuit
// breaker. Safe for concurrent use.
type Fetcher struct {
	upstream string
	http     *http.Client
	retry    RetryPolicy
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewFetcher builds a Fetcher. A nil logger disables logging.
func NewFetcher(cfg FetcherConfig, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry.Attempts = 1
	}
	threshold := cfg.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	openTimeout := cfg.BreakerOpenTimeout
	if openTimeout <= 0 {
		openTimeout = 2 * time.Minute
	}
	upstream := cfg.Upstream
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        upstream,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("circuit breaker state change",
				zap.String("upstream", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	observability.CircuitBreakerState.WithLabelValues(upstream).Set(float64(gobreaker.StateClosed))

	return &Fetcher{
		upstream: upstream,
		http:     httpClient,
		retry:    cfg.Retry,
		breaker:  breaker,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// GetJSON fetches endpoint with params and decodes the body into dst. Failed
// attempts are retried per the RetryPolicy; when attempts run out the last error
// is returned wrapped, so errors.Is still matches the sentinel errors.
func (f *Fetcher) GetJSON(ctx context.Context, endpoint string, params url.Values, dst any) error {
	err := f.getJSON(ctx, endpoint, params, dst)
	// Rejected requests and caller cancellations say nothing about upstream health.
	if err == nil || !(errors.Is(err, ErrClientStatus) || errors.Is(err, context.Canceled)) {
		traffic.RecordUpstream(f.upstream, err)
	}
	return err
}

func (f *Fetcher) getJSON(ctx context.Context, endpoint string, params url.Values, dst any) error {
	var lastErr error
	for attempt := 1; attempt <= f.retry.Attempts; attempt++ {
		if attempt > 1 {
			observability.UpstreamRetriesTotal.WithLabelValues(f.upstream).Inc()
		}

		err := f.attempt(ctx, endpoint, params, dst)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			observability.UpstreamErrorsTotal.WithLabelValues(f.upstream, string(CategorizeError(err))).Inc()
			return fmt.Errorf("%s: %w", f.upstream, err)
		}
		if attempt == f.retry.Attempts {
			break
		}

		wait := f.retry.Backoff(attempt, err)
		// Sleeping past the caller's deadline can only end in cancellation, and
		// the caller would lose the upstream error it needs to report.
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			observability.UpstreamErrorsTotal.WithLabelValues(f.upstream, string(CategorizeError(err))).Inc()
			observability.LoggerFromContext(ctx, f.logger).Warn("upstream fetch failed, retry wait exceeds deadline",
				zap.String("upstream", f.upstream),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
			return fmt.Errorf("%s: retry wait %v exceeds deadline: %w", f.upstream, wait, err)
		}
		observability.LoggerFromContext(ctx, f.logger).Warn("upstream fetch failed, retrying",
			zap.String("upstream", f.upstream),
			zap.Int("attempt", attempt),
			zap.Int("attempts", f.retry.Attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
		if err := f.sleep(ctx, wait); err != nil {
			observability.UpstreamErrorsTotal.WithLabelValues(f.upstream, string(CategorizeError(err))).Inc()
			return fmt.Errorf("%s: %w", f.upstream, err)
		}
	}

	observability.UpstreamErrorsTotal.WithLabelValues(f.upstream, string(CategorizeError(lastErr))).Inc()
	return fmt.Errorf("%s: exhausted %d attempts: %w", f.upstream, f.retry.Attempts, lastErr)
}

// attemptResult carries a 4xx outcome through the breaker as a success so that
// client errors do not trip it.
type attemptResult struct {
	body      []byte
	clientErr error
}

func (f *Fetcher) attempt(ctx context.Context, endpoint string, params url.Values, dst any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %v", ErrClientStatus, err)
	}
	u.RawQuery = params.Encode()

	start := time.Now()
	out, err := f.breaker.Execute(func() (interface{}, error) {
		return f.do(ctx, u.String())
	})
	if err == nil {
		if res := out.(attemptResult); res.clientErr != nil {
			err = res.clientErr
		}
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	status := statusLabel(err)
	observability.UpstreamCallsTotal.WithLabelValues(f.upstream, status).Inc()
	observability.UpstreamDuration.WithLabelValues(f.upstream, status).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	if err := json.Unmarshal(out.(attemptResult).body, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (f *Fetcher) do(ctx context.Context, rawURL string) (attemptResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return attemptResult{clientErr: fmt.Errorf("%w: build request: %v", ErrClientStatus, err)}, nil
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return attemptResult{}, fmt.Errorf("request timeout: %w", err)
		}
		return attemptResult{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return attemptResult{}, fmt.Errorf("%w: HTTP 429", ErrRateLimited)
	case resp.StatusCode >= 500:
		return attemptResult{}, fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return attemptResult{clientErr: fmt.Errorf("%w: HTTP %d", ErrClientStatus, resp.StatusCode)}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return attemptResult{}, fmt.Errorf("read response body: %w", err)
	}
	return attemptResult{body: body}, nil
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUpstreamFailure):
		return "server_error"
	case errors.Is(err, ErrClientStatus):
		return "client_error"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	default:
		return "error"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
