package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (webhook unreachable) or spikes.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Webhook latency includes upstream calls.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream (Open-Meteo forecast/geocoding) call rate by status.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency per attempt. Watch for: p95 approaching the endpoint timeout.
	UpstreamDuration *prometheus.HistogramVec

	// Retry attempts per upstream. High values = unstable upstream or rate limiting.
	UpstreamRetriesTotal *prometheus.CounterVec

	// Final upstream failures after retries, by category.
	UpstreamErrorsTotal *prometheus.CounterVec

	// Circuit breaker state per upstream (0 closed, 1 half-open, 2 open).
	CircuitBreakerState *prometheus.GaugeVec

	// Forecast cache lookups by result (hit, miss, error).
	CacheLookupsTotal *prometheus.CounterVec

	// Concurrent misses on the same forecast key.
	CacheStampedeDetectedTotal prometheus.Counter

	// Cache warming runs and failures.
	CacheWarmingTotal       prometheus.Counter
	CacheWarmingErrorsTotal prometheus.Counter

	// Place resolutions by result (resolved, not_found, rejected, error).
	PlaceResolutionsTotal *prometheus.CounterVec

	// Dialogue transitions keyed by the state the event arrived in and its input kind.
	DialogueTransitionsTotal *prometheus.CounterVec

	// Conversation states dropped by expiry policy (idle, lifetime).
	StateExpiredTotal *prometheus.CounterVec

	// Outbound messaging-platform sends by kind (reply, push, broadcast) and status.
	MessagingSendsTotal *prometheus.CounterVec

	// Webhook events by type and outcome.
	WebhookEventsTotal *prometheus.CounterVec

	// Webhook requests refused by the token bucket.
	RateLimitDeniedTotal prometheus.Counter

	// Broadcast job runs by result.
	BroadcastRunsTotal *prometheus.CounterVec

	activeConversationsOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of upstream API calls (each attempt counts)",
		},
		[]string{"upstream", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Upstream API latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"upstream", "status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamRetriesTotal",
			Help: "Total number of retry attempts for upstream calls",
		},
		[]string{"upstream"},
	)
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamErrorsTotal",
			Help: "Upstream calls that failed after all attempts, by error category",
		},
		[]string{"upstream", "category"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state per upstream: 0 closed, 1 half-open, 2 open",
		},
		[]string{"upstream"},
	)
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheLookupsTotal",
			Help: "Forecast cache lookups by result",
		},
		[]string{"result"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Forecast cache misses that overlapped another miss for the same key",
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed city",
		},
	)
	PlaceResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placeResolutionsTotal",
			Help: "Place resolutions by result",
		},
		[]string{"result"},
	)
	DialogueTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialogueTransitionsTotal",
			Help: "Dialogue events by current state and input kind",
		},
		[]string{"state", "input"},
	)
	StateExpiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversationStateExpiredTotal",
			Help: "Conversation states removed by expiry policy",
		},
		[]string{"reason"},
	)
	MessagingSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messagingSendsTotal",
			Help: "Outbound messaging API calls by kind and status",
		},
		[]string{"kind", "status"},
	)
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhookEventsTotal",
			Help: "Inbound webhook events by type and outcome",
		},
		[]string{"type", "outcome"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Webhook requests denied by the rate limiter",
		},
	)
	BroadcastRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcastRunsTotal",
			Help: "Daily broadcast runs by result",
		},
		[]string{"result"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamRetriesTotal, UpstreamErrorsTotal,
		CircuitBreakerState,
		CacheLookupsTotal, CacheStampedeDetectedTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal,
		PlaceResolutionsTotal,
		DialogueTransitionsTotal, StateExpiredTotal,
		MessagingSendsTotal, WebhookEventsTotal, RateLimitDeniedTotal,
		BroadcastRunsTotal,
	)
}

// RegisterActiveConversations exposes the number of stored conversation states.
// Only the first call registers; later calls are ignored.
func RegisterActiveConversations(count func() int) {
	activeConversationsOnce.Do(func() {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "activeConversations",
				Help: "Conversation states currently held in memory (including not yet swept)",
			},
			func() float64 { return float64(count()) },
		))
	})
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
