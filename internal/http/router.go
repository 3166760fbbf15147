package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/dailyreport-bot/internal/observability"
)

// RouterConfig controls the middleware applied to /webhook.
type RouterConfig struct {
	// WebhookTimeout bounds one webhook request, including upstream fetches and replies.
	WebhookTimeout time.Duration
	// Limiter is the token bucket for /webhook; nil disables rate limiting.
	Limiter *rate.Limiter
}

// NewRouter builds the service router: /health and /metrics on the root, and
// /webhook behind the timeout and rate limit middleware.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")

	var webhook http.Handler = http.HandlerFunc(h.Webhook)
	if cfg.WebhookTimeout > 0 {
		webhook = TimeoutMiddleware(cfg.WebhookTimeout)(webhook)
	}
	webhook = RateLimitMiddleware(cfg.Limiter)(webhook)
	router.Handle("/webhook", webhook).Methods("POST")
	return router
}
