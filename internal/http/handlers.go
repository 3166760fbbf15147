package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/dailyreport-bot/internal/dialogue"
	"github.com/kjstillabower/dailyreport-bot/internal/lifecycle"
	"github.com/kjstillabower/dailyreport-bot/internal/messaging"
	"github.com/kjstillabower/dailyreport-bot/internal/observability"
	"github.com/kjstillabower/dailyreport-bot/internal/traffic"
)

// maxWebhookBody bounds the webhook request body.
const maxWebhookBody = 1 << 20

// EventHandler answers one classified chat event.
type EventHandler interface {
	Handle(ctx context.Context, ev dialogue.Event) error
}

// HealthConfig holds the thresholds the health handler evaluates.
type HealthConfig struct {
	// DegradedWindow and DegradedErrorPct: /health reports degraded when at least
	// DegradedErrorPct percent of upstream fetches in the window failed.
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// DenialWindow is the window reported for rate-limit denials.
	DenialWindow time.Duration
	// CachePing, when set, checks the remote forecast cache (memcached, redis).
	CachePing func(ctx context.Context) error
	Version   string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	events           EventHandler
	channelSecret    string
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. channelSecret verifies webhook signatures.
func NewHandler(events EventHandler, channelSecret string, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		events:        events,
		channelSecret: channelSecret,
		healthConfig:  healthConfig,
		logger:        logger,
	}
}

// Webhook handles POST /webhook. The signature is checked against the raw body
// before anything is parsed; a mismatch is rejected without replying. Every
// accepted event is answered in order. A failed reply is logged and counted but
// does not fail the batch, since the platform would redeliver events that were
// already answered.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	logger := observability.LoggerFromContext(r.Context(), h.logger)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "unable to read request body")
		return
	}

	if !messaging.VerifySignature(h.channelSecret, body, r.Header.Get(messaging.SignatureHeader)) {
		logger.Warn("webhook signature mismatch")
		observability.WebhookEventsTotal.WithLabelValues("request", "invalid_signature").Inc()
		writeError(w, r, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed")
		return
	}

	req, err := messaging.ParseWebhook(body)
	if err != nil {
		logger.Debug("malformed webhook body", zap.Error(err))
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "malformed webhook body")
		return
	}

	for _, raw := range req.Events {
		ev, ok := dialogue.FromWebhook(raw)
		if !ok {
			observability.WebhookEventsTotal.WithLabelValues(raw.Type, "skipped").Inc()
			continue
		}
		if err := h.events.Handle(r.Context(), ev); err != nil {
			observability.WebhookEventsTotal.WithLabelValues(raw.Type, "reply_failed").Inc()
			logger.Error("reply failed",
				zap.String("event_type", raw.Type),
				zap.String("input", ev.Kind.String()),
				zap.Error(err))
			continue
		}
		observability.WebhookEventsTotal.WithLabelValues(raw.Type, "handled").Inc()
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"upstreams": "healthy"}
	if result.reason == "error_rate_breach" {
		checks["upstreams"] = "unhealthy"
	}
	version := "dev"
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "dailyreport-bot",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.healthConfig != nil {
		if h.healthConfig.CachePing != nil {
			if h.healthConfig.CachePing(r.Context()) == nil {
				checks["cache"] = "healthy"
			} else {
				checks["cache"] = "unhealthy"
			}
		}
		if h.healthConfig.Version != "" {
			version = h.healthConfig.Version
		}
		if h.healthConfig.DenialWindow > 0 {
			resp["rateLimitDenials"] = traffic.DenialCount(h.healthConfig.DenialWindow)
		}
	}
	resp["version"] = version
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates, in priority order: shutting-down > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 && errs*100 >= h.healthConfig.DegradedErrorPct*total {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error body, carrying the correlation ID when
// the request has one.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}
