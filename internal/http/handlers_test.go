package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/dailyreport-bot/internal/dialogue"
	"github.com/kjstillabower/dailyreport-bot/internal/lifecycle"
	"github.com/kjstillabower/dailyreport-bot/internal/messaging"
	"github.com/kjstillabower/dailyreport-bot/internal/traffic"
)

const testSecret = "channel-secret"

type recordingEvents struct {
	mu       sync.Mutex
	events   []dialogue.Event
	failWith error
}

func (r *recordingEvents) Handle(ctx context.Context, ev dialogue.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.failWith
}

func (r *recordingEvents) handled() []dialogue.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dialogue.Event(nil), r.events...)
}

func signedRequest(body string) *http.Request {
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(body))
	req.Header.Set(messaging.SignatureHeader, messaging.Sign(testSecret, []byte(body)))
	req.Header.Set("Content-Type", "application/json")
	return req
}

const textEventBody = `{"destination":"U0","events":[
 {"type":"message","replyToken":"rt-1","source":{"type":"user","userId":"U1"},
  "message":{"id":"m1","type":"text","text":"  Glasgow "}}]}`

// TestHandler_Webhook_DispatchesTextEvent verifies that a correctly signed
// webhook is parsed, classified and handed to the event handler.
func TestHandler_Webhook_DispatchesTextEvent(t *testing.T) {
	events := &recordingEvents{}
	handler := NewHandler(events, testSecret, nil, zap.NewNop())

	w := httptest.NewRecorder()
	handler.Webhook(w, signedRequest(textEventBody))

	if w.Code != http.StatusOK {
		t.Fatalf("Webhook() status = %d, want 200", w.Code)
	}
	got := events.handled()
	if len(got) != 1 {
		t.Fatalf("handled %d events, want 1", len(got))
	}
	if got[0].UserID != "U1" || got[0].ReplyToken != "rt-1" {
		t.Errorf("event = %+v, want user U1 token rt-1", got[0])
	}
	if got[0].Kind != dialogue.InputText || got[0].Text != "Glasgow" {
		t.Errorf("event kind/text = %v/%q, want text/Glasgow", got[0].Kind, got[0].Text)
	}
}

func TestHandler_Webhook_RejectsBadSignature(t *testing.T) {
	tests := []struct {
		name      string
		signature string
	}{
		{"missing", ""},
		{"wrong secret", messaging.Sign("other-secret", []byte(textEventBody))},
		{"garbage", "not-base64"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &recordingEvents{}
			handler := NewHandler(events, testSecret, nil, zap.NewNop())

			req := httptest.NewRequest("POST", "/webhook", strings.NewReader(textEventBody))
			if tt.signature != "" {
				req.Header.Set(messaging.SignatureHeader, tt.signature)
			}
			w := httptest.NewRecorder()
			handler.Webhook(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
			if n := len(events.handled()); n != 0 {
				t.Errorf("handled %d events, want 0", n)
			}
		})
	}
}

func TestHandler_Webhook_MalformedJSON(t *testing.T) {
	events := &recordingEvents{}
	handler := NewHandler(events, testSecret, nil, zap.NewNop())

	w := httptest.NewRecorder()
	handler.Webhook(w, signedRequest(`{"events": [`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	var errResp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errResp.Error.Code != "INVALID_JSON" {
		t.Errorf("error.code = %q, want INVALID_JSON", errResp.Error.Code)
	}
}

func TestHandler_Webhook_TooLarge(t *testing.T) {
	handler := NewHandler(&recordingEvents{}, testSecret, nil, zap.NewNop())
	body := `{"events":[],"pad":"` + strings.Repeat("x", maxWebhookBody) + `"}`

	w := httptest.NewRecorder()
	handler.Webhook(w, signedRequest(body))

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

// TestHandler_Webhook_SkipsUnanswerableEvents verifies that events without a
// user or reply token, and unsupported event types, are skipped while the
// rest of the batch is processed.
func TestHandler_Webhook_SkipsUnanswerableEvents(t *testing.T) {
	body := `{"events":[
 {"type":"message","replyToken":"rt-1","source":{"type":"group"},"message":{"type":"text","text":"hi"}},
 {"type":"message","source":{"type":"user","userId":"U1"},"message":{"type":"text","text":"hi"}},
 {"type":"follow","replyToken":"rt-3","source":{"type":"user","userId":"U1"}},
 {"type":"message","replyToken":"rt-4","source":{"type":"user","userId":"U1"},"message":{"type":"sticker"}},
 {"type":"postback","replyToken":"rt-5","source":{"type":"user","userId":"U2"},"postback":{"data":"mode=weather"}},
 {"type":"message","replyToken":"rt-6","source":{"type":"user","userId":"U3"},
  "message":{"type":"location","latitude":35.4437,"longitude":139.638}}]}`
	events := &recordingEvents{}
	handler := NewHandler(events, testSecret, nil, zap.NewNop())

	w := httptest.NewRecorder()
	handler.Webhook(w, signedRequest(body))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	got := events.handled()
	if len(got) != 2 {
		t.Fatalf("handled %d events, want 2: %+v", len(got), got)
	}
	if got[0].Kind != dialogue.InputSelectWeather || got[0].ReplyToken != "rt-5" {
		t.Errorf("first event = %+v, want weather selection rt-5", got[0])
	}
	if got[1].Kind != dialogue.InputLocation || got[1].Latitude != 35.4437 {
		t.Errorf("second event = %+v, want location 35.4437", got[1])
	}
}

// TestHandler_Webhook_ReplyFailureDoesNotFailBatch verifies that a failed reply
// is logged, the remaining events are still handled and the webhook returns 200.
func TestHandler_Webhook_ReplyFailureDoesNotFailBatch(t *testing.T) {
	body := `{"events":[
 {"type":"message","replyToken":"rt-1","source":{"type":"user","userId":"U1"},"message":{"type":"text","text":"menu"}},
 {"type":"message","replyToken":"rt-2","source":{"type":"user","userId":"U2"},"message":{"type":"text","text":"menu"}}]}`
	core, logs := observer.New(zap.DebugLevel)
	events := &recordingEvents{failWith: messaging.ErrSendFailed}
	handler := NewHandler(events, testSecret, nil, zap.New(core))

	w := httptest.NewRecorder()
	handler.Webhook(w, signedRequest(body))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if n := len(events.handled()); n != 2 {
		t.Errorf("handled %d events, want 2", n)
	}
	if n := logs.FilterMessage("reply failed").Len(); n != 2 {
		t.Errorf("reply failed logs = %d, want 2", n)
	}
}

func TestHandler_GetHealth(t *testing.T) {
	traffic.Reset()
	lifecycle.SetPhase(lifecycle.PhaseServing)
	defer lifecycle.SetPhase(lifecycle.PhaseStarting)

	handler := NewHandler(&recordingEvents{}, testSecret, &HealthConfig{Version: "1.2.3"}, zap.NewNop())
	w := httptest.NewRecorder()
	handler.GetHealth(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("GetHealth() status = %d, want 200", w.Code)
	}
	var health map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", health["status"])
	}
	if health["service"] != "dailyreport-bot" || health["version"] != "1.2.3" {
		t.Errorf("service/version = %v/%v", health["service"], health["version"])
	}
	if _, ok := health["timestamp"]; !ok {
		t.Error("timestamp missing")
	}
}

func TestHandler_GetHealth_ShuttingDown(t *testing.T) {
	lifecycle.SetPhase(lifecycle.PhaseDraining)
	defer lifecycle.SetPhase(lifecycle.PhaseStarting)

	handler := NewHandler(&recordingEvents{}, testSecret, nil, zap.NewNop())
	w := httptest.NewRecorder()
	handler.GetHealth(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	var health map[string]interface{}
	_ = json.NewDecoder(w.Body).Decode(&health)
	if health["status"] != "shutting-down" {
		t.Errorf("status = %v, want shutting-down", health["status"])
	}
}

func TestHandler_GetHealth_ErrorRate(t *testing.T) {
	upstreamErr := errors.New("boom")
	tests := []struct {
		name       string
		failures   int
		successes  int
		wantCode   int
		wantStatus string
	}{
		{"no traffic", 0, 0, http.StatusOK, "healthy"},
		{"below threshold", 1, 2, http.StatusOK, "healthy"},
		{"at threshold", 1, 1, http.StatusServiceUnavailable, "degraded"},
		{"above threshold", 2, 1, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			traffic.Reset()
			defer traffic.Reset()
			for i := 0; i < tt.failures; i++ {
				traffic.RecordUpstream("forecast", upstreamErr)
			}
			for i := 0; i < tt.successes; i++ {
				traffic.RecordUpstream("forecast", nil)
			}

			handler := NewHandler(&recordingEvents{}, testSecret, &HealthConfig{
				DegradedWindow:   time.Minute,
				DegradedErrorPct: 50,
			}, zap.NewNop())
			w := httptest.NewRecorder()
			handler.GetHealth(w, httptest.NewRequest("GET", "/health", nil))

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			var health map[string]interface{}
			_ = json.NewDecoder(w.Body).Decode(&health)
			if health["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", health["status"], tt.wantStatus)
			}
		})
	}
}

func TestHandler_GetHealth_CacheCheck(t *testing.T) {
	traffic.Reset()
	pingErr := errors.New("connection refused")
	handler := NewHandler(&recordingEvents{}, testSecret, &HealthConfig{
		CachePing: func(ctx context.Context) error { return pingErr },
	}, zap.NewNop())

	w := httptest.NewRecorder()
	handler.GetHealth(w, httptest.NewRequest("GET", "/health", nil))

	var health struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Checks["cache"] != "unhealthy" {
		t.Errorf("checks.cache = %q, want unhealthy", health.Checks["cache"])
	}
	// An unreachable cache only costs latency, so overall status stays healthy.
	if health.Status != "healthy" {
		t.Errorf("status = %q, want healthy", health.Status)
	}
}

// TestHandler_GetHealth_LogsTransition verifies that a status change is logged
// once and an unchanged status is not logged again.
func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	traffic.Reset()
	defer traffic.Reset()
	core, logs := observer.New(zap.DebugLevel)
	handler := NewHandler(&recordingEvents{}, testSecret, &HealthConfig{
		DegradedWindow:   time.Minute,
		DegradedErrorPct: 50,
	}, zap.New(core))
	req := httptest.NewRequest("GET", "/health", nil)

	traffic.RecordUpstream("forecast", nil)
	handler.GetHealth(httptest.NewRecorder(), req)
	if logs.Len() != 0 {
		t.Fatalf("first call logged %d entries, want 0", logs.Len())
	}

	traffic.RecordUpstream("forecast", errors.New("boom"))
	traffic.RecordUpstream("geocoding", errors.New("boom"))
	handler.GetHealth(httptest.NewRecorder(), req)
	handler.GetHealth(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("transition logs = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "healthy" || fields["current_status"] != "degraded" {
		t.Errorf("transition = %v -> %v, want healthy -> degraded", fields["previous_status"], fields["current_status"])
	}
	if fields["reason"] != "error_rate_breach" {
		t.Errorf("reason = %v, want error_rate_breach", fields["reason"])
	}
}
