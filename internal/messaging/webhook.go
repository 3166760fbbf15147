package messaging

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// SignatureHeader carries the base64 HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Line-Signature"

// WebhookRequest is the inbound batch.
type WebhookRequest struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event is one inbound event. Only message and postback events are acted on.
type Event struct {
	Type       string          `json:"type"`
	ReplyToken string          `json:"replyToken"`
	Source     Source          `json:"source"`
	Message    *InboundMessage `json:"message,omitempty"`
	Postback   *Postback       `json:"postback,omitempty"`
	Timestamp  int64           `json:"timestamp"`
}

type Source struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// InboundMessage covers text and location messages. Location coordinates are
// read from the top level, or from a nested "location" object when present.
type InboundMessage struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	Title     string    `json:"title"`
	Address   string    `json:"address"`
	Latitude  *float64  `json:"latitude"`
	Longitude *float64  `json:"longitude"`
	Location  *Location `json:"location,omitempty"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Coordinates returns the shared location, if the message carries one.
func (m *InboundMessage) Coordinates() (lat, lon float64, ok bool) {
	if m == nil {
		return 0, 0, false
	}
	if m.Latitude != nil && m.Longitude != nil {
		return *m.Latitude, *m.Longitude, true
	}
	if m.Location != nil {
		return m.Location.Latitude, m.Location.Longitude, true
	}
	return 0, 0, false
}

type Postback struct {
	Data string `json:"data"`
}

// ParseWebhook decodes a webhook body.
func ParseWebhook(body []byte) (WebhookRequest, error) {
	var req WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return WebhookRequest{}, fmt.Errorf("decode webhook: %w", err)
	}
	return req, nil
}

// VerifySignature reports whether signature is the base64 HMAC-SHA256 of body
// under secret. Comparison is constant-time.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// Sign computes the signature VerifySignature expects.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
