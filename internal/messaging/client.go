package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/kjstillabower/dailyreport-bot/internal/observability"
)

const (
	DefaultBaseURL = "https://api.line.me"
	DefaultTimeout = 20 * time.Second

	replyPath     = "/v2/bot/message/reply"
	pushPath      = "/v2/bot/message/push"
	broadcastPath = "/v2/bot/message/broadcast"
)

// ErrSendFailed is returned when the platform answers with a non-2xx status.
var ErrSendFailed = errors.New("messaging send failed")

// Notifier is the outbound side used by the dialogue and the broadcast job.
type Notifier interface {
	Reply(ctx context.Context, replyToken string, msgs ...Message) error
	Push(ctx context.Context, to string, msgs ...Message) error
	Broadcast(ctx context.Context, msgs ...Message) error
}

// Client posts messages with bearer-token auth. Safe for concurrent use.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient creates a Client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL, accessToken string, timeout time.Duration, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetAuthToken(accessToken).
		SetHeader("Content-Type", "application/json")
	return &Client{http: rc, logger: logger}
}

// SendContext derives the context for an outbound send. It keeps ctx's values
// (request logger, correlation id) but drops its deadline and cancellation, so
// a reply can still go out after the upstream work for the event ran out of
// time. The send is bounded by timeout instead (DefaultTimeout when <= 0).
func SendContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

type replyRequest struct {
	ReplyToken string    `json:"replyToken"`
	Messages   []Message `json:"messages"`
}

type pushRequest struct {
	To       string    `json:"to"`
	Messages []Message `json:"messages"`
}

type broadcastRequest struct {
	Messages []Message `json:"messages"`
}

// Reply answers a webhook event through its reply token.
func (c *Client) Reply(ctx context.Context, replyToken string, msgs ...Message) error {
	return c.post(ctx, "reply", replyPath, replyRequest{ReplyToken: replyToken, Messages: msgs})
}

// Push sends to one user.
func (c *Client) Push(ctx context.Context, to string, msgs ...Message) error {
	return c.post(ctx, "push", pushPath, pushRequest{To: to, Messages: msgs})
}

// Broadcast sends to every follower of the channel.
func (c *Client) Broadcast(ctx context.Context, msgs ...Message) error {
	return c.post(ctx, "broadcast", broadcastPath, broadcastRequest{Messages: msgs})
}

func (c *Client) post(ctx context.Context, kind, path string, body any) error {
	req := c.http.R().SetContext(ctx).SetBody(body)
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.SetHeader("X-Correlation-ID", corrID)
	}
	resp, err := req.Post(path)
	if err != nil {
		observability.MessagingSendsTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("%s: %w", kind, err)
	}
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		observability.MessagingSendsTotal.WithLabelValues(kind, "rejected").Inc()
		observability.LoggerFromContext(ctx, c.logger).Warn("messaging api rejected request",
			zap.String("kind", kind),
			zap.Int("status", resp.StatusCode()),
			zap.ByteString("body", truncate(resp.Body(), 512)))
		return fmt.Errorf("%w: %s: status=%d", ErrSendFailed, kind, resp.StatusCode())
	}
	observability.MessagingSendsTotal.WithLabelValues(kind, "success").Inc()
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
