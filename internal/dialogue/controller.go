// Package dialogue drives the chat conversation: it classifies inbound events,
// looks up the transition for the user's current state and sends exactly one
// reply per event.
package dialogue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/dailyreport-bot/internal/messaging"
	"github.com/kjstillabower/dailyreport-bot/internal/models"
	"github.com/kjstillabower/dailyreport-bot/internal/observability"
	"github.com/kjstillabower/dailyreport-bot/internal/state"
)

// DefaultCoordinateTimezone is used for shared locations; coordinates are not
// mapped to a timezone.
const DefaultCoordinateTimezone = "Asia/Tokyo"

// StateStore is the conversation store the controller reads and mutates.
type StateStore interface {
	Get(userID string) (state.State, bool)
	Set(userID string, flow state.Flow)
	Merge(userID string, flow state.Flow)
	Clear(userID string)
}

// PlaceResolver turns free text into a place. ok is false for any miss,
// including upstream failures.
type PlaceResolver interface {
	Resolve(ctx context.Context, query string) (models.ResolvedPlace, bool)
}

// WeatherProvider returns the forecast window for coordinates in a timezone.
type WeatherProvider interface {
	GetForecastWindow(ctx context.Context, lat, lon float64, tz string) (models.ForecastWindow, error)
}

// TimezoneCalculator renders offsets and local times. It never fails; bad
// zones produce placeholder labels.
type TimezoneCalculator interface {
	OffsetHoursAndLabel(fromTZ, toTZ string) (int, string)
	LocalTimeLabel(tz string) string
}

// Controller is safe for concurrent use; per-user ordering is not enforced.
type Controller struct {
	store        StateStore
	places       PlaceResolver
	weather      WeatherProvider
	tz           TimezoneCalculator
	notifier     messaging.Notifier
	coordinateTZ string
	replyTimeout time.Duration
	logger       *zap.Logger
}

// NewController wires the collaborators. A nil logger disables logging.
func NewController(store StateStore, places PlaceResolver, weather WeatherProvider, tz TimezoneCalculator, notifier messaging.Notifier, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:        store,
		places:       places,
		weather:      weather,
		tz:           tz,
		notifier:     notifier,
		coordinateTZ: DefaultCoordinateTimezone,
		replyTimeout: messaging.DefaultTimeout,
		logger:       logger,
	}
}

// WithCoordinateTimezone overrides the timezone used for shared locations.
func (c *Controller) WithCoordinateTimezone(tz string) *Controller {
	if tz != "" {
		c.coordinateTZ = tz
	}
	return c
}

// WithReplyTimeout bounds each reply send.
func (c *Controller) WithReplyTimeout(d time.Duration) *Controller {
	if d > 0 {
		c.replyTimeout = d
	}
	return c
}

// Handle runs one event through the transition table and sends its reply. The
// returned error is the send failure, if any; state changes are kept either way.
func (c *Controller) Handle(ctx context.Context, ev Event) error {
	st, _ := c.store.Get(ev.UserID)
	from := st.ID()
	act := lookup(from, ev.Kind)
	observability.DialogueTransitionsTotal.WithLabelValues(string(from), ev.Kind.String()).Inc()

	msg := act(ctx, c, ev, st)

	logger := observability.LoggerFromContext(ctx, c.logger)
	logger.Debug("dialogue transition",
		zap.String("user_id", ev.UserID),
		zap.String("from", string(from)),
		zap.String("input", ev.Kind.String()))

	// The reply must go out even when upstream lookups used up ctx.
	sendCtx, cancel := messaging.SendContext(ctx, c.replyTimeout)
	defer cancel()
	if err := c.notifier.Reply(sendCtx, ev.ReplyToken, msg); err != nil {
		return fmt.Errorf("reply to %s: %w", ev.UserID, err)
	}
	return nil
}
