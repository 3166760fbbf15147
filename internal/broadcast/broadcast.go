// Package broadcast builds and sends the evening daily-report reminder, with
// tomorrow morning's weather for a fixed set of cities.
package broadcast

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/dailyreport-bot/internal/forecast"
	"github.com/kjstillabower/dailyreport-bot/internal/messaging"
	"github.com/kjstillabower/dailyreport-bot/internal/models"
	"github.com/kjstillabower/dailyreport-bot/internal/observability"
)

const (
	DefaultTimezone = "Asia/Tokyo"
	DefaultHour     = 7

	failedIcon  = "❓"
	failedLabel = "取得失敗"
)

// MorningForecaster returns tomorrow's forecast at a local hour.
type MorningForecaster interface {
	GetMorningForecast(ctx context.Context, lat, lon float64, tz string, hour int) (models.ForecastSlot, error)
}

// Sender delivers the reminder. messaging.Client implements it.
type Sender interface {
	Push(ctx context.Context, to string, msgs ...messaging.Message) error
	Broadcast(ctx context.Context, msgs ...messaging.Message) error
}

type City struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// Options configures one Job.
type Options struct {
	Cities   []City
	Timezone string
	Hour     int
	// IncludeWeather false sends the plain reminder without fetching forecasts.
	IncludeWeather bool
	// TestMode pushes to TestUserID instead of broadcasting to every follower.
	TestMode   bool
	TestUserID string
	// SendTimeout bounds the final send, which runs even when the forecast
	// fetches used up the run's context. Defaults to messaging.DefaultTimeout.
	SendTimeout time.Duration
}

// CityForecast is one city's line in the weather section. OK is false when the
// fetch failed; Slot then holds placeholder values.
type CityForecast struct {
	Name string
	Slot models.ForecastSlot
	OK   bool
}

// Job builds and sends the reminder. Safe to Run repeatedly.
type Job struct {
	forecaster MorningForecaster
	sender     Sender
	opts       Options
	loc        *time.Location
	now        func() time.Time
	logger     *zap.Logger
}

// NewJob validates opts and resolves the timezone.
func NewJob(forecaster MorningForecaster, sender Sender, opts Options, logger *zap.Logger) (*Job, error) {
	if opts.Timezone == "" {
		opts.Timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(opts.Timezone)
	if err != nil {
		return nil, fmt.Errorf("broadcast timezone %q: %w", opts.Timezone, err)
	}
	if opts.Hour < 0 || opts.Hour > 23 {
		return nil, fmt.Errorf("broadcast hour %d out of range", opts.Hour)
	}
	if opts.TestMode && opts.TestUserID == "" {
		return nil, fmt.Errorf("test mode requires a test user ID")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		forecaster: forecaster,
		sender:     sender,
		opts:       opts,
		loc:        loc,
		now:        time.Now,
		logger:     logger,
	}, nil
}

// WithClock replaces the clock. For tests.
func (j *Job) WithClock(now func() time.Time) *Job {
	j.now = now
	return j
}

// Forecasts fetches every city concurrently. A failed city is logged and
// rendered as unavailable; it never fails the others. Results keep the order
// of Options.Cities.
func (j *Job) Forecasts(ctx context.Context) []CityForecast {
	out := make([]CityForecast, len(j.opts.Cities))
	g, gctx := errgroup.WithContext(ctx)
	for i, city := range j.opts.Cities {
		i, city := i, city
		g.Go(func() error {
			slot, err := j.forecaster.GetMorningForecast(gctx, city.Latitude, city.Longitude, j.opts.Timezone, j.opts.Hour)
			if err != nil {
				j.logger.Warn("city forecast failed", zap.String("city", city.Name), zap.Error(err))
				out[i] = CityForecast{
					Name: city.Name,
					Slot: models.ForecastSlot{Icon: failedIcon, WeatherLabel: failedLabel},
				}
				return nil
			}
			out[i] = CityForecast{Name: city.Name, Slot: slot, OK: true}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// FormatForecastBlock renders one paragraph per city.
func FormatForecastBlock(items []CityForecast) string {
	blocks := make([]string, 0, len(items))
	for _, it := range items {
		blocks = append(blocks, fmt.Sprintf("【%s】\n%s %s\n気温: %.1f℃ / 降水確率: %s",
			it.Name, it.Slot.Icon, it.Slot.WeatherLabel, it.Slot.Temperature,
			forecast.Probability(it.Slot.PrecipitationProbability)))
	}
	return strings.Join(blocks, "\n\n")
}

// WeatherSection renders the heading for tomorrow at the target hour and the
// city blocks, or a short apology when every city failed.
func (j *Job) WeatherSection(items []CityForecast) string {
	now := j.now().In(j.loc)
	y, m, d := now.Date()
	tomorrow := time.Date(y, m, d+1, 0, 0, 0, 0, j.loc)
	heading := fmt.Sprintf("🌅 明日（%s）の朝 %02d:00 の天気", tomorrow.Format("2006-01-02"), j.opts.Hour)

	anyOK := false
	for _, it := range items {
		if it.OK {
			anyOK = true
			break
		}
	}
	if !anyOK {
		return heading + "\n\n（天気情報の取得に失敗しました🙏）"
	}
	return heading + "\n\n" + FormatForecastBlock(items)
}

// BuildMessage returns the reminder text. With IncludeWeather it fetches the
// forecasts first.
func (j *Job) BuildMessage(ctx context.Context) (string, []CityForecast) {
	now := j.now().In(j.loc)
	if !j.opts.IncludeWeather {
		return fmt.Sprintf("こんばんは！\n\n%s (日本時間) \n\n✍️ 今日の日報を投稿しましょう！", now.Format("2006-01-02")), nil
	}
	items := j.Forecasts(ctx)
	var b strings.Builder
	b.WriteString("こんばんは！\n\n今日も一日お疲れ様でした🙌\n\n")
	fmt.Fprintf(&b, "%s（日本時間）\n\n", now.Format("2006-01-02 15:04"))
	b.WriteString(j.WeatherSection(items))
	b.WriteString("\n\n✍️ 今日の日報を投稿しましょう！")
	return b.String(), items
}

// Run builds the reminder and sends it: a push to the test user in test mode,
// a broadcast otherwise. Partial weather failures do not fail the run; a send
// failure does.
func (j *Job) Run(ctx context.Context) error {
	start := j.now()
	text, items := j.BuildMessage(ctx)
	msg := messaging.TextMessage(text)

	failed := 0
	for _, it := range items {
		if !it.OK {
			failed++
		}
	}

	sendCtx, cancel := messaging.SendContext(ctx, j.opts.SendTimeout)
	defer cancel()
	var err error
	mode := "broadcast"
	if j.opts.TestMode {
		mode = "push"
		err = j.sender.Push(sendCtx, j.opts.TestUserID, msg)
	} else {
		err = j.sender.Broadcast(sendCtx, msg)
	}
	if err != nil {
		observability.BroadcastRunsTotal.WithLabelValues("send_failed").Inc()
		return fmt.Errorf("send daily report (%s): %w", mode, err)
	}

	result := "success"
	if failed > 0 {
		result = "partial"
	}
	observability.BroadcastRunsTotal.WithLabelValues(result).Inc()
	j.logger.Info("daily report sent",
		zap.String("mode", mode),
		zap.Int("cities", len(items)),
		zap.Int("failed_cities", failed),
		zap.Duration("duration", j.now().Sub(start)))
	return nil
}
