package forecast

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kjstillabower/dailyreport-bot/internal/client"
	"github.com/kjstillabower/dailyreport-bot/internal/models"
)

// MorningCutoffHour splits the day: before it the current day is still
// reported, from it onwards the next day is.
const MorningCutoffHour = 8

const (
	HeaderToday    = "翌日（本日）"
	HeaderTomorrow = "翌日"
)

// TargetHours are the local hours shown in a forecast window.
var TargetHours = []int{9, 12, 15, 18, 21}

var weekdays = [...]string{"月", "火", "水", "木", "金", "土", "日"}

// WeekdayLabel returns the single-character weekday with Monday first.
func WeekdayLabel(d time.Weekday) string {
	return weekdays[(int(d)+6)%7]
}

// TargetDate picks the date to report for a location whose local time is now.
// now must already be in the location's timezone.
func TargetDate(now time.Time) (time.Time, string) {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	if now.Hour() < MorningCutoffHour {
		return today, HeaderToday
	}
	return today.AddDate(0, 0, 1), HeaderTomorrow
}

// DateLabel formats a date as "2026年10月16日(金)".
func DateLabel(date time.Time) string {
	return fmt.Sprintf("%d年%d月%d日(%s)", date.Year(), int(date.Month()), date.Day(), WeekdayLabel(date.Weekday()))
}

// Window builds the forecast window for date from hourly data. Hours without a
// matching timestamp are left out.
func Window(hourly client.HourlyForecast, date time.Time, header string, loc *time.Location) models.ForecastWindow {
	day := date.Format("2006-01-02")
	slots := make([]models.ForecastSlot, 0, len(TargetHours))
	for _, h := range TargetHours {
		idx := findHour(hourly.Time, day, h)
		if idx < 0 {
			continue
		}
		slot, ok := Slot(hourly, idx, loc)
		if !ok {
			continue
		}
		slots = append(slots, slot)
	}
	return models.ForecastWindow{
		Forecasts:   slots,
		DateLabel:   DateLabel(date),
		HeaderLabel: header,
		TargetDate:  day,
	}
}

// Morning returns the slot at hour on date, or the first slot of that date when
// the exact hour is missing. ok is false when date has no data at all.
func Morning(hourly client.HourlyForecast, date time.Time, hour int, loc *time.Location) (models.ForecastSlot, bool) {
	day := date.Format("2006-01-02")
	want := fmt.Sprintf("%sT%02d:00", day, hour)
	idx := -1
	for i, ts := range hourly.Time {
		if ts == want {
			idx = i
			break
		}
	}
	if idx < 0 {
		for i, ts := range hourly.Time {
			if strings.HasPrefix(ts, day) {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return models.ForecastSlot{}, false
	}
	return Slot(hourly, idx, loc)
}

// findHour returns the index of "<day>T<hh>:00", falling back to the first
// timestamp on day that ends in "<hh>:00". It returns -1 when neither exists.
func findHour(times []string, day string, hour int) int {
	exact := fmt.Sprintf("%sT%02d:00", day, hour)
	for i, ts := range times {
		if ts == exact {
			return i
		}
	}
	suffix := fmt.Sprintf("%02d:00", hour)
	for i, ts := range times {
		if strings.HasPrefix(ts, day) && strings.HasSuffix(ts, suffix) {
			return i
		}
	}
	return -1
}

// Slot converts the hourly entry at idx. Timestamps without an offset are read
// as local time in loc.
func Slot(hourly client.HourlyForecast, idx int, loc *time.Location) (models.ForecastSlot, bool) {
	if idx < 0 || idx >= len(hourly.Time) || idx >= len(hourly.Temperature) || idx >= len(hourly.WeatherCode) {
		return models.ForecastSlot{}, false
	}
	at, err := parseLocal(hourly.Time[idx], loc)
	if err != nil {
		return models.ForecastSlot{}, false
	}
	code := hourly.WeatherCode[idx]
	slot := models.ForecastSlot{
		Time:         at.Format("15:04"),
		DateTime:     at.Format(time.RFC3339),
		Temperature:  hourly.Temperature[idx],
		WeatherCode:  code,
		WeatherLabel: Label(code),
		Icon:         Icon(code),
	}
	if idx < len(hourly.PrecipitationProbability) && hourly.PrecipitationProbability[idx] != nil {
		p := int(math.Round(*hourly.PrecipitationProbability[idx]))
		slot.PrecipitationProbability = &p
	}
	return slot, true
}

func parseLocal(ts string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02T15:04", ts, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}
