// Package tz computes offsets between IANA timezones and formats local times.
// Nothing here returns an error: unresolvable zones yield fixed labels.
package tz

import (
	"fmt"
	"time"

	"github.com/kjstillabower/dailyreport-bot/internal/forecast"
)

const (
	LabelNoDifference = "時差なし"
	LabelUnresolvable = "タイムゾーンが取得できませんでした"
	LabelNoLocalTime  = "—"
	LabelNoCurrent    = "時刻を取得できませんでした"
)

// Calculator reads the current instant from an injectable clock.
type Calculator struct {
	now func() time.Time
}

// NewCalculator creates a Calculator on the wall clock.
func NewCalculator() *Calculator {
	return &Calculator{now: time.Now}
}

// WithClock replaces the clock.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// OffsetHoursAndLabel returns the current UTC offset of toTZ minus that of
// fromTZ, truncated to whole hours, with a display label.
func (c *Calculator) OffsetHoursAndLabel(fromTZ, toTZ string) (int, string) {
	from, err := time.LoadLocation(fromTZ)
	if err != nil {
		return 0, LabelUnresolvable
	}
	to, err := time.LoadLocation(toTZ)
	if err != nil {
		return 0, LabelUnresolvable
	}
	now := c.now()
	_, fromOffset := now.In(from).Zone()
	_, toOffset := now.In(to).Zone()
	hours := (toOffset - fromOffset) / 3600

	switch {
	case hours == 0:
		return 0, LabelNoDifference
	case hours > 0:
		return hours, fmt.Sprintf("+%d時間", hours)
	default:
		return hours, fmt.Sprintf("%d時間", hours)
	}
}

// LocalTimeLabel formats the current time at tz as "2026年10月15日 (木) 21:05".
func (c *Calculator) LocalTimeLabel(tz string) string {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return LabelNoLocalTime
	}
	t := c.now().In(loc)
	return fmt.Sprintf("%d年%d月%d日 (%s) %02d:%02d",
		t.Year(), int(t.Month()), t.Day(), forecast.WeekdayLabel(t.Weekday()), t.Hour(), t.Minute())
}

// CurrentTime formats the current time at tz as "2026-10-15 21:05:00 JST".
func (c *Calculator) CurrentTime(tz string) string {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return LabelNoCurrent
	}
	return c.now().In(loc).Format("2006-01-02 15:04:05 MST")
}
