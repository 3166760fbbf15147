// Package state keeps per-user conversation state in memory with an idle
// timeout and an absolute lifetime.
package state

import (
	"time"

	"github.com/kjstillabower/dailyreport-bot/internal/models"
)

// StateID enumerates where a user is in the dialogue.
type StateID string

const (
	StateNone                 StateID = "none"
	StateTZAwaitFrom          StateID = "tz_await_from"
	StateTZAwaitTo            StateID = "tz_await_to"
	StateWeatherAwaitLocation StateID = "weather_await_location"
)

// TZStep is the step within the timezone flow.
type TZStep int

const (
	StepTZFrom TZStep = iota
	StepTZTo
)

// Flow is the mode-specific payload of a conversation. Implemented by
// TimezoneFlow and WeatherFlow only.
type Flow interface {
	id() StateID
}

// TimezoneFlow collects two places to compare.
type TimezoneFlow struct {
	Step TZStep
	From *models.ResolvedPlace
	To   *models.ResolvedPlace
}

func (f TimezoneFlow) id() StateID {
	if f.Step == StepTZTo {
		return StateTZAwaitTo
	}
	return StateTZAwaitFrom
}

// WeatherFlow waits for a place or coordinates.
type WeatherFlow struct {
	Location *models.ResolvedPlace
}

func (WeatherFlow) id() StateID { return StateWeatherAwaitLocation }

// State is one user's conversation. A nil Flow is the same as no state.
type State struct {
	Flow      Flow
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ID returns the enumerated state.
func (s State) ID() StateID {
	if s.Flow == nil {
		return StateNone
	}
	return s.Flow.id()
}
