package dialogue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/dailyreport-bot/internal/messaging"
	"github.com/kjstillabower/dailyreport-bot/internal/observability"
	"github.com/kjstillabower/dailyreport-bot/internal/state"
)

// StateAny matches every state in the transition table.
const StateAny state.StateID = "*"

// action performs at most one state mutation and returns the reply.
type action func(ctx context.Context, c *Controller, ev Event, st state.State) messaging.Message

type transitionKey struct {
	state state.StateID
	input InputKind
}

// transitions lists every handled (state, input) pair. Exact rows win over
// StateAny rows; anything unlisted shows the menu.
var transitions = map[transitionKey]action{
	{StateAny, InputMenu}:                            showMenu,
	{StateAny, InputSelectTimezone}:                  startTimezone,
	{StateAny, InputSelectWeather}:                   startWeather,
	{StateAny, InputUnknownPostback}:                 showMenu,
	{state.StateTZAwaitFrom, InputText}:              timezoneFrom,
	{state.StateTZAwaitTo, InputText}:                timezoneTo,
	{state.StateWeatherAwaitLocation, InputText}:     weatherByPlace,
	{state.StateWeatherAwaitLocation, InputLocation}: weatherByCoordinates,
}

func lookup(id state.StateID, kind InputKind) action {
	if act, ok := transitions[transitionKey{id, kind}]; ok {
		return act
	}
	if act, ok := transitions[transitionKey{StateAny, kind}]; ok {
		return act
	}
	return showMenu
}

func showMenu(ctx context.Context, c *Controller, ev Event, st state.State) messaging.Message {
	c.store.Clear(ev.UserID)
	return menuMessage()
}

func startTimezone(ctx context.Context, c *Controller, ev Event, st state.State) messaging.Message {
	c.store.Set(ev.UserID, state.TimezoneFlow{Step: state.StepTZFrom})
	return messaging.TextMessage(timezonePrompt)
}

func startWeather(ctx context.Context, c *Controller, ev Event, st state.State) messaging.Message {
	c.store.Set(ev.UserID, state.WeatherFlow{})
	return messaging.TextMessage(weatherPrompt)
}

// timezoneFrom leaves state untouched on a miss so the user can retry.
func timezoneFrom(ctx context.Context, c *Controller, ev Event, st state.State) messaging.Message {
	place, ok := c.places.Resolve(ctx, ev.Text)
	if !ok {
		return notFoundMessage(ev.Text, retryFooterTimezone)
	}
	c.store.Merge(ev.UserID, state.TimezoneFlow{Step: state.StepTZTo, From: &place})
	return fromConfirmedMessage(place)
}

func timezoneTo(ctx context.Context, c *Controller, ev Event, st state.State) messaging.Message {
	flow, ok := st.Flow.(state.TimezoneFlow)
	if !ok || flow.From == nil {
		return showMenu(ctx, c, ev, st)
	}
	place, ok := c.places.Resolve(ctx, ev.Text)
	if !ok {
		return notFoundMessage(ev.Text, retryFooterTimezone)
	}
	from := *flow.From
	_, diff := c.tz.OffsetHoursAndLabel(from.Timezone, place.Timezone)
	msg := timezoneResultMessage(from, place, c.tz.LocalTimeLabel(from.Timezone), c.tz.LocalTimeLabel(place.Timezone), diff)
	c.store.Clear(ev.UserID)
	return msg
}

func weatherByPlace(ctx context.Context, c *Controller, ev Event, st state.State) messaging.Message {
	place, ok := c.places.Resolve(ctx, ev.Text)
	if !ok {
		return notFoundMessage(ev.Text, retryFooterWeather)
	}
	// The conversation ends here whether or not the forecast arrives.
	c.store.Clear(ev.UserID)
	w, err := c.weather.GetForecastWindow(ctx, place.Latitude, place.Longitude, place.Timezone)
	if err != nil {
		observability.LoggerFromContext(ctx, c.logger).Warn("forecast unavailable",
			zap.String("place", place.DisplayName), zap.Error(err))
		return weatherFailedMessage(err)
	}
	return weatherMessage(w, place.DisplayName)
}

func weatherByCoordinates(ctx context.Context, c *Controller, ev Event, st state.State) messaging.Message {
	c.store.Clear(ev.UserID)
	w, err := c.weather.GetForecastWindow(ctx, ev.Latitude, ev.Longitude, c.coordinateTZ)
	if err != nil {
		observability.LoggerFromContext(ctx, c.logger).Warn("forecast unavailable",
			zap.Float64("latitude", ev.Latitude), zap.Float64("longitude", ev.Longitude), zap.Error(err))
		return weatherFailedMessage(err)
	}
	return weatherMessage(w, "位置情報", fmt.Sprintf("緯度: %.4f, 経度: %.4f", ev.Latitude, ev.Longitude))
}
