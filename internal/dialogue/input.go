package dialogue

import (
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/kjstillabower/dailyreport-bot/internal/messaging"
)

// InputKind classifies an inbound event for the transition table.
type InputKind int

const (
	InputText InputKind = iota
	InputLocation
	InputMenu
	InputSelectTimezone
	InputSelectWeather
	InputUnknownPostback
)

func (k InputKind) String() string {
	switch k {
	case InputText:
		return "text"
	case InputLocation:
		return "location"
	case InputMenu:
		return "menu"
	case InputSelectTimezone:
		return "select_timezone"
	case InputSelectWeather:
		return "select_weather"
	case InputUnknownPostback:
		return "unknown_postback"
	default:
		return "invalid"
	}
}

// Postback payloads offered by the menu.
const (
	PostbackTimezone = "mode=tz"
	PostbackWeather  = "mode=weather"
)

var menuTokens = map[string]bool{
	"メニュー": true,
	"menu": true,
	"help": true,
	"ヘルプ":  true,
}

var folder = cases.Fold()

// Event is one classified inbound event.
type Event struct {
	UserID     string
	ReplyToken string
	Kind       InputKind
	// Text is the user's text with surrounding space removed, NFKC-normalised.
	Text      string
	Latitude  float64
	Longitude float64
}

// NormalizeText applies NFKC and trims space, so full-width and half-width
// forms of the same input compare equal.
func NormalizeText(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

// IsMenuToken reports whether text asks for the menu.
func IsMenuToken(text string) bool {
	return menuTokens[folder.String(NormalizeText(text))]
}

// ClassifyPostback maps postback data ("mode=tz") to an input kind.
func ClassifyPostback(data string) InputKind {
	values, err := url.ParseQuery(data)
	if err != nil {
		return InputUnknownPostback
	}
	switch values.Get("mode") {
	case "tz":
		return InputSelectTimezone
	case "weather":
		return InputSelectWeather
	default:
		return InputUnknownPostback
	}
}

// FromWebhook converts a webhook event. ok is false for events the bot does not
// answer: no user or reply token, unsupported event or message types.
func FromWebhook(e messaging.Event) (Event, bool) {
	if e.Source.UserID == "" || e.ReplyToken == "" {
		return Event{}, false
	}
	ev := Event{UserID: e.Source.UserID, ReplyToken: e.ReplyToken}
	switch e.Type {
	case "message":
		if e.Message == nil {
			return Event{}, false
		}
		switch e.Message.Type {
		case "text":
			ev.Text = NormalizeText(e.Message.Text)
			ev.Kind = InputText
			if IsMenuToken(ev.Text) {
				ev.Kind = InputMenu
			}
			return ev, true
		case "location":
			lat, lon, ok := e.Message.Coordinates()
			if !ok {
				return Event{}, false
			}
			ev.Kind = InputLocation
			ev.Latitude, ev.Longitude = lat, lon
			return ev, true
		}
	case "postback":
		data := ""
		if e.Postback != nil {
			data = e.Postback.Data
		}
		ev.Kind = ClassifyPostback(data)
		return ev, true
	}
	return Event{}, false
}
