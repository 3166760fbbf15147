package models

// ForecastSlot is one forecast entry for a specific local hour.
type ForecastSlot struct {
	Time                     string  `json:"time"`     // HH:MM local
	DateTime                 string  `json:"datetime"` // RFC3339 with local offset
	Temperature              float64 `json:"temperature"`
	PrecipitationProbability *int    `json:"precipitationProbability,omitempty"`
	WeatherCode              int     `json:"weatherCode"`
	WeatherLabel             string  `json:"weatherLabel"`
	Icon                     string  `json:"icon"`
}

// ForecastWindow is the daytime block shown for a place: the slots found on the
// target date plus the labels used to present them.
type ForecastWindow struct {
	Forecasts   []ForecastSlot `json:"forecasts"`
	DateLabel   string         `json:"dateLabel"`
	HeaderLabel string         `json:"headerLabel"`
	TargetDate  string         `json:"targetDate"` // YYYY-MM-DD
}
