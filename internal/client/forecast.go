package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// HourlyForecast holds the parallel hourly arrays returned by the forecast API.
// Times are local to the requested timezone, formatted "2006-01-02T15:04".
type HourlyForecast struct {
	Time                     []string   `json:"time"`
	Temperature              []float64  `json:"temperature_2m"`
	PrecipitationProbability []*float64 `json:"precipitation_probability"`
	WeatherCode              []int      `json:"weathercode"`
}

type forecastResponse struct {
	Hourly *HourlyForecast `json:"hourly"`
}

// ForecastClient reads hourly forecasts from the Open-Meteo forecast endpoint.
type ForecastClient struct {
	baseURL string
	fetcher *Fetcher
}

// NewForecastClient creates a client for the hourly forecast endpoint at baseURL.
func NewForecastClient(baseURL string, fetcher *Fetcher) *ForecastClient {
	return &ForecastClient{baseURL: baseURL, fetcher: fetcher}
}

// Hourly fetches temperature, precipitation probability and weather code for
// days days starting today, with timestamps in timezone tz.
func (c *ForecastClient) Hourly(ctx context.Context, lat, lon float64, tz string, days int) (HourlyForecast, error) {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("hourly", "temperature_2m,precipitation_probability,weathercode")
	params.Set("timezone", tz)
	params.Set("forecast_days", strconv.Itoa(days))

	var resp forecastResponse
	if err := c.fetcher.GetJSON(ctx, c.baseURL, params, &resp); err != nil {
		return HourlyForecast{}, err
	}
	if resp.Hourly == nil {
		return HourlyForecast{}, fmt.Errorf("forecast: decode response: missing hourly block")
	}
	h := *resp.Hourly
	if len(h.Temperature) < len(h.Time) || len(h.WeatherCode) < len(h.Time) {
		return HourlyForecast{}, fmt.Errorf("forecast: decode response: hourly arrays shorter than time (%d)", len(h.Time))
	}
	return h, nil
}
