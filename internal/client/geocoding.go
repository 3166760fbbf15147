package client

import (
	"context"
	"net/url"
	"strconv"
)

// GeocodeResult is one candidate returned by the geocoding search.
type GeocodeResult struct {
	Name        string  `json:"name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timezone    string  `json:"timezone"`
	Country     string  `json:"country"`
	CountryCode string  `json:"country_code"`
	Admin1      string  `json:"admin1"`
}

type geocodeResponse struct {
	Results []GeocodeResult `json:"results"`
}

// GeocodingClient searches places by name or postal code on the Open-Meteo
// geocoding endpoint.
type GeocodingClient struct {
	baseURL string
	fetcher *Fetcher
}

// NewGeocodingClient creates a client for the search endpoint at baseURL.
func NewGeocodingClient(baseURL string, fetcher *Fetcher) *GeocodingClient {
	return &GeocodingClient{baseURL: baseURL, fetcher: fetcher}
}

// Search returns up to count candidates (clamped to 1..100) in the given
// language. A response without results yields an empty slice and no error.
// Candidates missing a timezone get "UTC".
func (c *GeocodingClient) Search(ctx context.Context, name string, count int, language string) ([]GeocodeResult, error) {
	if count < 1 {
		count = 1
	}
	if count > 100 {
		count = 100
	}
	params := url.Values{}
	params.Set("name", name)
	params.Set("count", strconv.Itoa(count))
	params.Set("language", language)

	var resp geocodeResponse
	if err := c.fetcher.GetJSON(ctx, c.baseURL, params, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Results {
		if resp.Results[i].Timezone == "" {
			resp.Results[i].Timezone = "UTC"
		}
	}
	return resp.Results, nil
}
