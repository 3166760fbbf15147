package geocode

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/dailyreport-bot/internal/client"
	"github.com/kjstillabower/dailyreport-bot/internal/validation"
)

type mockSearcher struct {
	results  []client.GeocodeResult
	err      error
	calls    int
	gotName  string
	gotCount int
	gotLang  string
}

func (m *mockSearcher) Search(ctx context.Context, name string, count int, language string) ([]client.GeocodeResult, error) {
	m.calls++
	m.gotName, m.gotCount, m.gotLang = name, count, language
	return m.results, m.err
}

var glasgow = client.GeocodeResult{
	Name:      "グラスゴー",
	Latitude:  55.86515,
	Longitude: -4.25763,
	Timezone:  "Europe/London",
	Country:   "イギリス",
	Admin1:    "スコットランド",
}

func TestResolver_Resolve_Found(t *testing.T) {
	s := &mockSearcher{results: []client.GeocodeResult{glasgow, {Name: "Glasgow", Timezone: "America/Chicago"}}}
	r := NewResolver(s, "", nil)

	place, ok := r.Resolve(context.Background(), "  Glasgow ")
	require.True(t, ok)
	assert.Equal(t, "グラスゴー", place.Name)
	assert.Equal(t, "Europe/London", place.Timezone)
	assert.Equal(t, "グラスゴー, スコットランド, イギリス", place.DisplayName)
	assert.InDelta(t, 55.86515, place.Latitude, 1e-9)

	assert.Equal(t, "Glasgow", s.gotName)
	assert.Equal(t, 1, s.gotCount)
	assert.Equal(t, DefaultLanguage, s.gotLang)
}

func TestResolver_Resolve_ShortQueryNoNetwork(t *testing.T) {
	s := &mockSearcher{results: []client.GeocodeResult{glasgow}}
	r := NewResolver(s, "ja", nil)

	for _, q := range []string{"", " ", "x", " 京 "} {
		_, ok := r.Resolve(context.Background(), q)
		assert.False(t, ok, "query %q", q)
	}
	assert.Equal(t, 0, s.calls)
}

func TestResolver_Resolve_NotFound(t *testing.T) {
	r := NewResolver(&mockSearcher{}, "ja", nil)
	_, ok := r.Resolve(context.Background(), "xyzzy123")
	assert.False(t, ok)
}

func TestResolver_Resolve_UpstreamErrorIsAbsentAndLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := NewResolver(&mockSearcher{err: client.ErrUpstreamFailure}, "ja", zap.New(core))

	_, ok := r.Resolve(context.Background(), "Berlin")
	assert.False(t, ok)

	entries := logs.FilterMessage("place search failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "upstream_5xx", entries[0].ContextMap()["category"])
}

func TestResolver_Search(t *testing.T) {
	s := &mockSearcher{results: []client.GeocodeResult{glasgow, {Name: "Glasgow", Admin1: "Kentucky", Country: "United States", Timezone: "America/Chicago"}}}
	r := NewResolver(s, "en", nil)

	places, err := r.Search(context.Background(), "Glasgow", 5)
	require.NoError(t, err)
	require.Len(t, places, 2)
	assert.Equal(t, "Glasgow, Kentucky, United States", places[1].DisplayName)
	assert.Equal(t, 5, s.gotCount)
	assert.Equal(t, "en", s.gotLang)

	_, err = r.Search(context.Background(), "x", 5)
	assert.True(t, errors.Is(err, validation.ErrPlaceQueryTooShort))
}
