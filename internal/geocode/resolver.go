// Package geocode resolves free-text place names and postal codes to
// coordinates and an IANA timezone.
package geocode

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/dailyreport-bot/internal/client"
	"github.com/kjstillabower/dailyreport-bot/internal/models"
	"github.com/kjstillabower/dailyreport-bot/internal/observability"
	"github.com/kjstillabower/dailyreport-bot/internal/validation"
)

// DefaultLanguage is the language place names are returned in.
const DefaultLanguage = "ja"

// Searcher is the geocoding upstream.
type Searcher interface {
	Search(ctx context.Context, name string, count int, language string) ([]client.GeocodeResult, error)
}

// Resolver turns user input into a ResolvedPlace.
type Resolver struct {
	searcher Searcher
	language string
	logger   *zap.Logger
}

// NewResolver creates a Resolver. An empty language uses DefaultLanguage.
func NewResolver(searcher Searcher, language string, logger *zap.Logger) *Resolver {
	if language == "" {
		language = DefaultLanguage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{searcher: searcher, language: language, logger: logger}
}

// Resolve returns the first candidate for query. Queries shorter than two runes
// are rejected without a network call. Any upstream failure reads as "not
// found"; the cause is logged and counted.
func (r *Resolver) Resolve(ctx context.Context, query string) (models.ResolvedPlace, bool) {
	places, err := r.Search(ctx, query, 1)
	if err != nil || len(places) == 0 {
		return models.ResolvedPlace{}, false
	}
	return places[0], true
}

// Search returns up to count candidates (clamped to 1..100). Invalid queries
// and upstream failures return an error; no matches return an empty slice.
func (r *Resolver) Search(ctx context.Context, query string, count int) ([]models.ResolvedPlace, error) {
	logger := observability.LoggerFromContext(ctx, r.logger)

	q, err := validation.ValidatePlaceQuery(query, validation.MinPlaceQueryLen, validation.MaxPlaceQueryLen)
	if err != nil {
		observability.PlaceResolutionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	results, err := r.searcher.Search(ctx, q, count, r.language)
	if err != nil {
		observability.PlaceResolutionsTotal.WithLabelValues("error").Inc()
		logger.Warn("place search failed",
			zap.String("query", q),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err))
		return nil, fmt.Errorf("search %q: %w", q, err)
	}
	if len(results) == 0 {
		observability.PlaceResolutionsTotal.WithLabelValues("not_found").Inc()
		logger.Debug("place not found", zap.String("query", q))
		return nil, nil
	}

	observability.PlaceResolutionsTotal.WithLabelValues("found").Inc()
	places := make([]models.ResolvedPlace, 0, len(results))
	for _, res := range results {
		places = append(places, models.ResolvedPlace{
			Name:        res.Name,
			Latitude:    res.Latitude,
			Longitude:   res.Longitude,
			Timezone:    res.Timezone,
			DisplayName: models.DisplayName(res.Name, res.Admin1, res.Country),
		})
	}
	return places, nil
}
