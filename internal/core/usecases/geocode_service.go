package usecases

import (
	"context"
	"fmt"
	"time"

	"github.com/samirrijal/wayline/internal/core/domain"
	"github.com/samirrijal/wayline/internal/core/ports"
)

// GeocodeService performs forward and reverse geocoding for single best matches.
type GeocodeService struct {
	geocoder ports.Geocoder
	apiKey   string
	events   ports.EventPublisher
}

// NewGeocodeService creates a new GeocodeService. An empty apiKey is accepted
// here and reported on every lookup instead.
func NewGeocodeService(geocoder ports.Geocoder, apiKey string, events ports.EventPublisher) *GeocodeService {
	return &GeocodeService{geocoder: geocoder, apiKey: apiKey, events: events}
}

// Geocode resolves free text to the first ranked match.
func (s *GeocodeService) Geocode(ctx context.Context, query string) (*domain.GeocodeResult, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: q is required", domain.ErrMissingParameter)
	}
	return s.lookup(ctx, domain.LookupGeocode, query)
}

// ReverseGeocode resolves a latitude/longitude pair to the first ranked match.
// The components are passed to the geocoder as text, space joined.
func (s *GeocodeService) ReverseGeocode(ctx context.Context, lat, lng string) (*domain.GeocodeResult, error) {
	if lat == "" || lng == "" {
		return nil, fmt.Errorf("%w: lat and lng are required", domain.ErrMissingParameter)
	}
	return s.lookup(ctx, domain.LookupReverseGeocode, lat+" "+lng)
}

func (s *GeocodeService) lookup(ctx context.Context, kind, text string) (*domain.GeocodeResult, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("%w: geocoding api key is not set", domain.ErrServerMisconfigured)
	}

	start := time.Now()
	results, err := s.geocoder.Geocode(ctx, domain.GeocodeQuery{
		Text:   text,
		APIKey: s.apiKey,
		Limit:  1,
	})
	if err != nil {
		err = asDownstream(err)
	} else if len(results) == 0 {
		err = fmt.Errorf("%w: no match for %q", domain.ErrNotFound, text)
	}
	publishLookup(ctx, s.events, kind, outcomeOf(err), start, len(results))
	if err != nil {
		return nil, err
	}

	first := results[0]
	return &first, nil
}
