package ports

import (
	"context"
	"encoding/json"

	"github.com/samirrijal/wayline/internal/core/domain"
)

// RoutingEngine computes driving routes.
type RoutingEngine interface {
	// Route returns the GeoJSON geometry of the first candidate route.
	Route(ctx context.Context, from, to domain.LonLat) (json.RawMessage, error)
}

// Geocoder resolves free text to ranked places.
type Geocoder interface {
	Geocode(ctx context.Context, q domain.GeocodeQuery) ([]domain.GeocodeResult, error)
}

// EventPublisher publishes lookup events to a message broker.
type EventPublisher interface {
	PublishLookup(ctx context.Context, event domain.LookupEvent) error
}
