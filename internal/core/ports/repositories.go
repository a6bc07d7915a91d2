package ports

import (
	"context"

	"github.com/samirrijal/wayline/internal/core/domain"
)

// RoadRepository reads road geometry from the spatial store.
type RoadRepository interface {
	// ListRoads returns at most limit lines carrying a highway tag, with
	// geometry already serialised to GeoJSON by the store.
	ListRoads(ctx context.Context, limit int) ([]domain.RoadFeature, error)
}

// AddressRepository reads the local address table.
type AddressRepository interface {
	// NearestAddress returns the address closest to p. When box is non-nil
	// only rows inside it are considered. Returns domain.ErrNotFound when no
	// row qualifies.
	NearestAddress(ctx context.Context, p domain.GeoPoint, box *domain.BBox) (*domain.Address, error)

	// FindByAddress returns the row whose address matches exactly, or
	// domain.ErrNotFound.
	FindByAddress(ctx context.Context, address string) (*domain.Address, error)
}
