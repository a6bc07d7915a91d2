package usecases_test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/samirrijal/wayline/internal/core/domain"
)

// --- Mock RoutingEngine ---

type mockEngine struct {
	routeFn func(ctx context.Context, from, to domain.LonLat) (json.RawMessage, error)
	calls   int
}

func (m *mockEngine) Route(ctx context.Context, from, to domain.LonLat) (json.RawMessage, error) {
	m.calls++
	if m.routeFn != nil {
		return m.routeFn(ctx, from, to)
	}
	return nil, nil
}

// --- Mock Geocoder ---

type mockGeocoder struct {
	geocodeFn func(ctx context.Context, q domain.GeocodeQuery) ([]domain.GeocodeResult, error)
	calls     int
}

func (m *mockGeocoder) Geocode(ctx context.Context, q domain.GeocodeQuery) ([]domain.GeocodeResult, error) {
	m.calls++
	if m.geocodeFn != nil {
		return m.geocodeFn(ctx, q)
	}
	return nil, nil
}

// --- Mock RoadRepository ---

type mockRoadRepo struct {
	listRoadsFn func(ctx context.Context, limit int) ([]domain.RoadFeature, error)
}

func (m *mockRoadRepo) ListRoads(ctx context.Context, limit int) ([]domain.RoadFeature, error) {
	if m.listRoadsFn != nil {
		return m.listRoadsFn(ctx, limit)
	}
	return nil, nil
}

// --- Mock EventPublisher ---

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.LookupEvent
	err    error
}

func (m *mockPublisher) PublishLookup(ctx context.Context, event domain.LookupEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.err
}

// --- Mock AddressRepository ---

type mockAddressRepo struct {
	nearestFn func(ctx context.Context, p domain.GeoPoint, box *domain.BBox) (*domain.Address, error)
	findFn    func(ctx context.Context, address string) (*domain.Address, error)
	boxes     []*domain.BBox
}

func (m *mockAddressRepo) NearestAddress(ctx context.Context, p domain.GeoPoint, box *domain.BBox) (*domain.Address, error) {
	m.boxes = append(m.boxes, box)
	if m.nearestFn != nil {
		return m.nearestFn(ctx, p, box)
	}
	return nil, domain.ErrNotFound
}

func (m *mockAddressRepo) FindByAddress(ctx context.Context, address string) (*domain.Address, error) {
	if m.findFn != nil {
		return m.findFn(ctx, address)
	}
	return nil, domain.ErrNotFound
}
