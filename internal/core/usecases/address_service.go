package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samirrijal/wayline/internal/core/domain"
	"github.com/samirrijal/wayline/internal/core/ports"
	"github.com/samirrijal/wayline/internal/pkg/geospatial"
)

// searchRadii are the successively wider boxes tried before a full scan.
var searchRadii = []float64{500, 5_000, 50_000, 500_000}

// AddressService answers lookups against the local address table.
type AddressService struct {
	addresses ports.AddressRepository
	events    ports.EventPublisher
}

// NewAddressService creates a new AddressService. events may be nil.
func NewAddressService(addresses ports.AddressRepository, events ports.EventPublisher) *AddressService {
	return &AddressService{addresses: addresses, events: events}
}

// Nearest returns the known address closest to lat/lon by great-circle
// distance.
func (s *AddressService) Nearest(ctx context.Context, lat, lon string) (*domain.NearestAddress, error) {
	if lat == "" || lon == "" {
		return nil, fmt.Errorf("%w: lat and lon are required", domain.ErrMissingParameter)
	}
	p, err := domain.ParseGeoPoint(lat, lon)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := s.nearest(ctx, p)
	results := 0
	if res != nil {
		results = 1
	}
	publishLookup(ctx, s.events, domain.LookupNearestAddress, outcomeOf(err), start, results)
	return res, err
}

func (s *AddressService) nearest(ctx context.Context, p domain.GeoPoint) (*domain.NearestAddress, error) {
	// A hit inside a box only counts when it is within the box radius;
	// otherwise a closer row may sit just outside the box.
	for _, radius := range searchRadii {
		box := geospatial.BoundingBox(p, radius)
		a, err := s.addresses.NearestAddress(ctx, p, &box)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, asDownstream(err)
		}
		if d := geospatial.Distance(p, a.Point()); d <= radius {
			return nearestResult(a, d), nil
		}
	}

	a, err := s.addresses.NearestAddress(ctx, p, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, err
		}
		return nil, asDownstream(err)
	}
	return nearestResult(a, geospatial.Distance(p, a.Point())), nil
}

func nearestResult(a *domain.Address, distance float64) *domain.NearestAddress {
	return &domain.NearestAddress{
		Lat:       a.Lat,
		Lon:       a.Lon,
		Address:   a.Address,
		DistanceM: distance,
	}
}

// Locate returns the coordinates stored for an exact address.
func (s *AddressService) Locate(ctx context.Context, address string) (*domain.Address, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: address is required", domain.ErrMissingParameter)
	}

	start := time.Now()
	a, err := s.addresses.FindByAddress(ctx, address)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		err = asDownstream(err)
	}
	results := 0
	if err == nil {
		results = 1
	}
	publishLookup(ctx, s.events, domain.LookupAddress, outcomeOf(err), start, results)
	if err != nil {
		return nil, err
	}
	return a, nil
}
