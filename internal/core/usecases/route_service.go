package usecases

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samirrijal/wayline/internal/core/domain"
	"github.com/samirrijal/wayline/internal/core/ports"
)

// RouteService computes driving routes between two coordinate pairs.
type RouteService struct {
	engine ports.RoutingEngine
	events ports.EventPublisher
}

// NewRouteService creates a new RouteService. events may be nil.
func NewRouteService(engine ports.RoutingEngine, events ports.EventPublisher) *RouteService {
	return &RouteService{engine: engine, events: events}
}

// Route validates the raw "lon,lat" inputs and returns the geometry of the
// first route exactly as the engine produced it.
func (s *RouteService) Route(ctx context.Context, from, to string) (json.RawMessage, error) {
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: from and to are required", domain.ErrMissingParameter)
	}
	fromPt, err := domain.ParseLonLat(from)
	if err != nil {
		return nil, err
	}
	toPt, err := domain.ParseLonLat(to)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	geometry, err := s.engine.Route(ctx, fromPt, toPt)
	if err == nil && isEmptyJSON(geometry) {
		err = errors.New("route has no geometry")
	}
	if err != nil {
		err = asDownstream(err)
		publishLookup(ctx, s.events, domain.LookupRoute, domain.OutcomeFailed, start, 0)
		return nil, err
	}

	publishLookup(ctx, s.events, domain.LookupRoute, domain.OutcomeOK, start, 1)
	return geometry, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// asDownstream makes sure err is classified as a downstream failure.
func asDownstream(err error) error {
	if errors.Is(err, domain.ErrDownstream) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrDownstream, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
