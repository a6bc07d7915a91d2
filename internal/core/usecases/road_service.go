package usecases

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/wayline/internal/core/domain"
	"github.com/samirrijal/wayline/internal/core/ports"
)

// RoadService assembles road lines from the spatial store into GeoJSON.
type RoadService struct {
	roads  ports.RoadRepository
	events ports.EventPublisher
}

// NewRoadService creates a new RoadService. events may be nil.
func NewRoadService(roads ports.RoadRepository, events ports.EventPublisher) *RoadService {
	return &RoadService{roads: roads, events: events}
}

// RoadCollection is a GeoJSON FeatureCollection of roads.
type RoadCollection struct {
	Type     string        `json:"type"`
	Features []RoadFeature `json:"features"`
}

// RoadFeature is a GeoJSON Feature whose geometry is emitted exactly as the
// store serialised it, including members such as crs and any Z ordinates.
type RoadFeature struct {
	Type       string             `json:"type"`
	Geometry   json.RawMessage    `json:"geometry"`
	Properties geojson.Properties `json:"properties"`
}

// Roads returns up to domain.MaxRoadFeatures roads as a FeatureCollection.
// Each feature carries {id: osm_id, type: highway} as properties.
func (s *RoadService) Roads(ctx context.Context) (*RoadCollection, error) {
	start := time.Now()
	fc, err := s.collect(ctx)
	if err != nil {
		publishLookup(ctx, s.events, domain.LookupRoads, domain.OutcomeFailed, start, 0)
		return nil, err
	}
	publishLookup(ctx, s.events, domain.LookupRoads, domain.OutcomeOK, start, len(fc.Features))
	return fc, nil
}

func (s *RoadService) collect(ctx context.Context) (*RoadCollection, error) {
	rows, err := s.roads.ListRoads(ctx, domain.MaxRoadFeatures)
	if err != nil {
		return nil, asDownstream(err)
	}
	if len(rows) > domain.MaxRoadFeatures {
		rows = rows[:domain.MaxRoadFeatures]
	}

	fc := &RoadCollection{Type: "FeatureCollection", Features: make([]RoadFeature, 0, len(rows))}
	for _, row := range rows {
		f, err := roadFeature(row)
		if err != nil {
			return nil, asDownstream(err)
		}
		fc.Features = append(fc.Features, f)
	}
	return fc, nil
}

// roadFeature checks that the row holds a GeoJSON geometry and wraps the
// stored bytes, untouched, in a Feature.
func roadFeature(row domain.RoadFeature) (RoadFeature, error) {
	if isEmptyJSON(row.Geometry) {
		return RoadFeature{}, fmt.Errorf("osm_id %d: empty geometry", row.ID)
	}
	g, err := geojson.UnmarshalGeometry(row.Geometry)
	if err != nil {
		return RoadFeature{}, fmt.Errorf("osm_id %d: decode geometry: %w", row.ID, err)
	}
	if g.Geometry() == nil {
		return RoadFeature{}, fmt.Errorf("osm_id %d: unsupported geometry", row.ID)
	}

	return RoadFeature{
		Type:     "Feature",
		Geometry: bytes.TrimSpace(row.Geometry),
		Properties: geojson.Properties{
			"id":   row.ID,
			"type": row.Highway,
		},
	}, nil
}
