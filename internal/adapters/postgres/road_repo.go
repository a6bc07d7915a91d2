package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/wayline/internal/core/domain"
	"github.com/samirrijal/wayline/internal/pkg/metrics"
	"github.com/samirrijal/wayline/internal/pkg/telemetry"
)

// listRoadsSQL reads osm2pgsql's line table. ST_AsGeoJSON lets the store
// serialise geometry so rows map straight onto GeoJSON features.
const listRoadsSQL = `
	SELECT osm_id, highway, ST_AsGeoJSON(way)::json AS geometry
	FROM planet_osm_line
	WHERE highway IS NOT NULL
	LIMIT $1`

// querier is the part of *pgxpool.Pool the repository uses.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// RoadRepo implements ports.RoadRepository.
type RoadRepo struct {
	db           querier
	queryTimeout time.Duration
}

func NewRoadRepo(db *DB, queryTimeout time.Duration) *RoadRepo {
	return &RoadRepo{db: db.Pool, queryTimeout: queryTimeout}
}

func (r *RoadRepo) ListRoads(ctx context.Context, limit int) (roads []domain.RoadFeature, err error) {
	start := time.Now()
	ctx, end := telemetry.StartSpan(ctx, "postgis.list_roads")
	defer func() {
		metrics.ObserveDownstream(metrics.ServicePostGIS, start, err)
		end(err)
	}()

	if r.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.queryTimeout)
		defer cancel()
	}

	rows, err := r.db.Query(ctx, listRoadsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("query roads: %v: %w", err, domain.ErrDownstream)
	}
	defer rows.Close()

	for rows.Next() {
		var road domain.RoadFeature
		if err := rows.Scan(&road.ID, &road.Highway, &road.Geometry); err != nil {
			return nil, fmt.Errorf("scan road: %v: %w", err, domain.ErrDownstream)
		}
		roads = append(roads, road)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roads: %v: %w", err, domain.ErrDownstream)
	}
	return roads, nil
}
