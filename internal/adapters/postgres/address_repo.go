package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/wayline/internal/core/domain"
	"github.com/samirrijal/wayline/internal/pkg/metrics"
	"github.com/samirrijal/wayline/internal/pkg/telemetry"
)

// haversineSQL is the great-circle distance in metres from ($1 lat, $2 lon)
// to the row. least() keeps asin in its domain under rounding.
const haversineSQL = `2 * 6371008.8 * asin(least(1, sqrt(
		power(sin(radians(lat - $1) / 2), 2) +
		cos(radians($1)) * cos(radians(lat)) * power(sin(radians(lon - $2) / 2), 2))))`

const (
	nearestAddressSQL = `
	SELECT lat, lon, address
	FROM coordinates
	ORDER BY ` + haversineSQL + `
	LIMIT 1`

	// The BETWEEN prefilter can use coordinates_lat_lon_idx.
	nearestAddressInBoxSQL = `
	SELECT lat, lon, address
	FROM coordinates
	WHERE lat BETWEEN $3 AND $4 AND lon BETWEEN $5 AND $6
	ORDER BY ` + haversineSQL + `
	LIMIT 1`

	findAddressSQL = `
	SELECT lat, lon, address
	FROM coordinates
	WHERE address = $1
	LIMIT 1`
)

// rowQuerier is the part of *pgxpool.Pool the address repository uses.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AddressRepo implements ports.AddressRepository over the coordinates table.
type AddressRepo struct {
	db           rowQuerier
	queryTimeout time.Duration
}

func NewAddressRepo(db *DB, queryTimeout time.Duration) *AddressRepo {
	return &AddressRepo{db: db.Pool, queryTimeout: queryTimeout}
}

func (r *AddressRepo) NearestAddress(ctx context.Context, p domain.GeoPoint, box *domain.BBox) (*domain.Address, error) {
	if box == nil {
		return r.queryOne(ctx, "postgis.nearest_address", nearestAddressSQL, p.Lat, p.Lon)
	}
	return r.queryOne(ctx, "postgis.nearest_address", nearestAddressInBoxSQL,
		p.Lat, p.Lon, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon)
}

func (r *AddressRepo) FindByAddress(ctx context.Context, address string) (*domain.Address, error) {
	return r.queryOne(ctx, "postgis.find_address", findAddressSQL, address)
}

func (r *AddressRepo) queryOne(ctx context.Context, span, sql string, args ...any) (a *domain.Address, err error) {
	start := time.Now()
	ctx, end := telemetry.StartSpan(ctx, span)
	defer func() {
		// An empty result is an answer, not a store failure.
		failure := err
		if errors.Is(err, domain.ErrNotFound) {
			failure = nil
		}
		metrics.ObserveDownstream(metrics.ServicePostGIS, start, failure)
		end(failure)
	}()

	if r.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.queryTimeout)
		defer cancel()
	}

	var row domain.Address
	err = r.db.QueryRow(ctx, sql, args...).Scan(&row.Lat, &row.Lon, &row.Address)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query address: %v: %w", err, domain.ErrDownstream)
	}
	return &row, nil
}
