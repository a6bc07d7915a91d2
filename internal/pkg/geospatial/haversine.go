package geospatial

import (
	"math"

	"github.com/samirrijal/wayline/internal/core/domain"
)

const (
	earthRadiusM = 6371008.8 // mean Earth radius
	metersPerDeg = earthRadiusM * math.Pi / 180
)

// Distance returns the great-circle distance in meters between a and b.
func Distance(a, b domain.GeoPoint) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// BoundingBox returns a box enclosing every point within radiusM of p.
// Near a pole or across the antimeridian the box spans all longitudes.
func BoundingBox(p domain.GeoPoint, radiusM float64) domain.BBox {
	latDelta := radiusM / metersPerDeg
	box := domain.BBox{
		MinLat: math.Max(-90, p.Lat-latDelta),
		MaxLat: math.Min(90, p.Lat+latDelta),
		MinLon: -180,
		MaxLon: 180,
	}

	// Use the widest latitude of the box so the circle stays inside it.
	widest := math.Max(math.Abs(box.MinLat), math.Abs(box.MaxLat))
	cos := math.Cos(toRad(widest))
	if cos < 1e-6 {
		return box
	}
	lonDelta := radiusM / (metersPerDeg * cos)
	if p.Lon-lonDelta < -180 || p.Lon+lonDelta > 180 {
		return box
	}
	box.MinLon = p.Lon - lonDelta
	box.MaxLon = p.Lon + lonDelta
	return box
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
