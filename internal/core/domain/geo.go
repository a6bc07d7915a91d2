package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxRoadFeatures bounds the size of a road FeatureCollection.
const MaxRoadFeatures = 1000

// LonLat is a coordinate pair as received from a client ("lon,lat").
// Components are kept as text and handed to the routing engine verbatim.
type LonLat struct {
	Lon string `json:"lon"`
	Lat string `json:"lat"`
}

// ParseLonLat splits raw on commas and requires exactly two components.
func ParseLonLat(raw string) (LonLat, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return LonLat{}, fmt.Errorf("%w: %q has %d components", ErrInvalidFormat, raw, len(parts))
	}
	return LonLat{Lon: parts[0], Lat: parts[1]}, nil
}

// String renders the pair the way OSRM expects it in a path segment.
func (p LonLat) String() string {
	return p.Lon + "," + p.Lat
}

// GeocodeQuery is a single forward or reverse lookup against the geocoder.
type GeocodeQuery struct {
	Text   string
	APIKey string
	Limit  int
}

// GeocodeResult is one ranked match returned by the geocoder.
type GeocodeResult struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

// RoadFeature is one road line read from the spatial store.
type RoadFeature struct {
	ID       int64           `json:"id"`
	Highway  string          `json:"type"`
	Geometry json.RawMessage `json:"geometry"`
}

// GeoPoint is a WGS84 coordinate in decimal degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ParseGeoPoint parses textual latitude and longitude and checks their range.
func ParseGeoPoint(lat, lon string) (GeoPoint, error) {
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil || math.IsNaN(la) || la < -90 || la > 90 {
		return GeoPoint{}, fmt.Errorf("%w: latitude %q", ErrInvalidFormat, lat)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil || math.IsNaN(lo) || lo < -180 || lo > 180 {
		return GeoPoint{}, fmt.Errorf("%w: longitude %q", ErrInvalidFormat, lon)
	}
	return GeoPoint{Lat: la, Lon: lo}, nil
}

// BBox is an axis-aligned latitude/longitude box, bounds inclusive.
type BBox struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

// Address is one row of the local address table.
type Address struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Address string  `json:"address"`
}

// Point returns the address location.
func (a Address) Point() GeoPoint {
	return GeoPoint{Lat: a.Lat, Lon: a.Lon}
}

// NearestAddress is the closest known address to a query point.
type NearestAddress struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Address   string  `json:"address"`
	DistanceM float64 `json:"distance_m"`
}
