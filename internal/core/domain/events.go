package domain

import "time"

// Lookup kinds.
const (
	LookupRoute          = "route"
	LookupGeocode        = "geocode"
	LookupReverseGeocode = "reverse_geocode"
	LookupRoads          = "roads"
	LookupNearestAddress = "nearest_address"
	LookupAddress        = "address"
)

// Lookup outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeFailed   = "failed"
)

// LookupEvent describes one finished downstream lookup.
type LookupEvent struct {
	Kind       string    `json:"kind"`
	Outcome    string    `json:"outcome"`
	DurationMS int64     `json:"duration_ms"`
	Results    int       `json:"results"`
	At         time.Time `json:"at"`
}
