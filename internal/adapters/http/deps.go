package http

import (
	"context"
	"time"

	"github.com/samirrijal/wayline/internal/core/usecases"
)

// Pinger is satisfied by *postgres.DB.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnStatus is satisfied by *natsadapter.Publisher.
type ConnStatus interface {
	IsConnected() bool
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Routes    *usecases.RouteService
	Geocoding *usecases.GeocodeService
	Roads     *usecases.RoadService
	Addresses *usecases.AddressService

	// Optional; nil means "not configured" in readiness checks.
	DB     Pinger
	Events ConnStatus

	RequestTimeout time.Duration
	PublicDir      string
	Version        string
}
