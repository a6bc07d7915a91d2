package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"

	"github.com/samirrijal/wayline/internal/core/domain"
	"github.com/samirrijal/wayline/internal/pkg/metrics"
)

const defaultRequestTimeout = 15 * time.Second

// SetupRoutes registers the lookup API, GraphQL, docs, ops endpoints and the
// static front-end.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip)
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// Request ID, then a request-scoped logger carrying it
	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())

	app.Use(AccessLogMiddleware())

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	reqTimeout := deps.RequestTimeout
	if reqTimeout <= 0 {
		reqTimeout = defaultRequestTimeout
	}

	api := app.Group("/api")

	// Health & readiness, outside the request timeout
	api.Get("/health", HealthHandler(deps))
	api.Get("/ready", ReadyHandler(deps))

	lookups := []struct {
		path    string
		kind    string
		handler fiber.Handler
	}{
		{"/route", domain.LookupRoute, RouteHandler(deps)},
		{"/geocode", domain.LookupGeocode, GeocodeHandler(deps)},
		{"/reverse-geocode", domain.LookupReverseGeocode, ReverseGeocodeHandler(deps)},
		{"/roads", domain.LookupRoads, RoadsHandler(deps)},
		{"/nearest-address", domain.LookupNearestAddress, NearestAddressHandler(deps)},
		{"/address-coordinates", domain.LookupAddress, AddressCoordinatesHandler(deps)},
	}
	for _, l := range lookups {
		api.Get(l.path, TagLookup(l.kind), timeout.NewWithContext(l.handler, reqTimeout))
	}

	// GraphQL
	app.Post("/graphql", timeout.NewWithContext(GraphQLHandler(deps), reqTimeout))

	// API documentation (Swagger UI)
	if err := SetupDocs(app); err != nil {
		panic("openapi document: " + err.Error())
	}

	// Front-end assets
	if deps.PublicDir != "" {
		app.Static("/", deps.PublicDir)
	}
}
