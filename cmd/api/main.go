package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/samirrijal/wayline/internal/adapters/http"
	natsadapter "github.com/samirrijal/wayline/internal/adapters/nats"
	"github.com/samirrijal/wayline/internal/adapters/opencage"
	"github.com/samirrijal/wayline/internal/adapters/osrm"
	"github.com/samirrijal/wayline/internal/adapters/postgres"
	"github.com/samirrijal/wayline/internal/core/ports"
	"github.com/samirrijal/wayline/internal/core/usecases"
	"github.com/samirrijal/wayline/internal/pkg/config"
	"github.com/samirrijal/wayline/internal/pkg/logging"
	"github.com/samirrijal/wayline/internal/pkg/telemetry"
)

var version = "dev"

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func main() {
	cfg, err := config.Load("wayline-api", config.Database, config.Downstreams)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Database. Only a malformed DSN is fatal: an unreachable database
	// degrades /api/roads and the address lookups, reported by /api/ready,
	// while routing and geocoding keep serving.
	db, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns))
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	go db.ReportPoolMetrics(ctx, 15*time.Second)

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := db.Ping(pingCtx); err != nil {
		slog.Warn("database unreachable at startup, serving degraded", "error", err)
	}
	pingCancel()

	// NATS lookup events (optional). Only assign to the interfaces when the
	// publisher exists, otherwise they would hold a typed nil.
	var (
		events     ports.EventPublisher
		eventsConn http.ConnStatus
	)
	if cfg.NATS.Enabled {
		pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats unavailable, lookup events disabled", "error", err)
		} else {
			defer pub.Close()
			events = pub
			eventsConn = pub
		}
	}

	if cfg.OpenCage.APIKey == "" {
		slog.Warn("opencage.api_key is not set, geocoding requests will fail")
	}

	// Downstream clients
	router := osrm.New(cfg.OSRM.BaseURL, seconds(cfg.OSRM.Timeout))
	geocoder := opencage.New(cfg.OpenCage.BaseURL, seconds(cfg.OpenCage.Timeout))
	roadRepo := postgres.NewRoadRepo(db, seconds(cfg.Database.QueryTimeout))
	addressRepo := postgres.NewAddressRepo(db, seconds(cfg.Database.QueryTimeout))

	deps := &http.Dependencies{
		Routes:         usecases.NewRouteService(router, events),
		Geocoding:      usecases.NewGeocodeService(geocoder, cfg.OpenCage.APIKey, events),
		Roads:          usecases.NewRoadService(roadRepo, events),
		Addresses:      usecases.NewAddressService(addressRepo, events),
		DB:             db,
		Events:         eventsConn,
		RequestTimeout: seconds(cfg.Server.RequestTimeout),
		PublicDir:      cfg.Server.PublicDir,
		Version:        version,
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  seconds(cfg.Server.ReadTimeout),
		WriteTimeout: seconds(cfg.Server.WriteTimeout),
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "Wayline API",
		ErrorHandler: http.ErrorHandler,
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "version", version)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Give in-flight requests up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
