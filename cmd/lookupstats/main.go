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
	"github.com/gofiber/fiber/v2/middleware/recover"

	natsadapter "github.com/samirrijal/wayline/internal/adapters/nats"
	"github.com/samirrijal/wayline/internal/core/domain"
	"github.com/samirrijal/wayline/internal/core/usecases"
	"github.com/samirrijal/wayline/internal/pkg/config"
	"github.com/samirrijal/wayline/internal/pkg/logging"
	"github.com/samirrijal/wayline/internal/pkg/metrics"
)

// lookupstats consumes lookup events published by the API and exposes running
// totals on /stats and as Prometheus counters on /metrics.
func main() {
	cfg, err := config.Load("wayline-lookupstats", config.LookupStats)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer sub.Close()

	stats := usecases.NewLookupStats()
	err = sub.SubscribeLookups(ctx, cfg.LookupStats.Durable, func(ctx context.Context, event domain.LookupEvent) error {
		if err := stats.Record(ctx, event); err != nil {
			slog.Warn("dropping lookup event", "kind", event.Kind, "error", err)
			return nil
		}
		metrics.ObserveLookupEvent(event.Kind, event.Outcome, event.DurationMS)
		return nil
	})
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}

	app := fiber.New(fiber.Config{AppName: "Wayline lookupstats"})
	app.Use(recover.New())
	app.Get("/metrics", metrics.Handler())
	app.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"lookups": stats.Snapshot()})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		if !sub.IsConnected() {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "nats disconnected"})
		}
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.LookupStats.Port)
		slog.Info("lookupstats starting", "addr", addr, "nats", cfg.NATS.URL)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down lookupstats")
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		slog.Error("forced shutdown", "error", err)
	}
}
