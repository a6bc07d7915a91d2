package http

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

const lookupKindKey = "lookup_kind"

// TagLookup marks the request with the lookup kind it serves, for the access
// log.
func TagLookup(kind string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(lookupKindKey, kind)
		return c.Next()
	}
}

// AccessLogMiddleware writes one line per request through the request-scoped
// logger. Lookup requests carry their kind so log queries can split traffic
// by lookup rather than by path.
func AccessLogMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			// ErrorHandler has not run yet.
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}

		attrs := []slog.Attr{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("route", c.Route().Path),
			slog.Int("status", status),
			slog.Int64("latency_ms", time.Since(start).Milliseconds()),
			slog.Int("bytes_out", len(c.Response().Body())),
		}
		if kind, ok := c.Locals(lookupKindKey).(string); ok {
			attrs = append(attrs, slog.String("lookup", kind))
		}

		level := slog.LevelInfo
		switch {
		case status >= fiber.StatusInternalServerError:
			level = slog.LevelError
		case status >= fiber.StatusBadRequest:
			level = slog.LevelWarn
		}
		if err != nil && status >= fiber.StatusInternalServerError {
			attrs = append(attrs, slog.String("error", err.Error()))
		}

		LoggerFromCtx(c.UserContext()).LogAttrs(c.UserContext(), level, "request", attrs...)
		return err
	}
}
