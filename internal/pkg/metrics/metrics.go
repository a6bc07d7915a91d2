package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Downstream service labels.
const (
	ServiceOSRM     = "osrm"
	ServiceOpenCage = "opencage"
	ServicePostGIS  = "postgis"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wayline",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wayline",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wayline",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Downstream metrics
	DownstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wayline",
		Subsystem: "downstream",
		Name:      "requests_total",
		Help:      "Total calls to downstream services by outcome",
	}, []string{"service", "outcome"})

	DownstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wayline",
		Subsystem: "downstream",
		Name:      "request_duration_seconds",
		Help:      "Latency of calls to downstream services",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"service"})

	// Lookup event metrics (lookupstats consumer)
	LookupEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wayline",
		Subsystem: "lookups",
		Name:      "events_total",
		Help:      "Lookup events consumed from the broker by kind and outcome",
	}, []string{"kind", "outcome"})

	LookupEventDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wayline",
		Subsystem: "lookups",
		Name:      "duration_seconds",
		Help:      "Lookup duration as reported by the API",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"kind"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wayline",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wayline",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wayline",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// ObserveDownstream records one downstream call started at start.
func ObserveDownstream(service string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	DownstreamRequests.WithLabelValues(service, outcome).Inc()
	DownstreamDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
}

// ObserveLookupEvent records one consumed lookup event.
func ObserveLookupEvent(kind, outcome string, durationMS int64) {
	LookupEvents.WithLabelValues(kind, outcome).Inc()
	LookupEventDuration.WithLabelValues(kind).Observe(float64(durationMS) / 1000)
}

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	return func(c *fiber.Ctx) error {
		handler(c.Context())
		return nil
	}
}

// PoolStat is the subset of *pgxpool.Stat exported as gauges. Keeping it an
// interface leaves this package free of the pgx import.
type PoolStat interface {
	AcquiredConns() int32
	IdleConns() int32
	TotalConns() int32
}

// UpdateDBPoolMetrics copies pool stats into the pool gauges.
func UpdateDBPoolMetrics(s PoolStat) {
	DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
	DBPoolConnsIdle.Set(float64(s.IdleConns()))
	DBPoolConnsOpen.Set(float64(s.TotalConns()))
}
