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

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoproof",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "geoproof",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "geoproof",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Pipeline metrics
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "geoproof",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Duration of each proof pipeline stage",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"stage"})

	StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoproof",
		Subsystem: "pipeline",
		Name:      "failures_total",
		Help:      "Pipeline failures by stage and error category",
	}, []string{"stage", "category"})

	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoproof",
		Subsystem: "verifier",
		Name:      "verifications_total",
		Help:      "On-chain verification outcomes",
	}, []string{"result"})

	BackendQueueWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "geoproof",
		Subsystem: "backend",
		Name:      "queue_wait_seconds",
		Help:      "Time spent waiting for the proving backend slot",
		Buckets:   []float64{0.001, 0.01, 0.1, 1, 5, 15, 60},
	})

	BackendInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geoproof",
		Subsystem: "backend",
		Name:      "in_flight",
		Help:      "Proofs currently being generated, including abandoned ones",
	})

	FenceDrift = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoproof",
		Subsystem: "fence",
		Name:      "drift_total",
		Help:      "Geofences whose on-chain vertices diverged from the registry",
	})

	FenceSyncErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoproof",
		Subsystem: "fence",
		Name:      "sync_errors_total",
		Help:      "Errors while reading contract vertices",
	}, []string{"category"})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geoproof",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoproof",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoproof",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geoproof",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geoproof",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geoproof",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

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
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// UpdateDBPoolMetrics copies pgxpool stats into the pool gauges. stat is
// taken as an interface so this package does not import pgx.
func UpdateDBPoolMetrics(stat interface{}) {
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}

// ObserveStage records a stage duration and, when err is set, a failure.
func ObserveStage(stage string, start time.Time, category string, err error) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		if category == "" {
			category = "unknown"
		}
		StageFailures.WithLabelValues(stage, category).Inc()
	}
}
