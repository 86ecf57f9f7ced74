package observability

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for pagepack
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Database metrics
	dbQueriesTotal  *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec

	// Collector metrics
	collectRequestsTotal *prometheus.CounterVec
	collectDepsTotal     *prometheus.CounterVec

	// Bundle metrics
	bundleBuildsTotal   *prometheus.CounterVec
	bundleBuildDuration *prometheus.HistogramVec
	bundleFilesTotal    *prometheus.CounterVec
	bundleBytesTotal    *prometheus.CounterVec
	bundleModules       *prometheus.GaugeVec

	// Rate limiting metrics
	rateLimitHitsTotal *prometheus.CounterVec
}

// NewMetrics creates all metrics on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagepack_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagepack_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pagepack_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		dbQueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagepack_db_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "table", "status"},
		),
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagepack_db_query_duration_seconds",
				Help:    "Database query latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation", "table"},
		),

		collectRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagepack_collect_requests_total",
				Help: "Dependency reports received by the collector",
			},
			[]string{"result"},
		),
		collectDepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagepack_collect_dependencies_total",
				Help: "Reported dependencies by outcome",
			},
			[]string{"outcome"},
		),

		bundleBuildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagepack_bundle_builds_total",
				Help: "Bundle build passes",
			},
			[]string{"mode", "status"},
		),
		bundleBuildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagepack_bundle_build_duration_seconds",
				Help:    "Bundle build duration in seconds",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"mode"},
		),
		bundleFilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagepack_bundle_files_written_total",
				Help: "Bundle files written by kind",
			},
			[]string{"kind"},
		),
		bundleBytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagepack_bundle_bytes_written_total",
				Help: "Bytes written to bundle files by kind",
			},
			[]string{"kind"},
		),
		bundleModules: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pagepack_bundle_modules",
				Help: "Modules packed into each bucket during the last build",
			},
			[]string{"bucket"},
		),

		rateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagepack_rate_limit_hits_total",
				Help: "Requests rejected by a rate limiter",
			},
			[]string{"limiter"},
		),
	}
}

// MetricsMiddleware returns a Fiber middleware that collects HTTP metrics
func (m *Metrics) MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		method := c.Method()
		err := c.Next()

		// Route path keeps parameterised routes from exploding cardinality.
		path := normalizePath(c.Route().Path)
		status := statusClass(c.Response().StatusCode())

		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())

		return err
	}
}

// RecordDBQuery records database query metrics
func (m *Metrics) RecordDBQuery(operation, table string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueriesTotal.WithLabelValues(operation, table, status).Inc()
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordCollectRequest records a collector request outcome (accepted, rejected, rate_limited)
func (m *Metrics) RecordCollectRequest(result string) {
	m.collectRequestsTotal.WithLabelValues(result).Inc()
}

// RecordCollectedDependencies records per-dependency collector outcomes
func (m *Metrics) RecordCollectedDependencies(inserted, duplicates, skipped int) {
	m.collectDepsTotal.WithLabelValues("inserted").Add(float64(inserted))
	m.collectDepsTotal.WithLabelValues("duplicate").Add(float64(duplicates))
	m.collectDepsTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordBundleBuild records a finished build pass
func (m *Metrics) RecordBundleBuild(mode string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.bundleBuildsTotal.WithLabelValues(mode, status).Inc()
	m.bundleBuildDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordBundleFile records a written bundle artifact
func (m *Metrics) RecordBundleFile(kind string, bytes int) {
	m.bundleFilesTotal.WithLabelValues(kind).Inc()
	m.bundleBytesTotal.WithLabelValues(kind).Add(float64(bytes))
}

// SetBucketModules records the module count of a bucket
func (m *Metrics) SetBucketModules(bucket string, count int) {
	m.bundleModules.WithLabelValues(bucket).Set(float64(count))
}

// RecordRateLimitHit records a rate limit hit
func (m *Metrics) RecordRateLimitHit(limiter string) {
	m.rateLimitHitsTotal.WithLabelValues(limiter).Inc()
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns a Fiber handler that exposes Prometheus metrics
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// normalizePath collapses static asset paths and very long paths
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	if strings.HasPrefix(path, "/static/") {
		return "/static/*"
	}
	if len(path) > 50 {
		return "long_path"
	}
	return path
}

// statusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx)
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
