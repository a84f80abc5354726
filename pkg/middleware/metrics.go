package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "syncpage").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry receives the metrics. Default: a new registry owned by
	// the Metrics instance.
	Registry *prometheus.Registry
}

// MetricsOption configures Metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry *prometheus.Registry) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "syncpage",
		Buckets:   prometheus.DefBuckets,
	}
}

// Metrics holds the server's Prometheus metrics. All methods are safe on a
// nil receiver so callers can leave metrics disabled.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	matchesTotal    *prometheus.CounterVec
	bundleErrors    *prometheus.CounterVec
	filterErrors    *prometheus.CounterVec
	wsOpen          prometheus.Gauge
	wsTotal         prometheus.Counter
}

// NewMetrics registers the metrics.
//
// Metrics collected:
//   - syncpage_http_requests_total: requests by method, route and status
//   - syncpage_http_request_duration_seconds: request duration by method and route
//   - syncpage_route_matches_total: route matches by kind and app
//   - syncpage_bundle_errors_total: failed model bundles by app
//   - syncpage_filter_errors_total: aborted filter chains by app and error type
//   - syncpage_websocket_connections: open realtime connections
//   - syncpage_websocket_connections_total: accepted realtime connections
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		registry: config.Registry,

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests",
			ConstLabels: config.ConstLabels,
		}, []string{"method", "route", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"method", "route"}),

		matchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "route_matches_total",
			Help:        "Route match outcomes",
			ConstLabels: config.ConstLabels,
		}, []string{"kind", "app"}),

		bundleErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "bundle_errors_total",
			Help:        "Model bundles that failed to serialize",
			ConstLabels: config.ConstLabels,
		}, []string{"app"}),

		filterErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "filter_errors_total",
			Help:        "Filter chains aborted with an error",
			ConstLabels: config.ConstLabels,
		}, []string{"app", "error_type"}),

		wsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "websocket_connections",
			Help:        "Number of open realtime connections",
			ConstLabels: config.ConstLabels,
		}),

		wsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "websocket_connections_total",
			Help:        "Total realtime connections accepted",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and durations. The route label is the
// chi route pattern, which keeps label cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := NewStatusRecorder(w)

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.Status())).Inc()
	})
}

// RecordMatch counts a route match outcome.
func (m *Metrics) RecordMatch(kind, app string) {
	if m != nil {
		m.matchesTotal.WithLabelValues(kind, app).Inc()
	}
}

// RecordBundleError counts a failed bundle.
func (m *Metrics) RecordBundleError(app string) {
	if m != nil {
		m.bundleErrors.WithLabelValues(app).Inc()
	}
}

// RecordFilterError counts an aborted filter chain.
func (m *Metrics) RecordFilterError(app string, err error) {
	if m != nil {
		m.filterErrors.WithLabelValues(app, categorizeError(err)).Inc()
	}
}

// WSOpened records an accepted realtime connection.
func (m *Metrics) WSOpened() {
	if m != nil {
		m.wsOpen.Inc()
		m.wsTotal.Inc()
	}
}

// WSClosed records a closed realtime connection.
func (m *Metrics) WSClosed() {
	if m != nil {
		m.wsOpen.Dec()
	}
}

// categorizeError maps an error to a low-cardinality label.
func categorizeError(err error) string {
	if err == nil {
		return "none"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return "timeout"
	case strings.Contains(msg, "not found"):
		return "not_found"
	case strings.Contains(msg, "unauthorized"):
		return "unauthorized"
	case strings.Contains(msg, "forbidden"), strings.Contains(msg, "access denied"):
		return "forbidden"
	case strings.Contains(msg, "validation"), strings.Contains(msg, "invalid"):
		return "validation"
	default:
		return "internal"
	}
}
