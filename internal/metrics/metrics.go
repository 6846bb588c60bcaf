package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the gateway's Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	backendCallsTotal   *prometheus.CounterVec
	backendCallDuration *prometheus.HistogramVec
	predictionsTotal    *prometheus.CounterVec
	flowTransitions     *prometheus.CounterVec
	activeSessions      prometheus.Gauge
}

// New registers all collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ctg",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ctg",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		requestInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ctg",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
		}),
		backendCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ctg",
			Subsystem: "backend",
			Name:      "calls_total",
			Help:      "Outbound calls to the scan and prediction services by outcome.",
		}, []string{"operation", "outcome"}),
		backendCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ctg",
			Subsystem: "backend",
			Name:      "call_duration_seconds",
			Help:      "Outbound call duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		predictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ctg",
			Subsystem: "result",
			Name:      "predictions_total",
			Help:      "Rendered prediction results by display category.",
		}, []string{"category"}),
		flowTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ctg",
			Subsystem: "flow",
			Name:      "transitions_total",
			Help:      "Capture flow state transitions.",
		}, []string{"from", "to"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ctg",
			Subsystem: "flow",
			Name:      "active_sessions",
			Help:      "Capture page sessions currently held.",
		}),
	}

	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.requestInFlight,
		m.backendCallsTotal,
		m.backendCallDuration,
		m.predictionsTotal,
		m.flowTransitions,
		m.activeSessions,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request totals and latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requestTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// ObserveBackendCall records one outbound call.
func (m *Metrics) ObserveBackendCall(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.backendCallsTotal.WithLabelValues(operation, outcome).Inc()
	m.backendCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPrediction counts a rendered result.
func (m *Metrics) RecordPrediction(category string) {
	if m == nil {
		return
	}
	m.predictionsTotal.WithLabelValues(category).Inc()
}

// RecordTransition counts a flow state change.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.flowTransitions.WithLabelValues(from, to).Inc()
}

// SetActiveSessions publishes the size of the session registry.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
