// Package telemetry exposes Prometheus metrics for the scribe server: HTTP
// request metrics, connection-pool gauges, and counters for the external
// transcription and summary providers.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Provider labels for ObserveProvider.
const (
	ProviderTranscription = "transcription"
	ProviderSummary       = "summary"
	ProviderStorage       = "storage"
)

// TelemetryConfig holds telemetry settings.
type TelemetryConfig struct {
	Namespace      string
	MetricsEnabled *bool // nil = enabled
	// ProcessMetrics adds Go runtime and process collectors to the registry.
	ProcessMetrics bool
}

func (c *TelemetryConfig) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "scribe"
	}
}

func (c *TelemetryConfig) metricsOn() bool {
	return c.MetricsEnabled == nil || *c.MetricsEnabled
}

// BoolPtr is a convenience for TelemetryConfig.MetricsEnabled.
func BoolPtr(b bool) *bool { return &b }

// TelemetryProvider owns a private registry and every collector. A nil
// *TelemetryProvider is valid and records nothing.
type TelemetryProvider struct {
	cfg      TelemetryConfig
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	activeRequests  prometheus.Gauge

	transcriptions   *prometheus.CounterVec
	summaries        *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec

	dbActive prometheus.Gauge
	dbIdle   prometheus.Gauge
}

// NewTelemetryProvider registers all collectors on a fresh registry.
func NewTelemetryProvider(cfg TelemetryConfig) *TelemetryProvider {
	cfg.applyDefaults()
	reg := prometheus.NewRegistry()
	if cfg.ProcessMetrics {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	f := promauto.With(reg)
	ns := cfg.Namespace

	return &TelemetryProvider{
		cfg:      cfg,
		registry: reg,
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by method, route and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		activeRequests: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "http_active_requests",
			Help:      "In-flight HTTP requests",
		}),
		transcriptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "transcriptions_total",
			Help:      "Transcription attempts by outcome",
		}, []string{"outcome"}),
		summaries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "summaries_total",
			Help:      "Summary generations by template and outcome",
		}, []string{"template", "outcome"}),
		providerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "provider_duration_seconds",
			Help:      "Latency of calls to external providers",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"provider"}),
		dbActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "db_pool_active_connections",
			Help:      "Acquired database connections",
		}),
		dbIdle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "db_pool_idle_connections",
			Help:      "Idle database connections",
		}),
	}
}

// Registry exposes the underlying registry.
func (tp *TelemetryProvider) Registry() *prometheus.Registry {
	if tp == nil {
		return nil
	}
	return tp.registry
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// RecordTranscription counts one transcription attempt.
func (tp *TelemetryProvider) RecordTranscription(err error) {
	if tp == nil || !tp.cfg.metricsOn() {
		return
	}
	tp.transcriptions.WithLabelValues(outcome(err)).Inc()
}

// RecordSummary counts one summary generation for template.
func (tp *TelemetryProvider) RecordSummary(template string, err error) {
	if tp == nil || !tp.cfg.metricsOn() {
		return
	}
	tp.summaries.WithLabelValues(template, outcome(err)).Inc()
}

// ObserveProvider records the time since start against provider.
func (tp *TelemetryProvider) ObserveProvider(provider string, start time.Time) {
	if tp == nil || !tp.cfg.metricsOn() {
		return
	}
	tp.providerDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}

// HealthMetricsRecorder sets pool gauges.
type HealthMetricsRecorder struct {
	tp *TelemetryProvider
}

// HealthMetrics returns a recorder for health-related metrics.
func (tp *TelemetryProvider) HealthMetrics() *HealthMetricsRecorder {
	return &HealthMetricsRecorder{tp: tp}
}

// SetDBPool sets the active and idle connection gauges.
func (h *HealthMetricsRecorder) SetDBPool(active, idle int64) {
	if h == nil || h.tp == nil {
		return
	}
	h.tp.dbActive.Set(float64(active))
	h.tp.dbIdle.Set(float64(idle))
}

// MetricsMiddleware records request duration and in-flight requests, keyed
// by route pattern rather than raw path.
func (tp *TelemetryProvider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if tp == nil || !tp.cfg.metricsOn() {
				return next(c)
			}

			tp.activeRequests.Inc()
			start := time.Now()

			err := next(c)

			tp.activeRequests.Dec()

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if status < http.StatusBadRequest {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			tp.requestDuration.
				WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// PrometheusHandler serves the registry in the Prometheus exposition format.
func (tp *TelemetryProvider) PrometheusHandler() echo.HandlerFunc {
	if tp == nil {
		return func(c echo.Context) error { return c.NoContent(http.StatusNotFound) }
	}
	return echo.WrapHandler(promhttp.HandlerFor(tp.registry, promhttp.HandlerOpts{}))
}
