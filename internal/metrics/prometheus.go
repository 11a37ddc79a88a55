package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace for all inventorama metrics
	namespace = "inventorama"

	// Subsystems
	subsystemScan   = "scan"
	subsystemOutput = "output"
	subsystemAPI    = "api"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	targetsTotal    *prometheus.CounterVec
	inFlight        prometheus.Gauge
	fetchFailures   *prometheus.CounterVec
	scanDuration    prometheus.Histogram
	scanTargets     prometheus.Gauge
	persistFailures *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	startTime time.Time
	registry  *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with its
// own registry, including the standard Go and process collectors.
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initScanMetrics()
	pm.initOutputMetrics()
	pm.initAPIMetrics()

	registry.MustRegister(
		pm.targetsTotal,
		pm.inFlight,
		pm.fetchFailures,
		pm.scanDuration,
		pm.scanTargets,
		pm.persistFailures,
		pm.httpRequests,
		pm.httpDuration,
	)

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *PrometheusMetrics) initScanMetrics() {
	pm.targetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "targets_total",
			Help:      "Targets that reached a terminal status, by status",
		},
		[]string{"status"},
	)

	pm.inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "pipelines_in_flight",
			Help:      "Number of target pipelines currently running",
		},
	)

	pm.fetchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "fetch_failures_total",
			Help:      "Failed capability fetches, by capability",
		},
		[]string{"capability"},
	)

	pm.scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of complete scan runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
	)

	pm.scanTargets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "last_run_targets",
			Help:      "Number of targets submitted in the most recent run",
		},
	)
}

func (pm *PrometheusMetrics) initOutputMetrics() {
	pm.persistFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemOutput,
			Name:      "persist_failures_total",
			Help:      "Records whose durable write was skipped, by sink",
		},
		[]string{"sink"},
	)
}

func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"method", "path"},
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// TargetFinished implements Recorder.
func (pm *PrometheusMetrics) TargetFinished(status string) {
	pm.targetsTotal.WithLabelValues(status).Inc()
}

// SetInFlight implements Recorder.
func (pm *PrometheusMetrics) SetInFlight(n int) {
	pm.inFlight.Set(float64(n))
}

// FetchFailed implements Recorder.
func (pm *PrometheusMetrics) FetchFailed(capability string) {
	pm.fetchFailures.WithLabelValues(capability).Inc()
}

// PersistFailed implements Recorder.
func (pm *PrometheusMetrics) PersistFailed(sink string) {
	pm.persistFailures.WithLabelValues(sink).Inc()
}

// ScanCompleted implements Recorder.
func (pm *PrometheusMetrics) ScanCompleted(duration time.Duration, targets int) {
	pm.scanDuration.Observe(duration.Seconds())
	pm.scanTargets.Set(float64(targets))
}

// RecordHTTPRequest counts one API request and observes its duration.
func (pm *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// GetUptime returns the time since the metrics were created.
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}
