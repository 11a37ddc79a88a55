// Package metrics provides monitoring for inventorama. The in-memory
// Registry supports counters, gauges and histograms with labels; the
// Prometheus implementation backs the /metrics endpoint.
package metrics

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric.
type MetricType string

const (
	TypeCounter   MetricType = "counter"
	TypeGauge     MetricType = "gauge"
	TypeHistogram MetricType = "histogram"
)

// Predefined metric names.
const (
	MetricTargetsTotal    = "targets_total"
	MetricInFlight        = "pipelines_in_flight"
	MetricFetchFailures   = "fetch_failures_total"
	MetricPersistFailures = "persist_failures_total"
	MetricScanDuration    = "scan_duration_seconds"
	MetricScanTargets     = "scan_targets"
	MetricAPIRequests     = "api_requests_total"
)

// Labels represents key-value pairs for metric labels.
type Labels map[string]string

// Metric represents a single metric with its metadata.
type Metric struct {
	Name      string
	Type      MetricType
	Value     float64
	Count     int
	Labels    Labels
	Timestamp time.Time
}

// Registry holds all metrics and provides collection functionality.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
	enabled bool
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		metrics: make(map[string]*Metric),
		enabled: true,
	}
}

// SetEnabled enables or disables metrics collection.
func (r *Registry) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// IsEnabled returns whether metrics collection is enabled.
func (r *Registry) IsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// Counter increments a counter metric.
func (r *Registry) Counter(name string, labels Labels) {
	r.add(name, TypeCounter, labels, func(m *Metric) { m.Value++ })
}

// Gauge sets a gauge metric value.
func (r *Registry) Gauge(name string, value float64, labels Labels) {
	r.add(name, TypeGauge, labels, func(m *Metric) { m.Value = value })
}

// Histogram records a value in a histogram metric. Value holds the running
// sum and Count the number of observations.
func (r *Registry) Histogram(name string, value float64, labels Labels) {
	r.add(name, TypeHistogram, labels, func(m *Metric) {
		m.Value += value
		m.Count++
	})
}

func (r *Registry) add(name string, typ MetricType, labels Labels, update func(*Metric)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return
	}

	key := makeKey(name, labels)
	metric, exists := r.metrics[key]
	if !exists {
		metric = &Metric{Name: name, Type: typ, Labels: maps.Clone(labels)}
		r.metrics[key] = metric
	}
	update(metric)
	metric.Timestamp = time.Now()
}

// Value returns the current value of a metric, or zero when unset.
func (r *Registry) Value(name string, labels Labels) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.metrics[makeKey(name, labels)]; ok {
		return m.Value
	}
	return 0
}

// GetMetrics returns a snapshot of all current metrics.
func (r *Registry) GetMetrics() map[string]*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Metric, len(r.metrics))
	for key, metric := range r.metrics {
		snapshot := *metric
		snapshot.Labels = maps.Clone(metric.Labels)
		result[key] = &snapshot
	}
	return result
}

// Reset clears all metrics.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = make(map[string]*Metric)
}

// TargetFinished implements Recorder.
func (r *Registry) TargetFinished(status string) {
	r.Counter(MetricTargetsTotal, Labels{"status": status})
}

// SetInFlight implements Recorder.
func (r *Registry) SetInFlight(n int) {
	r.Gauge(MetricInFlight, float64(n), nil)
}

// FetchFailed implements Recorder.
func (r *Registry) FetchFailed(capability string) {
	r.Counter(MetricFetchFailures, Labels{"capability": capability})
}

// PersistFailed implements Recorder.
func (r *Registry) PersistFailed(sink string) {
	r.Counter(MetricPersistFailures, Labels{"sink": sink})
}

// ScanCompleted implements Recorder.
func (r *Registry) ScanCompleted(duration time.Duration, targets int) {
	r.Histogram(MetricScanDuration, duration.Seconds(), nil)
	r.Gauge(MetricScanTargets, float64(targets), nil)
}

// makeKey creates a unique key for a metric based on name and sorted labels.
func makeKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		b.WriteString(":" + k + "=" + labels[k])
	}
	return b.String()
}

// Timer provides a simple way to measure execution time.
type Timer struct {
	start    time.Time
	name     string
	labels   Labels
	registry MetricsRegistry
}

// NewTimer creates a timer that records into registry when stopped.
func NewTimer(registry MetricsRegistry, name string, labels Labels) *Timer {
	return &Timer{
		start:    time.Now(),
		name:     name,
		labels:   labels,
		registry: registry,
	}
}

// Stop records the elapsed time as a histogram observation.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.start)
	t.registry.Histogram(t.name, duration.Seconds(), t.labels)
	return duration
}
