// Package metrics provides interfaces for metrics collection and monitoring.
package metrics

import "time"

//go:generate mockgen -destination=mocks/mock_metrics.go -package=mocks github.com/anstrom/inventorama/internal/metrics MetricsRegistry,Recorder

// MetricsRegistry defines the interface for metrics collection and management.
// This interface allows for easy mocking and testing of metrics functionality.
type MetricsRegistry interface {
	// SetEnabled enables or disables metrics collection.
	SetEnabled(enabled bool)

	// IsEnabled returns whether metrics collection is enabled.
	IsEnabled() bool

	// Counter increments a counter metric with the given name and labels.
	Counter(name string, labels Labels)

	// Gauge sets a gauge metric to the specified value with the given name and labels.
	Gauge(name string, value float64, labels Labels)

	// Histogram records a value in a histogram metric with the given name and labels.
	Histogram(name string, value float64, labels Labels)

	// GetMetrics returns a snapshot of all current metrics.
	GetMetrics() map[string]*Metric

	// Reset clears all metrics from the registry.
	Reset()
}

// Recorder receives the events of a scan run.
type Recorder interface {
	// TargetFinished counts a target reaching a terminal status.
	TargetFinished(status string)

	// SetInFlight reports the number of running pipelines.
	SetInFlight(n int)

	// FetchFailed counts a failed capability fetch.
	FetchFailed(capability string)

	// PersistFailed counts a skipped durable write for the named sink.
	PersistFailed(sink string)

	// ScanCompleted records the duration and size of a finished run.
	ScanCompleted(duration time.Duration, targets int)
}

// Nop discards every event.
type Nop struct{}

func (Nop) TargetFinished(string) {}
func (Nop) SetInFlight(int) {}
func (Nop) FetchFailed(string) {}
func (Nop) PersistFailed(string) {}
func (Nop) ScanCompleted(time.Duration, int) {}

var (
	_ MetricsRegistry = (*Registry)(nil)
	_ Recorder        = (*Registry)(nil)
	_ Recorder        = (*PrometheusMetrics)(nil)
	_ Recorder        = Nop{}
)
