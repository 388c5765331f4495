package output

import "time"

// MetricsCollector defines the secondary port for metrics collection
// outside the filter pipeline proper (progress.Collector covers filter
// operations themselves; this covers the surrounding service: fetching the
// backend capability manifest, serving the debug HTTP surface).
type MetricsCollector interface {
	// IncStorageOperations increments the storage operation counter, used
	// when fetching the capability manifest / threshold bundle.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)

	// IncHTTPRequests increments the debug HTTP surface's request counter.
	IncHTTPRequests(path, method string, status int)

	// ObserveHTTPDuration records debug HTTP surface request duration.
	ObserveHTTPDuration(path, method string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}

// IncHTTPRequests implements MetricsCollector.
func (n *NoOpMetrics) IncHTTPRequests(_, _ string, _ int) {}

// ObserveHTTPDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveHTTPDuration(_, _ string, _ time.Duration) {}
