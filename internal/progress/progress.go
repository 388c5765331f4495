// Package progress implements the cooperative cancellation and progress
// reporting surface (spec §4.13). A Tracker adapts hostport.TaskReporter for
// one filter operation, records Prometheus metrics the way the teacher's
// metrics.Collector records query/storage metrics, and carries a
// context.Context cancellation token through the operation's goroutines —
// the same idiom the teacher uses for graceful shutdown.
package progress

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/filtergeist/filtergeist/internal/hostport"
)

// Collector records Prometheus metrics for filter operations, mirroring the
// teacher's metrics.Collector shape (counters + duration histograms keyed by
// an outcome label).
type Collector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	stepsTotal        *prometheus.CounterVec
	cancellationsTotal prometheus.Counter
}

// NewCollector builds a Collector under namespace (default "filtergeist").
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "filtergeist"
	}
	return &Collector{
		operationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "filter_operations_total",
				Help:      "Total number of filter operations by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		operationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "filter_operation_duration_seconds",
				Help:      "Filter operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		stepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "filter_plan_steps_total",
				Help:      "Total number of multi-step plan steps executed by operation type",
			},
			[]string{"operation_type"},
		),
		cancellationsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "filter_operations_canceled_total",
				Help:      "Total number of filter operations canceled by the user",
			},
		),
	}
}

// RecordOperation records one filter operation's outcome and duration.
func (c *Collector) RecordOperation(backend string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	c.operationsTotal.WithLabelValues(backend, outcome).Inc()
	c.operationDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordStep records one executed FilterStep by its operation type.
func (c *Collector) RecordStep(operationType string) {
	c.stepsTotal.WithLabelValues(operationType).Inc()
}

// RecordCancellation records a user-initiated cancellation.
func (c *Collector) RecordCancellation() {
	c.cancellationsTotal.Inc()
}

// Tracker adapts a hostport.TaskReporter plus a cancellation context for one
// filter operation's lifetime (spec §4.13). The orchestrator checks
// Canceled() before each target layer so a cancellation takes effect at the
// next layer boundary rather than mid-statement.
type Tracker struct {
	ctx      context.Context
	cancel   context.CancelFunc
	reporter hostport.TaskReporter
}

// NewTracker derives a cancelable context from parent and pairs it with
// reporter. reporter may be nil, in which case progress/messages are
// dropped and only cancellation is tracked.
func NewTracker(parent context.Context, reporter hostport.TaskReporter) *Tracker {
	ctx, cancel := context.WithCancel(parent)
	return &Tracker{ctx: ctx, cancel: cancel, reporter: reporter}
}

// Context returns the operation's cancelable context.
func (t *Tracker) Context() context.Context {
	return t.ctx
}

// Cancel cancels the operation's context, taking effect at the orchestrator's
// next checkpoint.
func (t *Tracker) Cancel() {
	t.cancel()
}

// Canceled reports whether the operation has been canceled, either through
// Cancel, the parent context, or the host reporter's own cancellation
// signal (e.g. the user closed the host's progress dialog).
func (t *Tracker) Canceled() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
	}
	if t.reporter != nil {
		return t.reporter.Canceled()
	}
	return false
}

// Describe forwards a human-readable status string to the host, if any.
func (t *Tracker) Describe(text string) {
	if t.reporter != nil {
		t.reporter.Description(text)
	}
}

// ReportProgress forwards a 0-100 percent completion value to the host.
func (t *Tracker) ReportProgress(pct int) {
	if t.reporter != nil {
		t.reporter.Progress(pct)
	}
}

// Message forwards an informational or warning message to the host's
// message bar.
func (t *Tracker) Message(category, text string, severity hostport.Severity) {
	if t.reporter != nil {
		t.reporter.PushMessage(category, text, severity)
	}
}

// StepProgress computes the 0-100 percent complete for step (1-indexed) of
// total, for callers reporting progress across a multi-step plan.
func StepProgress(step, total int) int {
	if total <= 0 {
		return 0
	}
	pct := (step * 100) / total
	if pct > 100 {
		pct = 100
	}
	return pct
}
