// Package prometheus provides Prometheus-backed implementations of the
// interfaces declared in pkg/metrics.
//
// Every constructor falls back to the matching no-op implementation when
// metrics.InitRegistry has not been called.
package prometheus

import (
	"errors"
	"time"

	"github.com/marmos91/plevy/pkg/metrics"
	"github.com/marmos91/plevy/pkg/projection"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// projectionMetrics is the Prometheus implementation of metrics.ProjectionMetrics.
type projectionMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesRead         prometheus.Counter
	skippedRecords    *prometheus.CounterVec
	sizeFallbacks     prometheus.Counter
}

// NewProjectionMetrics creates a new Prometheus-backed ProjectionMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewProjectionMetrics() metrics.ProjectionMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopProjectionMetrics()
	}

	return newProjectionMetrics(metrics.GetRegistry())
}

// newProjectionMetrics registers the collectors with reg.
func newProjectionMetrics(reg prometheus.Registerer) *projectionMetrics {
	return &projectionMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "plevy_fs_operations_total",
				Help: "Total number of filesystem operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "plevy_fs_operation_duration_milliseconds",
				Help: "Duration of filesystem operations in milliseconds",
				Buckets: []float64{
					0.1,  // 100us
					1,    // 1ms
					10,   // 10ms
					100,  // 100ms
					1000, // 1s
				},
			},
			[]string{"operation"},
		),
		bytesRead: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "plevy_fs_bytes_read_total",
				Help: "Total bytes returned by read operations",
			},
		),
		skippedRecords: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "plevy_fs_skipped_records_total",
				Help: "Repository records left out of listings because they could not be projected",
			},
			[]string{"reason"},
		),
		sizeFallbacks: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "plevy_fs_size_fallbacks_total",
				Help: "Attribute requests that reported size 0 because content size was unavailable",
			},
		),
	}
}

func (m *projectionMetrics) RecordOperation(op string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(op, statusLabel(err)).Inc()
	m.operationDuration.WithLabelValues(op).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *projectionMetrics) RecordBytesRead(bytes int64) {
	m.bytesRead.Add(float64(bytes))
}

func (m *projectionMetrics) RecordSkippedRecord(reason string) {
	m.skippedRecords.WithLabelValues(reason).Inc()
}

func (m *projectionMetrics) RecordSizeFallback() {
	m.sizeFallbacks.Inc()
}

// statusLabel collapses an operation error into a small label set.
func statusLabel(err error) string {
	if err == nil {
		return "success"
	}
	var perr *projection.Error
	if errors.As(err, &perr) {
		switch perr.Code {
		case projection.ErrNotFound:
			return "not_found"
		case projection.ErrIOFailure:
			return "io_failure"
		}
	}
	return "error"
}
