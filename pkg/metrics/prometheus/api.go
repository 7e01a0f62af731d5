package prometheus

import (
	"strconv"
	"time"

	"github.com/marmos91/plevy/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// apiMetrics is the Prometheus implementation of metrics.APIMetrics.
type apiMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	entriesCreated  prometheus.Counter
}

// NewAPIMetrics creates a new Prometheus-backed APIMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewAPIMetrics() metrics.APIMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopAPIMetrics()
	}

	return newAPIMetrics(metrics.GetRegistry())
}

// newAPIMetrics registers the collectors with reg.
func newAPIMetrics(reg prometheus.Registerer) *apiMetrics {
	return &apiMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "plevy_api_requests_total",
				Help: "Total number of management API requests by method, route, and status code",
			},
			[]string{"method", "route", "code"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plevy_api_request_duration_seconds",
				Help:    "Duration of management API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		entriesCreated: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "plevy_api_entries_created_total",
				Help: "Total number of entries created through the management API",
			},
		),
	}
}

func (m *apiMetrics) RecordRequest(method, route string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *apiMetrics) RecordEntryCreated() {
	m.entriesCreated.Inc()
}
