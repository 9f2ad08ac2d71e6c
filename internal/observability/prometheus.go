package observability

import (
	"cardcore/internal/profiles"
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ profiles.MetricsRecorder = (*PrometheusRecorder)(nil)

// PrometheusRecorder exports engine operations as a counter and a latency
// histogram labelled by operation.
type PrometheusRecorder struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewPrometheusRecorder registers its collectors with reg
// (prometheus.DefaultRegisterer when nil).
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "profile_engine_operations_total",
				Help: "Total number of profile engine operations",
			},
			[]string{"operation", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "profile_engine_operation_duration_seconds",
				Help:    "Duration of profile engine operations",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2, 5},
			},
			[]string{"operation"},
		),
	}
}

// Observe implements profiles.MetricsRecorder.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.operations.WithLabelValues(operation, statusLabel(success)).Inc()
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
}
