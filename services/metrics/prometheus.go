package metricsvc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/trezcool/masomo-marks/core"
	"github.com/trezcool/masomo-marks/core/marks"
)

// PrometheusMetrics records the marks engine measurements as Prometheus series.
type PrometheusMetrics struct {
	opDuration   *prometheus.HistogramVec
	marksWritten *prometheus.CounterVec
	conflicts    prometheus.Counter
	batchSize    *prometheus.HistogramVec
	batchFailed  *prometheus.CounterVec
}

var _ marks.Metrics = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics registers the series in reg. A nil reg registers nothing.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		opDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "masomo",
				Subsystem: "marks",
				Name:      "operation_duration_seconds",
				Help:      "Duration of the marks engine operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "status"},
		),
		marksWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "masomo",
				Subsystem: "marks",
				Name:      "written_total",
				Help:      "Marks written, by outcome (created or updated).",
			},
			[]string{"outcome"},
		),
		conflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "masomo",
			Subsystem: "marks",
			Name:      "conflicts_retried_total",
			Help:      "Unique key conflicts resolved by retrying the upsert.",
		}),
		batchSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "masomo",
				Subsystem: "marks",
				Name:      "batch_size",
				Help:      "Number of elements per bulk upsert.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 6),
			},
			[]string{"strategy"},
		),
		batchFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "masomo",
				Subsystem: "marks",
				Name:      "batch_failed_elements_total",
				Help:      "Bulk upsert elements that were not written.",
			},
			[]string{"strategy"},
		),
	}
}

// status classifies err for the status label.
func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case core.IsValidation(err):
		return "invalid"
	case core.IsNotFound(err):
		return "not_found"
	case core.IsConflict(err):
		return "conflict"
	}
	return "error"
}

func (pm *PrometheusMetrics) ObserveOperation(op string, elapsed time.Duration, err error) {
	pm.opDuration.WithLabelValues(op, status(err)).Observe(elapsed.Seconds())
}

func (pm *PrometheusMetrics) MarkWritten(outcome string) {
	pm.marksWritten.WithLabelValues(outcome).Inc()
}

func (pm *PrometheusMetrics) ConflictRetried() {
	pm.conflicts.Inc()
}

func (pm *PrometheusMetrics) BatchProcessed(strategy string, size, failed int) {
	pm.batchSize.WithLabelValues(strategy).Observe(float64(size))
	pm.batchFailed.WithLabelValues(strategy).Add(float64(failed))
}
