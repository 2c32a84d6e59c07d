package metricsvc

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/masomo-marks/core"
	"github.com/trezcool/masomo-marks/core/marks"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: "ok"},
		{err: core.NewValidationError(nil, core.FieldError{Field: "semester", Error: "this field is required"}), want: "invalid"},
		{err: core.NewNotFoundError("student", "ghost"), want: "not_found"},
		{err: core.NewConflictError("k"), want: "conflict"},
		{err: errors.New("boom"), want: "error"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, status(tt.err))
		})
	}
}

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(reg)

	pm.MarkWritten(marks.OutcomeCreated)
	pm.MarkWritten(marks.OutcomeCreated)
	pm.MarkWritten(marks.OutcomeUpdated)
	pm.ConflictRetried()
	pm.BatchProcessed("fanout", 10, 3)
	pm.ObserveOperation("upsert_one", 20*time.Millisecond, nil)
	pm.ObserveOperation("upsert_one", 5*time.Millisecond, core.NewNotFoundError("student", "ghost"))

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.marksWritten.WithLabelValues(marks.OutcomeCreated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.marksWritten.WithLabelValues(marks.OutcomeUpdated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.conflicts))
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.batchFailed.WithLabelValues("fanout")))
	assert.Equal(t, 2, testutil.CollectAndCount(pm.opDuration))

	n, err := testutil.GatherAndCount(reg, "masomo_marks_written_total")
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
}
