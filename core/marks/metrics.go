package marks

import "time"

// Write outcomes
const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
)

// Metrics receives the engine's operational measurements.
type Metrics interface {
	ObserveOperation(op string, elapsed time.Duration, err error)
	MarkWritten(outcome string)
	ConflictRetried()
	BatchProcessed(strategy string, size, failed int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) MarkWritten(string)                           {}
func (noopMetrics) ConflictRetried()                             {}
func (noopMetrics) BatchProcessed(string, int, int)              {}
