package library

import (
	"errors"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/metrics"
)

// EffectFailure names a best-effort side effect that failed after the primary write succeeded.
type EffectFailure struct {
	Effect string
	Err    error
}

// Effects collects the secondary failures of one operation. An operation that returns a
// nil error with a non-empty Effects has committed its primary write.
type Effects struct {
	Failures []EffectFailure
}

func (e *Effects) record(effect string, err error) {
	if err == nil {
		return
	}
	metrics.SecondaryEffectFailures.WithLabelValues(effect).Inc()
	e.Failures = append(e.Failures, EffectFailure{Effect: effect, Err: err})
}

func (e *Effects) merge(other Effects) {
	e.Failures = append(e.Failures, other.Failures...)
}

// Failed reports whether any side effect failed.
func (e Effects) Failed() bool {
	return len(e.Failures) > 0
}

// Err joins every recorded failure, or returns nil.
func (e Effects) Err() error {
	if len(e.Failures) == 0 {
		return nil
	}
	joined := make([]error, 0, len(e.Failures))
	for _, failure := range e.Failures {
		joined = append(joined, failure.Err)
	}
	return errors.Join(joined...)
}

// ReviewResult is the outcome of a review mutation.
type ReviewResult struct {
	Review  Review
	Effects Effects
}
