package service

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// ErrAggregationFailed is wrapped by every AggregationError.
var ErrAggregationFailed = errors.New("aggregation failed")

// ErrCoalesceTimeout is returned when a caller gives up waiting on a shared fan-out.
// It also wraps context.DeadlineExceeded.
var ErrCoalesceTimeout = errors.New("timed out waiting for shared aggregation")

// SourceFailure pairs a source name with the error its fetch returned.
type SourceFailure struct {
	Source string
	Err    error
}

// AggregationError reports every source that failed during one aggregation call.
// No partial result accompanies it.
type AggregationError struct {
	Failures []SourceFailure
	Total    int
	combined error
}

// NewAggregationError combines failures from one call over total sources.
func NewAggregationError(failures []SourceFailure, total int) *AggregationError {
	var combined error
	for _, f := range failures {
		combined = multierr.Append(combined, f.Err)
	}
	return &AggregationError{Failures: failures, Total: total, combined: combined}
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("%v: %d of %d sources failed: %v", ErrAggregationFailed, len(e.Failures), e.Total, e.combined)
}

// Unwrap exposes ErrAggregationFailed and each source error to errors.Is and errors.As.
func (e *AggregationError) Unwrap() []error {
	return append([]error{ErrAggregationFailed}, multierr.Errors(e.combined)...)
}

// FailedSources lists failed source names in input order.
func (e *AggregationError) FailedSources() []string {
	out := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Source
	}
	return out
}
