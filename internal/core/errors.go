package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUpstream marks failures of an external dependency such as the prediction service.
	ErrUpstream = errors.New("external service error")
	// ErrJobTimeout marks executions that exceeded the configured wall-clock limit.
	ErrJobTimeout = errors.New("job timed out")
	// ErrPrediction marks unusable prediction output, such as a PDB without confidence scores.
	ErrPrediction = errors.New("prediction error")
	// ErrInvalidResult marks a computed result that cannot be stored, such as a non-finite score.
	ErrInvalidResult = errors.New("job result cannot be stored")
)

// UpstreamError carries the status and a truncated body of a failed outbound call.
// StatusCode is zero when no response was received.
type UpstreamError struct {
	Service    string
	StatusCode int
	Body       string
	Cause      error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Body)
	case e.Cause != nil:
		return fmt.Sprintf("%s request failed: %v", e.Service, e.Cause)
	default:
		return e.Service + " request failed"
	}
}

// Is reports ErrUpstream equivalence.
func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

func (e *UpstreamError) Unwrap() error { return e.Cause }

// TimeoutError reports the limit an execution exceeded.
func TimeoutError(limit time.Duration) error {
	return fmt.Errorf("%w after %s", ErrJobTimeout, limit)
}
