package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrJobNotFound is returned when a job is not found or is not visible to the caller.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotCancellable is returned when cancelling a job that already reached a terminal state.
	ErrJobNotCancellable = errors.New("job is not cancellable")

	// ErrSequenceNotFound is returned when a sequence is not found or is not visible to the caller.
	ErrSequenceNotFound = errors.New("sequence not found")

	// ErrStructureNotFound is returned when no structure was predicted for a sequence hash and model.
	ErrStructureNotFound = errors.New("structure not found")
)
