package common

import (
	"errors"
	"fmt"
)

// Domain errors - use errors.Is() to check
var (
	// Generic errors
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrBadRequest = errors.New("bad request")

	// Job errors
	ErrJobNotFound     = fmt.Errorf("job %w", ErrNotFound)
	ErrDocumentMissing = fmt.Errorf("document %w", ErrNotFound)
	ErrJobFinished     = fmt.Errorf("job already finished: %w", ErrConflict)

	// Segment errors
	ErrEmptyPayload   = errors.New("empty audio data")
	ErrInvalidSegment = errors.New("invalid segment index")

	// LockNotAcquired is the expected outcome of a duplicate trigger, not a failure.
	ErrLockNotAcquired = errors.New("job lock not acquired")

	// Pipeline errors
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrSummarizationFailed = errors.New("summarization failed")
	ErrMalformedSummary    = errors.New("malformed summary")
	ErrNoTargetConfigured  = errors.New("no target document configured")
	ErrAppendFailed        = errors.New("append failed")

	// ErrPersistenceFailed is logged by callers and never fails the operation.
	ErrPersistenceFailed = errors.New("persistence failed")

	// Validation errors
	ErrValidation = errors.New("validation error")
)

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is implements errors.Is for ValidationError
func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if error is a conflict error
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsBadInput reports errors caused by the caller's payload rather than by the service.
func IsBadInput(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrBadRequest) ||
		errors.Is(err, ErrEmptyPayload) ||
		errors.Is(err, ErrInvalidSegment)
}
