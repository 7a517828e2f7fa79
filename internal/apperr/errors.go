package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport covers network and remote API failures.
	ErrTransport = errors.New("transport error")

	// ErrValidation marks invalid input, configuration or article shape.
	ErrValidation = errors.New("validation error")

	// ErrDimensionMismatch means an embedding does not fit the collection. Always fatal.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrStoreIO marks document or chunk persistence failures.
	ErrStoreIO = errors.New("store i/o error")

	// ErrGeneration is returned when answer generation fails. Retrieval results stay usable.
	ErrGeneration = errors.New("generation failed")
)

// ItemError records a failure for a single article or chunk.
type ItemError struct {
	ID  string
	Err error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.ID, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// StageError names the pipeline stage that failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func Dimension(want, got int) error {
	return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, want, got)
}
