package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// ErrInvalidArgument covers malformed designs, out-of-range probabilities,
	// non-positive replicate counts and mismatched parameter vectors.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrFitFailure is returned when a model fit does not converge.
	ErrFitFailure = errors.New("model fit failed to converge")

	// ErrSingularFit labels a fit whose variance components collapsed to the
	// boundary. Replicates record it as data; it is never raised by the pipeline.
	ErrSingularFit = errors.New("singular fit")

	ErrNotFound = errors.New("resource not found")
)

// Error constructors with context
func NewInvalidArgument(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidArgument, field, reason)
}

func NewInvalidArgumentf(field string, format string, args ...interface{}) error {
	return NewInvalidArgument(field, fmt.Sprintf(format, args...))
}

func NewFitFailure(reason string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrFitFailure, reason)
	}
	return fmt.Errorf("%w: %s: %v", ErrFitFailure, reason, cause)
}

func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

// Error checking helpers
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

func IsFitFailure(err error) bool {
	return errors.Is(err, ErrFitFailure)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
