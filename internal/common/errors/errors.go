// Package errors defines common error types for the versync system.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// Lookup errors
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")

	// Storage errors
	ErrStorage     = errors.New("storage operation failed")
	ErrStoreClosed = errors.New("store is closed")

	// Record errors
	ErrInvalidRecord  = errors.New("invalid record")
	ErrSharerNotFound = errors.New("sharer not found")
	ErrTypeMismatch   = errors.New("path type mismatch")

	// Validation errors
	ErrInvalidInput = errors.New("invalid input")

	// Watcher errors
	ErrQueueFull = errors.New("event queue is full")
)

// VersyncError is a custom error type with additional context.
type VersyncError struct {
	Op      string // Operation that failed
	Kind    error  // Category of error
	Err     error  // Underlying error
	Details string // Additional details
}

// Error implements the error interface.
func (e *VersyncError) Error() string {
	if e.Details != "" {
		if e.Kind == nil {
			return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
		}
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %s (%s)", e.Op, e.Kind, e.Err, e.Details)
		}
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Kind, e.Details)
	}
	if e.Err != nil {
		if e.Kind == nil {
			return fmt.Sprintf("%s: %v", e.Op, e.Err)
		}
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap returns the underlying error.
func (e *VersyncError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error.
func (e *VersyncError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

// E creates a new VersyncError.
func E(op string, kind error, err error, details ...string) error {
	e := &VersyncError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
	if len(details) > 0 {
		e.Details = details[0]
	}
	return e
}

// Wrap wraps an error with operation context.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &VersyncError{
		Op:  op,
		Err: err,
	}
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsStorage checks if the error originates from the storage backend.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsTypeMismatch checks if the error is a path type mismatch.
func IsTypeMismatch(err error) bool {
	return errors.Is(err, ErrTypeMismatch)
}

// Is is a shorthand for the standard library errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a shorthand for the standard library errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New is a shorthand for the standard library errors.New.
func New(text string) error {
	return errors.New(text)
}
