package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the
	// store. It must never be conflated with "still processing": a task that
	// exists always answers with its current status.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity (e.g. a task with an already-used ID).
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidTransition is returned when a status update violates the
	// task state machine. The write is rejected; it indicates a bug in
	// caller logic and must not be retried.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotTerminal is returned when a delete is attempted on a task that
	// has not yet reached a terminal status.
	ErrNotTerminal = errors.New("task is not in a terminal status")

	// ErrResourceExhausted is returned when a store or broker connection
	// pool is saturated. Callers must back off with jitter and a bounded
	// retry count, never retry unboundedly.
	ErrResourceExhausted = errors.New("connection pool exhausted")

	// ErrTaskNotFound indicates that the requested task does not exist in
	// the store or belongs to a different owner.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidTransitionError checks if the error is a state machine violation.
func IsInvalidTransitionError(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsResourceExhaustedError checks if the error signals pool saturation.
func IsResourceExhaustedError(err error) bool {
	return errors.Is(err, ErrResourceExhausted)
}

// StoreError is a custom error type for store-specific errors with
// additional context.
type StoreError struct {
	Entity    string // The entity type (e.g. "task")
	Operation string // The operation that failed (e.g. "create", "update")
	Message   string // Error message
	Err       error  // Original error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf(
			"%s operation on %s failed: %s: %v",
			e.Operation,
			e.Entity,
			e.Message,
			e.Err,
		)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError with the given entity, operation,
// message, and wrapped error.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
