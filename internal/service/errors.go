// Package service provides the application-level task lifecycle operations
// that sit between the HTTP API and the store/broker pair.
package service

import "errors"

// Common service errors - sentinel errors used across service implementations.
// Callers check for these with errors.Is(); the API layer maps them to HTTP
// status codes.
var (
	// ErrUnsupportedTaskType indicates a task submission named a type with
	// no registered handler. API layer should map this to HTTP 400.
	ErrUnsupportedTaskType = errors.New("unsupported task type")

	// ErrTaskTerminal indicates an operation that requires a live task was
	// attempted on one that already reached a terminal status. API layer
	// should map this to HTTP 409 Conflict.
	ErrTaskTerminal = errors.New("task already in a terminal status")

	// ErrTaskNotTerminal indicates a purge was attempted on a task that has
	// not finished. API layer should map this to HTTP 409 Conflict.
	ErrTaskNotTerminal = errors.New("task has not reached a terminal status")
)
