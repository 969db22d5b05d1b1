package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/atspro/task-service/internal/domain"
	"github.com/atspro/task-service/internal/service"
	"github.com/atspro/task-service/internal/service/auth"
	"github.com/atspro/task-service/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Authentication errors
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized

	// Not found errors. Ownership mismatches surface as not-found too,
	// so task IDs are not enumerable across owners.
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, service.ErrTaskTerminal),
		errors.Is(err, service.ErrTaskNotTerminal),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrNotTerminal),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, service.ErrUnsupportedTaskType),
		errors.Is(err, domain.ErrInvalidPriority),
		errors.Is(err, domain.ErrEmptyTaskType),
		errors.Is(err, domain.ErrInvalidProgress):
		return http.StatusBadRequest

	// Backpressure from the broker's bounded connection pool
	case errors.Is(err, store.ErrResourceExhausted):
		return http.StatusServiceUnavailable

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message based
// on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return "Invalid token"

	case errors.Is(err, store.ErrNotFound):
		return "Task not found"

	case errors.Is(err, service.ErrTaskTerminal):
		return "Task already finished"

	case errors.Is(err, service.ErrTaskNotTerminal),
		errors.Is(err, store.ErrNotTerminal):
		return "Task has not finished; cancel it first"

	case errors.Is(err, store.ErrInvalidTransition):
		return "Task state changed concurrently; re-fetch and retry"

	case errors.Is(err, service.ErrUnsupportedTaskType):
		return "Unsupported task type"

	case errors.Is(err, domain.ErrInvalidPriority):
		return "Invalid priority"

	case errors.Is(err, store.ErrResourceExhausted):
		return "Service busy, retry shortly"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	if strings.Contains(errMsg, "Field validation") {
		// Example: "Key: 'CreateTaskRequest.Type' Error:Field validation for 'Type' failed on the 'required' tag"
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}
				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
