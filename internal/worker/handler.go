// Package worker executes background tasks pulled from the queue broker.
//
// Each worker slot loops dequeue -> mark running -> execute handler ->
// terminal store write -> broker release. Every terminal status reaches the
// durable store before the broker entry is released, so a client polling
// only the store always observes a terminal state eventually.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/atspro/task-service/internal/domain"
)

// ErrTaskCancelled is returned by a progress checkpoint once the task has
// been cancelled by its owner. Handlers must stop work and return it
// unchanged.
var ErrTaskCancelled = errors.New("task cancelled")

// ErrUnsupportedType is returned when a task names a type with no registered
// handler. The API rejects such tasks at admission; if one ever reaches a
// worker (a race with handler registry changes across deploys) it is treated
// as fatal and non-retryable, never left to stall.
var ErrUnsupportedType = errors.New("unsupported task type")

// ProgressFunc reports handler progress (0-100). It doubles as the
// cooperative cancellation checkpoint: it returns ErrTaskCancelled once the
// task has left the running state, and handlers are expected to call it
// before and after each external call or expensive stage.
type ProgressFunc func(ctx context.Context, progress int) error

// Handler executes tasks of a single type.
type Handler interface {
	// Type returns the task type identifier this handler serves.
	Type() string

	// Execute runs the task against its input payload and returns the
	// result payload. Errors are retryable unless wrapped with Fatal;
	// ErrTaskCancelled aborts without a terminal write by the worker.
	Execute(ctx context.Context, task *domain.Task, report ProgressFunc) (json.RawMessage, error)
}

// fatalError marks a handler failure as permanent: malformed input, a
// missing required external dependency, anything a retry cannot fix.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err so the worker classifies the failure as non-retryable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked non-retryable with Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// Registry holds the closed set of task types the worker pool can execute.
// The API validates createTask requests against the same registry, so an
// unsupported type is rejected at admission rather than discovered by a
// worker.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler for its task type.
// Returns an error if the type is already registered.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	taskType := h.Type()
	if taskType == "" {
		return fmt.Errorf("handler has empty task type")
	}
	if _, exists := r.handlers[taskType]; exists {
		return fmt.Errorf("handler already registered for type %q", taskType)
	}
	r.handlers[taskType] = h
	return nil
}

// Get returns the handler for the given task type.
func (r *Registry) Get(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// Supports reports whether a handler is registered for the given task type.
func (r *Registry) Supports(taskType string) bool {
	_, ok := r.Get(taskType)
	return ok
}

// Types returns the sorted list of registered task types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
