// Package mocks provides centralized mock implementations for testing.
//
// Instead of defining inline mocks in individual test files, these
// standardized implementations can be reused across test packages. Each mock
// exposes Fn fields to override behavior per test; when an Fn field is nil
// the mock falls back to a functional in-memory implementation that honors
// the same invariants as the real one (notably the status transition guard
// of the task store).
//
// Usage:
//
//	import "github.com/atspro/task-service/internal/mocks"
//
//	func TestSomething(t *testing.T) {
//	    taskStore := mocks.NewMockTaskStore()
//	    taskStore.UpdateStatusFn = func(ctx context.Context, id uuid.UUID, status domain.TaskStatus, update store.StatusUpdate) error {
//	        return store.ErrInvalidTransition
//	    }
//
//	    // Use the mock in your test...
//	}
package mocks
