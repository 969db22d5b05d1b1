package store

import (
	"context"
	"errors"
	"time"

	"github.com/atspro/task-service/internal/domain"
	"github.com/google/uuid"
)

// Outcome describes how a worker finished with a claimed task.
type Outcome string

const (
	// OutcomeSuccess releases the claim after a completed write.
	OutcomeSuccess Outcome = "success"

	// OutcomeTerminal releases the claim after a failed or cancelled write.
	OutcomeTerminal Outcome = "terminal"

	// OutcomeRetryable releases the claim and re-enqueues the task at the
	// tail of its priority tier.
	OutcomeRetryable Outcome = "retryable"
)

// ErrNotClaimed is returned when a heartbeat or release refers to a task the
// given worker does not currently hold. The usual cause is a lease that
// expired and was reclaimed while the worker stalled.
var ErrNotClaimed = errors.New("task is not claimed by this worker")

// TaskBroker is the transient hand-off of pending work from producers to
// workers. It carries only task IDs and lease bookkeeping; it is never
// consulted for task status. The TaskStore answers all status queries.
//
// Delivery is at-least-once: a task ID may be delivered again after a lease
// expires, and the TaskStore's transition guard is what keeps duplicate
// deliveries from corrupting the durable record.
type TaskBroker interface {
	// Enqueue appends the task ID to its priority tier. Must only be called
	// after the durable create has succeeded (store-write-then-enqueue).
	Enqueue(ctx context.Context, taskID uuid.UUID, priority domain.TaskPriority) error

	// Dequeue blocks up to timeout and destructively claims a pending task
	// for the worker, moving it to the in-flight set under a lease.
	// Returns ok=false on timeout or when the popped entry was cancelled.
	Dequeue(ctx context.Context, workerID string, timeout time.Duration) (taskID uuid.UUID, ok bool, err error)

	// Heartbeat extends the worker's lease; required periodically while a
	// task executes. Returns ErrNotClaimed once the lease has been lost.
	Heartbeat(ctx context.Context, workerID string, taskID uuid.UUID) error

	// Release removes the in-flight claim; OutcomeRetryable re-enqueues at
	// the tail of the task's tier instead.
	Release(ctx context.Context, workerID string, taskID uuid.UUID, outcome Outcome, priority domain.TaskPriority) error

	// Cancel drops a pending entry, or flags the task for dequeue-time
	// skipping when the entry is not found pending.
	Cancel(ctx context.Context, taskID uuid.UUID) error

	// ReclaimExpired removes in-flight entries whose lease deadline has
	// passed and returns their task IDs for the caller to retry or fail.
	ReclaimExpired(ctx context.Context) ([]uuid.UUID, error)

	// InFlight reports whether the task currently holds a live lease.
	InFlight(ctx context.Context, taskID uuid.UUID) (bool, error)
}
