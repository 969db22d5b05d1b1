package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/atspro/task-service/internal/domain"
	"github.com/google/uuid"
)

// StatusUpdate carries the optional fields that accompany a status
// transition. Nil fields are left untouched by the write.
type StatusUpdate struct {
	// Progress, when set, raises the task's progress. Progress is monotone
	// while running: a lower value than the stored one is a no-op.
	Progress *int

	// Result is written on transition to completed.
	Result json.RawMessage

	// Error is the human-readable failure reason, written on transition to
	// failed.
	Error *string

	// StartedAt is stamped on transition to running.
	StartedAt *time.Time

	// CompletedAt is stamped on any transition to a terminal status.
	CompletedAt *time.Time

	// RetryCount, when set, replaces the stored retry counter. Used by the
	// retry re-queue and lease reclaim paths.
	RetryCount *int
}

// TaskFilter narrows ListByOwner results.
type TaskFilter struct {
	Status *domain.TaskStatus
	Type   *string
}

// Page describes offset pagination for list queries.
type Page struct {
	Limit  int
	Offset int
}

// TaskStore is the durable, authoritative record of task state.
//
// UpdateStatus is an atomic compare-and-set guarded by the legal-transition
// table in the domain package: the write succeeds only if the task's current
// status is a legal source for newStatus, otherwise ErrInvalidTransition is
// returned. Every terminal write goes through this method and nothing else;
// a duplicate completion write from a retried worker is rejected rather than
// silently overwriting the record.
type TaskStore interface {
	// Create persists a new task with status pending.
	// Returns ErrDuplicate on an ID collision.
	Create(ctx context.Context, task *domain.Task) error

	// Get returns the task with the given ID scoped to owner.
	// Returns ErrTaskNotFound if absent or the owner does not match,
	// never a silent empty result.
	Get(ctx context.Context, id, ownerID uuid.UUID) (*domain.Task, error)

	// GetByID returns the task regardless of owner. Used by workers and
	// sweeps, which operate across owners.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// UpdateStatus atomically transitions the task to newStatus, applying
	// the accompanying fields. Returns ErrTaskNotFound if the task does not
	// exist and ErrInvalidTransition if the current status does not permit
	// the transition.
	UpdateStatus(ctx context.Context, id uuid.UUID, newStatus domain.TaskStatus, update StatusUpdate) error

	// ListByOwner returns the owner's tasks, newest first, narrowed by
	// filter and paginated.
	ListByOwner(ctx context.Context, ownerID uuid.UUID, filter TaskFilter, page Page) ([]*domain.Task, error)

	// ListStuck returns running tasks whose last update is older than the
	// given age. Used by the crash-recovery sweep.
	ListStuck(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error)

	// ListByStatus returns all tasks currently in the given status, oldest
	// first. Used by startup recovery.
	ListByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error)

	// Delete hard-deletes the task scoped to owner. Only permitted once the
	// task is terminal; returns ErrNotTerminal otherwise and
	// ErrTaskNotFound if absent.
	Delete(ctx context.Context, id, ownerID uuid.UUID) error

	// DeleteTerminalBefore hard-deletes terminal tasks whose completion
	// time is older than cutoff, returning the number removed. Used by the
	// retention sweep.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
