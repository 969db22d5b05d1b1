package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atspro/task-service/internal/domain"
	"github.com/atspro/task-service/internal/store"
	"github.com/google/uuid"
)

// HandlerRegistry is the slice of the worker registry the service needs for
// admission validation of task types.
type HandlerRegistry interface {
	// Supports reports whether a handler is registered for the task type.
	Supports(taskType string) bool
	// Types returns the registered task types, sorted.
	Types() []string
}

// defaultListLimit and maxListLimit bound ListTasks pagination.
const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// TaskService implements the task lifecycle operations backed by the durable
// store and the queue broker. The store write always precedes the broker
// write on submission, so the queue never references a task that does not
// durably exist.
type TaskService struct {
	store      store.TaskStore
	broker     store.TaskBroker
	registry   HandlerRegistry
	maxRetries int
	logger     *slog.Logger
}

// NewTaskService creates a TaskService. maxRetries is the retry budget
// stamped onto new tasks; zero or negative falls back to the domain default.
func NewTaskService(
	taskStore store.TaskStore,
	broker store.TaskBroker,
	registry HandlerRegistry,
	maxRetries int,
	logger *slog.Logger,
) *TaskService {
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}
	return &TaskService{
		store:      taskStore,
		broker:     broker,
		registry:   registry,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// CreateTask validates and persists a new task, then hands it to the broker.
// The returned task is in status pending, or failed if the broker rejected
// the enqueue: the durable record then carries the reason rather than
// silently never running.
func (s *TaskService) CreateTask(
	ctx context.Context,
	ownerID uuid.UUID,
	taskType string,
	input json.RawMessage,
	priority domain.TaskPriority,
) (*domain.Task, error) {
	if !s.registry.Supports(taskType) {
		return nil, fmt.Errorf("%w: %q (supported: %v)", ErrUnsupportedTaskType, taskType, s.registry.Types())
	}

	task, err := domain.NewTask(ownerID, taskType, input, priority)
	if err != nil {
		return nil, err
	}
	task.MaxRetries = s.maxRetries

	if err := s.store.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}

	if err := s.broker.Enqueue(ctx, task.ID, task.Priority); err != nil {
		s.logger.Error("failed to enqueue task, marking failed",
			"task_id", task.ID,
			"task_type", task.Type,
			"error", err)
		reason := fmt.Sprintf("failed to enqueue: %v", err)
		completedAt := time.Now().UTC()
		if updateErr := s.store.UpdateStatus(ctx, task.ID, domain.TaskStatusFailed, store.StatusUpdate{
			Error:       &reason,
			CompletedAt: &completedAt,
		}); updateErr != nil {
			s.logger.Error("failed to mark unenqueued task failed",
				"task_id", task.ID,
				"error", updateErr)
		}
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.logger.Info("task submitted",
		"task_id", task.ID,
		"task_type", task.Type,
		"priority", task.Priority)
	return task, nil
}

// GetTask returns the task scoped to its owner.
func (s *TaskService) GetTask(ctx context.Context, id, ownerID uuid.UUID) (*domain.Task, error) {
	return s.store.Get(ctx, id, ownerID)
}

// ListTasks returns the owner's tasks, newest first, narrowed by filter.
// The page limit is clamped to a sane range.
func (s *TaskService) ListTasks(
	ctx context.Context,
	ownerID uuid.UUID,
	filter store.TaskFilter,
	page store.Page,
) ([]*domain.Task, error) {
	if page.Limit <= 0 {
		page.Limit = defaultListLimit
	}
	if page.Limit > maxListLimit {
		page.Limit = maxListLimit
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	return s.store.ListByOwner(ctx, ownerID, filter, page)
}

// CancelTask transitions a live task to cancelled and removes it from the
// broker's pending queues. A running task keeps executing until its next
// progress checkpoint, where the rejected status write tells the worker to
// stop; the terminal cancelled record is written here, exactly once.
// Returns ErrTaskTerminal if the task already finished.
func (s *TaskService) CancelTask(ctx context.Context, id, ownerID uuid.UUID) error {
	task, err := s.store.Get(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if task.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTaskTerminal, task.Status)
	}

	completedAt := time.Now().UTC()
	err = s.store.UpdateStatus(ctx, id, domain.TaskStatusCancelled, store.StatusUpdate{
		CompletedAt: &completedAt,
	})
	if err != nil {
		if store.IsInvalidTransitionError(err) {
			// Lost the race against a worker's terminal write.
			return fmt.Errorf("%w: %s", ErrTaskTerminal, task.Status)
		}
		return fmt.Errorf("failed to cancel task: %w", err)
	}

	// Best effort: remove the pending entry or flag the in-flight claim.
	// The durable record is already cancelled either way; a worker that
	// misses the broker signal stops at its next status write.
	if err := s.broker.Cancel(ctx, id); err != nil {
		s.logger.Warn("failed to signal cancellation to broker",
			"task_id", id,
			"error", err)
	}

	s.logger.Info("task cancelled", "task_id", id)
	return nil
}

// DeleteTask hard-deletes a terminal task scoped to its owner. Returns
// ErrTaskNotTerminal if the task has not finished; cancel it first.
func (s *TaskService) DeleteTask(ctx context.Context, id, ownerID uuid.UUID) error {
	err := s.store.Delete(ctx, id, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrNotTerminal) {
			return fmt.Errorf("%w: cancel it first", ErrTaskNotTerminal)
		}
		return err
	}
	s.logger.Info("task deleted", "task_id", id)
	return nil
}
