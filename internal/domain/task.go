package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the processing state of a task.
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TaskPriority orders pending tasks across broker tiers.
type TaskPriority string

// Possible task priority values, drained in strict order high > normal > low.
const (
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityNormal TaskPriority = "normal"
	TaskPriorityLow    TaskPriority = "low"
)

// Task type constants for the built-in handlers.
const (
	// TaskTypeParseResume extracts structured candidate data from resume text.
	TaskTypeParseResume = "parse_resume"

	// TaskTypeParseJob extracts structured fields from a job posting.
	TaskTypeParseJob = "parse_job"
)

// DefaultMaxRetries bounds automatic re-queues of a task after retryable
// failures or expired leases.
const DefaultMaxRetries = 3

// Common validation errors for Task
var (
	ErrEmptyTaskID      = errors.New("task ID cannot be empty")
	ErrEmptyTaskOwnerID = errors.New("task owner ID cannot be empty")
	ErrEmptyTaskType    = errors.New("task type cannot be empty")
	ErrInvalidStatus    = errors.New("invalid task status")
	ErrInvalidPriority  = errors.New("invalid task priority")
	ErrInvalidProgress  = errors.New("task progress must be between 0 and 100")
)

// Task represents a unit of asynchronous work with a durable identity.
// The durable store record is the single source of truth for its state;
// the broker only ever holds a transient pointer to it.
type Task struct {
	ID          uuid.UUID       `json:"id"`
	OwnerID     uuid.UUID       `json:"owner_id"`
	Type        string          `json:"type"`
	Status      TaskStatus      `json:"status"`
	Priority    TaskPriority    `json:"priority"`
	Progress    int             `json:"progress"`
	Input       json.RawMessage `json:"input"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// NewTask creates a new Task with the given owner, type, input payload and
// priority. It generates a new UUID, sets the status to pending, and stamps
// the creation time. Returns an error if validation fails.
func NewTask(ownerID uuid.UUID, taskType string, input json.RawMessage, priority TaskPriority) (*Task, error) {
	if priority == "" {
		priority = TaskPriorityNormal
	}

	task := &Task{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		Type:       taskType,
		Status:     TaskStatusPending,
		Priority:   priority,
		Progress:   0,
		Input:      input,
		MaxRetries: DefaultMaxRetries,
		CreatedAt:  time.Now().UTC(),
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.OwnerID == uuid.Nil {
		return ErrEmptyTaskOwnerID
	}

	if t.Type == "" {
		return ErrEmptyTaskType
	}

	if !IsValidTaskStatus(t.Status) {
		return ErrInvalidStatus
	}

	if !IsValidTaskPriority(t.Priority) {
		return ErrInvalidPriority
	}

	if t.Progress < 0 || t.Progress > 100 {
		return ErrInvalidProgress
	}

	return nil
}

// IsTerminal reports whether the task has reached a terminal status.
// Terminal records are immutable except for owner-initiated deletion.
func (t *Task) IsTerminal() bool {
	return IsTerminalStatus(t.Status)
}

// IsValidTaskStatus checks if the provided status is valid.
func IsValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidTaskPriority checks if the provided priority is valid.
func IsValidTaskPriority(priority TaskPriority) bool {
	switch priority {
	case TaskPriorityHigh, TaskPriorityNormal, TaskPriorityLow:
		return true
	default:
		return false
	}
}

// IsTerminalStatus reports whether status permits no further transitions.
func IsTerminalStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// legalTransitions maps a target status to the set of statuses a task may
// legally hold immediately before the transition. Status writes are
// compare-and-set guarded by this table; terminal statuses never appear as
// a source.
var legalTransitions = map[TaskStatus][]TaskStatus{
	// claimed by a worker
	TaskStatusRunning: {TaskStatusPending},
	// handler success
	TaskStatusCompleted: {TaskStatusRunning},
	// handler fatal error, retries exhausted, or expired lease
	TaskStatusFailed: {TaskStatusPending, TaskStatusRunning},
	// explicit retry re-queue
	TaskStatusPending: {TaskStatusRunning},
	// owner cancellation
	TaskStatusCancelled: {TaskStatusPending, TaskStatusRunning},
}

// AllowedPriorStatuses returns the statuses from which a transition to the
// given target status is legal. Progress updates while running are modeled
// as a running -> running self-transition.
func AllowedPriorStatuses(target TaskStatus) []TaskStatus {
	prior := legalTransitions[target]
	if target == TaskStatusRunning {
		// progress/heartbeat writes re-assert running
		prior = append(prior, TaskStatusRunning)
	}
	return prior
}

// CanTransition reports whether moving a task from one status to another is
// legal under the state machine.
func CanTransition(from, to TaskStatus) bool {
	for _, s := range AllowedPriorStatuses(to) {
		if s == from {
			return true
		}
	}
	return false
}

// TransitionError describes an attempted status write that violates the
// state machine. It indicates a bug in caller logic (for example a duplicate
// completion write from a retried worker) and must not be retried.
type TransitionError struct {
	TaskID uuid.UUID
	From   TaskStatus
	To     TaskStatus
}

// Error implements the error interface for TransitionError.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal task status transition %s -> %s for task %s", e.From, e.To, e.TaskID)
}
