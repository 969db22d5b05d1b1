package api

import (
	"encoding/json"
	"time"

	"github.com/atspro/task-service/internal/domain"
	"github.com/google/uuid"
)

// CreateTaskRequest is the payload for submitting a new task.
type CreateTaskRequest struct {
	Type     string          `json:"type"     validate:"required"`
	Input    json.RawMessage `json:"input"    validate:"required"`
	Priority string          `json:"priority" validate:"omitempty,oneof=high normal low"`
}

// TaskResponse is the client-facing projection of a task. The input payload
// is not echoed back; clients already have it and results can be large
// enough on their own.
type TaskResponse struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Priority    string          `json:"priority"`
	Progress    int             `json:"progress"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	RetryCount  int             `json:"retry_count"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// TaskListResponse wraps a page of tasks.
type TaskListResponse struct {
	Tasks  []TaskResponse `json:"tasks"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// NewTaskResponse converts a domain task to its API representation.
func NewTaskResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:          task.ID,
		Type:        task.Type,
		Status:      string(task.Status),
		Priority:    string(task.Priority),
		Progress:    task.Progress,
		Result:      task.Result,
		Error:       task.Error,
		RetryCount:  task.RetryCount,
		CreatedAt:   task.CreatedAt,
		StartedAt:   task.StartedAt,
		CompletedAt: task.CompletedAt,
	}
}

// HealthResponse reports the reachability of the service's dependencies.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Broker string `json:"broker"`
}
