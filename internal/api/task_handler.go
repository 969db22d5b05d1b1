package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/atspro/task-service/internal/api/middleware"
	"github.com/atspro/task-service/internal/api/shared"
	"github.com/atspro/task-service/internal/domain"
	"github.com/atspro/task-service/internal/service"
	"github.com/atspro/task-service/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// TaskHandler handles the task API endpoints. Every route is scoped to the
// authenticated owner from the request context; the handler never accepts an
// owner ID from the client.
type TaskHandler struct {
	service *service.TaskService
	logger  *slog.Logger
}

// NewTaskHandler creates a new TaskHandler with the given dependencies.
func NewTaskHandler(svc *service.TaskService, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		service: svc,
		logger:  logger,
	}
}

// CreateTask handles POST /api/tasks. The task is accepted for background
// processing, so the success status is 202 with the pending task snapshot;
// clients poll GET /api/tasks/{id} for progress.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	task, err := h.service.CreateTask(r.Context(), ownerID, req.Type, req.Input,
		domain.TaskPriority(req.Priority))
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, NewTaskResponse(task))
}

// GetTask handles GET /api/tasks/{id}, the polling endpoint.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	task, err := h.service.GetTask(r.Context(), taskID, ownerID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewTaskResponse(task))
}

// ListTasks handles GET /api/tasks with optional status, type, limit and
// offset query parameters.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var filter store.TaskFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.TaskStatus(raw)
		if !domain.IsValidTaskStatus(status) {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid status filter")
			return
		}
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		taskType := raw
		filter.Type = &taskType
	}

	page := store.Page{}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid limit")
			return
		}
		page.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid offset")
			return
		}
		page.Offset = offset
	}

	tasks, err := h.service.ListTasks(r.Context(), ownerID, filter, page)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	resp := TaskListResponse{
		Tasks:  make([]TaskResponse, 0, len(tasks)),
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	for _, task := range tasks {
		resp.Tasks = append(resp.Tasks, NewTaskResponse(task))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// DeleteTask handles DELETE /api/tasks/{id}. The default semantics are
// cancellation: a live task transitions to cancelled (204) and a finished
// one conflicts (409). With ?purge=true the terminal record itself is
// hard-deleted instead.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	if r.URL.Query().Get("purge") == "true" {
		err = h.service.DeleteTask(r.Context(), taskID, ownerID)
	} else {
		err = h.service.CancelTask(r.Context(), taskID, ownerID)
	}
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusNoContent, nil)
}
