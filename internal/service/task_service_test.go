package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/atspro/task-service/internal/domain"
	"github.com/atspro/task-service/internal/mocks"
	"github.com/atspro/task-service/internal/platform/logger"
	"github.com/atspro/task-service/internal/service"
	"github.com/atspro/task-service/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRegistry supports a fixed set of task types.
type stubRegistry struct {
	types []string
}

func (r *stubRegistry) Supports(taskType string) bool {
	for _, t := range r.types {
		if t == taskType {
			return true
		}
	}
	return false
}

func (r *stubRegistry) Types() []string { return r.types }

type serviceFixture struct {
	svc    *service.TaskService
	store  *mocks.MockTaskStore
	broker *mocks.MockTaskBroker
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	taskStore := mocks.NewMockTaskStore()
	broker := mocks.NewMockTaskBroker()
	registry := &stubRegistry{types: []string{domain.TaskTypeParseResume, domain.TaskTypeParseJob}}
	_, log := logger.SetupTestLogger(t)

	return &serviceFixture{
		svc:    service.NewTaskService(taskStore, broker, registry, domain.DefaultMaxRetries, log),
		store:  taskStore,
		broker: broker,
	}
}

func TestCreateTaskPersistsAndEnqueues(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	ownerID := uuid.New()

	task, err := f.svc.CreateTask(ctx, ownerID, domain.TaskTypeParseResume,
		json.RawMessage(`{"text":"hello"}`), domain.TaskPriorityHigh)
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusPending, task.Status)
	assert.Equal(t, domain.TaskPriorityHigh, task.Priority)
	assert.Equal(t, ownerID, task.OwnerID)

	stored, err := f.store.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, stored.Status)

	assert.Equal(t, []uuid.UUID{task.ID}, f.broker.EnqueueCalls)
}

func TestCreateTaskDefaultsPriority(t *testing.T) {
	f := newServiceFixture(t)

	task, err := f.svc.CreateTask(context.Background(), uuid.New(),
		domain.TaskTypeParseJob, json.RawMessage(`{"text":"x"}`), "")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPriorityNormal, task.Priority)
}

func TestCreateTaskRejectsUnsupportedType(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.CreateTask(context.Background(), uuid.New(),
		"send_email", json.RawMessage(`{}`), domain.TaskPriorityNormal)
	require.ErrorIs(t, err, service.ErrUnsupportedTaskType)
	assert.Empty(t, f.broker.EnqueueCalls, "rejected task must never reach the broker")
}

func TestCreateTaskEnqueueFailureMarksFailed(t *testing.T) {
	f := newServiceFixture(t)
	f.broker.EnqueueFn = func(ctx context.Context, taskID uuid.UUID, priority domain.TaskPriority) error {
		return errors.New("broker unavailable")
	}

	_, err := f.svc.CreateTask(context.Background(), uuid.New(),
		domain.TaskTypeParseResume, json.RawMessage(`{"text":"x"}`), domain.TaskPriorityNormal)
	require.Error(t, err)

	// The durable record exists and explains why it will never run.
	require.Len(t, f.broker.EnqueueCalls, 1)
	stored, getErr := f.store.GetByID(context.Background(), f.broker.EnqueueCalls[0])
	require.NoError(t, getErr)
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "failed to enqueue")
}

func TestGetTaskScopedToOwner(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	ownerID := uuid.New()

	task, err := f.svc.CreateTask(ctx, ownerID, domain.TaskTypeParseResume,
		json.RawMessage(`{"text":"x"}`), domain.TaskPriorityNormal)
	require.NoError(t, err)

	got, err := f.svc.GetTask(ctx, task.ID, ownerID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)

	// Another owner sees not-found, not forbidden: task IDs are not
	// enumerable across owners.
	_, err = f.svc.GetTask(ctx, task.ID, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListTasksFiltersAndPaginates(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	ownerID := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateTask(ctx, ownerID, domain.TaskTypeParseResume,
			json.RawMessage(`{"text":"x"}`), domain.TaskPriorityNormal)
		require.NoError(t, err)
	}
	_, err := f.svc.CreateTask(ctx, ownerID, domain.TaskTypeParseJob,
		json.RawMessage(`{"text":"x"}`), domain.TaskPriorityNormal)
	require.NoError(t, err)

	all, err := f.svc.ListTasks(ctx, ownerID, store.TaskFilter{}, store.Page{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	jobType := domain.TaskTypeParseJob
	jobs, err := f.svc.ListTasks(ctx, ownerID, store.TaskFilter{Type: &jobType}, store.Page{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobType, jobs[0].Type)

	page, err := f.svc.ListTasks(ctx, ownerID, store.TaskFilter{}, store.Page{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestCancelTaskPending(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	ownerID := uuid.New()

	task, err := f.svc.CreateTask(ctx, ownerID, domain.TaskTypeParseResume,
		json.RawMessage(`{"text":"x"}`), domain.TaskPriorityNormal)
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelTask(ctx, task.ID, ownerID))

	got, err := f.store.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, []uuid.UUID{task.ID}, f.broker.CancelCalls)
}

func TestCancelTaskTerminalConflicts(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	ownerID := uuid.New()

	task, err := domain.NewTask(ownerID, domain.TaskTypeParseResume,
		json.RawMessage(`{"text":"x"}`), domain.TaskPriorityNormal)
	require.NoError(t, err)
	task.Status = domain.TaskStatusCompleted
	f.store.Seed(task)

	err = f.svc.CancelTask(ctx, task.ID, ownerID)
	require.ErrorIs(t, err, service.ErrTaskTerminal)

	got, getErr := f.store.GetByID(ctx, task.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status, "terminal record must be untouched")
}

func TestCancelTaskUnknownID(t *testing.T) {
	f := newServiceFixture(t)

	err := f.svc.CancelTask(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteTaskTerminalOnly(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	ownerID := uuid.New()

	live, err := f.svc.CreateTask(ctx, ownerID, domain.TaskTypeParseResume,
		json.RawMessage(`{"text":"x"}`), domain.TaskPriorityNormal)
	require.NoError(t, err)

	err = f.svc.DeleteTask(ctx, live.ID, ownerID)
	require.ErrorIs(t, err, service.ErrTaskNotTerminal)

	done, err := domain.NewTask(ownerID, domain.TaskTypeParseResume,
		json.RawMessage(`{"text":"x"}`), domain.TaskPriorityNormal)
	require.NoError(t, err)
	done.Status = domain.TaskStatusFailed
	completedAt := time.Now().UTC()
	done.CompletedAt = &completedAt
	f.store.Seed(done)

	require.NoError(t, f.svc.DeleteTask(ctx, done.ID, ownerID))
	_, err = f.store.GetByID(ctx, done.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
