package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/atspro/task-service/internal/domain"
	"github.com/atspro/task-service/internal/mocks"
	"github.com/atspro/task-service/internal/platform/logger"
	"github.com/atspro/task-service/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubHandler is a configurable handler for pool tests.
type stubHandler struct {
	taskType string
	execute  func(ctx context.Context, task *domain.Task, report ProgressFunc) (json.RawMessage, error)
}

func (h *stubHandler) Type() string { return h.taskType }

func (h *stubHandler) Execute(ctx context.Context, task *domain.Task, report ProgressFunc) (json.RawMessage, error) {
	return h.execute(ctx, task, report)
}

type poolFixture struct {
	pool   *Pool
	store  *mocks.MockTaskStore
	broker *mocks.MockTaskBroker
}

func newPoolFixture(t *testing.T, handlers ...Handler) *poolFixture {
	t.Helper()

	taskStore := mocks.NewMockTaskStore()
	broker := mocks.NewMockTaskBroker()
	registry := NewRegistry()
	for _, h := range handlers {
		require.NoError(t, registry.Register(h))
	}

	_, log := logger.SetupTestLogger(t)
	cfg := DefaultPoolConfig()
	cfg.HandlerTimeout = 5 * time.Second
	cfg.HeartbeatInterval = time.Hour // keep the ticker quiet in tests

	pool := NewPool(taskStore, broker, registry, cfg, log)
	t.Cleanup(pool.Stop)

	return &poolFixture{pool: pool, store: taskStore, broker: broker}
}

// seedAndClaim arranges a task in the given status with a broker claim held
// by workerID, matching the state processTask sees after a dequeue.
func (f *poolFixture) seedAndClaim(t *testing.T, task *domain.Task, workerID string) {
	t.Helper()
	ctx := context.Background()

	f.store.Seed(task)
	require.NoError(t, f.broker.Enqueue(ctx, task.ID, task.Priority))
	id, ok, err := f.broker.Dequeue(ctx, workerID, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, task.ID, id)
}

func newPendingTask(t *testing.T, taskType string) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(uuid.New(), taskType, json.RawMessage(`{"text":"x"}`), domain.TaskPriorityNormal)
	require.NoError(t, err)
	return task
}

func TestProcessTaskSuccess(t *testing.T) {
	handler := &stubHandler{
		taskType: "echo",
		execute: func(ctx context.Context, task *domain.Task, report ProgressFunc) (json.RawMessage, error) {
			require.NoError(t, report(ctx, 50))
			return json.RawMessage(`{"ok":true}`), nil
		},
	}
	f := newPoolFixture(t, handler)

	task := newPendingTask(t, "echo")
	f.seedAndClaim(t, task, "w1")

	f.pool.processTask("w1", task.ID)

	got, err := f.store.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.JSONEq(t, `{"ok":true}`, string(got.Result))
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	inFlight, err := f.broker.InFlight(context.Background(), task.ID)
	require.NoError(t, err)
	assert.False(t, inFlight, "claim should be released after completion")
}

func TestProcessTaskRetryableRequeues(t *testing.T) {
	handler := &stubHandler{
		taskType: "flaky",
		execute: func(ctx context.Context, task *domain.Task, report ProgressFunc) (json.RawMessage, error) {
			return nil, errors.New("upstream hiccup")
		},
	}
	f := newPoolFixture(t, handler)

	task := newPendingTask(t, "flaky")
	f.seedAndClaim(t, task, "w1")

	f.pool.processTask("w1", task.ID)

	got, err := f.store.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	// Re-queued in the broker for another attempt.
	id, ok, err := f.broker.Dequeue(context.Background(), "w2", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, task.ID, id)
}

func TestProcessTaskFatalFails(t *testing.T) {
	handler := &stubHandler{
		taskType: "bad",
		execute: func(ctx context.Context, task *domain.Task, report ProgressFunc) (json.RawMessage, error) {
			return nil, Fatal(errors.New("malformed input"))
		},
	}
	f := newPoolFixture(t, handler)

	task := newPendingTask(t, "bad")
	f.seedAndClaim(t, task, "w1")

	f.pool.processTask("w1", task.ID)

	got, err := f.store.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Contains(t, got.Error, "malformed input")
	assert.Equal(t, 0, got.RetryCount, "fatal errors must not consume retries")
}

func TestProcessTaskRetriesExhaustedFails(t *testing.T) {
	handler := &stubHandler{
		taskType: "flaky",
		execute: func(ctx context.Context, task *domain.Task, report ProgressFunc) (json.RawMessage, error) {
			return nil, errors.New("upstream hiccup")
		},
	}
	f := newPoolFixture(t, handler)

	task := newPendingTask(t, "flaky")
	task.RetryCount = task.MaxRetries
	f.seedAndClaim(t, task, "w1")

	f.pool.processTask("w1", task.ID)

	got, err := f.store.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Contains(t, got.Error, "upstream hiccup")
}

func TestProcessTaskUnsupportedTypeFails(t *testing.T) {
	f := newPoolFixture(t)

	task := newPendingTask(t, "no_such_type")
	f.seedAndClaim(t, task, "w1")

	f.pool.processTask("w1", task.ID)

	got, err := f.store.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Contains(t, got.Error, "unsupported task type")
}

func TestProcessTaskPanicIsolated(t *testing.T) {
	handler := &stubHandler{
		taskType: "boom",
		execute: func(ctx context.Context, task *domain.Task, report ProgressFunc) (json.RawMessage, error) {
			panic("handler bug")
		},
	}
	f := newPoolFixture(t, handler)

	task := newPendingTask(t, "boom")
	f.seedAndClaim(t, task, "w1")

	require.NotPanics(t, func() {
		f.pool.processTask("w1", task.ID)
	})

	got, err := f.store.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Contains(t, got.Error, "handler panic")
}

func TestProcessTaskSkipsCancelledBeforeStart(t *testing.T) {
	handler := &stubHandler{
		taskType: "echo",
		execute: func(ctx context.Context, task *domain.Task, report ProgressFunc) (json.RawMessage, error) {
			t.Fatal("handler must not run for a cancelled task")
			return nil, nil
		},
	}
	f := newPoolFixture(t, handler)

	task := newPendingTask(t, "echo")
	task.Status = domain.TaskStatusCancelled
	f.seedAndClaim(t, task, "w1")

	f.pool.processTask("w1", task.ID)

	got, err := f.store.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, got.Status)
}

func TestProcessTaskCancelledMidExecution(t *testing.T) {
	f := newPoolFixture(t)
	handler := &stubHandler{
		taskType: "slow",
		execute: func(ctx context.Context, task *domain.Task, report ProgressFunc) (json.RawMessage, error) {
			// Cancel the task between progress checkpoints, the way an
			// owner's DELETE would while the handler runs.
			err := f.store.UpdateStatus(ctx, task.ID, domain.TaskStatusCancelled, store.StatusUpdate{})
			require.NoError(t, err)

			if err := report(ctx, 50); err != nil {
				return nil, err
			}
			t.Fatal("handler must stop at the cancellation checkpoint")
			return nil, nil
		},
	}
	require.NoError(t, f.pool.registry.Register(handler))

	task := newPendingTask(t, "slow")
	f.seedAndClaim(t, task, "w1")

	f.pool.processTask("w1", task.ID)

	got, err := f.store.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, got.Status, "worker must not overwrite the cancellation")
	assert.Empty(t, got.Error)
}

func TestProcessTaskCompletionBeatsCancelRace(t *testing.T) {
	// If the handler finishes before the cancel lands, completed stands and
	// the cancel is rejected by the transition guard elsewhere.
	handler := &stubHandler{
		taskType: "echo",
		execute: func(ctx context.Context, task *domain.Task, report ProgressFunc) (json.RawMessage, error) {
			return json.RawMessage(`{"done":1}`), nil
		},
	}
	f := newPoolFixture(t, handler)

	task := newPendingTask(t, "echo")
	f.seedAndClaim(t, task, "w1")
	f.pool.processTask("w1", task.ID)

	err := f.store.UpdateStatus(context.Background(), task.ID, domain.TaskStatusCancelled, store.StatusUpdate{})
	require.ErrorIs(t, err, store.ErrInvalidTransition)

	got, err := f.store.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
}

func TestRecoverRequeuesPending(t *testing.T) {
	f := newPoolFixture(t)

	pending := newPendingTask(t, "echo")
	running := newPendingTask(t, "echo")
	running.Status = domain.TaskStatusRunning
	done := newPendingTask(t, "echo")
	done.Status = domain.TaskStatusCompleted

	f.store.Seed(pending)
	f.store.Seed(running)
	f.store.Seed(done)

	require.NoError(t, f.pool.Recover(context.Background()))

	assert.Equal(t, []uuid.UUID{pending.ID}, f.broker.EnqueueCalls)
}

func TestRequeueOrFailWithBudgetRequeues(t *testing.T) {
	f := newPoolFixture(t)

	task := newPendingTask(t, "echo")
	task.Status = domain.TaskStatusRunning
	f.store.Seed(task)

	f.pool.requeueOrFail(context.Background(), task.ID)

	got, err := f.store.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, []uuid.UUID{task.ID}, f.broker.EnqueueCalls)
}

func TestRequeueOrFailStillPendingReenqueues(t *testing.T) {
	// A worker can die between claiming a task and marking it running, so
	// the reclaimed record may still read pending. The reclaim must restore
	// the broker entry rather than reject the write and strand the task.
	f := newPoolFixture(t)

	task := newPendingTask(t, "echo")
	f.store.Seed(task)

	f.pool.requeueOrFail(context.Background(), task.ID)

	got, err := f.store.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.Equal(t, 0, got.RetryCount, "a task that never started consumes no retry budget")
	assert.Equal(t, []uuid.UUID{task.ID}, f.broker.EnqueueCalls)

	id, ok, err := f.broker.Dequeue(context.Background(), "w1", time.Second)
	require.NoError(t, err)
	require.True(t, ok, "reclaimed task must be claimable again")
	assert.Equal(t, task.ID, id)
}

func TestRequeueOrFailExhaustedFails(t *testing.T) {
	f := newPoolFixture(t)

	task := newPendingTask(t, "echo")
	task.Status = domain.TaskStatusRunning
	task.RetryCount = task.MaxRetries
	f.store.Seed(task)

	f.pool.requeueOrFail(context.Background(), task.ID)

	got, err := f.store.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, leaseExpiredReason, got.Error)
	require.NotNil(t, got.CompletedAt)
	assert.Empty(t, f.broker.EnqueueCalls)
}

func TestSweepStuckTasksSkipsLiveLeases(t *testing.T) {
	f := newPoolFixture(t)

	stale := newPendingTask(t, "echo")
	stale.Status = domain.TaskStatusRunning
	f.store.Seed(stale)
	f.store.SetUpdatedAt(stale.ID, time.Now().Add(-time.Hour))

	leased := newPendingTask(t, "echo")
	leased.Status = domain.TaskStatusRunning
	f.seedAndClaim(t, leased, "w1")
	f.store.SetUpdatedAt(leased.ID, time.Now().Add(-time.Hour))

	f.pool.sweepStuckTasks()

	got, err := f.store.GetByID(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, got.Status, "orphaned stuck task should be re-queued")

	still, err := f.store.GetByID(context.Background(), leased.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRunning, still.Status, "live lease must be left alone")
}

func TestSweepRetentionPurgesOldTerminal(t *testing.T) {
	f := newPoolFixture(t)
	f.pool.cfg.RetentionAge = 24 * time.Hour

	old := newPendingTask(t, "echo")
	old.Status = domain.TaskStatusCompleted
	oldDone := time.Now().UTC().Add(-48 * time.Hour)
	old.CompletedAt = &oldDone

	fresh := newPendingTask(t, "echo")
	fresh.Status = domain.TaskStatusCompleted
	freshDone := time.Now().UTC()
	fresh.CompletedAt = &freshDone

	f.store.Seed(old)
	f.store.Seed(fresh)

	f.pool.sweepRetention()

	_, err := f.store.GetByID(context.Background(), old.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.store.GetByID(context.Background(), fresh.ID)
	assert.NoError(t, err)
}
