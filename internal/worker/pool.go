package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atspro/task-service/internal/domain"
	"github.com/atspro/task-service/internal/store"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// PoolConfig holds configuration for the worker pool.
type PoolConfig struct {
	// Count determines how many concurrent worker slots process tasks.
	Count int

	// DequeueTimeout bounds each blocking dequeue before the slot loops.
	DequeueTimeout time.Duration

	// HeartbeatInterval is how often an executing slot extends its lease.
	HeartbeatInterval time.Duration

	// HandlerTimeout caps a single handler execution.
	HandlerTimeout time.Duration

	// SweepInterval is how often the lease, stuck-task and retention
	// sweeps run.
	SweepInterval time.Duration

	// StuckTaskAge defines how long a task can sit in running with no
	// store update before the stuck-task sweep intervenes.
	StuckTaskAge time.Duration

	// RetentionAge is how long terminal records are kept before purging.
	// Zero disables the retention sweep.
	RetentionAge time.Duration
}

// DefaultPoolConfig returns a PoolConfig with conservative defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Count:             2,
		DequeueTimeout:    5 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		HandlerTimeout:    2 * time.Minute,
		SweepInterval:     15 * time.Second,
		StuckTaskAge:      5 * time.Minute,
		RetentionAge:      720 * time.Hour,
	}
}

// leaseExpiredReason is the failure reason written when a task's lease
// expired and its retry budget ran out.
const leaseExpiredReason = "lease expired, retries exhausted"

// Pool manages the worker slots and the recovery sweeps. Concurrency safety
// across slots and across processes comes from the broker's destructive
// claim plus the store's transition-guarded status writes; the pool holds no
// global lock.
type Pool struct {
	store    store.TaskStore
	broker   store.TaskBroker
	registry *Registry
	cfg      PoolConfig
	logger   *slog.Logger
	name     string

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewPool creates a worker pool. The name distinguishes this process's
// workers in broker claims and logs.
func NewPool(
	taskStore store.TaskStore,
	broker store.TaskBroker,
	registry *Registry,
	cfg PoolConfig,
	logger *slog.Logger,
) *Pool {
	def := DefaultPoolConfig()
	if cfg.Count <= 0 {
		cfg.Count = def.Count
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = def.DequeueTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.StuckTaskAge <= 0 {
		cfg.StuckTaskAge = def.StuckTaskAge
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		store:      taskStore,
		broker:     broker,
		registry:   registry,
		cfg:        cfg,
		logger:     logger,
		name:       fmt.Sprintf("pool-%s", uuid.New().String()[:8]),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start recovers unfinished work and launches the worker slots and the
// sweep loop.
func (p *Pool) Start() error {
	if err := p.Recover(context.Background()); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	for i := 0; i < p.cfg.Count; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.wg.Add(1)
	go p.sweeper()

	return nil
}

// Stop gracefully shuts down the pool, waiting for in-progress handlers to
// finish or hit their timeout.
func (p *Pool) Stop() {
	p.cancelFunc()
	p.wg.Wait()
}

// Recover re-enqueues pending tasks after a restart. Duplicate broker
// entries are harmless: the claim is first-wins and a stale delivery for a
// task that already left pending is rejected by the store's transition
// guard and dropped. Running tasks from a previous run are picked up by the
// lease and stuck-task sweeps instead.
func (p *Pool) Recover(ctx context.Context) error {
	pending, err := p.store.ListByStatus(ctx, domain.TaskStatusPending)
	if err != nil {
		return fmt.Errorf("failed to list pending tasks: %w", err)
	}

	p.logger.Info("recovering unfinished tasks", "pending_count", len(pending))

	for _, task := range pending {
		if err := p.broker.Enqueue(ctx, task.ID, task.Priority); err != nil {
			p.logger.Error("failed to requeue pending task",
				"task_id", task.ID,
				"task_type", task.Type,
				"error", err)
		}
	}

	return nil
}

// worker is one slot's loop: dequeue, process, repeat until shutdown.
func (p *Pool) worker(slot int) {
	defer p.wg.Done()

	workerID := fmt.Sprintf("%s-%d", p.name, slot)
	log := p.logger.With("worker_id", workerID)
	log.Debug("starting worker")

	for {
		select {
		case <-p.ctx.Done():
			log.Debug("stopping worker")
			return
		default:
		}

		taskID, ok, err := p.dequeueWithBackoff(workerID)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			log.Error("dequeue failed", "error", err)
			// transient broker trouble; don't spin
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if !ok {
			continue
		}

		p.processTask(workerID, taskID)
	}
}

// dequeueWithBackoff pulls from the broker, retrying pool exhaustion with
// jittered exponential backoff and a bounded attempt count. Any other error
// surfaces immediately.
func (p *Pool) dequeueWithBackoff(workerID string) (uuid.UUID, bool, error) {
	var (
		taskID uuid.UUID
		ok     bool
	)

	backoff := retry.WithMaxRetries(6,
		retry.WithCappedDuration(10*time.Second,
			retry.WithJitterPercent(20,
				retry.NewExponential(500*time.Millisecond))))

	err := retry.Do(p.ctx, backoff, func(ctx context.Context) error {
		var err error
		taskID, ok, err = p.broker.Dequeue(ctx, workerID, p.cfg.DequeueTimeout)
		if store.IsResourceExhaustedError(err) {
			p.logger.Warn("broker pool exhausted, backing off", "worker_id", workerID)
			return retry.RetryableError(err)
		}
		return err
	})
	return taskID, ok, err
}

// processTask handles execution of a single claimed task.
func (p *Pool) processTask(workerID string, taskID uuid.UUID) {
	ctx := p.ctx
	log := p.logger.With("task_id", taskID, "worker_id", workerID)

	task, err := p.store.GetByID(ctx, taskID)
	if err != nil {
		// A broker entry must never reference a missing durable record;
		// getting here means the record was deleted out from under the
		// queue. Drop the claim so the entry does not leak.
		log.Error("claimed task has no durable record", "error", err)
		p.release(workerID, taskID, store.OutcomeTerminal, domain.TaskPriorityNormal, log)
		return
	}
	log = log.With("task_type", task.Type)

	if task.IsTerminal() {
		// Stale duplicate delivery; the record is already settled.
		log.Debug("dropping delivery for terminal task", "status", task.Status)
		p.release(workerID, taskID, store.OutcomeTerminal, task.Priority, log)
		return
	}

	// Mark running before any handler side effects become visible, so a
	// concurrent status poll never observes stale pending for work that is
	// actually in progress.
	now := time.Now().UTC()
	err = p.store.UpdateStatus(ctx, taskID, domain.TaskStatusRunning, store.StatusUpdate{
		StartedAt: &now,
	})
	if err != nil {
		if store.IsInvalidTransitionError(err) {
			// Cancelled (or otherwise settled) between claim and start.
			log.Debug("task no longer startable", "error", err)
		} else {
			log.Error("failed to mark task running", "error", err)
		}
		p.release(workerID, taskID, store.OutcomeTerminal, task.Priority, log)
		return
	}

	handler, found := p.registry.Get(task.Type)
	if !found {
		// Admission validation makes this unreachable short of a registry
		// change racing a deploy; treat as fatal, never stall silently.
		log.Error("no handler registered for task type")
		p.failTask(ctx, task, fmt.Sprintf("%s: %s", ErrUnsupportedType, task.Type), log)
		p.release(workerID, taskID, store.OutcomeTerminal, task.Priority, log)
		return
	}

	log.Info("processing task")
	result, execErr := p.executeHandler(workerID, task, handler, log)

	switch {
	case execErr == nil:
		completedAt := time.Now().UTC()
		progress := 100
		err := p.store.UpdateStatus(ctx, taskID, domain.TaskStatusCompleted, store.StatusUpdate{
			Progress:    &progress,
			Result:      result,
			CompletedAt: &completedAt,
		})
		if err != nil {
			// A cancellation can race handler completion; the terminal
			// record stands and the result is discarded.
			log.Warn("failed to mark task completed", "error", err)
		} else {
			log.Info("task completed successfully")
		}
		p.release(workerID, taskID, store.OutcomeSuccess, task.Priority, log)

	case errors.Is(execErr, ErrTaskCancelled):
		// The owner's cancel already wrote the terminal status.
		log.Info("task cancelled during execution")
		p.release(workerID, taskID, store.OutcomeTerminal, task.Priority, log)

	case !IsFatal(execErr) && task.RetryCount < task.MaxRetries:
		retryCount := task.RetryCount + 1
		log.Warn("task failed, re-queueing for retry",
			"error", execErr,
			"retry_count", retryCount,
			"max_retries", task.MaxRetries)
		err := p.store.UpdateStatus(ctx, taskID, domain.TaskStatusPending, store.StatusUpdate{
			RetryCount: &retryCount,
		})
		if err != nil {
			log.Error("failed to re-queue task", "error", err)
			p.release(workerID, taskID, store.OutcomeTerminal, task.Priority, log)
			return
		}
		p.release(workerID, taskID, store.OutcomeRetryable, task.Priority, log)

	default:
		log.Error("task execution failed", "error", execErr, "fatal", IsFatal(execErr))
		p.failTask(ctx, task, execErr.Error(), log)
		p.release(workerID, taskID, store.OutcomeTerminal, task.Priority, log)
	}
}

// executeHandler runs the handler with panic isolation, a bounded execution
// context, and a background heartbeat keeping the broker lease alive.
func (p *Pool) executeHandler(
	workerID string,
	task *domain.Task,
	handler Handler,
	log *slog.Logger,
) (result json.RawMessage, execErr error) {
	execCtx := p.ctx
	var cancel context.CancelFunc
	if p.cfg.HandlerTimeout > 0 {
		execCtx, cancel = context.WithTimeout(execCtx, p.cfg.HandlerTimeout)
	} else {
		execCtx, cancel = context.WithCancel(execCtx)
	}
	defer cancel()

	// Keep the lease alive while the handler runs. A lost lease means the
	// sweep decided this worker was dead; abort rather than race the
	// reclaimed task's next execution.
	hbDone := make(chan struct{})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(hbDone)
		ticker := time.NewTicker(p.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-execCtx.Done():
				return
			case <-ticker.C:
				if err := p.broker.Heartbeat(execCtx, workerID, task.ID); err != nil {
					if errors.Is(err, store.ErrNotClaimed) {
						log.Warn("lease lost mid-execution, aborting handler")
						cancel()
						return
					}
					log.Error("heartbeat failed", "error", err)
				}
			}
		}
	}()

	report := func(ctx context.Context, progress int) error {
		return p.reportProgress(ctx, workerID, task.ID, progress)
	}

	// One bad task must not take down the pool.
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked", "panic", r)
			execErr = Fatal(fmt.Errorf("handler panic: %v", r))
		}
		cancel()
		<-hbDone
	}()

	result, execErr = handler.Execute(execCtx, task, report)

	if execErr != nil && errors.Is(execErr, context.DeadlineExceeded) && execCtx.Err() != nil {
		execErr = fmt.Errorf("handler timed out after %s: %w", p.cfg.HandlerTimeout, execErr)
	}
	return result, execErr
}

// reportProgress writes a progress update through the transition guard and
// extends the broker lease. A rejected write means the task has left the
// running state; if it was cancelled, the handler is told to stop.
func (p *Pool) reportProgress(ctx context.Context, workerID string, taskID uuid.UUID, progress int) error {
	err := p.store.UpdateStatus(ctx, taskID, domain.TaskStatusRunning, store.StatusUpdate{
		Progress: &progress,
	})
	if err != nil {
		if store.IsInvalidTransitionError(err) {
			task, getErr := p.store.GetByID(ctx, taskID)
			if getErr == nil && task.Status == domain.TaskStatusCancelled {
				return ErrTaskCancelled
			}
		}
		return err
	}

	if err := p.broker.Heartbeat(ctx, workerID, taskID); err != nil {
		if errors.Is(err, store.ErrNotClaimed) {
			return ErrTaskCancelled
		}
		// Lease extension failing transiently is not fatal to the handler.
		p.logger.Debug("progress heartbeat failed", "task_id", taskID, "error", err)
	}
	return nil
}

// failTask writes the terminal failed status with a descriptive reason.
// Every failure path ends here or in a retry re-queue; a task is never left
// with no record of why it stopped.
func (p *Pool) failTask(ctx context.Context, task *domain.Task, reason string, log *slog.Logger) {
	completedAt := time.Now().UTC()
	err := p.store.UpdateStatus(ctx, task.ID, domain.TaskStatusFailed, store.StatusUpdate{
		Error:       &reason,
		CompletedAt: &completedAt,
	})
	if err != nil {
		log.Error("failed to mark task failed", "error", err)
	}
}

// release drops the broker claim, logging rather than propagating: by this
// point the durable record is settled and a failed release only delays the
// lease sweep.
func (p *Pool) release(
	workerID string,
	taskID uuid.UUID,
	outcome store.Outcome,
	priority domain.TaskPriority,
	log *slog.Logger,
) {
	if err := p.broker.Release(p.ctx, workerID, taskID, outcome, priority); err != nil {
		if !errors.Is(err, store.ErrNotClaimed) {
			log.Error("failed to release broker claim", "outcome", outcome, "error", err)
		}
	}
}

// sweeper periodically reclaims expired leases, rescues stuck tasks, and
// purges old terminal records.
func (p *Pool) sweeper() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.sweepExpiredLeases()
			p.sweepStuckTasks()
			p.sweepRetention()
		}
	}
}

// sweepExpiredLeases re-queues tasks whose worker stopped heartbeating, or
// fails them once the retry budget is spent. This is the only path allowed
// to mark a task failed purely for absence of progress, and it writes
// through the same transition guard as workers.
func (p *Pool) sweepExpiredLeases() {
	ctx := p.ctx

	ids, err := p.broker.ReclaimExpired(ctx)
	if err != nil {
		p.logger.Error("lease sweep failed", "error", err)
		return
	}

	for _, id := range ids {
		p.logger.Warn("reclaiming expired lease", "task_id", id)
		p.requeueOrFail(ctx, id)
	}
}

// sweepStuckTasks rescues running tasks whose store record has gone stale
// and whose broker lease is gone (covering the claim-registration window
// and brokers that lost their in-flight state).
func (p *Pool) sweepStuckTasks() {
	ctx := p.ctx

	stuck, err := p.store.ListStuck(ctx, p.cfg.StuckTaskAge)
	if err != nil {
		p.logger.Error("stuck-task sweep failed", "error", err)
		return
	}

	for _, task := range stuck {
		inFlight, err := p.broker.InFlight(ctx, task.ID)
		if err != nil {
			p.logger.Error("stuck-task lease check failed", "task_id", task.ID, "error", err)
			continue
		}
		if inFlight {
			// Lease is live; the worker is heartbeating even if progress
			// writes are sparse. Leave it to the lease sweep.
			continue
		}
		p.logger.Warn("rescuing stuck task", "task_id", task.ID, "task_type", task.Type)
		p.requeueOrFail(ctx, task.ID)
	}
}

// requeueOrFail applies the bounded-retry policy to an orphaned task.
func (p *Pool) requeueOrFail(ctx context.Context, taskID uuid.UUID) {
	task, err := p.store.GetByID(ctx, taskID)
	if err != nil {
		p.logger.Error("reclaimed task has no durable record", "task_id", taskID, "error", err)
		return
	}
	if task.IsTerminal() {
		return
	}
	if task.Status == domain.TaskStatusPending {
		// Claimed but never marked running, or the re-queue write landed
		// and only the lease release was lost. The record is already
		// correct; restore the broker entry without consuming retry budget.
		if err := p.broker.Enqueue(ctx, taskID, task.Priority); err != nil {
			p.logger.Error("failed to re-enqueue reclaimed task", "task_id", taskID, "error", err)
		}
		return
	}

	retryCount := task.RetryCount + 1
	if retryCount > task.MaxRetries {
		reason := leaseExpiredReason
		completedAt := time.Now().UTC()
		err := p.store.UpdateStatus(ctx, taskID, domain.TaskStatusFailed, store.StatusUpdate{
			Error:       &reason,
			CompletedAt: &completedAt,
			RetryCount:  &retryCount,
		})
		if err != nil {
			p.logger.Error("failed to fail reclaimed task", "task_id", taskID, "error", err)
		}
		return
	}

	err = p.store.UpdateStatus(ctx, taskID, domain.TaskStatusPending, store.StatusUpdate{
		RetryCount: &retryCount,
	})
	if err != nil {
		p.logger.Error("failed to re-queue reclaimed task", "task_id", taskID, "error", err)
		return
	}
	if err := p.broker.Enqueue(ctx, taskID, task.Priority); err != nil {
		p.logger.Error("failed to re-enqueue reclaimed task", "task_id", taskID, "error", err)
	}
}

// sweepRetention purges terminal records older than the retention age.
func (p *Pool) sweepRetention() {
	if p.cfg.RetentionAge <= 0 {
		return
	}

	cutoff := time.Now().UTC().Add(-p.cfg.RetentionAge)
	removed, err := p.store.DeleteTerminalBefore(p.ctx, cutoff)
	if err != nil {
		p.logger.Error("retention sweep failed", "error", err)
		return
	}
	if removed > 0 {
		p.logger.Info("purged old terminal tasks", "count", removed)
	}
}
