package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/atspro/task-service/internal/domain"
	"github.com/atspro/task-service/internal/store"
	"github.com/google/uuid"
)

// MockTaskBroker implements store.TaskBroker for testing. The default
// behavior is an in-memory queue with first-wins claims; Fn fields override
// individual methods.
type MockTaskBroker struct {
	mu      sync.Mutex
	pending []brokerEntry
	claims  map[uuid.UUID]string

	EnqueueFn func(ctx context.Context, taskID uuid.UUID, priority domain.TaskPriority) error
	CancelFn  func(ctx context.Context, taskID uuid.UUID) error

	// EnqueueCalls records every enqueued task for verification.
	EnqueueCalls []uuid.UUID
	// CancelCalls records every cancelled task for verification.
	CancelCalls []uuid.UUID
}

type brokerEntry struct {
	taskID   uuid.UUID
	priority domain.TaskPriority
}

// Compile-time interface check.
var _ store.TaskBroker = (*MockTaskBroker)(nil)

// NewMockTaskBroker creates an empty in-memory broker.
func NewMockTaskBroker() *MockTaskBroker {
	return &MockTaskBroker{claims: make(map[uuid.UUID]string)}
}

// Enqueue implements store.TaskBroker.
func (b *MockTaskBroker) Enqueue(ctx context.Context, taskID uuid.UUID, priority domain.TaskPriority) error {
	b.mu.Lock()
	b.EnqueueCalls = append(b.EnqueueCalls, taskID)
	b.mu.Unlock()

	if b.EnqueueFn != nil {
		return b.EnqueueFn(ctx, taskID, priority)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, brokerEntry{taskID: taskID, priority: priority})
	return nil
}

// Dequeue implements store.TaskBroker. It does not block; an empty queue
// returns ok=false immediately.
func (b *MockTaskBroker) Dequeue(ctx context.Context, workerID string, timeout time.Duration) (uuid.UUID, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	order := []domain.TaskPriority{domain.TaskPriorityHigh, domain.TaskPriorityNormal, domain.TaskPriorityLow}
	for _, tier := range order {
		for i, entry := range b.pending {
			if entry.priority != tier {
				continue
			}
			if _, claimed := b.claims[entry.taskID]; claimed {
				continue
			}
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			b.claims[entry.taskID] = workerID
			return entry.taskID, true, nil
		}
	}
	return uuid.Nil, false, nil
}

// Heartbeat implements store.TaskBroker.
func (b *MockTaskBroker) Heartbeat(ctx context.Context, workerID string, taskID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.checkClaimLocked(workerID, taskID)
}

// Release implements store.TaskBroker.
func (b *MockTaskBroker) Release(
	ctx context.Context,
	workerID string,
	taskID uuid.UUID,
	outcome store.Outcome,
	priority domain.TaskPriority,
) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkClaimLocked(workerID, taskID); err != nil {
		return err
	}
	delete(b.claims, taskID)
	if outcome == store.OutcomeRetryable {
		b.pending = append(b.pending, brokerEntry{taskID: taskID, priority: priority})
	}
	return nil
}

// Cancel implements store.TaskBroker.
func (b *MockTaskBroker) Cancel(ctx context.Context, taskID uuid.UUID) error {
	b.mu.Lock()
	b.CancelCalls = append(b.CancelCalls, taskID)
	b.mu.Unlock()

	if b.CancelFn != nil {
		return b.CancelFn(ctx, taskID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, entry := range b.pending {
		if entry.taskID == taskID {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			break
		}
	}
	return nil
}

// ReclaimExpired implements store.TaskBroker. The in-memory broker has no
// lease clock, so nothing ever expires.
func (b *MockTaskBroker) ReclaimExpired(ctx context.Context) ([]uuid.UUID, error) {
	return nil, nil
}

// InFlight implements store.TaskBroker.
func (b *MockTaskBroker) InFlight(ctx context.Context, taskID uuid.UUID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, claimed := b.claims[taskID]
	return claimed, nil
}

func (b *MockTaskBroker) checkClaimLocked(workerID string, taskID uuid.UUID) error {
	owner, claimed := b.claims[taskID]
	if !claimed || owner != workerID {
		return store.ErrNotClaimed
	}
	return nil
}
