package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atspro/task-service/internal/domain"
	"github.com/atspro/task-service/internal/store"
	"github.com/google/uuid"
)

// MockTaskStore implements store.TaskStore for testing. By default it is a
// functional in-memory store that enforces the same status transition guard
// as the Postgres implementation, so tests exercise real compare-and-set
// semantics. Individual methods can be overridden with Fn fields.
type MockTaskStore struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*domain.Task
	// updatedAt backs ListStuck, which the real store drives off a column.
	updatedAt map[uuid.UUID]time.Time

	CreateFn       func(ctx context.Context, task *domain.Task) error
	GetFn          func(ctx context.Context, id, ownerID uuid.UUID) (*domain.Task, error)
	GetByIDFn      func(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	UpdateStatusFn func(ctx context.Context, id uuid.UUID, newStatus domain.TaskStatus, update store.StatusUpdate) error
}

// Compile-time interface check.
var _ store.TaskStore = (*MockTaskStore)(nil)

// NewMockTaskStore creates an empty in-memory task store.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{
		tasks:     make(map[uuid.UUID]*domain.Task),
		updatedAt: make(map[uuid.UUID]time.Time),
	}
}

// Seed inserts a task directly, bypassing validation. Useful for arranging
// states that cannot be reached through the public API alone.
func (s *MockTaskStore) Seed(task *domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *task
	s.tasks[task.ID] = &cp
	s.updatedAt[task.ID] = time.Now().UTC()
}

// SetUpdatedAt backdates a task's last-modified time so ListStuck picks it up.
func (s *MockTaskStore) SetUpdatedAt(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatedAt[id] = at
}

// Create implements store.TaskStore.
func (s *MockTaskStore) Create(ctx context.Context, task *domain.Task) error {
	if s.CreateFn != nil {
		return s.CreateFn(ctx, task)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return store.ErrDuplicate
	}
	cp := *task
	s.tasks[task.ID] = &cp
	s.updatedAt[task.ID] = time.Now().UTC()
	return nil
}

// Get implements store.TaskStore.
func (s *MockTaskStore) Get(ctx context.Context, id, ownerID uuid.UUID) (*domain.Task, error) {
	if s.GetFn != nil {
		return s.GetFn(ctx, id, ownerID)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[id]
	if !exists || task.OwnerID != ownerID {
		return nil, store.ErrTaskNotFound
	}
	cp := *task
	return &cp, nil
}

// GetByID implements store.TaskStore.
func (s *MockTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if s.GetByIDFn != nil {
		return s.GetByIDFn(ctx, id)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[id]
	if !exists {
		return nil, store.ErrTaskNotFound
	}
	cp := *task
	return &cp, nil
}

// UpdateStatus implements store.TaskStore with the same transition-guarded
// compare-and-set behavior as the Postgres store, including monotone
// progress.
func (s *MockTaskStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	newStatus domain.TaskStatus,
	update store.StatusUpdate,
) error {
	if s.UpdateStatusFn != nil {
		return s.UpdateStatusFn(ctx, id, newStatus, update)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[id]
	if !exists {
		return store.ErrTaskNotFound
	}
	if !domain.CanTransition(task.Status, newStatus) {
		return fmt.Errorf("%w: %s", store.ErrInvalidTransition, &domain.TransitionError{
			TaskID: id,
			From:   task.Status,
			To:     newStatus,
		})
	}

	task.Status = newStatus
	if update.Progress != nil && *update.Progress > task.Progress {
		task.Progress = *update.Progress
	}
	if update.Result != nil {
		task.Result = update.Result
	}
	if update.Error != nil {
		task.Error = *update.Error
	}
	if update.StartedAt != nil {
		task.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		task.CompletedAt = update.CompletedAt
	}
	if update.RetryCount != nil {
		task.RetryCount = *update.RetryCount
	}
	s.updatedAt[id] = time.Now().UTC()
	return nil
}

// ListByOwner implements store.TaskStore.
func (s *MockTaskStore) ListByOwner(
	ctx context.Context,
	ownerID uuid.UUID,
	filter store.TaskFilter,
	page store.Page,
) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Task
	for _, task := range s.tasks {
		if task.OwnerID != ownerID {
			continue
		}
		if filter.Status != nil && task.Status != *filter.Status {
			continue
		}
		if filter.Type != nil && task.Type != *filter.Type {
			continue
		}
		cp := *task
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if page.Offset > 0 {
		if page.Offset >= len(out) {
			return nil, nil
		}
		out = out[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(out) {
		out = out[:page.Limit]
	}
	return out, nil
}

// ListStuck implements store.TaskStore.
func (s *MockTaskStore) ListStuck(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var out []*domain.Task
	for id, task := range s.tasks {
		if task.Status != domain.TaskStatusRunning {
			continue
		}
		if s.updatedAt[id].After(cutoff) {
			continue
		}
		cp := *task
		out = append(out, &cp)
	}
	return out, nil
}

// ListByStatus implements store.TaskStore.
func (s *MockTaskStore) ListByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Task
	for _, task := range s.tasks {
		if task.Status != status {
			continue
		}
		cp := *task
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Delete implements store.TaskStore.
func (s *MockTaskStore) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[id]
	if !exists || task.OwnerID != ownerID {
		return store.ErrTaskNotFound
	}
	if !task.IsTerminal() {
		return store.ErrNotTerminal
	}
	delete(s.tasks, id)
	delete(s.updatedAt, id)
	return nil
}

// DeleteTerminalBefore implements store.TaskStore.
func (s *MockTaskStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, task := range s.tasks {
		if !task.IsTerminal() || task.CompletedAt == nil || !task.CompletedAt.Before(cutoff) {
			continue
		}
		delete(s.tasks, id)
		delete(s.updatedAt, id)
		removed++
	}
	return removed, nil
}
