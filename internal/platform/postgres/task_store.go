// Package postgres implements the store interfaces using PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atspro/task-service/internal/domain"
	"github.com/atspro/task-service/internal/platform/logger"
	"github.com/atspro/task-service/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolationCode is the PostgreSQL unique violation error code.
const uniqueViolationCode = "23505"

// taskColumns is the column list shared by every task SELECT.
const taskColumns = `id, owner_id, type, status, priority, progress, input, result,
	error_message, retry_count, max_retries, created_at, updated_at, started_at, completed_at`

// TaskStore implements the store.TaskStore interface using PostgreSQL.
// Status writes are compare-and-set: the UPDATE is predicated on the current
// status being a legal source for the requested transition, so a duplicate
// terminal write from a retried worker is rejected instead of overwriting
// the record.
type TaskStore struct {
	db store.DBTX
}

// NewTaskStore creates a new TaskStore backed by the given database handle.
func NewTaskStore(db store.DBTX) *TaskStore {
	return &TaskStore{db: db}
}

// Ensure TaskStore implements store.TaskStore
var _ store.TaskStore = (*TaskStore)(nil)

// isUniqueViolation checks if the given error is a PostgreSQL unique
// constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// statusList renders a set of statuses as a SQL IN-list. The inputs are
// internal constants, never user data.
func statusList(statuses []domain.TaskStatus) string {
	quoted := make([]string, len(statuses))
	for i, s := range statuses {
		quoted[i] = "'" + string(s) + "'"
	}
	return strings.Join(quoted, ", ")
}

var terminalStatuses = []domain.TaskStatus{
	domain.TaskStatusCompleted,
	domain.TaskStatusFailed,
	domain.TaskStatusCancelled,
}

// Create persists a new task record with status pending.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	if err := task.Validate(); err != nil {
		return store.NewStoreError("task", "create", "validation failed", err)
	}

	query := `
		INSERT INTO tasks (id, owner_id, type, status, priority, progress, input,
			retry_count, max_retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.OwnerID,
		task.Type,
		task.Status,
		task.Priority,
		task.Progress,
		[]byte(task.Input),
		task.RetryCount,
		task.MaxRetries,
		task.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		log.Error("failed to create task",
			"task_id", task.ID,
			"task_type", task.Type,
			"error", err)
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

// Get returns the task scoped to its owner.
func (s *TaskStore) Get(ctx context.Context, id, ownerID uuid.UUID) (*domain.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1 AND owner_id = $2`, taskColumns)
	return s.scanOne(ctx, query, id, ownerID)
}

// GetByID returns the task regardless of owner.
func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1`, taskColumns)
	return s.scanOne(ctx, query, id)
}

// UpdateStatus atomically transitions the task, guarded by the legal
// transition table. Progress only ever increases: a stale lower progress
// write is absorbed by GREATEST rather than rejected.
func (s *TaskStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	newStatus domain.TaskStatus,
	update store.StatusUpdate,
) error {
	log := logger.FromContext(ctx)

	if !domain.IsValidTaskStatus(newStatus) {
		return store.NewStoreError("task", "update", "unknown target status", domain.ErrInvalidStatus)
	}

	allowed := domain.AllowedPriorStatuses(newStatus)
	query := fmt.Sprintf(`
		UPDATE tasks
		SET status = $2,
			updated_at = $3,
			progress = GREATEST(progress, COALESCE($4, progress)),
			result = COALESCE($5, result),
			error_message = COALESCE($6, error_message),
			started_at = COALESCE($7, started_at),
			completed_at = COALESCE($8, completed_at),
			retry_count = COALESCE($9, retry_count)
		WHERE id = $1 AND status IN (%s)
	`, statusList(allowed))

	var result any
	if update.Result != nil {
		result = []byte(update.Result)
	}

	res, err := s.db.ExecContext(ctx, query,
		id,
		newStatus,
		time.Now().UTC(),
		update.Progress,
		result,
		update.Error,
		update.StartedAt,
		update.CompletedAt,
		update.RetryCount,
	)
	if err != nil {
		log.Error("failed to update task status",
			"task_id", id,
			"status", newStatus,
			"error", err)
		return fmt.Errorf("failed to update task status: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	// The guarded write matched nothing: distinguish a missing task from an
	// illegal transition so callers can tell a bug from a lost record.
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	log.Warn("rejected illegal task status transition",
		"task_id", id,
		"from", current.Status,
		"to", newStatus)
	return fmt.Errorf("%w: %s", store.ErrInvalidTransition,
		(&domain.TransitionError{TaskID: id, From: current.Status, To: newStatus}).Error())
}

// ListByOwner returns the owner's tasks, newest first.
func (s *TaskStore) ListByOwner(
	ctx context.Context,
	ownerID uuid.UUID,
	filter store.TaskFilter,
	page store.Page,
) ([]*domain.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE owner_id = $1`, taskColumns)
	args := []any{ownerID}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Type != nil {
		args = append(args, *filter.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	if page.Limit > 0 {
		args = append(args, page.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if page.Offset > 0 {
		args = append(args, page.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return s.scanMany(ctx, query, args...)
}

// ListStuck returns running tasks whose last update is older than the given
// age. These are tasks whose worker died without writing a terminal status.
func (s *TaskStore) ListStuck(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tasks
		WHERE status = $1 AND updated_at < $2
		ORDER BY created_at ASC
	`, taskColumns)
	cutoff := time.Now().UTC().Add(-olderThan)
	return s.scanMany(ctx, query, domain.TaskStatusRunning, cutoff)
}

// ListByStatus returns all tasks in the given status, oldest first.
func (s *TaskStore) ListByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tasks
		WHERE status = $1
		ORDER BY created_at ASC
	`, taskColumns)
	return s.scanMany(ctx, query, status)
}

// Delete hard-deletes an owner's terminal task.
func (s *TaskStore) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	query := fmt.Sprintf(`
		DELETE FROM tasks
		WHERE id = $1 AND owner_id = $2 AND status IN (%s)
	`, statusList(terminalStatuses))

	res, err := s.db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	// Nothing matched: either the task is absent (or another owner's), or
	// it exists but is not yet terminal.
	if _, err := s.Get(ctx, id, ownerID); err != nil {
		return err
	}
	return store.ErrNotTerminal
}

// DeleteTerminalBefore purges terminal tasks completed before cutoff.
func (s *TaskStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`
		DELETE FROM tasks
		WHERE status IN (%s) AND completed_at IS NOT NULL AND completed_at < $1
	`, statusList(terminalStatuses))

	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge terminal tasks: %w", err)
	}
	return res.RowsAffected()
}

// scanOne runs a single-row task query and maps sql.ErrNoRows to
// store.ErrTaskNotFound.
func (s *TaskStore) scanOne(ctx context.Context, query string, args ...any) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return task, nil
}

// scanMany runs a multi-row task query.
func (s *TaskStore) scanMany(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	log := logger.FromContext(ctx)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query tasks", "error", err)
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask maps one tasks row onto a domain.Task.
func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task         domain.Task
		input        []byte
		result       []byte
		errorMessage sql.NullString
		updatedAt    time.Time
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)

	err := row.Scan(
		&task.ID,
		&task.OwnerID,
		&task.Type,
		&task.Status,
		&task.Priority,
		&task.Progress,
		&input,
		&result,
		&errorMessage,
		&task.RetryCount,
		&task.MaxRetries,
		&task.CreatedAt,
		&updatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Input = input
	task.Result = result
	if errorMessage.Valid {
		task.Error = errorMessage.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		task.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}

	return &task, nil
}
