package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const taskColumns = `
	id, task_type, status, parameters, result, error, retry_count,
	parent_task_id, created_at, updated_at, started_at, completed_at`

const getTaskQuery = `SELECT` + taskColumns + `
	FROM notification_tasks WHERE id = $1`

// TaskStore handles database operations for orchestration tasks
type TaskStore struct {
	db     *DB
	logger *zap.Logger
}

// NewTaskStore creates a new task store
func NewTaskStore(db *DB, logger *zap.Logger) *TaskStore {
	return &TaskStore{
		db:     db,
		logger: logger,
	}
}

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(
		&t.ID,
		&t.TaskType,
		&t.Status,
		&t.Parameters,
		&t.Result,
		&t.Error,
		&t.RetryCount,
		&t.ParentTaskID,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.StartedAt,
		&t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTask inserts a new pending task
func (s *TaskStore) CreateTask(ctx context.Context, task *Task) error {
	query := `
		INSERT INTO notification_tasks (
			id, task_type, status, parameters, retry_count, parent_task_id
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	if task.Status == "" {
		task.Status = TaskStatusPending
	}

	err := s.db.Pool().QueryRow(
		ctx,
		query,
		task.ID,
		task.TaskType,
		task.Status,
		task.Parameters,
		task.RetryCount,
		task.ParentTaskID,
	).Scan(&task.CreatedAt, &task.UpdatedAt)

	if err != nil {
		s.logger.Error("failed to create task",
			zap.Error(err),
			zap.String("task_id", task.ID.String()),
			zap.String("task_type", task.TaskType),
		)
		return fmt.Errorf("insert task: %w", err)
	}

	s.logger.Info("task created",
		zap.String("task_id", task.ID.String()),
		zap.String("task_type", task.TaskType),
	)

	return nil
}

// GetTask retrieves a task by ID
func (s *TaskStore) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	task, err := scanTask(s.db.Pool().QueryRow(ctx, getTaskQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}

	return task, nil
}

// ClaimOldestPending atomically claims the single oldest pending task,
// moving it to processing. taskType filters by type when non-empty.
// Returns (nil, nil) when no pending task exists.
//
// The claim is a single conditional update over a SKIP LOCKED subselect so
// concurrent schedulers never pick the same task.
func (s *TaskStore) ClaimOldestPending(ctx context.Context, taskType string) (*Task, error) {
	query := `
		UPDATE notification_tasks
		SET status = $2, started_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM notification_tasks
			WHERE status = $3 AND ($1 = '' OR task_type = $1)
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING` + taskColumns

	task, err := scanTask(s.db.Pool().QueryRow(ctx, query, taskType, TaskStatusProcessing, TaskStatusPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("failed to claim pending task", zap.Error(err))
		return nil, fmt.Errorf("claim pending task: %w", err)
	}

	s.logger.Debug("task claimed",
		zap.String("task_id", task.ID.String()),
		zap.String("task_type", task.TaskType),
	)

	return task, nil
}

// CompleteTask marks a task completed and stores its result payload
func (s *TaskStore) CompleteTask(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	query := `
		UPDATE notification_tasks
		SET status = $2, result = $3, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`

	tag, err := s.db.Pool().Exec(ctx, query, id, TaskStatusCompleted, result)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task not found: %s", id)
	}

	s.logger.Info("task completed", zap.String("task_id", id.String()))

	return nil
}

// MarkTaskRetry increments the retry counter and moves the task to retry,
// or to failed once maxRetries is reached. Returns the resulting status.
func (s *TaskStore) MarkTaskRetry(ctx context.Context, id uuid.UUID, errMsg string, maxRetries int) (string, error) {
	query := `
		UPDATE notification_tasks
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= $2 THEN $3 ELSE $4 END,
		    completed_at = CASE WHEN retry_count + 1 >= $2 THEN NOW() ELSE completed_at END,
		    error = $5,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING status
	`

	var status string
	err := s.db.Pool().QueryRow(ctx, query, id, maxRetries, TaskStatusFailed, TaskStatusRetry, errMsg).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("task not found: %s", id)
	}
	if err != nil {
		return "", fmt.Errorf("mark task retry: %w", err)
	}

	s.logger.Warn("task marked for retry",
		zap.String("task_id", id.String()),
		zap.String("status", status),
		zap.String("error", errMsg),
	)

	return status, nil
}

// ResetRetryTasks moves every retry task back to pending so the next poll
// picks it up again. Returns the number of tasks reset.
func (s *TaskStore) ResetRetryTasks(ctx context.Context) (int, error) {
	query := `
		UPDATE notification_tasks
		SET status = $1, updated_at = NOW()
		WHERE status = $2
	`

	tag, err := s.db.Pool().Exec(ctx, query, TaskStatusPending, TaskStatusRetry)
	if err != nil {
		return 0, fmt.Errorf("reset retry tasks: %w", err)
	}

	reset := int(tag.RowsAffected())
	if reset > 0 {
		s.logger.Info("retry tasks reset to pending", zap.Int("count", reset))
	}

	return reset, nil
}

// DeleteTerminalOlderThan removes completed, failed and canceled tasks
// created before the cutoff, excluding one task id (the running cleanup
// task's own row). Returns the number of deleted rows.
func (s *TaskStore) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time, exclude uuid.UUID) (int, error) {
	query := `
		DELETE FROM notification_tasks
		WHERE status IN ($1, $2, $3)
		  AND created_at < $4
		  AND id <> $5
	`

	tag, err := s.db.Pool().Exec(ctx, query,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCanceled, cutoff, exclude)
	if err != nil {
		return 0, fmt.Errorf("delete terminal tasks: %w", err)
	}

	deleted := int(tag.RowsAffected())
	s.logger.Info("old tasks deleted",
		zap.Int("count", deleted),
		zap.Time("cutoff", cutoff),
	)

	return deleted, nil
}

// ListTasksByParent retrieves the direct children of a task.
func (s *TaskStore) ListTasksByParent(ctx context.Context, parentID uuid.UUID) ([]*Task, error) {
	query := `SELECT` + taskColumns + `
		FROM notification_tasks
		WHERE parent_task_id = $1
		ORDER BY created_at ASC`

	rows, err := s.db.Pool().Query(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("query child tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return tasks, nil
}
