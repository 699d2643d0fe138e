package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-studio-api/internal/models"
)

const taskStatusColumns = `id, task_id, name, task_class, state, user_id, total_steps, completed_steps, attempts, created_at, modified_at`

// TaskStatusRepository persists user task status rows and their artifacts.
type TaskStatusRepository struct {
	db *sqlx.DB
}

// NewTaskStatusRepository constructs the repository.
func NewTaskStatusRepository(db *sqlx.DB) *TaskStatusRepository {
	return &TaskStatusRepository{db: db}
}

// Create inserts a status row and fills its identifier.
func (r *TaskStatusRepository) Create(ctx context.Context, status *models.UserTaskStatus) error {
	now := time.Now().UTC()
	if status.CreatedAt.IsZero() {
		status.CreatedAt = now
	}
	status.ModifiedAt = status.CreatedAt
	if status.State == "" {
		status.State = models.TaskStatePending
	}
	const query = `INSERT INTO user_task_status (task_id, name, task_class, state, user_id, total_steps, completed_steps, attempts, created_at, modified_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query,
		status.TaskID, status.Name, status.TaskClass, status.State, status.UserID,
		status.TotalSteps, status.CompletedSteps, status.Attempts, status.CreatedAt, status.ModifiedAt,
	).Scan(&status.ID); err != nil {
		return fmt.Errorf("create task status: %w", err)
	}
	return nil
}

// FindLatest returns the most recent row matching name and task id.
func (r *TaskStatusRepository) FindLatest(ctx context.Context, name, taskID string) (*models.UserTaskStatus, error) {
	query := `SELECT ` + taskStatusColumns + ` FROM user_task_status
	WHERE name = $1 AND task_id = $2 ORDER BY created_at DESC, id DESC LIMIT 1`
	var status models.UserTaskStatus
	if err := r.db.GetContext(ctx, &status, query, name, taskID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find latest task status: %w", err)
	}
	return &status, nil
}

// FindByTaskID returns the status row for a task id.
func (r *TaskStatusRepository) FindByTaskID(ctx context.Context, taskID string) (*models.UserTaskStatus, error) {
	query := `SELECT ` + taskStatusColumns + ` FROM user_task_status WHERE task_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`
	var status models.UserTaskStatus
	if err := r.db.GetContext(ctx, &status, query, taskID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find task status: %w", err)
	}
	return &status, nil
}

// UpdateState records a state transition and progress for a task.
func (r *TaskStatusRepository) UpdateState(ctx context.Context, taskID string, state models.TaskState, completedSteps int) error {
	const query = `UPDATE user_task_status SET state = $2, completed_steps = GREATEST(completed_steps, $3),
	attempts = attempts + CASE WHEN $2 = 'In Progress' THEN 1 ELSE 0 END, modified_at = $4 WHERE task_id = $1`
	res, err := r.db.ExecContext(ctx, query, taskID, state, completedSteps, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update task state: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CreateArtifact stores an artifact produced by a task.
func (r *TaskStatusRepository) CreateArtifact(ctx context.Context, artifact *models.UserTaskArtifact) error {
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO user_task_artifacts (status_id, name, file_path, created_at) VALUES ($1, $2, $3, $4) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, artifact.StatusID, artifact.Name, artifact.FilePath, artifact.CreatedAt).Scan(&artifact.ID); err != nil {
		return fmt.Errorf("create task artifact: %w", err)
	}
	return nil
}

// FindArtifact returns the named artifact of a status row.
func (r *TaskStatusRepository) FindArtifact(ctx context.Context, statusID int64, name string) (*models.UserTaskArtifact, error) {
	const query = `SELECT id, status_id, name, file_path, created_at FROM user_task_artifacts
	WHERE status_id = $1 AND name = $2 ORDER BY id DESC LIMIT 1`
	var artifact models.UserTaskArtifact
	if err := r.db.GetContext(ctx, &artifact, query, statusID, name); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find task artifact: %w", err)
	}
	return &artifact, nil
}
