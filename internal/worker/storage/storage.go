package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/labbox-api/internal/worker/domain"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded schema migrations
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Storage handles all database operations on the remote jobs table
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `job_id, lane, task_name, kwargs, status, result, error_message,
		       cancel_requested, worker_id, timeout_seconds, created_at, updated_at`

// CreateJob inserts a PENDING job row
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (job_id, lane, task_name, kwargs, status, timeout_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.JobID,
		job.Lane,
		job.TaskName,
		job.Kwargs,
		domain.JobStatusPending,
		job.TimeoutSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	job.Status = domain.JobStatusPending

	s.logger.Debug("Job row created",
		slog.String("job_id", job.JobID),
		slog.String("lane", job.Lane),
		slog.String("task_name", job.TaskName),
	)

	return nil
}

// GetJobByID retrieves a job from the database by its ID
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ClaimJob attempts to claim a job using optimistic locking
// Returns full job details on success, error if job is already claimed or doesn't exist
func (s *Storage) ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    worker_id = $2,
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, domain.JobStatusRunning, workerID, jobID, domain.JobStatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed or not found",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.String("task_name", job.TaskName),
	)

	return &job, nil
}

// CompleteJob stores the JSON result of a job and marks it COMPLETED
func (s *Storage) CompleteJob(ctx context.Context, jobID string, result []byte) error {
	return s.finishJob(ctx, jobID, domain.JobStatusCompleted, result, "")
}

// FailJob marks a job FAILED with an error message
func (s *Storage) FailJob(ctx context.Context, jobID string, errorMsg string) error {
	return s.finishJob(ctx, jobID, domain.JobStatusFailed, nil, errorMsg)
}

// MarkCanceled marks a job CANCELED
func (s *Storage) MarkCanceled(ctx context.Context, jobID string) error {
	return s.finishJob(ctx, jobID, domain.JobStatusCanceled, nil, "job was cancelled")
}

func (s *Storage) finishJob(ctx context.Context, jobID, status string, result []byte, errorMsg string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    result = $2,
		    error_message = NULLIF($3, ''),
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $4
	`

	var resultArg any
	if result != nil {
		resultArg = string(result)
	}

	if _, err := s.db.ExecContext(ctx, query, status, resultArg, errorMsg, jobID); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)

	return nil
}

// UpdateJobHeartbeat updates the last_heartbeat_at timestamp for a running job
// and reports whether cancellation has been requested
func (s *Storage) UpdateJobHeartbeat(ctx context.Context, jobID string) (bool, error) {
	query := `
		UPDATE jobs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $2
		RETURNING cancel_requested
	`

	var cancelRequested bool
	err := s.db.QueryRowContext(ctx, query, jobID, domain.JobStatusRunning).Scan(&cancelRequested)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Job heartbeat update - no rows affected (job may not be running)",
				slog.String("job_id", jobID),
			)
			return false, nil
		}
		return false, fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	return cancelRequested, nil
}

// RequestCancel cancels a PENDING job outright and flags a RUNNING one.
// Terminal jobs are left untouched.
func (s *Storage) RequestCancel(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = CASE WHEN status = $1 THEN $2 ELSE status END,
		    error_message = CASE WHEN status = $1 THEN 'job was cancelled' ELSE error_message END,
		    completed_at = CASE WHEN status = $1 THEN NOW() ELSE completed_at END,
		    cancel_requested = TRUE,
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status IN ($1, $4)
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusPending,
		domain.JobStatusCanceled,
		jobID,
		domain.JobStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, err := s.GetJobByID(ctx, jobID); err != nil {
			return err
		}
	}

	return nil
}

// JobFilter narrows ListJobs. Empty fields match everything.
type JobFilter struct {
	Lane     string
	TaskName string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset position of the last row of a page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns up to PageSize+1 rows, newest first, so callers can tell
// whether another page exists
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.Lane != "" {
		query += fmt.Sprintf(" AND lane = $%d", argIdx)
		args = append(args, filter.Lane)
		argIdx++
	}

	if filter.TaskName != "" {
		query += fmt.Sprintf(" AND task_name = $%d", argIdx)
		args = append(args, filter.TaskName)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}
