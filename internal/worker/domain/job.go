package domain

import (
	"database/sql"
	"time"
)

// Job is a row of the remote jobs table
type Job struct {
	JobID           string         `db:"job_id"`
	Lane            string         `db:"lane"`
	TaskName        string         `db:"task_name"`
	Kwargs          string         `db:"kwargs"` // JSON object
	Status          string         `db:"status"`
	Result          sql.NullString `db:"result"` // JSON value
	ErrorMessage    sql.NullString `db:"error_message"`
	CancelRequested bool           `db:"cancel_requested"`
	WorkerID        sql.NullString `db:"worker_id"`
	TimeoutSeconds  int            `db:"timeout_seconds"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// IsTerminal reports whether the row reached a final status
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// JobMessage represents a job message from RabbitMQ
type JobMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
}
