package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/labbox-api/internal/execution"
	"github.com/cuongbtq/labbox-api/internal/worker/domain"
	"github.com/google/uuid"
)

// JobStore is the subset of storage.Storage used by the remote lane
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	FailJob(ctx context.Context, jobID string, errorMsg string) error
	RequestCancel(ctx context.Context, jobID string) error
}

// Publisher sends dispatch messages to the worker service
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// RemoteLaneConfig holds remote lane configuration
type RemoteLaneConfig struct {
	Name            string
	Store           JobStore
	Publisher       Publisher
	Tasks           *execution.Registry
	StatusTimeout   time.Duration
	DispatchTimeout time.Duration
	TimeoutSeconds  int
	Logger          *slog.Logger
}

// RemoteLane dispatches tasks to the worker service through Postgres and RabbitMQ
type RemoteLane struct {
	name            string
	store           JobStore
	publisher       Publisher
	tasks           *execution.Registry
	statusTimeout   time.Duration
	dispatchTimeout time.Duration
	timeoutSeconds  int
	logger          *slog.Logger
}

// NewRemoteLane creates a remote lane
func NewRemoteLane(cfg RemoteLaneConfig) (*RemoteLane, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("remote lane name is required")
	}
	if cfg.Store == nil || cfg.Publisher == nil {
		return nil, fmt.Errorf("remote lane %s: store and publisher are required", cfg.Name)
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = 50 * time.Millisecond
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &RemoteLane{
		name:            cfg.Name,
		store:           cfg.Store,
		publisher:       cfg.Publisher,
		tasks:           cfg.Tasks,
		statusTimeout:   cfg.StatusTimeout,
		dispatchTimeout: cfg.DispatchTimeout,
		timeoutSeconds:  cfg.TimeoutSeconds,
		logger:          cfg.Logger.With(slog.String("lane", cfg.Name)),
	}, nil
}

// Name returns the lane name
func (l *RemoteLane) Name() string { return l.name }

// Kind returns execution.LaneRemote
func (l *RemoteLane) Kind() execution.LaneKind { return execution.LaneRemote }

// Capacity is not known locally for remote lanes
func (l *RemoteLane) Capacity() int { return 0 }

// Close is a no-op; the infra clients are owned by the caller
func (l *RemoteLane) Close() error { return nil }

// Submit records a PENDING row and publishes the job id. The whole dispatch
// is bounded by the lane dispatch timeout.
func (l *RemoteLane) Submit(ctx context.Context, taskName string, kwargs map[string]any) (execution.Handle, error) {
	if l.tasks != nil {
		if _, err := l.tasks.Task(taskName); err != nil {
			return nil, err
		}
	}

	if kwargs == nil {
		kwargs = map[string]any{}
	}
	kwargsJSON, err := json.Marshal(kwargs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	job := &domain.Job{
		JobID:          uuid.NewString(),
		Lane:           l.name,
		TaskName:       taskName,
		Kwargs:         string(kwargsJSON),
		TimeoutSeconds: l.timeoutSeconds,
	}

	ctx, cancel := context.WithTimeout(ctx, l.dispatchTimeout)
	defer cancel()

	if err := l.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	body, err := json.Marshal(domain.JobMessage{JobID: job.JobID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job message: %w", err)
	}

	if err := l.publisher.PublishWithRetry(ctx, body, domain.ContentTypeJSON); err != nil {
		failCtx, failCancel := context.WithTimeout(context.WithoutCancel(ctx), l.dispatchTimeout)
		defer failCancel()
		if failErr := l.store.FailJob(failCtx, job.JobID, "dispatch failed: "+err.Error()); failErr != nil {
			l.logger.Error("Failed to mark undispatched job as failed",
				slog.String("job_id", job.JobID),
				slog.String("error", failErr.Error()),
			)
		}
		return nil, fmt.Errorf("failed to dispatch job: %w", err)
	}

	l.logger.Info("Remote job dispatched",
		slog.String("job_id", job.JobID),
		slog.String("task_name", taskName),
	)

	return &remoteJob{
		id:       job.JobID,
		taskName: taskName,
		lane:     l,
		status:   execution.StatusCreated,
	}, nil
}

// remoteJob is the handle of a job dispatched to the worker service
type remoteJob struct {
	id       string
	taskName string
	lane     *RemoteLane

	mu     sync.Mutex
	status execution.Status
	result any
	err    error
}

func (j *remoteJob) ID() string           { return j.id }
func (j *remoteJob) FunctionName() string { return j.taskName }

// Status reads the job row, bounded by the lane status timeout
func (j *remoteJob) Status(ctx context.Context) (execution.Status, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.IsTerminal() {
		return j.status, nil
	}

	ctx, cancel := context.WithTimeout(ctx, j.lane.statusTimeout)
	defer cancel()

	row, err := j.lane.store.GetJobByID(ctx, j.id)
	if err != nil {
		return j.status, fmt.Errorf("failed to read remote job status: %w", err)
	}

	switch row.Status {
	case domain.JobStatusPending:
		j.status = execution.StatusCreated
	case domain.JobStatusRunning:
		j.status = execution.StatusRunning
	case domain.JobStatusCompleted:
		j.status = execution.StatusFinished
		if row.Result.Valid {
			var v any
			dec := json.NewDecoder(strings.NewReader(row.Result.String))
			dec.UseNumber()
			if err := dec.Decode(&v); err != nil {
				j.status = execution.StatusErrored
				j.err = fmt.Errorf("invalid result JSON: %w", err)
				break
			}
			j.result = v
		}
	case domain.JobStatusFailed:
		j.status = execution.StatusErrored
		j.err = errors.New(row.ErrorMessage.String)
	case domain.JobStatusCanceled:
		j.status = execution.StatusCancelled
		j.err = execution.ErrJobCancelled
	default:
		return j.status, fmt.Errorf("unexpected remote job status %q", row.Status)
	}

	return j.status, nil
}

func (j *remoteJob) Result() (any, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.status == execution.StatusFinished
}

func (j *remoteJob) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Cancel asks the worker service to stop the job
func (j *remoteJob) Cancel(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.lane.statusTimeout*10)
	defer cancel()
	return j.lane.store.RequestCancel(ctx, j.id)
}
