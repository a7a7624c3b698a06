package worker

import (
	"context"
	"sync"

	"github.com/cuongbtq/labbox-api/internal/execution"
)

// localJob is the handle of a job queued on a Pool
type localJob struct {
	id       string
	taskName string
	kwargs   map[string]any
	task     execution.Task

	mu              sync.Mutex
	status          execution.Status
	result          any
	err             error
	cancel          context.CancelFunc
	cancelRequested bool
}

func newLocalJob(id, taskName string, kwargs map[string]any, task execution.Task) *localJob {
	return &localJob{
		id:       id,
		taskName: taskName,
		kwargs:   kwargs,
		task:     task,
		status:   execution.StatusCreated,
	}
}

func (j *localJob) ID() string           { return j.id }
func (j *localJob) FunctionName() string { return j.taskName }

func (j *localJob) Status(ctx context.Context) (execution.Status, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status, nil
}

func (j *localJob) Result() (any, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.status == execution.StatusFinished
}

func (j *localJob) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Cancel drops a queued job and interrupts a running one
func (j *localJob) Cancel(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch j.status {
	case execution.StatusCreated:
		j.status = execution.StatusCancelled
		j.err = execution.ErrJobCancelled
	case execution.StatusRunning:
		j.cancelRequested = true
		if j.cancel != nil {
			j.cancel()
		}
	}
	return nil
}

// start moves a queued job to running; false if it was cancelled while queued
func (j *localJob) start() (context.Context, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != execution.StatusCreated {
		return nil, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.status = execution.StatusRunning
	return ctx, true
}

// finish records the task outcome and returns the terminal status
func (j *localJob) finish(result any, err error) execution.Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cancel != nil {
		j.cancel()
	}

	switch {
	case err != nil && j.cancelRequested:
		j.status = execution.StatusCancelled
		j.err = execution.ErrJobCancelled
	case err != nil:
		j.status = execution.StatusErrored
		j.err = err
	default:
		j.status = execution.StatusFinished
		j.result = result
	}
	return j.status
}
