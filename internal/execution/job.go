// Package execution defines the job-execution substrate used by the worker
// session: named functions, tasks that run on execution lanes, the handles
// that track them, and the registry of lanes configured for a process.
package execution

import (
	"context"
	"errors"
)

// Status is the lifecycle state of a job handle
type Status string

// Job status constants
const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusFinished  Status = "finished"
	StatusErrored   Status = "error"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions can happen
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusErrored || s == StatusCancelled
}

var (
	// ErrFunctionNotFound is returned when no function is registered under a name
	ErrFunctionNotFound = errors.New("function not registered")

	// ErrTaskNotFound is returned when no task is registered under a name
	ErrTaskNotFound = errors.New("task not registered")

	// ErrHandlerNotFound is returned when a job handler name is absent from config
	ErrHandlerNotFound = errors.New("job handler not found in config")

	// ErrUnsupportedLane is returned for job handler types with no lane implementation
	ErrUnsupportedLane = errors.New("unexpected job handler type")

	// ErrJobCancelled is the error reported by handles cancelled before finishing
	ErrJobCancelled = errors.New("job was cancelled")

	// ErrLaneFull is returned when a lane cannot accept more queued jobs
	ErrLaneFull = errors.New("lane queue is full")
)

// Handle tracks one asynchronously executing job.
type Handle interface {
	// ID is the backend-assigned job id
	ID() string
	// FunctionName is the task the job runs
	FunctionName() string
	// Status queries the current state; implementations must not block for long
	Status(ctx context.Context) (Status, error)
	// Result returns the job return value once Finished
	Result() (any, bool)
	// Err returns the failure once Errored or Cancelled
	Err() error
	// Cancel requests cancellation; completion is still observed through Status
	Cancel(ctx context.Context) error
}

// Outcome is what invoking a function yields: either an immediate value or a
// handle to a job that completes later.
type Outcome struct {
	value    any
	handle   Handle
	deferred bool
}

// Immediate wraps a value produced synchronously
func Immediate(value any) Outcome {
	return Outcome{value: value}
}

// Deferred wraps a handle to a running job
func Deferred(h Handle) Outcome {
	return Outcome{handle: h, deferred: true}
}

// IsDeferred reports whether the outcome carries a job handle
func (o Outcome) IsDeferred() bool {
	return o.deferred
}

// Value returns the immediate value
func (o Outcome) Value() any {
	return o.value
}

// Handle returns the job handle of a deferred outcome
func (o Outcome) Handle() Handle {
	return o.handle
}
