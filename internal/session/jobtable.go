package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/labbox-api/internal/execution"
	"github.com/cuongbtq/labbox-api/internal/metrics"
)

// trackedJob is a deferred job awaiting a terminal status
type trackedJob struct {
	handle      execution.Handle
	clientJobID string
	function    string
	createdAt   time.Time
}

// CreateResult is the outcome of JobTable.Create. Exactly one of JobID and
// ResultSHA1 is set.
type CreateResult struct {
	JobID      string
	ResultSHA1 string
	Elapsed    time.Duration
}

// Immediate reports whether the function produced its value synchronously
func (r CreateResult) Immediate() bool {
	return r.JobID == ""
}

// JobTable tracks deferred jobs from creation until their terminal status is
// reported. Not safe for concurrent use.
type JobTable struct {
	backend   execution.Backend
	resources execution.Resources
	encoder   *ResultEncoder
	logger    *slog.Logger
	now       func() time.Time

	jobs  map[string]*trackedJob
	order []string
}

// NewJobTable creates an empty job table
func NewJobTable(backend execution.Backend, resources execution.Resources, encoder *ResultEncoder, logger *slog.Logger, now func() time.Time) *JobTable {
	if now == nil {
		now = time.Now
	}
	return &JobTable{
		backend:   backend,
		resources: resources,
		encoder:   encoder,
		logger:    logger,
		now:       now,
		jobs:      make(map[string]*trackedJob),
	}
}

// Create invokes a function. An immediate value is encoded and nothing is
// tracked; a job handle is tracked under its backend id.
func (t *JobTable) Create(ctx context.Context, functionName string, kwargs map[string]any, clientJobID string) (CreateResult, error) {
	start := t.now()

	fn, err := t.backend.Lookup(functionName)
	if err != nil {
		return CreateResult{}, fmt.Errorf("%w: %w", ErrLookupFault, err)
	}

	out, err := t.backend.Invoke(fn, kwargs, execution.NewContext(ctx, t.resources))
	if err != nil {
		return CreateResult{}, classifyInvokeError(err)
	}

	if !out.IsDeferred() {
		hash, err := t.encoder.Encode(ctx, out.Value())
		if err != nil {
			return CreateResult{}, err
		}
		metrics.JobsCreatedTotal.WithLabelValues("immediate").Inc()
		return CreateResult{ResultSHA1: hash, Elapsed: t.now().Sub(start)}, nil
	}

	h := out.Handle()
	id := h.ID()
	if id == "" {
		return CreateResult{}, fmt.Errorf("%w: backend returned a job with an empty id", ErrInternalInvariant)
	}
	if _, exists := t.jobs[id]; exists {
		return CreateResult{}, fmt.Errorf("%w: backend reused job id %s", ErrInternalInvariant, id)
	}

	t.jobs[id] = &trackedJob{
		handle:      h,
		clientJobID: clientJobID,
		function:    functionName,
		createdAt:   start,
	}
	t.order = append(t.order, id)

	metrics.JobsCreatedTotal.WithLabelValues("deferred").Inc()
	metrics.JobsTracked.Inc()

	t.logger.Info("Created hither job",
		slog.String("job_id", id),
		slog.String("client_job_id", clientJobID),
		slog.String("function_name", functionName),
	)

	return CreateResult{JobID: id, Elapsed: t.now().Sub(start)}, nil
}

func classifyInvokeError(err error) error {
	if errors.Is(err, execution.ErrFunctionNotFound) ||
		errors.Is(err, execution.ErrTaskNotFound) ||
		errors.Is(err, execution.ErrHandlerNotFound) ||
		errors.Is(err, execution.ErrUnsupportedLane) {
		return fmt.Errorf("%w: %w", ErrLookupFault, err)
	}
	return fmt.Errorf("%w: %w", ErrBackendFault, err)
}

// Cancel requests cancellation of a tracked job. The entry stays until Poll
// observes a terminal status.
func (t *JobTable) Cancel(ctx context.Context, jobID string) error {
	job, ok := t.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: no job with id: %s", ErrLookupFault, jobID)
	}

	if err := job.handle.Cancel(ctx); err != nil {
		return fmt.Errorf("%w: cancel job %s: %w", ErrBackendFault, jobID, err)
	}

	t.logger.Info("Cancel requested",
		slog.String("job_id", jobID),
		slog.String("client_job_id", job.clientJobID),
	)
	return nil
}

// Poll queries every tracked job once and returns one completion message per
// job that reached a terminal status. Those jobs are removed.
func (t *JobTable) Poll(ctx context.Context) []Message {
	var (
		out  []Message
		done []string
	)

	for _, id := range t.order {
		job := t.jobs[id]

		status, err := job.handle.Status(ctx)
		if err != nil {
			metrics.JobStatusQueryFailuresTotal.Inc()
			t.logger.Warn("Failed to query job status",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !status.IsTerminal() {
			continue
		}

		done = append(done, id)
		out = append(out, t.complete(ctx, id, job, status))
	}

	for _, id := range done {
		t.remove(id)
	}
	return out
}

// complete builds the message for a job observed in a terminal status
func (t *JobTable) complete(ctx context.Context, id string, job *trackedJob, status execution.Status) Message {
	info := &RuntimeInfo{
		FunctionName: job.function,
		ElapsedSec:   t.now().Sub(job.createdAt).Seconds(),
	}

	fail := func(err error) Message {
		metrics.JobsErroredTotal.WithLabelValues(faultLabel(err)).Inc()
		level := slog.LevelInfo
		if errors.Is(err, ErrInternalInvariant) || errors.Is(err, ErrBackendFault) || errors.Is(err, ErrEncodingFault) {
			level = slog.LevelError
		}
		t.logger.Log(ctx, level, "Hither job errored",
			slog.String("job_id", id),
			slog.String("client_job_id", job.clientJobID),
			slog.String("function_name", job.function),
			slog.String("error", err.Error()),
		)
		return newJobError(id, job.clientJobID, err.Error(), info)
	}

	switch status {
	case execution.StatusFinished:
		result, ok := job.handle.Result()
		if !ok || result == nil {
			return fail(fmt.Errorf("%w: result of finished job is nil", ErrInternalInvariant))
		}

		hash, err := t.encoder.Encode(ctx, result)
		if err != nil {
			return fail(fmt.Errorf("error encoding result: %w", err))
		}

		metrics.JobsFinishedTotal.Inc()
		t.logger.Info("Finished hither job",
			slog.String("job_id", id),
			slog.String("client_job_id", job.clientJobID),
			slog.String("function_name", job.function),
		)
		return newJobFinished(id, job.clientJobID, hash, info)

	case execution.StatusCancelled:
		err := job.handle.Err()
		if err == nil {
			err = execution.ErrJobCancelled
		}
		return fail(err)

	default:
		err := job.handle.Err()
		if err == nil {
			err = fmt.Errorf("%w: errored job has no error", ErrInternalInvariant)
		}
		return fail(err)
	}
}

func (t *JobTable) remove(id string) {
	if _, ok := t.jobs[id]; !ok {
		return
	}
	delete(t.jobs, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	metrics.JobsTracked.Dec()
}

// Has reports whether a job id is tracked
func (t *JobTable) Has(jobID string) bool {
	_, ok := t.jobs[jobID]
	return ok
}

// Len returns the number of tracked jobs
func (t *JobTable) Len() int {
	return len(t.jobs)
}

// Clear forgets every tracked job without cancelling it
func (t *JobTable) Clear() {
	metrics.JobsTracked.Sub(float64(len(t.jobs)))
	t.jobs = make(map[string]*trackedJob)
	t.order = nil
}
