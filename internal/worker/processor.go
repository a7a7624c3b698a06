package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/labbox-api/internal/metrics"
	"github.com/cuongbtq/labbox-api/internal/worker/domain"
)

// processJob claims a job, runs its task and stores the outcome.
// Task failures are recorded on the row and acknowledged; only transient
// claim failures are returned as retryable.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	start := time.Now()
	defer func() {
		metrics.RemoteJobProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	// Step 1: Claim job from database (PENDING → RUNNING)
	job, err := w.storage.ClaimJob(ctx, msg.JobID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			w.logger.Warn("Job already claimed, skipping",
				slog.String("job_id", msg.JobID),
			)
			return fmt.Errorf("job already claimed: %w", err)
		}
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	// Step 2: Parse kwargs
	kwargs := map[string]any{}
	if job.Kwargs != "" {
		if err := json.Unmarshal([]byte(job.Kwargs), &kwargs); err != nil {
			w.failJob(ctx, job.JobID, fmt.Sprintf("Invalid kwargs JSON: %s", err.Error()))
			return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
	}

	// Step 3: Resolve the task
	task, err := w.tasks.Task(job.TaskName)
	if err != nil {
		w.failJob(ctx, job.JobID, err.Error())
		return fmt.Errorf("%w: %s", domain.ErrUnknownTask, job.TaskName)
	}

	// Step 4: Create timeout context
	jobTimeout := w.jobTimeout
	if job.TimeoutSeconds > 0 {
		jobTimeout = time.Duration(job.TimeoutSeconds) * time.Second
	}

	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if jobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, jobTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// Step 5: Heartbeat, which also observes cancel requests
	var cancelled atomic.Bool
	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, job.JobID, heartbeatDone, func() {
		cancelled.Store(true)
		cancel()
	})
	defer close(heartbeatDone)

	// Step 6: Execute
	result, err := func() (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task %s panicked: %v", job.TaskName, r)
			}
		}()
		return task(jobCtx, kwargs)
	}()

	// Step 7: Record outcome
	switch {
	case cancelled.Load():
		w.logger.Info("Job cancelled",
			slog.String("job_id", job.JobID),
		)
		if updateErr := w.storage.MarkCanceled(ctx, job.JobID); updateErr != nil {
			w.logger.Error("Failed to update job status to CANCELED",
				slog.String("job_id", job.JobID),
				slog.String("error", updateErr.Error()),
			)
		}
		metrics.LaneJobsTotal.WithLabelValues(job.Lane, "cancelled").Inc()

	case err != nil:
		w.logger.Error("Job execution failed",
			slog.String("job_id", job.JobID),
			slog.String("task_name", job.TaskName),
			slog.String("error", err.Error()),
		)
		w.failJob(ctx, job.JobID, err.Error())
		metrics.LaneJobsTotal.WithLabelValues(job.Lane, "error").Inc()

	default:
		resultJSON, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			w.failJob(ctx, job.JobID, fmt.Sprintf("result is not JSON serializable: %s", marshalErr.Error()))
			metrics.LaneJobsTotal.WithLabelValues(job.Lane, "error").Inc()
			return nil
		}

		if updateErr := w.storage.CompleteJob(ctx, job.JobID, resultJSON); updateErr != nil {
			w.logger.Error("Failed to update job status to COMPLETED",
				slog.String("job_id", job.JobID),
				slog.String("error", updateErr.Error()),
			)
		}
		metrics.LaneJobsTotal.WithLabelValues(job.Lane, "finished").Inc()

		w.logger.Info("Job completed successfully",
			slog.String("job_id", job.JobID),
			slog.String("task_name", job.TaskName),
		)
	}

	return nil
}

func (w *Worker) failJob(ctx context.Context, jobID, msg string) {
	if err := w.storage.FailJob(ctx, jobID, msg); err != nil {
		w.logger.Error("Failed to update job status to FAILED",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// sendJobHeartbeat periodically updates the job's heartbeat timestamp and
// calls onCancel once a cancel request is seen
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}, onCancel func()) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			cancelRequested, err := w.storage.UpdateJobHeartbeat(ctx, jobID)
			if err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if cancelRequested {
				w.logger.Info("Cancel requested for running job",
					slog.String("job_id", jobID),
				)
				onCancel()
				return
			}
		}
	}
}
