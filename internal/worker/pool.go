package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/labbox-api/internal/execution"
	"github.com/cuongbtq/labbox-api/internal/metrics"
	"github.com/google/uuid"
)

// ErrPoolClosed is returned by Submit after Close
var ErrPoolClosed = errors.New("worker pool is closed")

// PoolConfig holds local lane configuration
type PoolConfig struct {
	Name      string
	Capacity  int
	QueueSize int
	Tasks     *execution.Registry
	Logger    *slog.Logger
}

// Pool is a local lane: a fixed number of goroutines draining a bounded queue
type Pool struct {
	name     string
	capacity int
	tasks    *execution.Registry
	logger   *slog.Logger

	jobsChan chan *localJob
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a local lane and spawns its workers
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("pool name is required")
	}
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("pool %s: capacity must be positive", cfg.Name)
	}
	if cfg.Tasks == nil {
		return nil, fmt.Errorf("pool %s: task registry is required", cfg.Name)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Capacity * 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Pool{
		name:     cfg.Name,
		capacity: cfg.Capacity,
		tasks:    cfg.Tasks,
		logger:   cfg.Logger.With(slog.String("lane", cfg.Name)),
		jobsChan: make(chan *localJob, cfg.QueueSize),
		stopChan: make(chan struct{}),
	}

	p.spawnWorkerPool()
	return p, nil
}

// Name returns the lane name
func (p *Pool) Name() string { return p.name }

// Kind returns execution.LaneLocal
func (p *Pool) Kind() execution.LaneKind { return execution.LaneLocal }

// Capacity returns the number of worker goroutines
func (p *Pool) Capacity() int { return p.capacity }

// Submit queues a task without blocking. A full queue returns execution.ErrLaneFull.
func (p *Pool) Submit(ctx context.Context, taskName string, kwargs map[string]any) (execution.Handle, error) {
	task, err := p.tasks.Task(taskName)
	if err != nil {
		return nil, err
	}

	job := newLocalJob(uuid.NewString(), taskName, kwargs, task)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	select {
	case p.jobsChan <- job:
		p.logger.Debug("Job queued",
			slog.String("job_id", job.id),
			slog.String("task_name", taskName),
		)
		return job, nil
	default:
		return nil, fmt.Errorf("%w: %s", execution.ErrLaneFull, p.name)
	}
}

// Close stops the workers, waits for running jobs and cancels queued ones
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopChan)
	p.mu.Unlock()

	p.logger.Info("Stopping worker pool")
	p.wg.Wait()

	for {
		select {
		case job := <-p.jobsChan:
			_ = job.Cancel(context.Background())
		default:
			p.logger.Info("Worker pool stopped")
			return nil
		}
	}
}

// spawnWorkerPool spawns N worker goroutines based on capacity
func (p *Pool) spawnWorkerPool() {
	p.logger.Info("Spawning worker pool",
		slog.Int("capacity", p.capacity),
	)

	for i := 0; i < p.capacity; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (p *Pool) workerLoop(workerNum int) {
	defer p.wg.Done()

	workerName := fmt.Sprintf("%s-%d", p.name, workerNum)

	for {
		select {
		case <-p.stopChan:
			p.logger.Debug("Worker goroutine stopping",
				slog.String("worker_name", workerName),
			)
			return

		case job := <-p.jobsChan:
			p.runJob(workerName, job)
		}
	}
}

// runJob executes one job, recovering panics into job errors
func (p *Pool) runJob(workerName string, job *localJob) {
	jobCtx, ok := job.start()
	if !ok {
		p.logger.Debug("Skipping cancelled job",
			slog.String("worker_name", workerName),
			slog.String("job_id", job.id),
		)
		return
	}

	metrics.LaneActiveWorkers.WithLabelValues(p.name).Inc()
	defer metrics.LaneActiveWorkers.WithLabelValues(p.name).Dec()

	p.logger.Debug("Worker running job",
		slog.String("worker_name", workerName),
		slog.String("job_id", job.id),
		slog.String("task_name", job.taskName),
	)

	result, err := func() (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task %s panicked: %v", job.taskName, r)
			}
		}()
		return job.task(jobCtx, job.kwargs)
	}()

	status := job.finish(result, err)
	metrics.LaneJobsTotal.WithLabelValues(p.name, string(status)).Inc()

	if err != nil {
		p.logger.Warn("Job failed",
			slog.String("worker_name", workerName),
			slog.String("job_id", job.id),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
}
