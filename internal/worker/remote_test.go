package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/labbox-api/internal/execution"
	"github.com/cuongbtq/labbox-api/internal/worker/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobStore struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	createErr  error
	getErr     error
	getCalls   int
	failCtxErr error
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*domain.Job)}
}

func (s *fakeJobStore) CreateJob(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	cp := *job
	cp.Status = domain.JobStatusPending
	s.jobs[job.JobID] = &cp
	return nil
}

func (s *fakeJobStore) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return nil, s.getErr
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *fakeJobStore) FailJob(ctx context.Context, jobID string, errorMsg string) error {
	s.mu.Lock()
	s.failCtxErr = ctx.Err()
	s.mu.Unlock()
	s.set(jobID, func(j *domain.Job) {
		j.Status = domain.JobStatusFailed
		j.ErrorMessage = sql.NullString{String: errorMsg, Valid: true}
	})
	return nil
}

func (s *fakeJobStore) RequestCancel(ctx context.Context, jobID string) error {
	s.set(jobID, func(j *domain.Job) {
		j.CancelRequested = true
		if j.Status == domain.JobStatusPending {
			j.Status = domain.JobStatusCanceled
		}
	})
	return nil
}

func (s *fakeJobStore) set(jobID string, fn func(*domain.Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		fn(job)
	}
}

type fakePublisher struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
}

func (p *fakePublisher) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.bodies = append(p.bodies, body)
	return nil
}

// blockingJobStore never returns from CreateJob until ctx is done
type blockingJobStore struct {
	*fakeJobStore
}

func (s *blockingJobStore) CreateJob(ctx context.Context, job *domain.Job) error {
	<-ctx.Done()
	return ctx.Err()
}

// blockingPublisher keeps retrying until ctx is done
type blockingPublisher struct{}

func (blockingPublisher) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	<-ctx.Done()
	return fmt.Errorf("publish aborted: %w", ctx.Err())
}

func newTestRemoteLane(t *testing.T, store JobStore, pub Publisher) *RemoteLane {
	t.Helper()
	lane, err := NewRemoteLane(RemoteLaneConfig{
		Name:      "cluster",
		Store:     store,
		Publisher: pub,
		Tasks:     testTasks(nil),
		Logger:    testLogger(),
	})
	require.NoError(t, err)
	return lane
}

func TestRemoteLane_SubmitDispatches(t *testing.T) {
	store := newFakeJobStore()
	pub := &fakePublisher{}
	lane := newTestRemoteLane(t, store, pub)

	assert.Equal(t, execution.LaneRemote, lane.Kind())

	h, err := lane.Submit(context.Background(), "add", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)

	require.Len(t, pub.bodies, 1)
	var msg domain.JobMessage
	require.NoError(t, json.Unmarshal(pub.bodies[0], &msg))
	assert.Equal(t, h.ID(), msg.JobID)

	row := store.jobs[h.ID()]
	require.NotNil(t, row)
	assert.Equal(t, "cluster", row.Lane)
	assert.Equal(t, "add", row.TaskName)
	assert.JSONEq(t, `{"a":1,"b":2}`, row.Kwargs)

	s, err := h.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCreated, s)
}

func TestRemoteLane_SubmitErrors(t *testing.T) {
	t.Run("unknown task", func(t *testing.T) {
		lane := newTestRemoteLane(t, newFakeJobStore(), &fakePublisher{})
		_, err := lane.Submit(context.Background(), "missing", nil)
		require.ErrorIs(t, err, execution.ErrTaskNotFound)
	})

	t.Run("store failure", func(t *testing.T) {
		store := newFakeJobStore()
		store.createErr = errors.New("db down")
		pub := &fakePublisher{}
		lane := newTestRemoteLane(t, store, pub)

		_, err := lane.Submit(context.Background(), "add", nil)
		require.Error(t, err)
		assert.Empty(t, pub.bodies)
	})

	t.Run("publish failure marks row failed", func(t *testing.T) {
		store := newFakeJobStore()
		lane := newTestRemoteLane(t, store, &fakePublisher{err: errors.New("broker down")})

		_, err := lane.Submit(context.Background(), "add", nil)
		require.Error(t, err)

		require.Len(t, store.jobs, 1)
		for _, job := range store.jobs {
			assert.Equal(t, domain.JobStatusFailed, job.Status)
			assert.Contains(t, job.ErrorMessage.String, "broker down")
		}
	})
}

func TestRemoteLane_SubmitDispatchTimeout(t *testing.T) {
	newLane := func(t *testing.T, store JobStore, pub Publisher) *RemoteLane {
		t.Helper()
		lane, err := NewRemoteLane(RemoteLaneConfig{
			Name:            "cluster",
			Store:           store,
			Publisher:       pub,
			Tasks:           testTasks(nil),
			DispatchTimeout: 50 * time.Millisecond,
			Logger:          testLogger(),
		})
		require.NoError(t, err)
		return lane
	}

	t.Run("store never answers", func(t *testing.T) {
		pub := &fakePublisher{}
		lane := newLane(t, &blockingJobStore{newFakeJobStore()}, pub)

		start := time.Now()
		_, err := lane.Submit(context.Background(), "add", nil)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
		assert.Empty(t, pub.bodies)
	})

	t.Run("broker never answers", func(t *testing.T) {
		store := newFakeJobStore()
		lane := newLane(t, store, blockingPublisher{})

		start := time.Now()
		_, err := lane.Submit(context.Background(), "add", nil)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)

		require.Len(t, store.jobs, 1)
		for _, job := range store.jobs {
			assert.Equal(t, domain.JobStatusFailed, job.Status)
		}
		assert.NoError(t, store.failCtxErr)
	})

	t.Run("caller cancellation", func(t *testing.T) {
		lane := newLane(t, &blockingJobStore{newFakeJobStore()}, &fakePublisher{})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := lane.Submit(ctx, "add", nil)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestRemoteJob_StatusTransitions(t *testing.T) {
	tests := []struct {
		name       string
		update     func(j *domain.Job)
		wantStatus execution.Status
		wantResult any
		wantErr    string
	}{
		{
			name:       "running",
			update:     func(j *domain.Job) { j.Status = domain.JobStatusRunning },
			wantStatus: execution.StatusRunning,
		},
		{
			name: "completed",
			update: func(j *domain.Job) {
				j.Status = domain.JobStatusCompleted
				j.Result = sql.NullString{String: `{"sum":3}`, Valid: true}
			},
			wantStatus: execution.StatusFinished,
			wantResult: map[string]any{"sum": json.Number("3")},
		},
		{
			name: "completed with integer beyond float precision",
			update: func(j *domain.Job) {
				j.Status = domain.JobStatusCompleted
				j.Result = sql.NullString{String: `9007199254740993`, Valid: true}
			},
			wantStatus: execution.StatusFinished,
			wantResult: json.Number("9007199254740993"),
		},
		{
			name: "failed",
			update: func(j *domain.Job) {
				j.Status = domain.JobStatusFailed
				j.ErrorMessage = sql.NullString{String: "division by zero", Valid: true}
			},
			wantStatus: execution.StatusErrored,
			wantErr:    "division by zero",
		},
		{
			name:       "canceled",
			update:     func(j *domain.Job) { j.Status = domain.JobStatusCanceled },
			wantStatus: execution.StatusCancelled,
			wantErr:    "job was cancelled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeJobStore()
			lane := newTestRemoteLane(t, store, &fakePublisher{})

			h, err := lane.Submit(context.Background(), "add", nil)
			require.NoError(t, err)
			store.set(h.ID(), tt.update)

			s, err := h.Status(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, s)

			if tt.wantResult != nil {
				v, ok := h.Result()
				require.True(t, ok)
				assert.Equal(t, tt.wantResult, v)
			}
			if tt.wantErr != "" {
				require.Error(t, h.Err())
				assert.Equal(t, tt.wantErr, h.Err().Error())
			}
		})
	}
}

func TestRemoteJob_TerminalStatusIsCached(t *testing.T) {
	store := newFakeJobStore()
	lane := newTestRemoteLane(t, store, &fakePublisher{})

	h, err := lane.Submit(context.Background(), "add", nil)
	require.NoError(t, err)
	store.set(h.ID(), func(j *domain.Job) { j.Status = domain.JobStatusCanceled })

	_, err = h.Status(context.Background())
	require.NoError(t, err)
	calls := store.getCalls

	s, err := h.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCancelled, s)
	assert.Equal(t, calls, store.getCalls)
}

func TestRemoteJob_StatusError(t *testing.T) {
	store := newFakeJobStore()
	lane := newTestRemoteLane(t, store, &fakePublisher{})

	h, err := lane.Submit(context.Background(), "add", nil)
	require.NoError(t, err)

	store.getErr = errors.New("timeout")
	_, err = h.Status(context.Background())
	require.Error(t, err)
}

func TestRemoteJob_Cancel(t *testing.T) {
	store := newFakeJobStore()
	lane := newTestRemoteLane(t, store, &fakePublisher{})

	h, err := lane.Submit(context.Background(), "add", nil)
	require.NoError(t, err)

	require.NoError(t, h.Cancel(context.Background()))
	s, err := h.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCancelled, s)
}

func TestBuildLanes(t *testing.T) {
	specs := []LaneSpec{
		{Name: "default", Kind: execution.LaneLocal, Capacity: 2},
		{Name: "partition1", Kind: execution.LaneLocal, Capacity: 1},
		{Name: "gpu", Kind: execution.LaneKind("slurm")},
	}

	registry, err := BuildLanes(specs, LaneDeps{Tasks: testTasks(nil), Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })

	lane, err := registry.Resolve("default")
	require.NoError(t, err)
	assert.Equal(t, 2, lane.Capacity())

	_, err = registry.Resolve("gpu")
	require.ErrorIs(t, err, execution.ErrUnsupportedLane)

	_, err = BuildLanes([]LaneSpec{{Name: "cluster", Kind: execution.LaneRemote}}, LaneDeps{Tasks: testTasks(nil)})
	require.Error(t, err)

	remote, err := BuildLanes([]LaneSpec{{Name: "cluster", Kind: execution.LaneRemote}}, LaneDeps{
		Tasks:     testTasks(nil),
		Store:     newFakeJobStore(),
		Publisher: &fakePublisher{},
		Logger:    testLogger(),
	})
	require.NoError(t, err)
	lane, err = remote.Resolve("cluster")
	require.NoError(t, err)
	assert.Equal(t, execution.LaneRemote, lane.Kind())
}
