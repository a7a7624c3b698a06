package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/labbox-api/internal/execution"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTasks(block chan struct{}) *execution.Registry {
	r := execution.NewRegistry()
	r.RegisterTask("add", func(ctx context.Context, kwargs map[string]any) (any, error) {
		return kwargs["a"].(float64) + kwargs["b"].(float64), nil
	})
	r.RegisterTask("fail", func(ctx context.Context, kwargs map[string]any) (any, error) {
		return nil, errors.New("task failed")
	})
	r.RegisterTask("panic", func(ctx context.Context, kwargs map[string]any) (any, error) {
		panic("kaboom")
	})
	r.RegisterTask("block", func(ctx context.Context, kwargs map[string]any) (any, error) {
		select {
		case <-block:
			return "released", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	return r
}

func waitStatus(t *testing.T, h execution.Handle, want execution.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := h.Status(context.Background())
		return err == nil && s == want
	}, 2*time.Second, 5*time.Millisecond)
}

func newTestPool(t *testing.T, capacity, queueSize int, block chan struct{}) *Pool {
	t.Helper()
	p, err := NewPool(PoolConfig{
		Name:      "default",
		Capacity:  capacity,
		QueueSize: queueSize,
		Tasks:     testTasks(block),
		Logger:    testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNewPool_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  PoolConfig
	}{
		{"missing name", PoolConfig{Capacity: 1, Tasks: execution.NewRegistry()}},
		{"zero capacity", PoolConfig{Name: "p", Tasks: execution.NewRegistry()}},
		{"missing tasks", PoolConfig{Name: "p", Capacity: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPool(tt.cfg)
			require.Error(t, err)
		})
	}
}

func TestPool_RunsTasks(t *testing.T) {
	p := newTestPool(t, 2, 4, nil)

	assert.Equal(t, "default", p.Name())
	assert.Equal(t, execution.LaneLocal, p.Kind())
	assert.Equal(t, 2, p.Capacity())

	h, err := p.Submit(context.Background(), "add", map[string]any{"a": 1.0, "b": 2.0})
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID())
	assert.Equal(t, "add", h.FunctionName())

	waitStatus(t, h, execution.StatusFinished)
	v, ok := h.Result()
	require.True(t, ok)
	assert.Equal(t, 3.0, v)
	assert.NoError(t, h.Err())
}

func TestPool_TaskErrors(t *testing.T) {
	p := newTestPool(t, 1, 4, nil)

	h, err := p.Submit(context.Background(), "fail", nil)
	require.NoError(t, err)
	waitStatus(t, h, execution.StatusErrored)
	assert.EqualError(t, h.Err(), "task failed")

	_, ok := h.Result()
	assert.False(t, ok)

	h, err = p.Submit(context.Background(), "panic", nil)
	require.NoError(t, err)
	waitStatus(t, h, execution.StatusErrored)
	assert.Contains(t, h.Err().Error(), "kaboom")
}

func TestPool_UnknownTask(t *testing.T) {
	p := newTestPool(t, 1, 1, nil)

	_, err := p.Submit(context.Background(), "missing", nil)
	require.ErrorIs(t, err, execution.ErrTaskNotFound)
}

func TestPool_FullQueue(t *testing.T) {
	block := make(chan struct{})
	p := newTestPool(t, 1, 1, block)
	defer close(block)

	running, err := p.Submit(context.Background(), "block", nil)
	require.NoError(t, err)
	waitStatus(t, running, execution.StatusRunning)

	_, err = p.Submit(context.Background(), "block", nil)
	require.NoError(t, err)

	_, err = p.Submit(context.Background(), "block", nil)
	require.ErrorIs(t, err, execution.ErrLaneFull)
}

func TestPool_CancelQueuedJob(t *testing.T) {
	block := make(chan struct{})
	p := newTestPool(t, 1, 2, block)

	running, err := p.Submit(context.Background(), "block", nil)
	require.NoError(t, err)
	waitStatus(t, running, execution.StatusRunning)

	queued, err := p.Submit(context.Background(), "add", map[string]any{"a": 1.0, "b": 1.0})
	require.NoError(t, err)

	require.NoError(t, queued.Cancel(context.Background()))
	waitStatus(t, queued, execution.StatusCancelled)
	require.ErrorIs(t, queued.Err(), execution.ErrJobCancelled)

	close(block)
	waitStatus(t, running, execution.StatusFinished)

	// the cancelled job never runs
	s, err := queued.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCancelled, s)
}

func TestPool_CancelRunningJob(t *testing.T) {
	block := make(chan struct{})
	p := newTestPool(t, 1, 1, block)
	defer close(block)

	h, err := p.Submit(context.Background(), "block", nil)
	require.NoError(t, err)
	waitStatus(t, h, execution.StatusRunning)

	require.NoError(t, h.Cancel(context.Background()))
	waitStatus(t, h, execution.StatusCancelled)
	require.ErrorIs(t, h.Err(), execution.ErrJobCancelled)
}

func TestPool_Close(t *testing.T) {
	p, err := NewPool(PoolConfig{Name: "p", Capacity: 1, Tasks: testTasks(nil), Logger: testLogger()})
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err = p.Submit(context.Background(), "add", nil)
	require.ErrorIs(t, err, ErrPoolClosed)
}
