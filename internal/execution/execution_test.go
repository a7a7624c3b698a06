package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLane struct {
	name   string
	kind   LaneKind
	closed bool
	handle Handle
	err    error
}

func (l *stubLane) Name() string    { return l.name }
func (l *stubLane) Kind() LaneKind  { return l.kind }
func (l *stubLane) Capacity() int   { return 1 }
func (l *stubLane) Close() error    { l.closed = true; return nil }
func (l *stubLane) Submit(ctx context.Context, taskName string, kwargs map[string]any) (Handle, error) {
	return l.handle, l.err
}

type stubHandle struct{ id string }

func (h *stubHandle) ID() string                                  { return h.id }
func (h *stubHandle) FunctionName() string                        { return "stub" }
func (h *stubHandle) Status(ctx context.Context) (Status, error)  { return StatusRunning, nil }
func (h *stubHandle) Result() (any, bool)                         { return nil, false }
func (h *stubHandle) Err() error                                  { return nil }
func (h *stubHandle) Cancel(ctx context.Context) error            { return nil }

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusCreated, false},
		{StatusRunning, false},
		{StatusFinished, true},
		{StatusErrored, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry()
	r.RegisterFunction("add", func(fc *Context, kwargs map[string]any) (Outcome, error) {
		return Immediate(3), nil
	})

	fn, err := r.Lookup("add")
	require.NoError(t, err)
	out, err := fn(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Value())
	assert.False(t, out.IsDeferred())

	_, err = r.Lookup("missing")
	require.ErrorIs(t, err, ErrFunctionNotFound)

	_, err = r.Task("missing")
	require.ErrorIs(t, err, ErrTaskNotFound)

	assert.Equal(t, []string{"add"}, r.Functions())
}

func TestExecutor_Invoke(t *testing.T) {
	r := NewRegistry()
	e := NewExecutor(r)
	fc := NewContext(context.Background(), Resources{})

	t.Run("immediate", func(t *testing.T) {
		out, err := e.Invoke(func(fc *Context, kwargs map[string]any) (Outcome, error) {
			return Immediate(kwargs["x"]), nil
		}, map[string]any{"x": "y"}, fc)
		require.NoError(t, err)
		assert.Equal(t, "y", out.Value())
	})

	t.Run("error", func(t *testing.T) {
		_, err := e.Invoke(func(fc *Context, kwargs map[string]any) (Outcome, error) {
			return Outcome{}, errors.New("boom")
		}, nil, fc)
		require.EqualError(t, err, "boom")
	})

	t.Run("panic", func(t *testing.T) {
		_, err := e.Invoke(func(fc *Context, kwargs map[string]any) (Outcome, error) {
			panic("bad")
		}, nil, fc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad")
	})

	t.Run("deferred without handle", func(t *testing.T) {
		_, err := e.Invoke(func(fc *Context, kwargs map[string]any) (Outcome, error) {
			return Deferred(nil), nil
		}, nil, fc)
		require.Error(t, err)
	})
}

func TestHandlerRegistry_Resolve(t *testing.T) {
	r := NewHandlerRegistry(map[string]LaneKind{
		"default":  LaneLocal,
		"cluster":  LaneRemote,
		"gpu":      LaneKind("slurm"),
		"unwired":  LaneLocal,
	})

	local := &stubLane{name: "default", kind: LaneLocal}
	remote := &stubLane{name: "cluster", kind: LaneRemote}
	require.NoError(t, r.Add(local))
	require.NoError(t, r.Add(remote))

	require.Error(t, r.Add(&stubLane{name: "default", kind: LaneLocal}), "duplicate add")
	require.Error(t, r.Add(&stubLane{name: "cluster", kind: LaneLocal}), "kind mismatch")
	require.ErrorIs(t, r.Add(&stubLane{name: "other", kind: LaneLocal}), ErrHandlerNotFound)

	lane, err := r.Resolve("default")
	require.NoError(t, err)
	assert.Same(t, local, lane)

	lane, err = r.Resolve("cluster")
	require.NoError(t, err)
	assert.Same(t, remote, lane)

	_, err = r.Resolve("nope")
	require.ErrorIs(t, err, ErrHandlerNotFound)

	_, err = r.Resolve("gpu")
	require.ErrorIs(t, err, ErrUnsupportedLane)

	_, err = r.Resolve("unwired")
	require.ErrorIs(t, err, ErrHandlerNotFound)

	require.NoError(t, r.Close())
	assert.True(t, local.closed)
	assert.True(t, remote.closed)
}

func TestContext_Run(t *testing.T) {
	h := &stubHandle{id: "j1"}
	lanes := NewHandlerRegistry(map[string]LaneKind{"default": LaneLocal})
	require.NoError(t, lanes.Add(&stubLane{name: "default", kind: LaneLocal, handle: h}))

	fc := NewContext(context.Background(), Resources{Lanes: lanes})

	got, err := fc.Run("default", "add", nil)
	require.NoError(t, err)
	assert.Equal(t, "j1", got.ID())

	_, err = fc.Run("missing", "add", nil)
	require.ErrorIs(t, err, ErrHandlerNotFound)

	empty := NewContext(context.Background(), Resources{})
	_, err = empty.Lane("default")
	require.ErrorIs(t, err, ErrHandlerNotFound)
	assert.NotNil(t, empty.Logger())
}
