package session

import (
	"context"
	"errors"
	"testing"

	"github.com/cuongbtq/labbox-api/internal/execution"
	"github.com/cuongbtq/labbox-api/internal/feed"
	"github.com/cuongbtq/labbox-api/internal/feed/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJobTable(handles ...*fakeHandle) *JobTable {
	store := memory.New()
	clock := newFakeClock()
	return NewJobTable(
		execution.NewExecutor(testRegistry(handles...)),
		execution.Resources{Store: store, Feeds: store, Logger: discardLogger()},
		NewResultEncoder(store),
		discardLogger(),
		clock.Now,
	)
}

func TestJobTable_CreateImmediate(t *testing.T) {
	table := newTestJobTable()

	res, err := table.Create(context.Background(), "add", map[string]any{"a": 1, "b": 2}, "c1")
	require.NoError(t, err)
	assert.True(t, res.Immediate())
	assert.Equal(t, feed.SHA1Hex([]byte("3")), res.ResultSHA1)
	assert.Equal(t, 0, table.Len())
}

func TestJobTable_CreateDeferred(t *testing.T) {
	h1, h2 := newFakeHandle("j1"), newFakeHandle("j2")
	table := newTestJobTable(h1, h2)

	res, err := table.Create(context.Background(), "async", map[string]any{}, "c1")
	require.NoError(t, err)
	assert.False(t, res.Immediate())
	assert.Equal(t, "j1", res.JobID)

	_, err = table.Create(context.Background(), "async", map[string]any{}, "c2")
	require.NoError(t, err)

	assert.True(t, table.Has("j1"))
	assert.True(t, table.Has("j2"))
	assert.Equal(t, 2, table.Len())
}

func TestJobTable_CreateRejectsReusedOrEmptyID(t *testing.T) {
	table := newTestJobTable(newFakeHandle("j1"), newFakeHandle("j1"), newFakeHandle(""))

	_, err := table.Create(context.Background(), "async", map[string]any{}, "c1")
	require.NoError(t, err)

	_, err = table.Create(context.Background(), "async", map[string]any{}, "c2")
	require.ErrorIs(t, err, ErrInternalInvariant)

	_, err = table.Create(context.Background(), "async", map[string]any{}, "c3")
	require.ErrorIs(t, err, ErrInternalInvariant)

	assert.Equal(t, 1, table.Len())
}

func TestJobTable_CreateLookupFault(t *testing.T) {
	table := newTestJobTable()

	_, err := table.Create(context.Background(), "nope", map[string]any{}, "c1")
	require.ErrorIs(t, err, ErrLookupFault)
	require.ErrorIs(t, err, execution.ErrFunctionNotFound)
}

func TestClassifyInvokeError(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{execution.ErrHandlerNotFound, ErrLookupFault},
		{execution.ErrUnsupportedLane, ErrLookupFault},
		{execution.ErrTaskNotFound, ErrLookupFault},
		{execution.ErrLaneFull, ErrBackendFault},
		{errors.New("boom"), ErrBackendFault},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			got := classifyInvokeError(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestJobTable_Poll(t *testing.T) {
	running := newFakeHandle("running")
	finished := newFakeHandle("finished")
	errored := newFakeHandle("errored")
	table := newTestJobTable(running, finished, errored)

	for _, cid := range []string{"c-running", "c-finished", "c-errored"} {
		_, err := table.Create(context.Background(), "async", map[string]any{}, cid)
		require.NoError(t, err)
	}

	finished.finish(map[string]any{"v": 1})
	errored.fail(errors.New("task exploded"))

	msgs := table.Poll(context.Background())
	require.Len(t, msgs, 2)

	fin, ok := msgs[0].(*JobFinished)
	require.True(t, ok)
	assert.Equal(t, "finished", fin.JobID)
	assert.Equal(t, "c-finished", fin.ClientJobID)
	assert.Equal(t, feed.SHA1Hex([]byte(`{"v":1}`)), fin.ResultSHA1)
	require.NotNil(t, fin.RuntimeInfo)
	assert.Equal(t, "async", fin.RuntimeInfo.FunctionName)

	jerr, ok := msgs[1].(*JobError)
	require.True(t, ok)
	assert.Equal(t, "errored", jerr.JobID)
	assert.Equal(t, "c-errored", jerr.ClientJobID)
	assert.Equal(t, "task exploded", jerr.ErrorMessage)
	assert.NotNil(t, jerr.RuntimeInfo)

	assert.Equal(t, 1, table.Len())
	assert.True(t, table.Has("running"))

	assert.Empty(t, table.Poll(context.Background()), "completed jobs are reported once")
}

func TestJobTable_PollNilResult(t *testing.T) {
	h := newFakeHandle("j1")
	table := newTestJobTable(h)
	_, err := table.Create(context.Background(), "async", map[string]any{}, "c1")
	require.NoError(t, err)

	h.finish(nil)

	msgs := table.Poll(context.Background())
	require.Len(t, msgs, 1)
	jerr := msgs[0].(*JobError)
	assert.Contains(t, jerr.ErrorMessage, "result of finished job is nil")
	assert.Equal(t, 0, table.Len())
}

func TestJobTable_PollUnencodableResult(t *testing.T) {
	h := newFakeHandle("j1")
	table := newTestJobTable(h)
	_, err := table.Create(context.Background(), "async", map[string]any{}, "c1")
	require.NoError(t, err)

	h.finish(matrix{2, 2})

	msgs := table.Poll(context.Background())
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].(*JobError).ErrorMessage, "error encoding result")
}

func TestJobTable_PollStatusErrorKeepsJob(t *testing.T) {
	h := newFakeHandle("j1")
	table := newTestJobTable(h)
	_, err := table.Create(context.Background(), "async", map[string]any{}, "c1")
	require.NoError(t, err)

	h.statusErr = errors.New("connection reset")
	assert.Empty(t, table.Poll(context.Background()))
	assert.True(t, table.Has("j1"))

	h.statusErr = nil
	h.finish(1)
	assert.Len(t, table.Poll(context.Background()), 1)
}

func TestJobTable_Cancel(t *testing.T) {
	h := newFakeHandle("j1")
	table := newTestJobTable(h)
	_, err := table.Create(context.Background(), "async", map[string]any{}, "c1")
	require.NoError(t, err)

	require.NoError(t, table.Cancel(context.Background(), "j1"))
	assert.Equal(t, 1, h.cancelled)
	assert.True(t, table.Has("j1"), "entry stays until a terminal status is seen")

	h.mu.Lock()
	h.status = execution.StatusCancelled
	h.mu.Unlock()

	msgs := table.Poll(context.Background())
	require.Len(t, msgs, 1)
	assert.Equal(t, execution.ErrJobCancelled.Error(), msgs[0].(*JobError).ErrorMessage)
	assert.False(t, table.Has("j1"))

	err = table.Cancel(context.Background(), "j1")
	require.ErrorIs(t, err, ErrLookupFault)
	assert.Contains(t, err.Error(), "no job with id: j1")
}

func TestJobTable_Clear(t *testing.T) {
	h := newFakeHandle("j1")
	table := newTestJobTable(h)
	_, err := table.Create(context.Background(), "async", map[string]any{}, "c1")
	require.NoError(t, err)

	table.Clear()
	assert.Equal(t, 0, table.Len())
	assert.Equal(t, 0, h.cancelled)
}
