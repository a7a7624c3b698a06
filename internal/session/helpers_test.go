package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/labbox-api/internal/execution"
	"github.com/cuongbtq/labbox-api/internal/feed"
	"github.com/cuongbtq/labbox-api/internal/feed/memory"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is advanced explicitly by tests and fake watchers
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeWatcher returns scripted counts and advances the clock by the wait it
// is given when nothing is ready
type fakeWatcher struct {
	clock  *fakeClock
	counts map[string]int
	err    error
	calls  int
	waits  []time.Duration
}

func (w *fakeWatcher) Watch(ctx context.Context, watches map[string]feed.SubfeedWatch, wait time.Duration) (map[string]int, error) {
	w.calls++
	w.waits = append(w.waits, wait)
	if w.err != nil {
		w.clock.Advance(wait)
		return nil, w.err
	}

	out := make(map[string]int, len(watches))
	ready := false
	for name := range watches {
		if n := w.counts[name]; n > 0 {
			out[name] = n
			ready = true
		}
	}
	if !ready {
		w.clock.Advance(wait)
	}
	return out, nil
}

// fakeHandle is a job handle whose state tests set directly
type fakeHandle struct {
	mu         sync.Mutex
	id         string
	status     execution.Status
	result     any
	err        error
	statusErr  error
	cancelled  int
	statusCall int
}

func newFakeHandle(id string) *fakeHandle {
	return &fakeHandle{id: id, status: execution.StatusRunning}
}

func (h *fakeHandle) ID() string           { return h.id }
func (h *fakeHandle) FunctionName() string { return "fake" }

func (h *fakeHandle) Status(ctx context.Context) (execution.Status, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statusCall++
	return h.status, h.statusErr
}

func (h *fakeHandle) Result() (any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.status == execution.StatusFinished
}

func (h *fakeHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *fakeHandle) Cancel(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled++
	return nil
}

func (h *fakeHandle) finish(result any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = execution.StatusFinished
	h.result = result
}

func (h *fakeHandle) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = execution.StatusErrored
	h.err = err
}

// testRegistry registers add (immediate) and async (returns the next queued handle)
func testRegistry(handles ...*fakeHandle) *execution.Registry {
	r := execution.NewRegistry()
	r.RegisterFunction("add", func(fc *execution.Context, kwargs map[string]any) (execution.Outcome, error) {
		a, _ := Normalize(kwargs["a"])
		b, _ := Normalize(kwargs["b"])
		return execution.Immediate(a.(int64) + b.(int64)), nil
	})

	var mu sync.Mutex
	r.RegisterFunction("async", func(fc *execution.Context, kwargs map[string]any) (execution.Outcome, error) {
		mu.Lock()
		defer mu.Unlock()
		h := handles[0]
		handles = handles[1:]
		return execution.Deferred(h), nil
	})
	return r
}

// recorder collects outbound messages
type recorder struct {
	batches [][]Message
}

func (r *recorder) record(msgs []Message) {
	r.batches = append(r.batches, msgs)
}

func (r *recorder) messages() []Message {
	var out []Message
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func (r *recorder) reset() {
	r.batches = nil
}

type testSession struct {
	*Session
	backend *memory.Backend
	rec     *recorder
}

func newTestSession(t *testing.T, registry *execution.Registry) *testSession {
	t.Helper()

	backend := memory.New()
	s, err := New(Config{
		NodeID:          "node-1",
		DefaultFeedName: "default",
		LabboxConfig: LabboxConfig{
			JobHandlers: map[string]JobHandlerInfo{"default": {Type: "local", Capacity: 4}},
		},
		WatchPollBudget: 10 * time.Millisecond,
		Functions:       execution.NewExecutor(registry),
		Feed:            backend,
		Logger:          discardLogger(),
	})
	require.NoError(t, err)

	rec := &recorder{}
	s.OnMessages(rec.record)
	require.NoError(t, s.Initialize(context.Background()))
	rec.reset()

	t.Cleanup(s.Cleanup)
	return &testSession{Session: s, backend: backend, rec: rec}
}
