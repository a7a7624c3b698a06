package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/labbox-api/internal/feed"
	"github.com/cuongbtq/labbox-api/internal/metrics"
)

// DefaultWatchPollBudget bounds how long one batched watch call may wait
const DefaultWatchPollBudget = 100 * time.Millisecond

// WatchRequest is a pending subfeedMessageRequest
type WatchRequest struct {
	RequestID   string
	FeedID      string
	SubfeedHash string
	Position    int
	WaitMsec    int
	CreatedAt   time.Time
}

func (r *WatchRequest) deadline() time.Time {
	return r.CreatedAt.Add(time.Duration(r.WaitMsec) * time.Millisecond)
}

// WatchReconciler resolves pending watch requests, each exactly once, either
// when its subfeed has new messages or when its wait elapses. Not safe for
// concurrent use.
type WatchReconciler struct {
	watcher    feed.Watcher
	pollBudget time.Duration
	now        func() time.Time
	logger     *slog.Logger

	pending map[string]*WatchRequest
	order   []string
}

// NewWatchReconciler creates a reconciler polling watcher
func NewWatchReconciler(watcher feed.Watcher, pollBudget time.Duration, logger *slog.Logger, now func() time.Time) *WatchReconciler {
	if pollBudget <= 0 {
		pollBudget = DefaultWatchPollBudget
	}
	if now == nil {
		now = time.Now
	}
	return &WatchReconciler{
		watcher:    watcher,
		pollBudget: pollBudget,
		now:        now,
		logger:     logger,
		pending:    make(map[string]*WatchRequest),
	}
}

// Register adds a request to the pending set
func (w *WatchReconciler) Register(req WatchRequest) error {
	if _, exists := w.pending[req.RequestID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRequest, req.RequestID)
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = w.now()
	}

	w.pending[req.RequestID] = &req
	w.order = append(w.order, req.RequestID)
	metrics.WatchRequestsPending.Inc()
	return nil
}

// Drive runs watch rounds until a round resolves nothing by new messages.
// Each round makes one batched watch call whose wait never exceeds the poll
// budget or the earliest pending deadline. A watch error still lets timeouts
// resolve and is returned after the round.
func (w *WatchReconciler) Drive(ctx context.Context) ([]Message, error) {
	var out []Message

	for len(w.pending) > 0 {
		ids := append([]string(nil), w.order...)

		wait := w.pollBudget
		now := w.now()
		watches := make(map[string]feed.SubfeedWatch, len(ids))
		for _, id := range ids {
			req := w.pending[id]
			watches[id] = feed.SubfeedWatch{
				FeedID:      req.FeedID,
				SubfeedHash: req.SubfeedHash,
				Position:    req.Position,
			}
			if remaining := req.deadline().Sub(now); remaining < wait {
				wait = max(remaining, 0)
			}
		}

		counts, watchErr := w.watcher.Watch(ctx, watches, wait)
		if watchErr != nil {
			counts = nil
		}

		resolved := make(map[string]bool)
		progress := false
		for _, id := range ids {
			if n := counts[id]; n > 0 {
				out = append(out, newSubfeedMessageResponse(id, n))
				resolved[id] = true
				progress = true
				metrics.WatchRequestsResolvedTotal.WithLabelValues("messages").Inc()
			}
		}

		now = w.now()
		for _, id := range ids {
			if resolved[id] {
				continue
			}
			req := w.pending[id]
			if req.WaitMsec <= 0 || !now.Before(req.deadline()) {
				out = append(out, newSubfeedMessageResponse(id, 0))
				resolved[id] = true
				metrics.WatchRequestsResolvedTotal.WithLabelValues("timeout").Inc()
			}
		}

		w.removeAll(resolved)

		if watchErr != nil {
			w.logger.Warn("Subfeed watch failed",
				slog.Int("pending", len(w.pending)),
				slog.String("error", watchErr.Error()),
			)
			return out, fmt.Errorf("%w: watch subfeeds: %w", ErrBackendFault, watchErr)
		}
		if !progress {
			break
		}
	}

	return out, nil
}

func (w *WatchReconciler) removeAll(resolved map[string]bool) {
	if len(resolved) == 0 {
		return
	}

	kept := w.order[:0]
	for _, id := range w.order {
		if resolved[id] {
			delete(w.pending, id)
			metrics.WatchRequestsPending.Dec()
			continue
		}
		kept = append(kept, id)
	}
	w.order = kept
}

// Pending reports whether a request id is still pending
func (w *WatchReconciler) Pending(requestID string) bool {
	_, ok := w.pending[requestID]
	return ok
}

// Len returns the number of pending requests
func (w *WatchReconciler) Len() int {
	return len(w.pending)
}

// Clear drops every pending request unresolved
func (w *WatchReconciler) Clear() {
	metrics.WatchRequestsPending.Sub(float64(len(w.pending)))
	w.pending = make(map[string]*WatchRequest)
	w.order = nil
}
