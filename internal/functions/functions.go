// Package functions registers the built-in functions and tasks exposed to
// clients through hitherCreateJob.
package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cuongbtq/labbox-api/internal/execution"
	"github.com/cuongbtq/labbox-api/internal/feed"
)

// DefaultJobHandler is the lane used when a function call names none
const DefaultJobHandler = "default"

// Register adds the built-in functions and the tasks they run to r
func Register(r *execution.Registry) {
	RegisterTasks(r)

	r.RegisterFunction("add", add)
	r.RegisterFunction("echo", echo)
	r.RegisterFunction("slow_add", slowAdd)
	r.RegisterFunction("fail", fail)
	r.RegisterFunction("subfeed_append", subfeedAppend)
}

// RegisterTasks adds only the lane tasks; the worker service needs no functions
func RegisterTasks(r *execution.Registry) {
	r.RegisterTask("add", addTask)
	r.RegisterTask("fail", failTask)
}

func add(fc *execution.Context, kwargs map[string]any) (execution.Outcome, error) {
	v, err := sum(kwargs)
	if err != nil {
		return execution.Outcome{}, err
	}
	return execution.Immediate(v), nil
}

func echo(fc *execution.Context, kwargs map[string]any) (execution.Outcome, error) {
	v, ok := kwargs["value"]
	if !ok {
		return execution.Outcome{}, errors.New("missing kwarg: value")
	}
	return execution.Immediate(v), nil
}

// slowAdd runs add on a lane, optionally sleeping delay_msec first
func slowAdd(fc *execution.Context, kwargs map[string]any) (execution.Outcome, error) {
	if _, err := sum(kwargs); err != nil {
		return execution.Outcome{}, err
	}

	h, err := fc.Run(jobHandler(kwargs), "add", kwargs)
	if err != nil {
		return execution.Outcome{}, err
	}
	return execution.Deferred(h), nil
}

// fail runs a task on a lane that errors with the given message
func fail(fc *execution.Context, kwargs map[string]any) (execution.Outcome, error) {
	h, err := fc.Run(jobHandler(kwargs), "fail", kwargs)
	if err != nil {
		return execution.Outcome{}, err
	}
	return execution.Deferred(h), nil
}

// subfeedAppend appends messages to a subfeed and returns its new length
func subfeedAppend(fc *execution.Context, kwargs map[string]any) (execution.Outcome, error) {
	feeds := fc.Feeds()
	if feeds == nil {
		return execution.Outcome{}, errors.New("no feed backend configured")
	}

	feedID := fc.DefaultFeedID()
	if uri, ok := kwargs["feed_uri"].(string); ok && uri != "" {
		id, err := feed.FeedIDFromURI(uri)
		if err != nil {
			return execution.Outcome{}, err
		}
		feedID = id
	}

	name, ok := kwargs["subfeed_name"]
	if !ok {
		return execution.Outcome{}, errors.New("missing kwarg: subfeed_name")
	}
	subfeedHash, err := feed.SubfeedHash(name)
	if err != nil {
		return execution.Outcome{}, err
	}

	items, ok := kwargs["messages"].([]any)
	if !ok {
		return execution.Outcome{}, errors.New("kwarg messages must be a list")
	}
	messages := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		b, err := feed.CanonicalJSON(item)
		if err != nil {
			return execution.Outcome{}, err
		}
		messages = append(messages, b)
	}

	ctx := fc.Context()
	if err := feeds.AppendMessages(ctx, feedID, subfeedHash, messages); err != nil {
		return execution.Outcome{}, err
	}

	all, err := feeds.GetMessages(ctx, feedID, subfeedHash, 0)
	if err != nil {
		return execution.Outcome{}, err
	}
	return execution.Immediate(len(all)), nil
}

func addTask(ctx context.Context, kwargs map[string]any) (any, error) {
	if delay, ok, err := number(kwargs, "delay_msec"); err != nil {
		return nil, err
	} else if ok && delay > 0 {
		select {
		case <-time.After(time.Duration(delay) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return sum(kwargs)
}

func failTask(ctx context.Context, kwargs map[string]any) (any, error) {
	msg, _ := kwargs["message"].(string)
	if msg == "" {
		msg = "intentional failure"
	}
	return nil, errors.New(msg)
}

func jobHandler(kwargs map[string]any) string {
	if name, ok := kwargs["job_handler"].(string); ok && name != "" {
		return name
	}
	return DefaultJobHandler
}

// sum adds kwargs a and b, keeping integers integral
func sum(kwargs map[string]any) (any, error) {
	a, ok, err := number(kwargs, "a")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("missing kwarg: a")
	}
	b, ok, err := number(kwargs, "b")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("missing kwarg: b")
	}

	s := a + b
	if s == math.Trunc(s) && math.Abs(s) < 1<<53 {
		return int64(s), nil
	}
	return s, nil
}

func number(kwargs map[string]any, key string) (float64, bool, error) {
	v, ok := kwargs[key]
	if !ok || v == nil {
		return 0, false, nil
	}

	switch n := v.(type) {
	case float64:
		return n, true, nil
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false, fmt.Errorf("kwarg %s: %w", key, err)
		}
		return f, true, nil
	default:
		return 0, false, fmt.Errorf("kwarg %s must be a number, got %T", key, v)
	}
}
