package execution

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/labbox-api/internal/feed"
)

// Backend is the surface the session needs from the execution substrate
type Backend interface {
	Lookup(name string) (Function, error)
	Invoke(fn Function, kwargs map[string]any, fc *Context) (Outcome, error)
}

// Executor resolves and invokes functions from a Registry
type Executor struct {
	registry *Registry
}

// NewExecutor creates a new Executor
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Lookup returns the function registered under name
func (e *Executor) Lookup(name string) (Function, error) {
	return e.registry.Lookup(name)
}

// Invoke calls fn, turning panics into errors
func (e *Executor) Invoke(fn Function, kwargs map[string]any, fc *Context) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{}
			err = fmt.Errorf("function panicked: %v", r)
		}
	}()

	out, err = fn(fc, kwargs)
	if err != nil {
		return Outcome{}, err
	}
	if out.IsDeferred() && out.Handle() == nil {
		return Outcome{}, fmt.Errorf("function returned a deferred outcome without a handle")
	}
	return out, nil
}

// Resources are the process-scoped collaborators handed to every function
type Resources struct {
	Lanes         *HandlerRegistry
	Store         feed.Store
	Feeds         feed.Feeds
	DefaultFeedID string
	Logger        *slog.Logger
}

// Context is passed to a function for the duration of one invocation
type Context struct {
	ctx       context.Context
	resources Resources
}

// NewContext binds resources to a request context
func NewContext(ctx context.Context, resources Resources) *Context {
	if resources.Logger == nil {
		resources.Logger = slog.Default()
	}
	return &Context{ctx: ctx, resources: resources}
}

// Context returns the request context
func (c *Context) Context() context.Context { return c.ctx }

// Store returns the content-addressed store
func (c *Context) Store() feed.Store { return c.resources.Store }

// Feeds returns the subfeed backend
func (c *Context) Feeds() feed.Feeds { return c.resources.Feeds }

// DefaultFeedID returns the session default feed
func (c *Context) DefaultFeedID() string { return c.resources.DefaultFeedID }

// Logger returns the session logger
func (c *Context) Logger() *slog.Logger { return c.resources.Logger }

// Lane resolves a job handler by name
func (c *Context) Lane(name string) (Lane, error) {
	if c.resources.Lanes == nil {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, name)
	}
	return c.resources.Lanes.Resolve(name)
}

// Run submits a task to the named lane
func (c *Context) Run(laneName, taskName string, kwargs map[string]any) (Handle, error) {
	lane, err := c.Lane(laneName)
	if err != nil {
		return nil, err
	}

	h, err := lane.Submit(c.ctx, taskName, kwargs)
	if err != nil {
		return nil, fmt.Errorf("submit %s to lane %s: %w", taskName, laneName, err)
	}
	return h, nil
}
