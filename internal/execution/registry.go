package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Function is a named entry point invoked by clients. It either computes its
// value inline or starts a job on a lane and returns the handle.
type Function func(fc *Context, kwargs map[string]any) (Outcome, error)

// Task is a unit of work executed on a lane
type Task func(ctx context.Context, kwargs map[string]any) (any, error)

// Registry holds the functions and tasks known to a process
type Registry struct {
	mu        sync.RWMutex
	functions map[string]Function
	tasks     map[string]Task
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		functions: make(map[string]Function),
		tasks:     make(map[string]Task),
	}
}

// RegisterFunction adds or replaces a function
func (r *Registry) RegisterFunction(name string, fn Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[name] = fn
}

// RegisterTask adds or replaces a task
func (r *Registry) RegisterTask(name string, task Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[name] = task
}

// Lookup returns the function registered under name
func (r *Registry) Lookup(name string) (Function, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.functions[name]
	if !ok || fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, name)
	}
	return fn, nil
}

// Task returns the task registered under name
func (r *Registry) Task(name string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[name]
	if !ok || task == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return task, nil
}

// Functions lists registered function names in sorted order
func (r *Registry) Functions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
