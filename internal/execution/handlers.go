package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// LaneKind is the job handler type declared in config
type LaneKind string

// Lane kinds
const (
	LaneLocal  LaneKind = "local"
	LaneRemote LaneKind = "remote"
)

// Lane is a named execution context that runs tasks
type Lane interface {
	Name() string
	Kind() LaneKind
	// Capacity is the worker count of a local lane, 0 when not applicable
	Capacity() int
	// Submit starts a task and returns its handle without waiting for it
	Submit(ctx context.Context, taskName string, kwargs map[string]any) (Handle, error)
	Close() error
}

// HandlerRegistry maps job handler names from config to constructed lanes.
// Lanes are added once at startup and live as long as the registry.
type HandlerRegistry struct {
	kinds map[string]LaneKind
	lanes map[string]Lane
}

// NewHandlerRegistry creates a registry for the configured handler kinds
func NewHandlerRegistry(kinds map[string]LaneKind) *HandlerRegistry {
	k := make(map[string]LaneKind, len(kinds))
	for name, kind := range kinds {
		k[name] = kind
	}
	return &HandlerRegistry{
		kinds: k,
		lanes: make(map[string]Lane),
	}
}

// Add registers a constructed lane; its name and kind must match config
func (r *HandlerRegistry) Add(lane Lane) error {
	kind, ok := r.kinds[lane.Name()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrHandlerNotFound, lane.Name())
	}
	if kind != lane.Kind() {
		return fmt.Errorf("lane %s is %s but configured as %s", lane.Name(), lane.Kind(), kind)
	}
	if _, exists := r.lanes[lane.Name()]; exists {
		return fmt.Errorf("lane %s already added", lane.Name())
	}
	r.lanes[lane.Name()] = lane
	return nil
}

// Resolve returns the lane for a job handler name
func (r *HandlerRegistry) Resolve(name string) (Lane, error) {
	kind, ok := r.kinds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, name)
	}

	switch kind {
	case LaneLocal, LaneRemote:
		lane, ok := r.lanes[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s has no %s lane", ErrHandlerNotFound, name, kind)
		}
		return lane, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLane, kind)
	}
}

// Names lists configured handler names in sorted order
func (r *HandlerRegistry) Names() []string {
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every lane
func (r *HandlerRegistry) Close() error {
	var errs []error
	for _, name := range r.Names() {
		if lane, ok := r.lanes[name]; ok {
			if err := lane.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close lane %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
