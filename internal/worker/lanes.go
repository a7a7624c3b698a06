package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/labbox-api/internal/execution"
)

// LaneSpec describes one configured job handler
type LaneSpec struct {
	Name      string
	Kind      execution.LaneKind
	Capacity  int
	QueueSize int
}

// LaneDeps are the collaborators lanes are built with
type LaneDeps struct {
	Tasks           *execution.Registry
	Store           JobStore
	Publisher       Publisher
	StatusTimeout   time.Duration
	DispatchTimeout time.Duration
	TimeoutSeconds  int
	Logger          *slog.Logger
}

// BuildLanes constructs every configured lane once and returns the registry.
// Handlers of an unknown kind are kept in the registry so that resolving them
// reports execution.ErrUnsupportedLane.
func BuildLanes(specs []LaneSpec, deps LaneDeps) (*execution.HandlerRegistry, error) {
	kinds := make(map[string]execution.LaneKind, len(specs))
	for _, spec := range specs {
		kinds[spec.Name] = spec.Kind
	}
	registry := execution.NewHandlerRegistry(kinds)

	for _, spec := range specs {
		var (
			lane execution.Lane
			err  error
		)

		switch spec.Kind {
		case execution.LaneLocal:
			lane, err = NewPool(PoolConfig{
				Name:      spec.Name,
				Capacity:  spec.Capacity,
				QueueSize: spec.QueueSize,
				Tasks:     deps.Tasks,
				Logger:    deps.Logger,
			})
		case execution.LaneRemote:
			if deps.Store == nil || deps.Publisher == nil {
				err = fmt.Errorf("remote lane %s requires database and rabbitmq", spec.Name)
				break
			}
			lane, err = NewRemoteLane(RemoteLaneConfig{
				Name:            spec.Name,
				Store:           deps.Store,
				Publisher:       deps.Publisher,
				Tasks:           deps.Tasks,
				StatusTimeout:   deps.StatusTimeout,
				DispatchTimeout: deps.DispatchTimeout,
				TimeoutSeconds:  deps.TimeoutSeconds,
				Logger:          deps.Logger,
			})
		default:
			continue
		}

		if err != nil {
			_ = registry.Close()
			return nil, fmt.Errorf("failed to build lane %s: %w", spec.Name, err)
		}
		if err := registry.Add(lane); err != nil {
			_ = lane.Close()
			_ = registry.Close()
			return nil, err
		}
	}

	return registry, nil
}
