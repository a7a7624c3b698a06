package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/labbox-api/internal/feed"
	"github.com/cuongbtq/labbox-api/internal/session"
	"github.com/cuongbtq/labbox-api/internal/worker/domain"
	"github.com/cuongbtq/labbox-api/internal/worker/storage"
)

// JobStore is the remote jobs table as seen by the HTTP API
type JobStore interface {
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	RequestCancel(ctx context.Context, jobID string) error
}

// HealthChecker is implemented by infra clients that can report liveness
type HealthChecker func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger

	// Session is the template every WebSocket session is built from. Its
	// Logger is replaced per connection.
	Session         session.Config
	IterateInterval time.Duration

	Feed feed.Backend

	// Jobs is nil when no remote job handler is configured
	Jobs JobStore

	HealthChecks map[string]HealthChecker
}
