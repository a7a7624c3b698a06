// Package session implements the worker session: it turns inbound client
// messages into calls against the execution and feed backends, tracks the
// resulting jobs and subfeed watches, and emits outbound messages as they
// resolve. A Session is driven cooperatively by its host; HandleMessage and
// Iterate must not be called concurrently.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/labbox-api/internal/execution"
	"github.com/cuongbtq/labbox-api/internal/feed"
	"github.com/cuongbtq/labbox-api/internal/metrics"
)

// State is the lifecycle state of a Session
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FeedBackend is the feed/store surface a session needs
type FeedBackend interface {
	feed.Store
	feed.Watcher
	feed.Feeds
}

// Config holds the collaborators and settings of a Session
type Config struct {
	NodeID          string
	DefaultFeedName string
	LabboxConfig    LabboxConfig
	WatchPollBudget time.Duration

	Functions execution.Backend
	Lanes     *execution.HandlerRegistry
	Feed      FeedBackend

	Logger *slog.Logger
	// Now defaults to time.Now
	Now func() time.Time
}

// Session mediates between one client and the backends
type Session struct {
	config      Config
	logger      *slog.Logger
	state       State
	serverInfo  ServerInfo
	jobs        *JobTable
	watches     *WatchReconciler
	subscribers []func([]Message)
}

// New creates an uninitialized Session
func New(cfg Config) (*Session, error) {
	if cfg.Functions == nil {
		return nil, fmt.Errorf("session: function backend is required")
	}
	if cfg.Feed == nil {
		return nil, fmt.Errorf("session: feed backend is required")
	}
	if cfg.DefaultFeedName == "" {
		return nil, fmt.Errorf("session: default feed name is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Session{
		config: cfg,
		logger: cfg.Logger,
		state:  StateUninitialized,
	}, nil
}

// State returns the lifecycle state
func (s *Session) State() State { return s.state }

// ServerInfo returns the snapshot reported by Initialize
func (s *Session) ServerInfo() ServerInfo { return s.serverInfo }

// OnMessages subscribes cb to outbound messages. Subscribers are called in
// registration order.
func (s *Session) OnMessages(cb func([]Message)) {
	s.subscribers = append(s.subscribers, cb)
}

// Initialize resolves the default feed, builds the session state and emits
// reportServerInfo
func (s *Session) Initialize(ctx context.Context) error {
	switch s.state {
	case StateActive:
		return fmt.Errorf("session already initialized")
	case StateClosed:
		return ErrSessionClosed
	}

	feedID, err := s.config.Feed.FeedID(ctx, s.config.DefaultFeedName, true)
	if err != nil {
		return fmt.Errorf("%w: resolve default feed %q: %w", ErrBackendFault, s.config.DefaultFeedName, err)
	}

	resources := execution.Resources{
		Lanes:         s.config.Lanes,
		Store:         s.config.Feed,
		Feeds:         s.config.Feed,
		DefaultFeedID: feedID,
		Logger:        s.logger,
	}
	encoder := NewResultEncoder(s.config.Feed)
	s.jobs = NewJobTable(s.config.Functions, resources, encoder, s.logger, s.config.Now)
	s.watches = NewWatchReconciler(s.config.Feed, s.config.WatchPollBudget, s.logger, s.config.Now)

	s.serverInfo = ServerInfo{
		NodeID:        s.config.NodeID,
		DefaultFeedID: feedID,
		LabboxConfig:  s.config.LabboxConfig,
	}
	s.state = StateActive
	metrics.SessionsActive.Inc()

	s.logger.Info("Session initialized",
		slog.String("node_id", s.config.NodeID),
		slog.String("default_feed_id", feedID),
	)

	s.emit(&ReportServerInfo{Type: TypeReportServerInfo, ServerInfo: s.serverInfo})
	return nil
}

// HandleMessage decodes and dispatches one inbound message. It never panics.
// Job creation failures are reported to subscribers as hitherJobError and
// return nil; other failures are returned without an outbound message.
func (s *Session) HandleMessage(ctx context.Context, raw []byte) (err error) {
	if err := s.checkActive(); err != nil {
		return err
	}

	var clientJobID string
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic handling message: %v", ErrInternalInvariant, r)
			s.logger.Error("Recovered panic in message handler",
				slog.String("client_job_id", clientJobID),
				slog.String("error", err.Error()),
			)
			if clientJobID != "" {
				s.emit(newJobError(clientJobID, clientJobID, err.Error(), nil))
			}
		}
	}()

	req, decodeErr := DecodeRequest(raw)
	if create, ok := req.(*CreateJobRequest); ok {
		clientJobID = create.ClientJobID
	}
	if decodeErr != nil {
		if clientJobID != "" {
			s.reportCreateError(clientJobID, "", decodeErr)
			return nil
		}
		return decodeErr
	}

	switch r := req.(type) {
	case *CreateJobRequest:
		s.createJob(ctx, r)
		return nil

	case *CancelJobRequest:
		return s.jobs.Cancel(ctx, r.JobID)

	case *SubfeedMessageRequest:
		return s.registerWatch(r)

	case *KeepAliveRequest:
		return nil

	default:
		return fmt.Errorf("%w: unhandled request %T", ErrProtocolFault, req)
	}
}

func (s *Session) createJob(ctx context.Context, r *CreateJobRequest) {
	res, err := s.jobs.Create(ctx, r.FunctionName, r.Kwargs, r.ClientJobID)
	if err != nil {
		s.reportCreateError(r.ClientJobID, r.FunctionName, err)
		return
	}

	if res.Immediate() {
		s.logger.Info("Hither function returned immediately",
			slog.String("client_job_id", r.ClientJobID),
			slog.String("function_name", r.FunctionName),
		)
		s.emit(newJobFinished(r.ClientJobID, r.ClientJobID, res.ResultSHA1, &RuntimeInfo{
			FunctionName: r.FunctionName,
			ElapsedSec:   res.Elapsed.Seconds(),
		}))
		return
	}

	s.emit(newJobCreated(res.JobID, r.ClientJobID))
}

func (s *Session) reportCreateError(clientJobID, functionName string, err error) {
	metrics.JobsErroredTotal.WithLabelValues(faultLabel(err)).Inc()
	s.logger.Warn("Failed to create hither job",
		slog.String("client_job_id", clientJobID),
		slog.String("function_name", functionName),
		slog.String("error", err.Error()),
	)
	s.emit(newJobError(clientJobID, clientJobID, "Error creating outer job: "+err.Error(), nil))
}

func (s *Session) registerWatch(r *SubfeedMessageRequest) error {
	feedID := s.serverInfo.DefaultFeedID
	if r.FeedURI != "" {
		id, err := feed.FeedIDFromURI(r.FeedURI)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrProtocolFault, err)
		}
		feedID = id
	}

	subfeedHash, err := feed.SubfeedHash(r.SubfeedName)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProtocolFault, err)
	}

	return s.watches.Register(WatchRequest{
		RequestID:   r.RequestID,
		FeedID:      feedID,
		SubfeedHash: subfeedHash,
		Position:    *r.Position,
		WaitMsec:    *r.WaitMsec,
	})
}

// Iterate runs the watch reconciler to quiescence, then polls jobs once.
// Outbound messages are emitted before it returns.
func (s *Session) Iterate(ctx context.Context) error {
	if err := s.checkActive(); err != nil {
		return err
	}

	start := s.config.Now()
	defer func() {
		metrics.IterateDuration.Observe(s.config.Now().Sub(start).Seconds())
	}()

	responses, watchErr := s.watches.Drive(ctx)
	if len(responses) > 0 {
		s.emitAll(responses)
	}

	for _, msg := range s.jobs.Poll(ctx) {
		s.emit(msg)
	}

	return watchErr
}

// Cleanup closes the session. Tracked jobs keep running on their lanes but
// are no longer reported. Safe to call more than once.
func (s *Session) Cleanup() {
	if s.state == StateClosed {
		return
	}
	if s.state == StateActive {
		metrics.SessionsActive.Dec()
		s.jobs.Clear()
		s.watches.Clear()
	}
	s.state = StateClosed
	s.logger.Info("Session closed")
}

// TrackedJobs returns the number of jobs awaiting a terminal status
func (s *Session) TrackedJobs() int {
	if s.jobs == nil {
		return 0
	}
	return s.jobs.Len()
}

// PendingWatches returns the number of unresolved watch requests
func (s *Session) PendingWatches() int {
	if s.watches == nil {
		return 0
	}
	return s.watches.Len()
}

func (s *Session) checkActive() error {
	switch s.state {
	case StateActive:
		return nil
	case StateClosed:
		return ErrSessionClosed
	default:
		return ErrSessionNotActive
	}
}

func (s *Session) emit(msg Message) {
	s.emitAll([]Message{msg})
}

func (s *Session) emitAll(msgs []Message) {
	for _, cb := range s.subscribers {
		cb(msgs)
	}
}

// IsCallerError reports whether err was caused by the client rather than a backend
func IsCallerError(err error) bool {
	return errors.Is(err, ErrProtocolFault) ||
		errors.Is(err, ErrLookupFault) ||
		errors.Is(err, ErrDuplicateRequest)
}
