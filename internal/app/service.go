// Package service runs monitoring sessions: it owns the producer loops,
// the trackers and the event log, and implements the dependencies required
// by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/proctor/internal/adapters/alert"
	"github.com/okian/proctor/internal/adapters/feed"
	"github.com/okian/proctor/internal/adapters/osquery"
	"github.com/okian/proctor/internal/adapters/repository"
	"github.com/okian/proctor/internal/domain/activity"
	"github.com/okian/proctor/internal/domain/audiolevel"
	"github.com/okian/proctor/internal/domain/fusion"
	"github.com/okian/proctor/internal/domain/gaze"
	"github.com/okian/proctor/internal/domain/geometry"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/speaking"
	"github.com/okian/proctor/internal/report"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

// Default loop configuration.
const (
	DefaultFrameInterval   = 33 * time.Millisecond
	DefaultAudioInterval   = audiolevel.BlockDuration
	DefaultWebsiteInterval = 5 * time.Second
	DefaultAppInterval     = 7 * time.Second

	defaultJournalRetries  = 3
	defaultFrameBuffer     = 1
	defaultShutdownTimeout = 15 * time.Second
	shutdownGrace          = 2 * time.Second
	journalFile            = "events.log"
)

// End reasons recorded on the report.
const (
	EndStopped    = "stopped"
	EndSinkFailed = "event log sink failed"
)

// LandmarkProvider yields the landmarks of the current video frame. A nil
// frame with a nil error means no face was detected.
type LandmarkProvider interface {
	NextFrame(ctx context.Context) (*geometry.LandmarkFrame, error)
}

// AudioSampler yields one audio block per call.
type AudioSampler interface {
	Sample(ctx context.Context) (audiolevel.Block, error)
}

// Status is a point-in-time view of the service.
type Status struct {
	Running     bool                 `json:"running"`
	SessionID   string               `json:"session_id,omitempty"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	GazeState   string               `json:"gaze_state,omitempty"`
	Warning     bool                 `json:"warning"`
	LatestFrame *model.FrameResult   `json:"latest_frame,omitempty"`
	Audio       fusion.Snapshot      `json:"audio"`
	Events      int                  `json:"events"`
	Counts      map[model.Kind]int   `json:"counts,omitempty"`
	Open        []model.SessionEvent `json:"open,omitempty"`
}

// Service runs at most one monitoring session at a time.
type Service struct {
	mu sync.RWMutex

	// Collaborators
	landmarks LandmarkProvider
	audio     AudioSampler
	osQuery   activity.OSQuery
	alerts    activity.AlertSink
	newStore  StoreFactory
	now       func() time.Time

	// Configuration
	lookAway        time.Duration
	shortPolicy     gaze.ShortEpisodePolicy
	lipThreshold    float64
	classifier      audiolevel.Classifier
	frameInterval   time.Duration
	audioInterval   time.Duration
	websiteInterval time.Duration
	appInterval     time.Duration
	browser         string
	apps            []string
	dataDir         string
	journalRetries  int
	frameBuffer     int
	shutdownTimeout time.Duration

	// State
	current *session
	last    *report.Report

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		now:             time.Now,
		lookAway:        gaze.DefaultLookAwayDuration,
		shortPolicy:     gaze.ShortEpisodeDiscard,
		lipThreshold:    speaking.DefaultLipMovementThreshold,
		classifier:      audiolevel.NewClassifier(),
		frameInterval:   DefaultFrameInterval,
		audioInterval:   DefaultAudioInterval,
		websiteInterval: DefaultWebsiteInterval,
		appInterval:     DefaultAppInterval,
		browser:         activity.DefaultBrowser,
		apps:            activity.DefaultApps(),
		journalRetries:  defaultJournalRetries,
		frameBuffer:     defaultFrameBuffer,
		shutdownTimeout: defaultShutdownTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.landmarks == nil {
		s.landmarks = feed.NewFrameFeed()
	}
	if s.audio == nil {
		s.audio = feed.NewAudioFeed()
	}
	if s.osQuery == nil {
		s.osQuery = osquery.New()
	}
	if s.alerts == nil {
		s.alerts = &alert.Nop{}
	}
	if s.newStore == nil {
		s.newStore = s.defaultStore
	}
	return s
}

// Start opens a new session and launches its loops. The session outlives
// ctx cancellation; it ends on Stop or on an unrecoverable sink failure.
func (s *Service) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.logger == nil {
		s.logger = logger.Get()
	}
	if s.current != nil {
		return "", ErrAlreadyRunning
	}

	id := uuid.NewString()
	sess, err := s.newSession(ctx, id, s.now())
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	s.current = sess

	sess.start(context.WithoutCancel(ctx))
	go s.watch(sess)

	metrics.RecordSessionStarted()
	metrics.UpdateSessionRunning(true)
	s.logger.Info(ctx, "session started",
		logger.String("session_id", id),
		logger.Duration("look_away", s.lookAway),
		logger.Duration("frame_interval", s.frameInterval),
		logger.Duration("website_interval", s.websiteInterval),
		logger.Duration("app_interval", s.appInterval),
	)
	return id, nil
}

// Stop ends the running session and returns its final report.
func (s *Service) Stop(ctx context.Context) (report.Report, error) {
	s.mu.RLock()
	sess := s.current
	s.mu.RUnlock()

	if sess == nil {
		return report.Report{}, ErrNotRunning
	}
	return s.finish(ctx, sess, EndStopped), nil
}

// watch ends the session when its loop group stops on its own.
func (s *Service) watch(sess *session) {
	select {
	case <-sess.group.Done():
	case <-sess.finished:
		return
	}
	if err := sess.group.Err(); err != nil {
		reason := EndSinkFailed
		if !errors.Is(err, repository.ErrSinkUnrecoverable) {
			reason = err.Error()
		}
		s.finish(context.Background(), sess, reason)
	}
}

// finish stops the loops, force-closes open events and records the report.
// Concurrent callers all receive the same report.
func (s *Service) finish(ctx context.Context, sess *session, reason string) report.Report {
	sess.once.Do(func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()

		if err := sess.group.Shutdown(sctx); err != nil {
			s.logger.Warn(ctx, "loop group ended with error",
				logger.String("session_id", sess.id), logger.Error(err))
		}
		// A timed-out shutdown cancels the loops. Steps still in flight must
		// land before the store closes.
		select {
		case <-sess.group.Done():
		case <-time.After(shutdownGrace):
			s.logger.Warn(ctx, "loops still running after cancel", logger.String("session_id", sess.id))
		}

		end := s.now()
		sess.flush(sctx, end)
		rep := sess.report(end, reason)

		sess.frames.Close()
		sess.cancel()
		if err := sess.store.Close(); err != nil {
			s.logger.Warn(ctx, "close event store", logger.Error(err))
		}
		if err := sess.log.Close(); err != nil {
			s.logger.Warn(ctx, "close activity log", logger.Error(err))
		}
		close(sess.finished)

		s.mu.Lock()
		s.current = nil
		s.last = &rep
		s.mu.Unlock()

		metrics.UpdateSessionRunning(false)
		sess.final = rep
		s.logger.Info(ctx, "session stopped",
			logger.String("session_id", sess.id),
			logger.String("reason", reason),
			logger.Int("events", len(rep.Events)),
			logger.Float64("score", rep.Summary.Score),
		)
	})
	return sess.final
}

// Running reports whether a session is active.
func (s *Service) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

// Status returns the live state of the running session, or the idle state.
func (s *Service) Status(ctx context.Context) Status {
	s.mu.RLock()
	sess := s.current
	s.mu.RUnlock()

	if sess == nil {
		return Status{}
	}
	started := sess.started
	st := Status{
		Running:     true,
		SessionID:   sess.id,
		StartedAt:   &started,
		GazeState:   sess.gaze.State().String(),
		Warning:     sess.gaze.Confirmed(),
		LatestFrame: sess.latest.Load(),
		Audio:       sess.fusion.Load(),
		Events:      sess.store.Count(ctx),
		Counts:      sess.store.CountByKind(ctx),
	}
	if ev, ok := sess.gaze.Open(); ok {
		st.Open = append(st.Open, ev)
	}
	if ev, ok := sess.speaking.Open(); ok {
		st.Open = append(st.Open, ev)
	}
	return st
}

// Events returns the closed events of the running session, or of the last
// finished one.
func (s *Service) Events(ctx context.Context) ([]model.SessionEvent, error) {
	s.mu.RLock()
	sess, last := s.current, s.last
	s.mu.RUnlock()

	switch {
	case sess != nil:
		return sess.store.Events(ctx), nil
	case last != nil:
		return last.Events, nil
	default:
		return nil, ErrNoSession
	}
}

// Report returns an interim report for the running session, or the final
// report of the last finished one.
func (s *Service) Report(ctx context.Context) (report.Report, error) {
	s.mu.RLock()
	sess, last := s.current, s.last
	s.mu.RUnlock()

	switch {
	case sess != nil:
		return sess.interim(ctx, s.now()), nil
	case last != nil:
		return *last, nil
	default:
		return report.Report{}, ErrNoSession
	}
}

// Frames returns the live frame-result channel of the running session. The
// channel is closed when the session ends. It returns nil when idle.
func (s *Service) Frames(ctx context.Context) <-chan model.FrameResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	return s.current.frames.Dequeue(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	sess, last := s.current, s.last
	s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":           sess != nil,
		"frameIntervalMs":   s.frameInterval.Milliseconds(),
		"audioIntervalMs":   s.audioInterval.Milliseconds(),
		"websiteIntervalMs": s.websiteInterval.Milliseconds(),
		"appIntervalMs":     s.appInterval.Milliseconds(),
		"lookAwaySeconds":   s.lookAway.Seconds(),
		"monitoredApps":     s.apps,
	}

	if sess != nil {
		total := sess.store.Count(ctx)
		stats["sessionId"] = sess.id
		stats["totalEvents"] = total
		stats["framesProcessed"] = sess.stats.framesProcessed.Load()
		stats["framesDropped"] = sess.stats.framesDropped.Load()
		stats["frameErrors"] = sess.stats.frameErrors.Load()
		stats["audioBlocks"] = sess.stats.audioBlocks.Load()
		stats["audioErrors"] = sess.stats.audioErrors.Load()
		stats["websitePolls"] = sess.stats.websitePolls.Load()
		stats["appPolls"] = sess.stats.appPolls.Load()

		metrics.UpdateEventLogSize(total)
	} else if last != nil {
		stats["lastSessionId"] = last.SessionID
		stats["lastScore"] = last.Summary.Score
	}

	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	return stats
}

// defaultStore keeps events in memory and, with a data dir, journals them
// to dataDir/<session id>/events.log.
func (s *Service) defaultStore(ctx context.Context, sessionID string) (repository.Store, error) {
	mem := repository.NewMemoryStore()
	if s.dataDir == "" {
		return mem, nil
	}
	path := filepath.Join(s.dataDir, sessionID, journalFile)
	j, err := repository.OpenJournal(mem, path,
		repository.WithRetries(s.journalRetries),
		repository.WithJournalLogger(s.logger.Named("journal")),
	)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "journaling events", logger.String("path", path))
	return j, nil
}
