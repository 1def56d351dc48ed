package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/proctor/internal/adapters/activitylog"
	"github.com/okian/proctor/internal/adapters/feed"
	"github.com/okian/proctor/internal/adapters/mq/queue"
	"github.com/okian/proctor/internal/adapters/mq/worker"
	"github.com/okian/proctor/internal/adapters/repository"
	"github.com/okian/proctor/internal/domain/activity"
	"github.com/okian/proctor/internal/domain/fusion"
	"github.com/okian/proctor/internal/domain/gaze"
	"github.com/okian/proctor/internal/domain/geometry"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/speaking"
	"github.com/okian/proctor/internal/report"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

type sessionStats struct {
	framesProcessed atomic.Int64
	framesDropped   atomic.Int64
	frameErrors     atomic.Int64
	audioBlocks     atomic.Int64
	audioErrors     atomic.Int64
	websitePolls    atomic.Int64
	appPolls        atomic.Int64
}

// session is the state of one monitoring run. Trackers are only driven by
// the video loop while it runs, and by flush after every loop has returned.
type session struct {
	id      string
	started time.Time
	svc     *Service

	store    repository.Store
	log      *activitylog.Log
	fusion   *fusion.State
	gaze     *gaze.Tracker
	speaking *speaking.Tracker
	website  *activity.WebsiteTracker
	apps     *activity.AppMonitor
	frames   *queue.InMemoryQueue
	group    *worker.Group

	latest   atomic.Pointer[model.FrameResult]
	lastAt   time.Time
	lastDir  model.Direction
	lastSpk  model.SpeakingStatus
	stats    sessionStats
	sinkErr  atomic.Pointer[string]
	cancel   context.CancelFunc
	once     sync.Once
	finished chan struct{}
	final    report.Report

	logger logger.Logger
}

func (s *Service) newSession(ctx context.Context, id string, started time.Time) (*session, error) {
	store, err := s.newStore(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("event store: %w", err)
	}

	logDir := ""
	if s.dataDir != "" {
		logDir = filepath.Join(s.dataDir, id)
	}
	alog, err := activitylog.Open(logDir, activitylog.WithLogger(s.logger.Named("activitylog")))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("activity log: %w", err)
	}

	sess := &session{
		id:       id,
		started:  started,
		svc:      s,
		store:    store,
		log:      alog,
		fusion:   fusion.New(),
		website:  activity.NewWebsiteTracker(s.osQuery, s.browser),
		apps:     activity.NewAppMonitor(s.osQuery, s.alerts, activity.WithApps(s.apps...)),
		frames:   queue.NewInMemoryQueue(queue.WithCapacity(s.frameBuffer)),
		lastDir:  model.DirectionCenter,
		lastSpk:  model.StatusNotSpeaking,
		cancel:   func() {},
		finished: make(chan struct{}),
		logger:   s.logger.Named("session"),
	}
	sess.gaze = gaze.NewTracker(
		gaze.WithLookAwayDuration(s.lookAway),
		gaze.WithShortEpisodePolicy(s.shortPolicy),
		gaze.WithWarning(sess.onWarning),
	)
	sess.speaking = speaking.NewTracker(
		speaking.WithLipMovementThreshold(s.lipThreshold),
		speaking.WithNoiseOnset(sess.onNoise),
	)

	loopLogger := worker.WithLogger(s.logger.Named("loop"))
	sess.group = worker.NewGroup(
		worker.NewLoop("video", s.frameInterval, sess.videoStep, loopLogger),
		worker.NewLoop("audio", s.audioInterval, sess.audioStep, loopLogger),
		worker.NewLoop("website", s.websiteInterval, sess.websiteStep, loopLogger),
		worker.NewLoop("apps", s.appInterval, sess.appStep, loopLogger),
	)
	return sess, nil
}

func (ss *session) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	ss.cancel = cancel
	ss.log.Write(ctx, activitylog.CategoryGaze, ss.started, "Session started")
	ss.group.Start(ctx)
}

func (ss *session) onWarning(w gaze.Warning) {
	ctx := context.Background()
	metrics.RecordWarning()
	ss.logger.Warn(ctx, "looking away",
		logger.String("event_id", w.EventID),
		logger.String("direction", string(w.Direction)),
		logger.Duration("elapsed", w.Elapsed),
	)
	ss.log.Writef(ctx, activitylog.CategoryGaze, w.At,
		"[WARNING] Looking away for %.1fs (%s)", w.Elapsed.Seconds(), w.Direction)
}

func (ss *session) onNoise(n speaking.NoiseOnset) {
	ss.log.Writef(context.Background(), activitylog.CategoryLipAudio, n.At,
		"Background noise detected (lip gap %.1fpx)", n.LipGap)
}

// record appends ev to the event store. Only a failed sink is fatal.
func (ss *session) record(ctx context.Context, ev model.SessionEvent) error {
	err := ss.store.Append(ctx, ev)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrSinkUnrecoverable):
		msg := err.Error()
		ss.sinkErr.CompareAndSwap(nil, &msg)
		return fmt.Errorf("%w: %w", worker.ErrFatal, err)
	case errors.Is(err, repository.ErrDuplicate):
		ss.logger.Debug(ctx, "duplicate event ignored", logger.String("event_id", ev.ID))
		return nil
	default:
		ss.logger.Warn(ctx, "event rejected", logger.String("event_id", ev.ID), logger.Error(err))
		return nil
	}
}

// videoStep classifies one frame and feeds both trackers.
func (ss *session) videoStep(ctx context.Context) error {
	begin := time.Now()
	frame, err := ss.svc.landmarks.NextFrame(ctx)
	if errors.Is(err, feed.ErrNoFrame) {
		return nil
	}
	if err != nil {
		ss.stats.frameErrors.Add(1)
		metrics.RecordFrameError()
		return fmt.Errorf("read frame: %w", err)
	}

	dir, err := geometry.Classify(frame)
	if err != nil {
		ss.stats.frameErrors.Add(1)
		metrics.RecordFrameError()
		return fmt.Errorf("classify gaze: %w", err)
	}
	in := speaking.Frame{FaceDetected: frame != nil}
	if frame != nil {
		if in.LipGap, err = geometry.LipGap(frame); err != nil {
			ss.stats.frameErrors.Add(1)
			metrics.RecordFrameError()
			return fmt.Errorf("measure lips: %w", err)
		}
	}

	now := ss.frameTime(frame)
	in.At = now
	closed := ss.gaze.Observe(dir, now)
	res := ss.speaking.Observe(in, ss.fusion.Load())
	closed = append(closed, res.Closed...)

	ss.logTransitions(ctx, now, dir, res.Status, closed)
	for _, ev := range closed {
		if err := ss.record(ctx, ev); err != nil {
			return err
		}
	}

	result := model.FrameResult{
		At:           now,
		FaceDetected: frame != nil,
		Direction:    dir,
		Speaking:     res.Status,
		LipGap:       in.LipGap,
		Warning:      ss.gaze.Confirmed(),
	}
	ss.latest.Store(&result)
	if !ss.frames.Enqueue(ctx, result) {
		ss.stats.framesDropped.Add(1)
	}

	ss.stats.framesProcessed.Add(1)
	metrics.RecordFrameProcessed(float64(time.Since(begin).Microseconds()) / 1000)
	metrics.RecordGazeObservation(string(dir))
	metrics.RecordSpeakingObservation(string(res.Status))
	_, gazeOpen := ss.gaze.Open()
	_, speakOpen := ss.speaking.Open()
	metrics.UpdateOpenEvents(string(model.KindLookingAway), gazeOpen)
	metrics.UpdateOpenEvents(string(model.KindSpeaking), speakOpen)
	return nil
}

// frameTime is the capture time of frame when it has one that falls between
// the previous frame and now. Otherwise it is the current time.
func (ss *session) frameTime(frame *geometry.LandmarkFrame) time.Time {
	at := ss.svc.now()
	if frame != nil && !frame.At.IsZero() && !frame.At.After(at) &&
		!frame.At.Before(ss.lastAt) && !frame.At.Before(ss.started) {
		at = frame.At
	}
	ss.lastAt = at
	return at
}

func (ss *session) logTransitions(ctx context.Context, now time.Time, dir model.Direction, status model.SpeakingStatus, closed []model.SessionEvent) {
	if dir != ss.lastDir {
		switch dir {
		case model.DirectionNoFace:
			ss.log.Write(ctx, activitylog.CategoryGaze, now, "No face detected")
		default:
			ss.log.Writef(ctx, activitylog.CategoryGaze, now, "Looking %s", dir)
		}
		ss.lastDir = dir
	}
	if status != ss.lastSpk {
		switch status {
		case model.StatusSpeaking:
			ss.log.Write(ctx, activitylog.CategoryLipAudio, now, "Speaking")
		case model.StatusNotSpeaking:
			ss.log.Write(ctx, activitylog.CategoryLipAudio, now, "Not speaking")
		}
		ss.lastSpk = status
	}
	for _, ev := range closed {
		switch ev.Kind {
		case model.KindLookingAway:
			ss.log.Write(ctx, activitylog.CategoryGaze, now, ev.Details)
		case model.KindSpeaking:
			ss.log.Write(ctx, activitylog.CategoryLipAudio, now, ev.Details)
		}
	}
}

// audioStep captures one block and publishes its levels.
func (ss *session) audioStep(ctx context.Context) error {
	begin := time.Now()
	block, err := ss.svc.audio.Sample(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, feed.ErrNoSample) {
		ss.expireAudio()
		return nil
	}
	if err != nil {
		// Without a microphone nobody can be heard speaking.
		ss.fusion.Reset()
		ss.stats.audioErrors.Add(1)
		metrics.RecordAudioError()
		return fmt.Errorf("capture audio: %w", err)
	}

	energy, levels := ss.svc.classifier.ClassifyBlock(block)
	ss.fusion.Store(levels, ss.svc.now())
	ss.stats.audioBlocks.Add(1)
	metrics.RecordAudioBlock(energy, levels.Speech, levels.Noise, float64(time.Since(begin).Milliseconds()))
	return nil
}

// expireAudio clears the audio flags once no block has arrived for two
// audio periods.
func (ss *session) expireAudio() {
	snap := ss.fusion.Load()
	if !snap.Speech && !snap.Noise {
		return
	}
	if ss.svc.now().Sub(snap.UpdatedAt) > 2*ss.svc.audioInterval {
		ss.fusion.Reset()
	}
}

// websiteStep reports the browser state as one instant event per poll.
func (ss *session) websiteStep(ctx context.Context) error {
	now := ss.svc.now()
	ev, err := ss.website.Poll(ctx, now)
	ss.stats.websitePolls.Add(1)
	metrics.RecordWebsitePoll()
	if err != nil {
		ss.logger.Warn(ctx, "browser query failed", logger.Error(err))
	}
	ss.log.Write(ctx, activitylog.CategoryWebsite, now, ev.Details)
	return ss.record(ctx, ev)
}

// appStep checks the monitored applications and records alerts.
func (ss *session) appStep(ctx context.Context) error {
	now := ss.svc.now()
	events, err := ss.apps.Poll(ctx, now)
	ss.stats.appPolls.Add(1)
	metrics.RecordAppPoll()
	if err != nil {
		// The OS query and alert adapters count their own failures.
		ss.logger.Warn(ctx, "app poll incomplete", logger.Error(err))
	}
	for _, ev := range events {
		ss.log.Write(ctx, activitylog.CategoryWebsite, now, ev.Details)
		if err := ss.record(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// flush force-closes every open event at end. It runs after the loops returned.
func (ss *session) flush(ctx context.Context, end time.Time) {
	var pending []model.SessionEvent
	if ev, ok := ss.gaze.ForceClose(end); ok {
		pending = append(pending, ev)
	}
	if ev, ok := ss.speaking.ForceClose(end); ok {
		pending = append(pending, ev)
	}
	for _, ev := range pending {
		if err := ss.record(ctx, ev); err != nil {
			ss.logger.Warn(ctx, "final flush: event kept in memory only", logger.String("event_id", ev.ID), logger.Error(err))
		}
		ss.log.Write(ctx, categoryOf(ev.Kind), end, ev.Details)
	}
	metrics.UpdateOpenEvents(string(model.KindLookingAway), false)
	metrics.UpdateOpenEvents(string(model.KindSpeaking), false)
	ss.log.Write(ctx, activitylog.CategoryGaze, end, "Session ended")
}

func (ss *session) report(end time.Time, reason string) report.Report {
	rep := report.New(ss.id, ss.started, end, ss.store.Events(context.Background()), ss.log.Snapshot())
	rep.Final = true
	rep.EndReason = reason
	if msg := ss.sinkErr.Load(); msg != nil {
		rep.SinkError = *msg
	}
	return rep
}

// interim is a report of the closed events so far. Open events are listed
// but not counted in the summary.
func (ss *session) interim(ctx context.Context, now time.Time) report.Report {
	events := ss.store.Events(ctx)
	if ev, ok := ss.gaze.Open(); ok {
		events = append(events, ev)
	}
	if ev, ok := ss.speaking.Open(); ok {
		events = append(events, ev)
	}
	rep := report.New(ss.id, ss.started, now, events, ss.log.Snapshot())
	if msg := ss.sinkErr.Load(); msg != nil {
		rep.SinkError = *msg
	}
	return rep
}

func categoryOf(k model.Kind) activitylog.Category {
	switch k {
	case model.KindLookingAway:
		return activitylog.CategoryGaze
	case model.KindSpeaking:
		return activitylog.CategoryLipAudio
	default:
		return activitylog.CategoryWebsite
	}
}
