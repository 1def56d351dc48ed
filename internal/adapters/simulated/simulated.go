// Package simulated provides scripted landmark, audio and OS collaborators
// that replay a timeline against a clock.
package simulated

import (
	"context"
	"sync"
	"time"

	"github.com/okian/proctor/internal/domain/activity"
	"github.com/okian/proctor/internal/domain/audiolevel"
	"github.com/okian/proctor/internal/domain/geometry"
	"github.com/okian/proctor/internal/domain/model"
)

const (
	defaultWidth  = 640
	defaultHeight = 480
	defaultLipGap = 10
)

// FaceSegment holds a gaze direction for a span of time. LipGaps are
// cycled frame by frame; a NoFace direction yields frames without a face.
type FaceSegment struct {
	Duration  time.Duration
	Direction model.Direction
	LipGaps   []float64
}

// AudioSegment holds a block energy for a span of time.
type AudioSegment struct {
	Duration time.Duration
	Energy   float64
}

// timeline locates the segment active at an elapsed offset. Past the end
// it either wraps or holds the last segment.
type timeline struct {
	durations []time.Duration
	total     time.Duration
	loop      bool
}

func newTimeline(durations []time.Duration, loop bool) timeline {
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	return timeline{durations: durations, total: total, loop: loop}
}

func (t timeline) index(elapsed time.Duration) int {
	if len(t.durations) == 0 {
		return -1
	}
	if t.loop && t.total > 0 {
		elapsed %= t.total
	}
	for i, d := range t.durations {
		if elapsed < d {
			return i
		}
		elapsed -= d
	}
	return len(t.durations) - 1
}

// Option configures a script.
type Option func(*options)

type options struct {
	loop          bool
	width, height int
}

// WithLoop makes the script wrap around instead of holding its last segment.
func WithLoop() Option {
	return func(o *options) { o.loop = true }
}

// WithFrameSize sets the synthesized frame resolution.
func WithFrameSize(width, height int) Option {
	return func(o *options) {
		if width > 0 && height > 0 {
			o.width, o.height = width, height
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{width: defaultWidth, height: defaultHeight}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// LandmarkScript synthesizes landmark frames following a face timeline.
// The timeline starts at the first NextFrame call.
type LandmarkScript struct {
	mu       sync.Mutex
	now      func() time.Time
	segments []FaceSegment
	tl       timeline
	opts     options
	start    time.Time
	frame    int
}

// NewLandmarkScript creates a script. now defaults to time.Now.
func NewLandmarkScript(now func() time.Time, segments []FaceSegment, opts ...Option) *LandmarkScript {
	if now == nil {
		now = time.Now
	}
	durations := make([]time.Duration, len(segments))
	for i, s := range segments {
		durations[i] = s.Duration
	}
	o := buildOptions(opts)
	return &LandmarkScript{now: now, segments: segments, tl: newTimeline(durations, o.loop), opts: o}
}

// NextFrame returns the frame for the current clock time.
func (s *LandmarkScript) NextFrame(_ context.Context) (*geometry.LandmarkFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.start.IsZero() {
		s.start = now
	}
	i := s.tl.index(now.Sub(s.start))
	if i < 0 {
		return geometry.Synthesize(model.DirectionCenter, defaultLipGap, s.opts.width, s.opts.height, now), nil
	}
	seg := s.segments[i]
	gap := float64(defaultLipGap)
	if len(seg.LipGaps) > 0 {
		gap = seg.LipGaps[s.frame%len(seg.LipGaps)]
	}
	s.frame++
	return geometry.Synthesize(seg.Direction, gap, s.opts.width, s.opts.height, now), nil
}

// AudioScript produces audio blocks following an energy timeline.
type AudioScript struct {
	mu       sync.Mutex
	now      func() time.Time
	segments []AudioSegment
	tl       timeline
	start    time.Time
}

// NewAudioScript creates a script. now defaults to time.Now.
func NewAudioScript(now func() time.Time, segments []AudioSegment, opts ...Option) *AudioScript {
	if now == nil {
		now = time.Now
	}
	durations := make([]time.Duration, len(segments))
	for i, s := range segments {
		durations[i] = s.Duration
	}
	o := buildOptions(opts)
	return &AudioScript{now: now, segments: segments, tl: newTimeline(durations, o.loop)}
}

// Sample returns one block with the energy active at the current clock time.
func (s *AudioScript) Sample(_ context.Context) (audiolevel.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.start.IsZero() {
		s.start = now
	}
	energy := 0.0
	if i := s.tl.index(now.Sub(s.start)); i >= 0 {
		energy = s.segments[i].Energy
	}
	return audiolevel.Tone(energy, audiolevel.BlockDuration, audiolevel.SampleRate), nil
}

// OSScript is a settable OS query.
type OSScript struct {
	mu      sync.Mutex
	browser activity.BrowserSnapshot
	windows map[string]activity.WindowState
	err     error
}

var _ activity.OSQuery = (*OSScript)(nil)

// NewOSScript creates a script with the browser closed and no apps open.
func NewOSScript() *OSScript {
	return &OSScript{windows: make(map[string]activity.WindowState)}
}

// SetBrowser sets the browser snapshot returned by later polls.
func (s *OSScript) SetBrowser(snap activity.BrowserSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.browser = snap
}

// SetWindow sets the window state of app.
func (s *OSScript) SetWindow(app string, st activity.WindowState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[app] = st
}

// SetError makes every query fail with err until cleared with nil.
func (s *OSScript) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Browser returns the scripted browser snapshot.
func (s *OSScript) Browser(_ context.Context, _ string) (activity.BrowserSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return activity.BrowserSnapshot{}, s.err
	}
	snap := s.browser
	snap.Tabs = append([]string(nil), s.browser.Tabs...)
	return snap, nil
}

// AppWindow returns the scripted window state of app.
func (s *OSScript) AppWindow(_ context.Context, app string) (activity.WindowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return activity.WindowState{}, s.err
	}
	return s.windows[app], nil
}
