// Package speaking classifies frames as speaking from lip motion and audio level.
package speaking

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/okian/proctor/internal/domain/fusion"
	"github.com/okian/proctor/internal/domain/model"
)

// DefaultLipMovementThreshold is the per-frame lip gap change, in pixels,
// above which the lips count as moving.
const DefaultLipMovementThreshold = 2.5

// Frame is one video frame's lip measurement.
type Frame struct {
	At           time.Time
	FaceDetected bool
	LipGap       float64
}

// Result is the classification of one frame.
type Result struct {
	Status    model.SpeakingStatus
	LipMoving bool
	Delta     float64
	// Closed holds the Speaking event ended by this frame, if any.
	Closed []model.SessionEvent
}

// NoiseOnset describes the first frame of a background noise run.
type NoiseOnset struct {
	At     time.Time
	LipGap float64
}

// Option applies a configuration option to the Tracker.
type Option func(*Tracker)

// WithLipMovementThreshold overrides the lip movement threshold.
func WithLipMovementThreshold(px float64) Option {
	return func(t *Tracker) {
		if px > 0 {
			t.threshold = px
		}
	}
}

// WithNoiseOnset registers a callback for background noise onsets.
// It runs with the tracker lock held.
func WithNoiseOnset(fn func(NoiseOnset)) Option {
	return func(t *Tracker) {
		t.onNoise = fn
	}
}

// Tracker emits Speaking events. Each frame is classified on its own; the
// only memory is the previous lip gap.
type Tracker struct {
	mu        sync.Mutex
	threshold float64
	onNoise   func(NoiseOnset)

	prevGap float64
	last    model.SpeakingStatus
	open    *model.SessionEvent
}

// NewTracker returns a tracker with no open event and a previous gap of zero.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		threshold: DefaultLipMovementThreshold,
		last:      model.StatusNotSpeaking,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Classify applies the per-frame priority rules.
func Classify(lipMoving bool, audio fusion.Snapshot) model.SpeakingStatus {
	switch {
	case lipMoving && audio.Speech:
		return model.StatusSpeaking
	case audio.Noise && !lipMoving:
		return model.StatusBackgroundNoise
	default:
		return model.StatusNotSpeaking
	}
}

// Observe classifies one frame against the audio snapshot read for it.
func (t *Tracker) Observe(f Frame, audio fusion.Snapshot) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	var res Result
	if f.FaceDetected {
		res.Delta = math.Abs(f.LipGap - t.prevGap)
		res.LipMoving = res.Delta > t.threshold
		t.prevGap = f.LipGap
		res.Status = Classify(res.LipMoving, audio)
	} else {
		res.Status = model.StatusNotSpeaking
	}

	switch {
	case res.Status == model.StatusSpeaking && t.open == nil:
		ev := model.NewEvent(model.KindSpeaking, f.At, "")
		t.open = &ev
	case res.Status != model.StatusSpeaking && t.open != nil:
		ev := *t.open
		t.open = nil
		if err := ev.Close(f.At); err == nil {
			ev.Details = fmt.Sprintf("spoke for %.1fs", ev.Duration().Seconds())
			res.Closed = []model.SessionEvent{ev}
		}
	}

	if res.Status == model.StatusBackgroundNoise && t.last != model.StatusBackgroundNoise && t.onNoise != nil {
		t.onNoise(NoiseOnset{At: f.At, LipGap: f.LipGap})
	}
	t.last = res.Status
	return res
}

// ForceClose closes an open Speaking event at termination time.
func (t *Tracker) ForceClose(now time.Time) (model.SessionEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open == nil {
		return model.SessionEvent{}, false
	}
	ev := *t.open
	t.open = nil
	if err := ev.ForceClose(now); err != nil {
		return model.SessionEvent{}, false
	}
	return ev, true
}

// Open returns a copy of the open event, if any.
func (t *Tracker) Open() (model.SessionEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open == nil {
		return model.SessionEvent{}, false
	}
	return *t.open, true
}

// PreviousGap returns the lip gap remembered from the last face frame.
func (t *Tracker) PreviousGap() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prevGap
}
