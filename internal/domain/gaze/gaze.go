// Package gaze debounces per-frame gaze directions into LookingAway events.
package gaze

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

// DefaultLookAwayDuration is the confirmation threshold for an away episode.
const DefaultLookAwayDuration = 5 * time.Second

// ShortEpisodePolicy decides the fate of away episodes that end before confirmation.
type ShortEpisodePolicy string

// Short episode policies.
const (
	ShortEpisodeDiscard ShortEpisodePolicy = "discard"
	ShortEpisodeLog     ShortEpisodePolicy = "log"
)

// Valid reports whether p is a known policy.
func (p ShortEpisodePolicy) Valid() bool {
	return p == ShortEpisodeDiscard || p == ShortEpisodeLog
}

// ParseShortEpisodePolicy parses a policy name, case-insensitively.
func ParseShortEpisodePolicy(s string) (ShortEpisodePolicy, error) {
	p := ShortEpisodePolicy(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown short look-away policy %q", s)
	}
	return p, nil
}

// State is the tracker's debounce state.
type State int

// Tracker states.
const (
	StateCentered State = iota
	StateAwayPending
	StateAwayConfirmed
)

func (s State) String() string {
	switch s {
	case StateCentered:
		return "centered"
	case StateAwayPending:
		return "away_pending"
	case StateAwayConfirmed:
		return "away_confirmed"
	default:
		return "unknown"
	}
}

// Warning describes a freshly confirmed away episode.
type Warning struct {
	EventID   string
	AwayStart time.Time
	At        time.Time
	Elapsed   time.Duration
	Direction model.Direction
}

// Tracker turns a stream of gaze directions into LookingAway events.
// At most one episode is open at a time.
type Tracker struct {
	mu        sync.Mutex
	threshold time.Duration
	policy    ShortEpisodePolicy
	onWarn    func(Warning)

	state   State
	episode *model.SessionEvent
	lastDir model.Direction
}

// NewTracker returns a tracker in the centered state.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		threshold: DefaultLookAwayDuration,
		policy:    ShortEpisodeDiscard,
		lastDir:   model.DirectionCenter,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Observe feeds one frame's reconciled direction. It returns the events
// closed by this frame, which is at most one.
func (t *Tracker) Observe(dir model.Direction, now time.Time) []model.SessionEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastDir = dir
	if dir.Centered() {
		return t.returnToCenter(now)
	}

	if t.state == StateCentered {
		ev := model.NewEvent(model.KindLookingAway, now, "")
		t.episode = &ev
		t.state = StateAwayPending
		t.episode.Details = "first seen " + string(dir)
		return nil
	}

	elapsed := now.Sub(t.episode.Start)
	if t.state == StateAwayPending && elapsed > t.threshold {
		t.state = StateAwayConfirmed
		if t.onWarn != nil {
			t.onWarn(Warning{
				EventID:   t.episode.ID,
				AwayStart: t.episode.Start,
				At:        now,
				Elapsed:   elapsed,
				Direction: dir,
			})
		}
	}
	return nil
}

func (t *Tracker) returnToCenter(now time.Time) []model.SessionEvent {
	if t.state == StateCentered {
		return nil
	}
	ev := *t.episode
	confirmed := t.state == StateAwayConfirmed
	t.episode = nil
	t.state = StateCentered

	if !confirmed && t.policy == ShortEpisodeDiscard {
		return nil
	}
	if err := ev.Close(now); err != nil {
		// now precedes the away start; the episode cannot be represented.
		return nil
	}
	if confirmed {
		ev.Details = fmt.Sprintf("looked away for %.1fs (%s)", ev.Duration().Seconds(), ev.Details)
	} else {
		ev.Details = fmt.Sprintf("short look-away of %.1fs (%s)", ev.Duration().Seconds(), ev.Details)
	}
	return []model.SessionEvent{ev}
}

// ForceClose closes any open episode at termination time and marks it
// truncated. Episodes that never reached the threshold are closed as well.
func (t *Tracker) ForceClose(now time.Time) (model.SessionEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.episode == nil {
		return model.SessionEvent{}, false
	}
	ev := *t.episode
	confirmed := t.state == StateAwayConfirmed
	t.episode = nil
	t.state = StateCentered

	if err := ev.ForceClose(now); err != nil {
		return model.SessionEvent{}, false
	}
	if !confirmed {
		ev.Details = "unconfirmed, " + ev.Details
	}
	return ev, true
}

// Open returns a copy of the open episode, if any.
func (t *Tracker) Open() (model.SessionEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.episode == nil {
		return model.SessionEvent{}, false
	}
	return *t.episode, true
}

// State returns the current debounce state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Confirmed reports whether the current episode has crossed the threshold.
func (t *Tracker) Confirmed() bool {
	return t.State() == StateAwayConfirmed
}

// LastDirection returns the most recently observed direction.
func (t *Tracker) LastDirection() model.Direction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastDir
}
