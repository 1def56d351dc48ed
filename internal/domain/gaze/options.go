package gaze

import "time"

// Option applies a configuration option to the Tracker.
type Option func(*Tracker)

// WithLookAwayDuration sets how long an away episode must last before it is confirmed.
func WithLookAwayDuration(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.threshold = d
		}
	}
}

// WithShortEpisodePolicy selects what happens to episodes that end before confirmation.
func WithShortEpisodePolicy(p ShortEpisodePolicy) Option {
	return func(t *Tracker) {
		if p.Valid() {
			t.policy = p
		}
	}
}

// WithWarning registers the callback fired once per confirmed episode.
// It runs with the tracker lock held and must not call back into the tracker.
func WithWarning(fn func(Warning)) Option {
	return func(t *Tracker) {
		t.onWarn = fn
	}
}
