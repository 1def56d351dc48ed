// Package fusion holds the audio flags shared between the audio and video loops.
package fusion

import (
	"sync/atomic"
	"time"

	"github.com/okian/proctor/internal/domain/audiolevel"
)

// Snapshot is one published pair of audio flags. Both fields always come from
// the same audio block.
type Snapshot struct {
	Speech    bool      `json:"speech"`
	Noise     bool      `json:"noise"`
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State is a single-writer, many-reader cell. The writer swaps in a new
// immutable snapshot; readers never observe a half-written pair.
type State struct {
	cur atomic.Pointer[Snapshot]
	seq atomic.Uint64
}

// New returns a state reporting no speech and no noise.
func New() *State {
	s := &State{}
	s.cur.Store(&Snapshot{})
	return s
}

// Store publishes both flags at once.
func (s *State) Store(levels audiolevel.Levels, at time.Time) Snapshot {
	snap := &Snapshot{
		Speech:    levels.Speech,
		Noise:     levels.Noise,
		Seq:       s.seq.Add(1),
		UpdatedAt: at,
	}
	s.cur.Store(snap)
	return *snap
}

// Load returns the latest snapshot without blocking.
func (s *State) Load() Snapshot {
	p := s.cur.Load()
	if p == nil {
		return Snapshot{}
	}
	return *p
}

// Reset returns the state to the no-audio snapshot.
func (s *State) Reset() {
	s.cur.Store(&Snapshot{Seq: s.seq.Add(1)})
}
