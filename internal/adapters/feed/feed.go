// Package feed accepts landmark frames and audio blocks pushed by external
// capture processes and serves them to the session loops.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/proctor/internal/domain/audiolevel"
	"github.com/okian/proctor/internal/domain/geometry"
)

// Sentinel errors.
var (
	ErrNoFrame  = errors.New("no new frame")
	ErrNoSample = errors.New("no audio block available")
	ErrInvalid  = errors.New("invalid payload")
)

const (
	defaultAudioBuffer = 8
	defaultAudioWait   = 2 * audiolevel.BlockDuration
)

// FramePayload is one frame as posted by the landmark sidecar. A payload
// without points means no face was detected.
type FramePayload struct {
	At     time.Time              `json:"at"`
	Width  int                    `json:"width"`
	Height int                    `json:"height"`
	Points map[int]geometry.Point `json:"points,omitempty"`
}

// Frame converts the payload. It returns nil for a no-face frame.
func (p FramePayload) Frame() (*geometry.LandmarkFrame, error) {
	if len(p.Points) == 0 {
		return nil, nil
	}
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("%w: frame size %dx%d", ErrInvalid, p.Width, p.Height)
	}
	return &geometry.LandmarkFrame{Points: p.Points, Width: p.Width, Height: p.Height, At: p.At}, nil
}

// FrameFeed holds the most recent frame. Frames that arrive faster than
// the video loop consumes them replace each other.
type FrameFeed struct {
	mu       sync.Mutex
	latest   *geometry.LandmarkFrame
	pending  bool
	received int64
	replaced int64
}

// NewFrameFeed creates an empty frame feed.
func NewFrameFeed() *FrameFeed { return &FrameFeed{} }

// Push stores a frame. A nil frame records a no-face observation.
func (f *FrameFeed) Push(frame *geometry.LandmarkFrame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending {
		f.replaced++
	}
	f.latest = frame
	f.pending = true
	f.received++
}

// NextFrame returns the frame pushed since the last call, or ErrNoFrame.
func (f *FrameFeed) NextFrame(_ context.Context) (*geometry.LandmarkFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.pending {
		return nil, ErrNoFrame
	}
	f.pending = false
	return f.latest, nil
}

// Stats returns how many frames were received and how many were replaced unread.
func (f *FrameFeed) Stats() (received, replaced int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.received, f.replaced
}

// AudioPayload is one audio block as posted by the capture sidecar.
// Exactly one of Samples and PCM16 must be set.
type AudioPayload struct {
	SampleRate int       `json:"sample_rate"`
	Samples    []float64 `json:"samples,omitempty"`
	PCM16      []int16   `json:"pcm16,omitempty"`
}

// Block converts the payload into a normalized block.
func (p AudioPayload) Block() (audiolevel.Block, error) {
	rate := p.SampleRate
	if rate <= 0 {
		rate = audiolevel.SampleRate
	}
	switch {
	case len(p.Samples) > 0 && len(p.PCM16) > 0:
		return audiolevel.Block{}, fmt.Errorf("%w: both samples and pcm16 set", ErrInvalid)
	case len(p.PCM16) > 0:
		return audiolevel.FromPCM16(p.PCM16, rate), nil
	case len(p.Samples) > 0:
		return audiolevel.Block{Samples: p.Samples, SampleRate: rate}, nil
	default:
		return audiolevel.Block{}, fmt.Errorf("%w: empty audio block", ErrInvalid)
	}
}

// AudioOption configures an AudioFeed.
type AudioOption func(*AudioFeed)

// WithAudioBuffer sets how many blocks may wait for the audio loop.
func WithAudioBuffer(n int) AudioOption {
	return func(a *AudioFeed) {
		if n > 0 {
			a.size = n
		}
	}
}

// WithWait sets how long Sample blocks before reporting ErrNoSample.
func WithWait(d time.Duration) AudioOption {
	return func(a *AudioFeed) {
		if d > 0 {
			a.wait = d
		}
	}
}

// AudioFeed queues pushed blocks for the audio loop. When the queue is
// full the oldest block is discarded.
type AudioFeed struct {
	mu     sync.Mutex
	blocks chan audiolevel.Block
	size   int
	wait   time.Duration
}

// NewAudioFeed creates an audio feed.
func NewAudioFeed(opts ...AudioOption) *AudioFeed {
	a := &AudioFeed{size: defaultAudioBuffer, wait: defaultAudioWait}
	for _, opt := range opts {
		opt(a)
	}
	a.blocks = make(chan audiolevel.Block, a.size)
	return a
}

// Push queues a block, discarding the oldest one when full.
func (a *AudioFeed) Push(b audiolevel.Block) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		select {
		case a.blocks <- b:
			return
		default:
		}
		select {
		case <-a.blocks:
		default:
		}
	}
}

// Sample blocks until a block is available, the wait elapses, or ctx is done.
func (a *AudioFeed) Sample(ctx context.Context) (audiolevel.Block, error) {
	t := time.NewTimer(a.wait)
	defer t.Stop()
	select {
	case b := <-a.blocks:
		return b, nil
	case <-t.C:
		return audiolevel.Block{}, ErrNoSample
	case <-ctx.Done():
		return audiolevel.Block{}, ctx.Err()
	}
}

// Len returns the number of queued blocks.
func (a *AudioFeed) Len() int { return len(a.blocks) }
