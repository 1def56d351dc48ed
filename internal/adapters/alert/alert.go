// Package alert plays audible alerts when a monitored application is open.
package alert

import (
	"context"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/okian/proctor/internal/domain/activity"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

// DefaultSound is the macOS system sound used for alerts.
const DefaultSound = "/System/Library/Sounds/Glass.aiff"

// Starter starts a command and returns a function that waits for it.
type Starter func(name string, args ...string) (wait func() error, err error)

func execStarter(name string, args ...string) (func() error, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Wait, nil
}

// Option configures a Player.
type Option func(*Player)

// WithSound sets the sound file passed to afplay.
func WithSound(path string) Option {
	return func(p *Player) {
		if path != "" {
			p.sound = path
		}
	}
}

// WithStarter replaces the subprocess starter.
func WithStarter(s Starter) Option {
	return func(p *Player) {
		if s != nil {
			p.start = s
		}
	}
}

// WithLogger sets the logger for playback failures.
func WithLogger(l logger.Logger) Option {
	return func(p *Player) {
		if l != nil {
			p.logger = l
		}
	}
}

// Player plays the alert sound with afplay without waiting for it to finish.
// While a sound is playing, further alerts are skipped.
type Player struct {
	sound   string
	start   Starter
	logger  logger.Logger
	playing atomic.Bool
	wg      sync.WaitGroup
}

var _ activity.AlertSink = (*Player)(nil)

// NewPlayer creates an afplay-backed alert sink.
func NewPlayer(opts ...Option) *Player {
	p := &Player{sound: DefaultSound, start: execStarter}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Named("alert")
	}
	return p
}

// Alert starts playback. It returns only start failures.
func (p *Player) Alert(ctx context.Context, app string) error {
	metrics.RecordAlert(app)
	if !p.playing.CompareAndSwap(false, true) {
		return nil
	}
	wait, err := p.start("afplay", p.sound)
	if err != nil {
		p.playing.Store(false)
		metrics.RecordAlertError()
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.playing.Store(false)
		if err := wait(); err != nil {
			metrics.RecordAlertError()
			p.logger.Warn(context.WithoutCancel(ctx), "alert playback failed",
				logger.String("app", app), logger.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every started sound has finished.
func (p *Player) Wait() { p.wg.Wait() }

// Nop records alerts without playing anything.
type Nop struct {
	mu     sync.Mutex
	alerts []string
}

var _ activity.AlertSink = (*Nop)(nil)

// Alert records app.
func (n *Nop) Alert(_ context.Context, app string) error {
	metrics.RecordAlert(app)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, app)
	return nil
}

// Alerts returns the recorded app names.
func (n *Nop) Alerts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.alerts...)
}
