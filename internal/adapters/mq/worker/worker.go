// Package worker runs the session's producer loops.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// ErrFatal marks a step error that must end the loop and its group.
var ErrFatal = errors.New("fatal loop error")

// Step is one unit of work. It is never interrupted mid-call by the loop.
type Step func(ctx context.Context) error

// Loop runs a step on a fixed interval until stopped. Step errors are
// logged and the loop continues, unless the error wraps ErrFatal.
type Loop struct {
	name      string
	interval  time.Duration
	step      Step
	immediate bool

	stopOnce sync.Once
	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewLoop creates a loop. interval must be positive.
func NewLoop(name string, interval time.Duration, step Step, opts ...Option) *Loop {
	l := &Loop{
		name:      name,
		interval:  interval,
		step:      step,
		immediate: true,
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logger.Named("loop")
	}
	l.logger = l.logger.Named(name)
	return l
}

// Name returns the loop name.
func (l *Loop) Name() string { return l.name }

// Run executes the loop until ctx is done, Stop is called, or a step
// returns a fatal error. Stop requests are observed between steps.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	if l.interval <= 0 {
		return fmt.Errorf("loop %s: interval must be positive, got %s", l.name, l.interval)
	}

	if l.immediate {
		if err := l.runStep(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.shutdown:
			return nil
		case <-ticker.C:
		}
		// A stop that raced the tick wins.
		select {
		case <-l.shutdown:
			return nil
		default:
		}
		if err := l.runStep(ctx); err != nil {
			return err
		}
	}
}

func (l *Loop) runStep(ctx context.Context) error {
	err := l.step(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrFatal) {
		metrics.RecordErrorByComponent(l.name, "fatal")
		l.logger.Error(ctx, "loop stopped by fatal error", logger.Error(err))
		return fmt.Errorf("loop %s: %w", l.name, err)
	}
	metrics.RecordErrorByComponent(l.name, "step")
	l.logger.Warn(ctx, "step failed, continuing", logger.Error(err))
	return nil
}

// Stop asks the loop to exit at its next iteration boundary.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.shutdown) })
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Shutdown stops the loop and waits for it to exit.
func (l *Loop) Shutdown(ctx context.Context) error {
	l.Stop()
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		l.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Group runs loops together. The first fatal error cancels the rest.
type Group struct {
	loops  []*Loop
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	logger logger.Logger
}

// NewGroup creates a group over loops.
func NewGroup(loops ...*Loop) *Group {
	return &Group{
		loops:  loops,
		done:   make(chan struct{}),
		logger: logger.Named("loop-group"),
	}
}

// Start launches every loop. The group outlives ctx only until ctx is done.
func (g *Group) Start(ctx context.Context) {
	gctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	eg, egctx := errgroup.WithContext(gctx)
	for _, l := range g.loops {
		l := l
		eg.Go(func() error { return l.Run(egctx) })
	}
	go func() {
		g.err = eg.Wait()
		cancel()
		close(g.done)
	}()
	g.logger.Info(ctx, "loops started", logger.Int("count", len(g.loops)))
}

// Done is closed once every loop has returned.
func (g *Group) Done() <-chan struct{} { return g.done }

// Err returns the first fatal error. Valid after Done is closed.
func (g *Group) Err() error {
	select {
	case <-g.done:
		return g.err
	default:
		return nil
	}
}

// Shutdown stops every loop cooperatively and waits for them.
func (g *Group) Shutdown(ctx context.Context) error {
	if g.cancel == nil {
		return nil
	}
	for _, l := range g.loops {
		l.Stop()
	}
	select {
	case <-g.done:
		return g.err
	case <-ctx.Done():
		g.cancel()
		g.logger.Warn(ctx, "loop group shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}
