package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	worker "github.com/okian/proctor/internal/adapters/mq/worker"
	logging "github.com/okian/proctor/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logging.Init()
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestLoop(t *testing.T) {
	convey.Convey("Given a loop with a fast interval", t, func() {
		var calls atomic.Int64
		l := worker.NewLoop("test", 5*time.Millisecond, func(context.Context) error {
			calls.Add(1)
			return nil
		})

		convey.Convey("When it runs and is shut down", func() {
			errCh := make(chan error, 1)
			go func() { errCh <- l.Run(context.Background()) }()
			convey.So(waitFor(func() bool { return calls.Load() >= 3 }), convey.ShouldBeTrue)
			convey.So(l.Shutdown(context.Background()), convey.ShouldBeNil)

			convey.Convey("Then Run returns without error and stops stepping", func() {
				convey.So(<-errCh, convey.ShouldBeNil)
				n := calls.Load()
				time.Sleep(20 * time.Millisecond)
				convey.So(calls.Load(), convey.ShouldEqual, n)
			})
		})
	})

	convey.Convey("Given a loop whose steps fail transiently", t, func() {
		var calls atomic.Int64
		l := worker.NewLoop("flaky", time.Millisecond, func(context.Context) error {
			calls.Add(1)
			return errors.New("device busy")
		})
		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- l.Run(ctx) }()

		convey.Convey("Then it keeps stepping until cancelled", func() {
			convey.So(waitFor(func() bool { return calls.Load() >= 5 }), convey.ShouldBeTrue)
			cancel()
			convey.So(<-errCh, convey.ShouldBeNil)
		})
	})

	convey.Convey("Given a loop whose step fails fatally", t, func() {
		l := worker.NewLoop("sink", time.Millisecond, func(context.Context) error {
			return fmt.Errorf("journal: %w", worker.ErrFatal)
		})

		convey.Convey("Then Run returns the fatal error", func() {
			err := l.Run(context.Background())
			convey.So(errors.Is(err, worker.ErrFatal), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "sink")
		})
	})

	convey.Convey("Given a loop without an immediate first step", t, func() {
		var calls atomic.Int64
		l := worker.NewLoop("lazy", time.Hour, func(context.Context) error {
			calls.Add(1)
			return nil
		}, worker.WithImmediateStart(false))
		go func() { _ = l.Run(context.Background()) }()
		time.Sleep(10 * time.Millisecond)
		convey.So(l.Shutdown(context.Background()), convey.ShouldBeNil)
		convey.So(calls.Load(), convey.ShouldEqual, 0)
	})

	convey.Convey("Given a loop with a non-positive interval", t, func() {
		l := worker.NewLoop("broken", 0, func(context.Context) error { return nil })
		convey.So(l.Run(context.Background()), convey.ShouldNotBeNil)
	})

	convey.Convey("Given a loop stuck in a step", t, func() {
		release := make(chan struct{})
		l := worker.NewLoop("stuck", time.Millisecond, func(context.Context) error {
			<-release
			return nil
		})
		go func() { _ = l.Run(context.Background()) }()

		convey.Convey("Then Shutdown honours its context deadline", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()
			convey.So(l.Shutdown(ctx), convey.ShouldNotBeNil)
			close(release)
			<-l.Done()
		})
	})
}

func TestGroup(t *testing.T) {
	convey.Convey("Given a group of healthy loops", t, func() {
		var a, b atomic.Int64
		g := worker.NewGroup(
			worker.NewLoop("a", time.Millisecond, func(context.Context) error { a.Add(1); return nil }),
			worker.NewLoop("b", time.Millisecond, func(context.Context) error { b.Add(1); return nil }),
		)
		g.Start(context.Background())

		convey.Convey("Then all loops run until shutdown", func() {
			convey.So(waitFor(func() bool { return a.Load() > 2 && b.Load() > 2 }), convey.ShouldBeTrue)
			convey.So(g.Shutdown(context.Background()), convey.ShouldBeNil)
			convey.So(g.Err(), convey.ShouldBeNil)
		})
	})

	convey.Convey("Given a group where one loop fails fatally", t, func() {
		g := worker.NewGroup(
			worker.NewLoop("video", time.Millisecond, func(context.Context) error { return nil }),
			worker.NewLoop("journal", time.Millisecond, func(context.Context) error {
				return fmt.Errorf("disk gone: %w", worker.ErrFatal)
			}),
		)
		g.Start(context.Background())

		convey.Convey("Then the whole group ends with that error", func() {
			select {
			case <-g.Done():
			case <-time.After(2 * time.Second):
				convey.So("group did not stop", convey.ShouldBeEmpty)
			}
			convey.So(errors.Is(g.Err(), worker.ErrFatal), convey.ShouldBeTrue)
			convey.So(errors.Is(g.Shutdown(context.Background()), worker.ErrFatal), convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given a group that was never started", t, func() {
		g := worker.NewGroup()
		convey.So(g.Shutdown(context.Background()), convey.ShouldBeNil)
	})
}
