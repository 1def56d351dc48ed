package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/proctor/internal/adapters/feed"
	"github.com/okian/proctor/internal/domain/audiolevel"
	"github.com/okian/proctor/internal/domain/geometry"
	"github.com/okian/proctor/internal/report"
	"github.com/okian/proctor/pkg/logger"
)

const (
	defaultLipGap  = 10
	defaultWidth   = 640
	defaultHeight  = 480
	defaultTimeout = 10 * time.Second
	stopTimeout    = 30 * time.Second
)

// Config holds configuration for one simulated session.
type Config struct {
	BaseURL string        // Base URL of the proctor server
	Timeout time.Duration // HTTP request timeout
	Width   int           // Synthesized frame width
	Height  int           // Synthesized frame height
	JSON    bool          // Print the report as JSON instead of text
}

// Stats counts what was streamed to the server.
type Stats struct {
	SessionID    string
	FramesSent   int64
	FramesFailed int64
	AudioSent    int64
	AudioFailed  int64
	Duration     time.Duration
}

// Run starts a session, streams sc to it, stops it and writes the report
// to out. The session is stopped even when ctx is cancelled mid-stream.
func Run(ctx context.Context, cfg Config, sc *Scenario, out io.Writer) (Stats, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = defaultWidth, defaultHeight
	}
	log := logger.Named("simulate")
	client := NewClient(cfg.BaseURL, cfg.Timeout)

	var stats Stats
	id, err := client.Start(ctx)
	if err != nil {
		return stats, err
	}
	stats.SessionID = id
	log.Info(ctx, "session started",
		logger.String("session_id", id),
		logger.String("scenario", sc.Name),
		logger.Duration("length", sc.Duration()))

	began := time.Now()
	streamErr := stream(ctx, client, cfg, sc, &stats)
	stats.Duration = time.Since(began)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	rep, err := client.Stop(stopCtx)
	if err != nil {
		return stats, errors.Join(streamErr, err)
	}
	log.Info(ctx, "session stopped",
		logger.String("session_id", id),
		logger.Float64("score", rep.Summary.Score),
		logger.Int("events", len(rep.Events)))

	if err := write(out, rep, cfg.JSON); err != nil {
		return stats, errors.Join(streamErr, err)
	}
	return stats, streamErr
}

func write(out io.Writer, rep report.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("simulate: write report: %w", err)
		}
		return nil
	}
	if err := report.RenderText(out, rep); err != nil {
		return fmt.Errorf("simulate: write report: %w", err)
	}
	return nil
}

// stream posts frames and audio blocks concurrently until the scenario
// ends. A rejected request stops both streams; transport errors are counted.
func stream(ctx context.Context, client *Client, cfg Config, sc *Scenario, stats *Stats) error {
	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	total := sc.Duration()
	log := logger.Named("simulate")

	g.Go(func() error {
		perSegment := make(map[int]int)
		return every(gctx, sc.FrameInterval(), start, total, func(now time.Time, elapsed time.Duration) error {
			seg, idx := sc.At(elapsed)
			gap := float64(defaultLipGap)
			if len(seg.LipGaps) > 0 {
				gap = seg.LipGaps[perSegment[idx]%len(seg.LipGaps)]
			}
			perSegment[idx]++

			p := feed.FramePayload{At: now, Width: cfg.Width, Height: cfg.Height}
			if f := geometry.Synthesize(seg.Direction, gap, cfg.Width, cfg.Height, now); f != nil {
				p.Points = f.Points
			}
			if err := client.PostFrame(gctx, p); err != nil {
				return count(gctx, log, "frame", err, &stats.FramesFailed)
			}
			atomic.AddInt64(&stats.FramesSent, 1)
			return nil
		})
	})

	g.Go(func() error {
		return every(gctx, audiolevel.BlockDuration, start, total, func(_ time.Time, elapsed time.Duration) error {
			seg, _ := sc.At(elapsed)
			block := audiolevel.Tone(seg.Energy, audiolevel.BlockDuration, audiolevel.SampleRate)
			p := feed.AudioPayload{SampleRate: block.SampleRate, Samples: block.Samples}
			if err := client.PostAudio(gctx, p); err != nil {
				return count(gctx, log, "audio", err, &stats.AudioFailed)
			}
			atomic.AddInt64(&stats.AudioSent, 1)
			return nil
		})
	})

	err := g.Wait()
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// Interrupted by the caller; the session is still stopped.
		return nil
	}
	return err
}

func count(ctx context.Context, log logger.Logger, what string, err error, failed *int64) error {
	if errors.Is(err, ErrServer) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	atomic.AddInt64(failed, 1)
	log.Debug(ctx, "post failed", logger.String("stream", what), logger.Error(err))
	return nil
}

// every calls fn immediately and then once per interval until total has
// elapsed since start.
func every(ctx context.Context, interval time.Duration, start time.Time, total time.Duration,
	fn func(now time.Time, elapsed time.Duration) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	now := time.Now()
	for {
		elapsed := now.Sub(start)
		if elapsed >= total {
			return nil
		}
		if err := fn(now, elapsed); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now = <-ticker.C:
		}
	}
}
