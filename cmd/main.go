package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/proctor/internal/adapters/alert"
	"github.com/okian/proctor/internal/adapters/feed"
	"github.com/okian/proctor/internal/adapters/http/api"
	"github.com/okian/proctor/internal/adapters/http/swagger"
	"github.com/okian/proctor/internal/adapters/osquery"
	"github.com/okian/proctor/internal/adapters/simulated"
	app "github.com/okian/proctor/internal/app"
	"github.com/okian/proctor/internal/config"
	"github.com/okian/proctor/internal/domain/activity"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 30 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() { _ = logger.Sync() }()

	loggerInstance := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc, apiOpts, player := build(cfg, loggerInstance)

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc, apiOpts...).Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		loggerInstance.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("source", cfg.Source))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			loggerInstance.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	loggerInstance.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	if svc.Running() {
		rep, err := svc.Stop(shutdownCtx)
		if err != nil {
			loggerInstance.Warn(ctx, "session stop failed", logger.Error(err))
		} else {
			loggerInstance.Info(ctx, "session stopped on shutdown",
				logger.String("session_id", rep.SessionID),
				logger.Float64("score", rep.Summary.Score))
		}
	}
	if player != nil {
		player.Wait()
	}

	loggerInstance.Info(ctx, "server stopped")
}

// build wires the session service and the API options for the configured
// input source. The player is nil when alerts are disabled.
func build(cfg *config.Config, log logger.Logger) (*app.Service, []api.Option, *alert.Player) {
	opts := []app.Option{
		app.WithLogger(log),
		app.WithLookAwayDuration(cfg.LookAway()),
		app.WithShortEpisodePolicy(cfg.Policy()),
		app.WithLipMovementThreshold(cfg.LipMovementThreshold),
		app.WithAudioThresholds(cfg.SpeakingAudioThreshold, cfg.BackgroundNoiseThreshold),
		app.WithFrameInterval(cfg.FrameInterval()),
		app.WithAudioInterval(cfg.AudioInterval()),
		app.WithWebsiteInterval(cfg.WebsiteInterval()),
		app.WithAppInterval(cfg.AppInterval()),
		app.WithBrowser(cfg.Browser),
		app.WithApps(cfg.MonitoredApps...),
		app.WithDataDir(cfg.DataDir),
		app.WithJournalRetries(cfg.JournalRetries),
		app.WithFrameBuffer(cfg.FrameFeedBuffer),
	}

	var player *alert.Player
	if cfg.AlertsEnabled {
		player = alert.NewPlayer(alert.WithSound(cfg.AlertSound), alert.WithLogger(log.Named("alert")))
		opts = append(opts, app.WithAlertSink(player))
	} else {
		opts = append(opts, app.WithAlertSink(&alert.Nop{}))
	}

	var apiOpts []api.Option
	switch cfg.Source {
	case config.SourceDemo:
		opts = append(opts, demoCollaborators(cfg)...)
	default:
		frames := feed.NewFrameFeed()
		audio := feed.NewAudioFeed(feed.WithAudioBuffer(cfg.AudioFeedBuffer))
		opts = append(opts,
			app.WithLandmarkProvider(frames),
			app.WithAudioSampler(audio),
			app.WithOSQuery(osquery.New()),
		)
		apiOpts = append(apiOpts,
			api.WithFrameSink(frames),
			api.WithAudioSink(audio),
			api.WithSampleRate(cfg.SampleRate),
		)
	}

	return app.New(opts...), apiOpts, player
}

// demoCollaborators replays a looping attentive/distracted routine without
// camera, microphone or OS access.
func demoCollaborators(cfg *config.Config) []app.Option {
	face := simulated.NewLandmarkScript(nil, []simulated.FaceSegment{
		{Duration: 8 * time.Second, Direction: model.DirectionCenter},
		{Duration: 4 * time.Second, Direction: model.DirectionCenter, LipGaps: []float64{8, 16}},
		{Duration: 7 * time.Second, Direction: model.DirectionLeft},
		{Duration: 5 * time.Second, Direction: model.DirectionCenter},
		{Duration: 3 * time.Second, Direction: model.DirectionNoFace},
	}, simulated.WithLoop())

	voice := simulated.NewAudioScript(nil, []simulated.AudioSegment{
		{Duration: 8 * time.Second, Energy: 0.001},
		{Duration: 4 * time.Second, Energy: 0.05},
		{Duration: 15 * time.Second, Energy: 0.001},
	}, simulated.WithLoop())

	osq := simulated.NewOSScript()
	osq.SetBrowser(activity.BrowserSnapshot{Running: true, Tabs: []string{"Exam Portal", "Notes"}})
	if len(cfg.MonitoredApps) > 0 {
		osq.SetWindow(cfg.MonitoredApps[len(cfg.MonitoredApps)-1], activity.WindowState{Running: true, Visible: true})
	}

	return []app.Option{
		app.WithLandmarkProvider(face),
		app.WithAudioSampler(voice),
		app.WithOSQuery(osq),
	}
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes session gauges while the server runs.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics updates service-level metrics.
func updateServiceMetrics(svc *app.Service) {
	// GetStats refreshes the event log gauge as a side effect.
	stats := svc.GetStats()
	running, _ := stats["started"].(bool)
	metrics.UpdateSessionRunning(running)
}
