package service

import (
	"context"
	"time"

	"github.com/okian/proctor/internal/adapters/repository"
	"github.com/okian/proctor/internal/domain/activity"
	"github.com/okian/proctor/internal/domain/gaze"
	"github.com/okian/proctor/pkg/logger"
)

// StoreFactory builds the event store for a new session.
type StoreFactory func(ctx context.Context, sessionID string) (repository.Store, error)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLandmarkProvider sets the per-frame landmark source.
func WithLandmarkProvider(p LandmarkProvider) Option {
	return func(s *Service) {
		if p != nil {
			s.landmarks = p
		}
	}
}

// WithAudioSampler sets the audio block source.
func WithAudioSampler(a AudioSampler) Option {
	return func(s *Service) {
		if a != nil {
			s.audio = a
		}
	}
}

// WithOSQuery sets the browser and window query backend.
func WithOSQuery(q activity.OSQuery) Option {
	return func(s *Service) {
		if q != nil {
			s.osQuery = q
		}
	}
}

// WithAlertSink sets where application alerts are raised.
func WithAlertSink(a activity.AlertSink) Option {
	return func(s *Service) {
		if a != nil {
			s.alerts = a
		}
	}
}

// WithStore replaces the default in-memory/journal event store.
func WithStore(f StoreFactory) Option {
	return func(s *Service) {
		if f != nil {
			s.newStore = f
		}
	}
}

// WithClock sets the time source used to stamp observations and events.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLookAwayDuration sets how long the gaze must stay off-center before a warning.
func WithLookAwayDuration(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lookAway = d
		}
	}
}

// WithShortEpisodePolicy decides what happens to sub-threshold look-aways.
func WithShortEpisodePolicy(p gaze.ShortEpisodePolicy) Option {
	return func(s *Service) {
		if p.Valid() {
			s.shortPolicy = p
		}
	}
}

// WithLipMovementThreshold sets the lip gap delta, in pixels, that counts as movement.
func WithLipMovementThreshold(px float64) Option {
	return func(s *Service) {
		if px > 0 {
			s.lipThreshold = px
		}
	}
}

// WithAudioThresholds sets the speech and background noise energy thresholds.
func WithAudioThresholds(speech, noise float64) Option {
	return func(s *Service) {
		if speech > 0 && noise > speech {
			s.classifier.SpeechThreshold = speech
			s.classifier.NoiseThreshold = noise
		}
	}
}

// WithFrameInterval sets the video loop period.
func WithFrameInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.frameInterval = d
		}
	}
}

// WithAudioInterval sets the audio loop period.
func WithAudioInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.audioInterval = d
		}
	}
}

// WithWebsiteInterval sets the browser poll period.
func WithWebsiteInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.websiteInterval = d
		}
	}
}

// WithAppInterval sets the app-window poll period.
func WithAppInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.appInterval = d
		}
	}
}

// WithBrowser sets the browser whose tabs are reported.
func WithBrowser(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.browser = name
		}
	}
}

// WithApps sets the monitored application names.
func WithApps(apps ...string) Option {
	return func(s *Service) {
		if len(apps) > 0 {
			s.apps = append([]string(nil), apps...)
		}
	}
}

// WithDataDir enables on-disk journals and raw logs under dir/<session id>.
func WithDataDir(dir string) Option {
	return func(s *Service) {
		s.dataDir = dir
	}
}

// WithJournalRetries sets the journal write attempts before the sink is declared failed.
func WithJournalRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.journalRetries = n
		}
	}
}

// WithFrameBuffer sets the live frame buffer capacity.
func WithFrameBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.frameBuffer = n
		}
	}
}

// WithShutdownTimeout bounds how long Stop waits for loops to exit.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}
