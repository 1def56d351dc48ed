// Package config defines the monitor configuration and its loading.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/proctor/internal/adapters/alert"
	"github.com/okian/proctor/internal/domain/activity"
	"github.com/okian/proctor/internal/domain/audiolevel"
	"github.com/okian/proctor/internal/domain/gaze"
	"github.com/okian/proctor/internal/domain/speaking"
)

// Input sources.
const (
	SourceFeed = "feed"
	SourceDemo = "demo"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DataDir holds per-session journals and raw logs. Empty keeps everything in memory.
	DataDir string `koanf:"data_dir"`

	// Source selects the sensor input: "feed" (HTTP sidecars) or "demo" (scripted).
	Source string `koanf:"source"`

	// LookAwaySeconds is how long the gaze must stay off-center before a warning.
	LookAwaySeconds float64 `koanf:"look_away_seconds"`

	// ShortLookAwayPolicy is "discard" or "log" for sub-threshold episodes.
	ShortLookAwayPolicy string `koanf:"short_look_away_policy"`

	// LipMovementThreshold is the per-frame lip gap change, in pixels, that counts as movement.
	LipMovementThreshold float64 `koanf:"lip_movement_threshold"`

	// SpeakingAudioThreshold and BackgroundNoiseThreshold are block energy thresholds.
	SpeakingAudioThreshold   float64 `koanf:"speaking_audio_threshold"`
	BackgroundNoiseThreshold float64 `koanf:"background_noise_threshold"`

	// AudioBlockMS is the audio block length and audio loop period.
	AudioBlockMS int `koanf:"audio_block_ms"`

	// SampleRate is assumed for audio payloads that omit it.
	SampleRate int `koanf:"sample_rate"`

	// FrameIntervalMS is the video loop period.
	FrameIntervalMS int `koanf:"frame_interval_ms"`

	// WebsitePollSeconds and AppPollSeconds are the OS poll periods.
	WebsitePollSeconds float64 `koanf:"website_poll_seconds"`
	AppPollSeconds     float64 `koanf:"app_poll_seconds"`

	// Browser is the browser whose tabs are reported.
	Browser string `koanf:"browser"`

	// MonitoredApps raise an alert whenever their window is visible.
	MonitoredApps []string `koanf:"monitored_apps"`

	// AlertSound is played for app alerts when AlertsEnabled is set.
	AlertSound    string `koanf:"alert_sound"`
	AlertsEnabled bool   `koanf:"alerts_enabled"`

	// JournalRetries is the number of write attempts before the journal is declared failed.
	JournalRetries int `koanf:"journal_retries"`

	// FrameFeedBuffer is the live frame buffer capacity.
	FrameFeedBuffer int `koanf:"frame_feed_buffer"`

	// AudioFeedBuffer bounds the audio blocks waiting for the audio loop.
	AudioFeedBuffer int `koanf:"audio_feed_buffer"`
}

// New creates a Config with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:                 "info",
		Addr:                     ":9080",
		Source:                   SourceFeed,
		LookAwaySeconds:          gaze.DefaultLookAwayDuration.Seconds(),
		ShortLookAwayPolicy:      string(gaze.ShortEpisodeDiscard),
		LipMovementThreshold:     speaking.DefaultLipMovementThreshold,
		SpeakingAudioThreshold:   audiolevel.DefaultSpeechThreshold,
		BackgroundNoiseThreshold: audiolevel.DefaultNoiseThreshold,
		AudioBlockMS:             int(audiolevel.BlockDuration / time.Millisecond),
		SampleRate:               audiolevel.SampleRate,
		FrameIntervalMS:          33,
		WebsitePollSeconds:       5,
		AppPollSeconds:           7,
		Browser:                  activity.DefaultBrowser,
		MonitoredApps:            activity.DefaultApps(),
		AlertSound:               alert.DefaultSound,
		AlertsEnabled:            true,
		JournalRetries:           3,
		FrameFeedBuffer:          1,
		AudioFeedBuffer:          8,
	}
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var problems []string
	check := func(bad bool, msg string) {
		if bad {
			problems = append(problems, msg)
		}
	}

	check(strings.TrimSpace(c.Addr) == "", "addr must not be empty")
	check(c.Source != SourceFeed && c.Source != SourceDemo, fmt.Sprintf("source must be %q or %q", SourceFeed, SourceDemo))
	check(c.LookAwaySeconds <= 0, "look_away_seconds must be positive")
	_, err := gaze.ParseShortEpisodePolicy(c.ShortLookAwayPolicy)
	check(err != nil, "short_look_away_policy must be discard or log")
	check(c.LipMovementThreshold <= 0, "lip_movement_threshold must be positive")
	check(c.SpeakingAudioThreshold <= 0, "speaking_audio_threshold must be positive")
	check(c.BackgroundNoiseThreshold <= c.SpeakingAudioThreshold, "background_noise_threshold must exceed speaking_audio_threshold")
	check(c.AudioBlockMS <= 0, "audio_block_ms must be positive")
	check(c.SampleRate <= 0, "sample_rate must be positive")
	check(c.FrameIntervalMS <= 0, "frame_interval_ms must be positive")
	check(c.WebsitePollSeconds <= 0, "website_poll_seconds must be positive")
	check(c.AppPollSeconds <= 0, "app_poll_seconds must be positive")
	check(c.JournalRetries < 1, "journal_retries must be at least 1")
	check(c.FrameFeedBuffer < 1, "frame_feed_buffer must be at least 1")
	check(c.AudioFeedBuffer < 1, "audio_feed_buffer must be at least 1")

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// LookAway returns the look-away threshold.
func (c *Config) LookAway() time.Duration { return seconds(c.LookAwaySeconds) }

// FrameInterval returns the video loop period.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalMS) * time.Millisecond
}

// AudioInterval returns the audio loop period.
func (c *Config) AudioInterval() time.Duration {
	return time.Duration(c.AudioBlockMS) * time.Millisecond
}

// WebsiteInterval returns the browser poll period.
func (c *Config) WebsiteInterval() time.Duration { return seconds(c.WebsitePollSeconds) }

// AppInterval returns the app-window poll period.
func (c *Config) AppInterval() time.Duration { return seconds(c.AppPollSeconds) }

// Policy returns the parsed short look-away policy. Call after Validate.
func (c *Config) Policy() gaze.ShortEpisodePolicy {
	p, err := gaze.ParseShortEpisodePolicy(c.ShortLookAwayPolicy)
	if err != nil {
		return gaze.ShortEpisodeDiscard
	}
	return p
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
