package config_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/proctor/internal/config"
	"github.com/okian/proctor/internal/domain/activity"
	"github.com/okian/proctor/internal/domain/gaze"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Source, convey.ShouldEqual, config.SourceFeed)
			convey.So(cfg.LookAway(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.FrameInterval(), convey.ShouldEqual, 33*time.Millisecond)
			convey.So(cfg.AudioInterval(), convey.ShouldEqual, 300*time.Millisecond)
			convey.So(cfg.WebsiteInterval(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.AppInterval(), convey.ShouldEqual, 7*time.Second)
			convey.So(cfg.Policy(), convey.ShouldEqual, gaze.ShortEpisodeDiscard)
			convey.So(cfg.Browser, convey.ShouldEqual, "Safari")
			convey.So(cfg.MonitoredApps, convey.ShouldResemble, activity.DefaultApps())
			convey.So(cfg.JournalRetries, convey.ShouldEqual, 3)
		})

		convey.Convey("Then it should validate", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("When the noise threshold does not exceed the speech threshold", func() {
			cfg.BackgroundNoiseThreshold = cfg.SpeakingAudioThreshold
			err := cfg.Validate()

			convey.Convey("Then validation fails with ErrInvalidConfig", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "background_noise_threshold")
			})
		})

		convey.Convey("When intervals are not positive", func() {
			cfg.FrameIntervalMS = 0
			cfg.WebsitePollSeconds = -1
			err := cfg.Validate()

			convey.Convey("Then every problem is reported", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "frame_interval_ms")
				convey.So(err.Error(), convey.ShouldContainSubstring, "website_poll_seconds")
			})
		})

		convey.Convey("When the short look-away policy is unknown", func() {
			cfg.ShortLookAwayPolicy = "ignore"

			convey.Convey("Then validation fails", func() {
				convey.So(cfg.Validate(), convey.ShouldNotBeNil)
				convey.So(cfg.Policy(), convey.ShouldEqual, gaze.ShortEpisodeDiscard)
			})
		})

		convey.Convey("When the source is unknown", func() {
			cfg.Source = "camera"

			convey.Convey("Then validation fails", func() {
				convey.So(cfg.Validate(), convey.ShouldNotBeNil)
			})
		})
	})
}
