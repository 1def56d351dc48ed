package osquery_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/okian/proctor/internal/adapters/osquery"
	. "github.com/smartystreets/goconvey/convey"
)

// scripted answers osascript calls by matching a fragment of the script.
type scripted struct {
	answers map[string]string
	err     error
	scripts []string
}

func (s *scripted) run(_ context.Context, name string, args ...string) ([]byte, error) {
	if name != "osascript" || len(args) != 2 || args[0] != "-e" {
		return nil, errors.New("unexpected command")
	}
	s.scripts = append(s.scripts, args[1])
	if s.err != nil {
		return nil, s.err
	}
	for frag, out := range s.answers {
		if strings.Contains(args[1], frag) {
			return []byte(out + "\n"), nil
		}
	}
	return nil, errors.New("no answer")
}

func TestAppleScript(t *testing.T) {
	ctx := context.Background()

	Convey("Given an osascript runner", t, func() {
		s := &scripted{answers: map[string]string{}}
		q := osquery.New(osquery.WithRunner(s.run))

		Convey("When the app window is visible", func() {
			s.answers[`process "Photos"`] = "open"
			st, err := q.AppWindow(ctx, "Photos")

			So(err, ShouldBeNil)
			So(st.Running, ShouldBeTrue)
			So(st.Visible, ShouldBeTrue)
		})

		Convey("When the app runs in the background", func() {
			s.answers[`process "WhatsApp"`] = "background"
			st, err := q.AppWindow(ctx, "WhatsApp")

			So(err, ShouldBeNil)
			So(st.Running, ShouldBeTrue)
			So(st.Visible, ShouldBeFalse)
		})

		Convey("When Safari is open with tabs", func() {
			s.answers[`tell application "System Events"`] = "open"
			s.answers[`name of tabs`] = "Exam Portal, Wikipedia, Chat"
			snap, err := q.Browser(ctx, "Safari")

			Convey("Then the tab titles are listed", func() {
				So(err, ShouldBeNil)
				So(snap.Running, ShouldBeTrue)
				So(snap.Tabs, ShouldResemble, []string{"Exam Portal", "Wikipedia", "Chat"})
				So(s.scripts, ShouldHaveLength, 2)
			})
		})

		Convey("When Chrome is queried", func() {
			s.answers[`tell application "System Events"`] = "background"
			s.answers[`title of tabs`] = ""
			snap, err := q.Browser(ctx, "Google Chrome")

			So(err, ShouldBeNil)
			So(snap.Running, ShouldBeTrue)
			So(snap.Tabs, ShouldBeEmpty)
		})

		Convey("When the browser is not running", func() {
			s.answers[`tell application "System Events"`] = "not running"
			snap, err := q.Browser(ctx, "Safari")

			So(err, ShouldBeNil)
			So(snap.Running, ShouldBeFalse)
			So(s.scripts, ShouldHaveLength, 1)
		})

		Convey("When osascript fails", func() {
			s.err = errors.New("exit status 1")
			_, err := q.AppWindow(ctx, "Safari")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "osascript")
		})

		Convey("When the output is unexpected", func() {
			s.answers[`process "Photos"`] = "maybe"
			_, err := q.AppWindow(ctx, "Photos")
			So(err, ShouldNotBeNil)
		})

		Convey("When the name would break the script", func() {
			_, err := q.AppWindow(ctx, `Evil" end tell`)
			So(errors.Is(err, osquery.ErrBadName), ShouldBeTrue)
			So(s.scripts, ShouldBeEmpty)
		})
	})
}

func TestParseList(t *testing.T) {
	Convey("AppleScript lists are split on comma-space", t, func() {
		So(osquery.ParseList(""), ShouldBeNil)
		So(osquery.ParseList("  One  "), ShouldResemble, []string{"One"})
		So(osquery.ParseList("a, b, , c"), ShouldResemble, []string{"a", "b", "c"})
	})
}
