package speaking_test

import (
	"testing"
	"time"

	"github.com/okian/proctor/internal/domain/fusion"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/speaking"
	. "github.com/smartystreets/goconvey/convey"
)

var base = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func frame(i int, gap float64) speaking.Frame {
	return speaking.Frame{At: base.Add(time.Duration(i) * 33 * time.Millisecond), FaceDetected: true, LipGap: gap}
}

func TestClassify(t *testing.T) {
	Convey("Given the priority rules", t, func() {
		quiet := fusion.Snapshot{}
		speech := fusion.Snapshot{Speech: true}
		loud := fusion.Snapshot{Speech: true, Noise: true}

		So(speaking.Classify(true, speech), ShouldEqual, model.StatusSpeaking)
		So(speaking.Classify(true, loud), ShouldEqual, model.StatusSpeaking)
		So(speaking.Classify(false, loud), ShouldEqual, model.StatusBackgroundNoise)
		So(speaking.Classify(false, speech), ShouldEqual, model.StatusNotSpeaking)
		So(speaking.Classify(true, quiet), ShouldEqual, model.StatusNotSpeaking)
		So(speaking.Classify(true, fusion.Snapshot{Noise: true}), ShouldEqual, model.StatusNotSpeaking)
	})
}

func TestTracker(t *testing.T) {
	speech := fusion.Snapshot{Speech: true}

	Convey("Given the lip gap sequence 10, 10, 14, 14 with speech audio", t, func() {
		tr := speaking.NewTracker()
		gaps := []float64{10, 10, 14, 14}
		var results []speaking.Result
		for i, g := range gaps {
			results = append(results, tr.Observe(frame(i, g), speech))
		}

		Convey("Then each frame is classified from its own delta", func() {
			// The first frame is compared against the initial gap of zero.
			So(results[0].Status, ShouldEqual, model.StatusSpeaking)
			So(results[1].Status, ShouldEqual, model.StatusNotSpeaking)
			So(results[2].Status, ShouldEqual, model.StatusSpeaking)
			So(results[2].Delta, ShouldEqual, 4.0)
			So(results[3].Status, ShouldEqual, model.StatusNotSpeaking)
		})

		Convey("And frame 3 opens an event that frame 4 closes at its own time", func() {
			So(results[3].Closed, ShouldHaveLength, 1)
			ev := results[3].Closed[0]
			So(ev.Kind, ShouldEqual, model.KindSpeaking)
			So(ev.Start, ShouldEqual, frame(2, 0).At)
			So(*ev.End, ShouldEqual, frame(3, 0).At)
			_, open := tr.Open()
			So(open, ShouldBeFalse)
		})
	})

	Convey("Given a tracker", t, func() {
		var onsets []speaking.NoiseOnset
		tr := speaking.NewTracker(speaking.WithNoiseOnset(func(n speaking.NoiseOnset) { onsets = append(onsets, n) }))

		Convey("When a face disappears between frames", func() {
			tr.Observe(frame(0, 10), fusion.Snapshot{})
			res := tr.Observe(speaking.Frame{At: frame(1, 0).At}, speech)
			next := tr.Observe(frame(2, 11), speech)

			Convey("Then the no-face frame is not speaking and keeps the previous gap", func() {
				So(res.Status, ShouldEqual, model.StatusNotSpeaking)
				So(next.Delta, ShouldEqual, 1.0)
				So(next.LipMoving, ShouldBeFalse)
				So(tr.PreviousGap(), ShouldEqual, 11.0)
			})
		})

		Convey("When a no-face frame follows speaking", func() {
			tr.Observe(frame(0, 10), speech)
			res := tr.Observe(speaking.Frame{At: frame(1, 0).At}, speech)

			Convey("Then the event is closed", func() {
				So(res.Closed, ShouldHaveLength, 1)
			})
		})

		Convey("When lips move while audio is silent", func() {
			res := tr.Observe(frame(0, 20), fusion.Snapshot{})
			So(res.LipMoving, ShouldBeTrue)
			So(res.Status, ShouldEqual, model.StatusNotSpeaking)
		})

		Convey("When the delta equals the threshold", func() {
			tr.Observe(frame(0, 10), fusion.Snapshot{})
			res := tr.Observe(frame(1, 12.5), speech)
			So(res.LipMoving, ShouldBeFalse)
		})

		Convey("When background noise persists over several still frames", func() {
			loud := fusion.Snapshot{Speech: true, Noise: true}
			tr.Observe(frame(0, 10), fusion.Snapshot{})
			tr.Observe(frame(1, 10), loud)
			tr.Observe(frame(2, 10), loud)
			tr.Observe(frame(3, 10), fusion.Snapshot{})
			tr.Observe(frame(4, 10), loud)

			Convey("Then each run reports one onset", func() {
				So(onsets, ShouldHaveLength, 2)
				So(onsets[0].At, ShouldEqual, frame(1, 0).At)
				So(onsets[1].At, ShouldEqual, frame(4, 0).At)
			})
		})

		Convey("When the session ends while speaking", func() {
			tr.Observe(frame(0, 10), speech)
			end := frame(5, 0).At
			ev, ok := tr.ForceClose(end)

			Convey("Then the event is force-closed at termination time", func() {
				So(ok, ShouldBeTrue)
				So(ev.Truncated, ShouldBeTrue)
				So(*ev.End, ShouldEqual, end)
				_, again := tr.ForceClose(end)
				So(again, ShouldBeFalse)
			})
		})
	})

	Convey("Given a custom threshold", t, func() {
		tr := speaking.NewTracker(speaking.WithLipMovementThreshold(5))
		tr.Observe(frame(0, 10), fusion.Snapshot{})
		So(tr.Observe(frame(1, 14), speech).LipMoving, ShouldBeFalse)
		So(tr.Observe(frame(2, 20), speech).LipMoving, ShouldBeTrue)
	})
}
