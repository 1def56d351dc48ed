package repository_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/proctor/internal/adapters/repository"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

var start = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func closedEvent(kind model.Kind, sec int) model.SessionEvent {
	ev := model.NewEvent(kind, start.Add(time.Duration(sec)*time.Second), "")
	_ = ev.Close(start.Add(time.Duration(sec+2) * time.Second))
	return ev
}

// flakyWriter fails the first failures writes, then behaves like a buffer.
type flakyWriter struct {
	mu       sync.Mutex
	failures int
	calls    int
	buf      bytes.Buffer
}

func (w *flakyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failures < 0 || w.calls <= w.failures {
		return 0, errors.New("disk unavailable")
	}
	return w.buf.Write(p)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	Convey("Given an empty memory store", t, func() {
		s := repository.NewMemoryStore()

		Convey("When closed events are appended", func() {
			a := closedEvent(model.KindLookingAway, 0)
			b := closedEvent(model.KindSpeaking, 5)
			c := model.NewInstant(model.KindWebsiteActivity, start, "Safari is not open.")
			So(s.Append(ctx, a), ShouldBeNil)
			So(s.Append(ctx, b), ShouldBeNil)
			So(s.Append(ctx, c), ShouldBeNil)

			Convey("Then they are kept in append order", func() {
				events := s.Events(ctx)
				So(events, ShouldHaveLength, 3)
				So(events[0].ID, ShouldEqual, a.ID)
				So(events[2].ID, ShouldEqual, c.ID)
				So(s.Count(ctx), ShouldEqual, 3)
				So(s.CountByKind(ctx)[model.KindSpeaking], ShouldEqual, 1)
			})

			Convey("Then the returned slice is a copy", func() {
				events := s.Events(ctx)
				events[0].Details = "mutated"
				So(s.Events(ctx)[0].Details, ShouldEqual, "")
			})

			Convey("Then appending the same event again is rejected", func() {
				err := s.Append(ctx, a)
				So(errors.Is(err, repository.ErrDuplicate), ShouldBeTrue)
				So(s.Count(ctx), ShouldEqual, 3)
			})
		})

		Convey("When an open event is appended", func() {
			err := s.Append(ctx, model.NewEvent(model.KindSpeaking, start, ""))

			Convey("Then it is rejected", func() {
				So(errors.Is(err, repository.ErrEventOpen), ShouldBeTrue)
				So(s.Count(ctx), ShouldEqual, 0)
			})
		})

		Convey("When the store is closed", func() {
			So(s.Close(), ShouldBeNil)

			Convey("Then appends fail but reads work", func() {
				So(s.Append(ctx, closedEvent(model.KindSpeaking, 0)), ShouldEqual, repository.ErrClosed)
				So(s.Events(ctx), ShouldBeEmpty)
			})
		})

		Convey("When many goroutines append concurrently", func() {
			var wg sync.WaitGroup
			for g := 0; g < 8; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 50; i++ {
						_ = s.Append(ctx, closedEvent(model.KindSpeaking, i))
					}
				}()
			}
			wg.Wait()

			Convey("Then every append lands exactly once", func() {
				So(s.Count(ctx), ShouldEqual, 400)
			})
		})
	})
}

func TestJournalStore(t *testing.T) {
	ctx := context.Background()

	Convey("Given a journal over a healthy writer", t, func() {
		w := &flakyWriter{}
		s := repository.NewJournalStore(repository.NewMemoryStore(), w, repository.WithRetryDelay(0))

		Convey("When events are appended", func() {
			ev := closedEvent(model.KindLookingAway, 0)
			alert := model.NewInstant(model.KindAppAlert, start, "[WARNING] Photos is actively open!")
			So(s.Append(ctx, ev), ShouldBeNil)
			So(s.Append(ctx, alert), ShouldBeNil)

			Convey("Then each event is one journal line", func() {
				lines := strings.Split(strings.TrimSpace(w.buf.String()), "\n")
				So(lines, ShouldHaveLength, 2)
				So(lines[0], ShouldEqual, "LookingAway | 2026-03-14 10:00:00 | 2026-03-14 10:00:02")
				So(lines[1], ShouldEqual, "AppAlert | 2026-03-14 10:00:00 | [WARNING] Photos is actively open!")
				So(s.Count(ctx), ShouldEqual, 2)
			})

			Convey("Then duplicates are not journaled twice", func() {
				So(errors.Is(s.Append(ctx, ev), repository.ErrDuplicate), ShouldBeTrue)
				So(strings.Count(w.buf.String(), "\n"), ShouldEqual, 2)
			})
		})
	})

	Convey("Given a journal whose first two writes fail", t, func() {
		w := &flakyWriter{failures: 2}
		s := repository.NewJournalStore(repository.NewMemoryStore(), w,
			repository.WithRetries(3), repository.WithRetryDelay(time.Millisecond))

		Convey("Then the third attempt succeeds", func() {
			So(s.Append(ctx, closedEvent(model.KindSpeaking, 0)), ShouldBeNil)
			So(w.calls, ShouldEqual, 3)
			So(s.Failed(), ShouldBeNil)
		})
	})

	Convey("Given a journal that never recovers", t, func() {
		w := &flakyWriter{failures: -1}
		s := repository.NewJournalStore(repository.NewMemoryStore(), w,
			repository.WithRetries(2), repository.WithRetryDelay(0))

		Convey("When an event is appended", func() {
			err := s.Append(ctx, closedEvent(model.KindSpeaking, 0))

			Convey("Then the sink is reported unrecoverable after the attempts", func() {
				So(errors.Is(err, repository.ErrSinkUnrecoverable), ShouldBeTrue)
				So(w.calls, ShouldEqual, 2)
				So(s.Failed(), ShouldNotBeNil)
			})

			Convey("Then the event is still in the in-memory log", func() {
				So(s.Count(ctx), ShouldEqual, 1)
			})

			Convey("Then later appends fail fast but are kept in memory", func() {
				err := s.Append(ctx, closedEvent(model.KindLookingAway, 10))
				So(errors.Is(err, repository.ErrSinkUnrecoverable), ShouldBeTrue)
				So(w.calls, ShouldEqual, 2)
				So(s.Count(ctx), ShouldEqual, 2)
			})
		})
	})

	Convey("Given a journal fed by concurrent loops", t, func() {
		w := &flakyWriter{}
		s := repository.NewJournalStore(repository.NewMemoryStore(), w)

		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					ev := model.NewInstant(model.KindWebsiteActivity, start, fmt.Sprintf("loop %d poll %d", g, i))
					_ = s.Append(ctx, ev)
				}
			}(g)
		}
		wg.Wait()

		Convey("Then the journal lists events in log order", func() {
			lines := strings.Split(strings.TrimSpace(w.buf.String()), "\n")
			events := s.Events(ctx)
			So(lines, ShouldHaveLength, len(events))
			for i, ev := range events {
				So(lines[i], ShouldEqual, ev.Line())
			}
		})
	})

	Convey("Given a journal file on disk", t, func() {
		path := filepath.Join(t.TempDir(), "session", "events.log")
		s, err := repository.OpenJournal(repository.NewMemoryStore(), path)
		So(err, ShouldBeNil)

		for i := 0; i < 3; i++ {
			So(s.Append(ctx, closedEvent(model.KindSpeaking, i*10)), ShouldBeNil)
		}
		So(s.Close(), ShouldBeNil)

		Convey("Then the file holds one line per event", func() {
			data, err := os.ReadFile(path)
			So(err, ShouldBeNil)
			So(strings.Count(string(data), "\n"), ShouldEqual, 3)
			So(string(data), ShouldStartWith, fmt.Sprintf("Speaking | %s", start.Format(model.TimeLayout)))
		})
	})
}
