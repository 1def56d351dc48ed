package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/okian/proctor/internal/adapters/http/api"
	service "github.com/okian/proctor/internal/app"
	"github.com/okian/proctor/internal/domain/audiolevel"
	"github.com/okian/proctor/internal/domain/geometry"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/report"
	"github.com/okian/proctor/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type mockDependencies struct {
	mu       sync.Mutex
	running  bool
	id       string
	events   []model.SessionEvent
	rep      report.Report
	frames   chan model.FrameResult
	startErr error
}

func (m *mockDependencies) Start(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return "", m.startErr
	}
	if m.running {
		return "", service.ErrAlreadyRunning
	}
	m.running = true
	return m.id, nil
}

func (m *mockDependencies) Stop(context.Context) (report.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return report.Report{}, service.ErrNotRunning
	}
	m.running = false
	return m.rep, nil
}

func (m *mockDependencies) Status(context.Context) service.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return service.Status{Running: m.running, SessionID: m.id, Events: len(m.events)}
}

func (m *mockDependencies) Events(context.Context) ([]model.SessionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.id == "" {
		return nil, service.ErrNoSession
	}
	return m.events, nil
}

func (m *mockDependencies) Report(context.Context) (report.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.id == "" {
		return report.Report{}, service.ErrNoSession
	}
	return m.rep, nil
}

func (m *mockDependencies) Frames(context.Context) <-chan model.FrameResult {
	if m.frames == nil {
		return nil
	}
	return m.frames
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

type frameSink struct {
	mu     sync.Mutex
	frames []*geometry.LandmarkFrame
}

func (s *frameSink) Push(f *geometry.LandmarkFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
}

type audioSink struct {
	blocks []audiolevel.Block
}

func (s *audioSink) Push(b audiolevel.Block) { s.blocks = append(s.blocks, b) }

func sampleDeps() *mockDependencies {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	away := model.NewEvent(model.KindLookingAway, start.Add(10*time.Second), "")
	_ = away.Close(start.Add(16 * time.Second))
	site := model.NewInstant(model.KindWebsiteActivity, start.Add(20*time.Second), "Tabs: Docs")
	events := []model.SessionEvent{away, site}
	return &mockDependencies{
		id:     "sess-1",
		events: events,
		rep:    report.New("sess-1", start, start.Add(time.Minute), events, nil),
	}
}

func serve(mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestServer_Register(t *testing.T) {
	Convey("Given a new API server", t, func() {
		deps := sampleDeps()
		stats := &mockStatsProvider{stats: map[string]interface{}{"started": false}}
		server := api.NewServer(deps, stats)
		mux := http.NewServeMux()
		server.Register(context.Background(), mux)

		Convey("Health endpoint serves prometheus exposition", func() {
			w := serve(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("Stats endpoint returns the provider map", func() {
			w := serve(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var got map[string]interface{}
			So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
			So(got["started"], ShouldEqual, false)
		})

		Convey("Unknown routes return 404", func() {
			w := serve(mux, http.MethodGet, "/leaderboard", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Wrong methods return 404", func() {
			So(serve(mux, http.MethodGet, "/session/start", "").Code, ShouldEqual, http.StatusNotFound)
			So(serve(mux, http.MethodPost, "/session/status", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestSessionHandler(t *testing.T) {
	Convey("Given a server over an idle session service", t, func() {
		deps := sampleDeps()
		mux := http.NewServeMux()
		api.NewServer(deps, &mockStatsProvider{}).Register(context.Background(), mux)

		Convey("Start returns 201 with the session id", func() {
			w := serve(mux, http.MethodPost, "/session/start", "")
			So(w.Code, ShouldEqual, http.StatusCreated)
			So(w.Body.String(), ShouldContainSubstring, `"session_id":"sess-1"`)

			Convey("A second start conflicts", func() {
				w := serve(mux, http.MethodPost, "/session/start", "")
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(w.Body.String(), ShouldContainSubstring, "already running")
			})

			Convey("Status reports the running session", func() {
				w := serve(mux, http.MethodGet, "/session/status", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var st service.Status
				So(json.Unmarshal(w.Body.Bytes(), &st), ShouldBeNil)
				So(st.Running, ShouldBeTrue)
				So(st.SessionID, ShouldEqual, "sess-1")
			})

			Convey("Stop returns the report as JSON", func() {
				w := serve(mux, http.MethodPost, "/session/stop", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var rep report.Report
				So(json.Unmarshal(w.Body.Bytes(), &rep), ShouldBeNil)
				So(rep.SessionID, ShouldEqual, "sess-1")
				So(len(rep.Events), ShouldEqual, 2)
			})
		})

		Convey("Stop without a session conflicts", func() {
			w := serve(mux, http.MethodPost, "/session/stop", "")
			So(w.Code, ShouldEqual, http.StatusConflict)
			So(w.Body.String(), ShouldContainSubstring, "no session running")
		})

		Convey("Start failures map to 500", func() {
			deps.startErr = errors.New("camera busy")
			w := serve(mux, http.MethodPost, "/session/start", "")
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(w.Body.String(), ShouldContainSubstring, "camera busy")
		})

		Convey("Report renders text by default", func() {
			w := serve(mux, http.MethodGet, "/session/report", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldStartWith, "text/plain")
			So(w.Body.String(), ShouldContainSubstring, "Session sess-1")
			So(w.Body.String(), ShouldContainSubstring, "Tabs: Docs")
		})

		Convey("Report renders JSON on request", func() {
			w := serve(mux, http.MethodGet, "/session/report?format=json", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldStartWith, "application/json")
			So(w.Body.String(), ShouldContainSubstring, `"session_id":"sess-1"`)
		})

		Convey("Report without any session returns 404", func() {
			deps.id = ""
			w := serve(mux, http.MethodGet, "/session/report", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestEventsHandler(t *testing.T) {
	Convey("Given a server with recorded events", t, func() {
		deps := sampleDeps()
		mux := http.NewServeMux()
		api.NewServer(deps, &mockStatsProvider{}).Register(context.Background(), mux)

		Convey("All events are listed", func() {
			w := serve(mux, http.MethodGet, "/session/events", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"count":2`)
		})

		Convey("Events filter by kind", func() {
			w := serve(mux, http.MethodGet, "/session/events?kind=WebsiteActivity", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"count":1`)
			So(w.Body.String(), ShouldNotContainSubstring, "LookingAway")
		})

		Convey("Unknown kinds are rejected", func() {
			w := serve(mux, http.MethodGet, "/session/events?kind=Sneezing", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("No session returns 404", func() {
			deps.id = ""
			w := serve(mux, http.MethodGet, "/session/events", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestFeedHandler(t *testing.T) {
	Convey("Given a server without feed sinks", t, func() {
		mux := http.NewServeMux()
		api.NewServer(sampleDeps(), &mockStatsProvider{}).Register(context.Background(), mux)

		Convey("Feed routes report the input as disabled", func() {
			w := serve(mux, http.MethodPost, "/feed/frames", `{}`)
			So(w.Code, ShouldEqual, http.StatusConflict)
			So(w.Body.String(), ShouldContainSubstring, "feed_disabled")
			w = serve(mux, http.MethodPost, "/feed/audio", `{}`)
			So(w.Code, ShouldEqual, http.StatusConflict)
		})
	})

	Convey("Given a server with feed sinks", t, func() {
		frames := &frameSink{}
		audio := &audioSink{}
		mux := http.NewServeMux()
		api.NewServer(sampleDeps(), &mockStatsProvider{},
			api.WithFrameSink(frames),
			api.WithAudioSink(audio),
			api.WithSampleRate(16000),
		).Register(context.Background(), mux)

		Convey("A frame without points is accepted as no-face", func() {
			w := serve(mux, http.MethodPost, "/feed/frames", `{"width":640,"height":480}`)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(len(frames.frames), ShouldEqual, 1)
			dir, err := geometry.Classify(frames.frames[0])
			So(err, ShouldBeNil)
			So(dir, ShouldEqual, model.DirectionNoFace)
		})

		Convey("Malformed frame JSON is rejected", func() {
			w := serve(mux, http.MethodPost, "/feed/frames", `{"width":`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(len(frames.frames), ShouldEqual, 0)
		})

		Convey("Audio without a sample rate uses the configured one", func() {
			w := serve(mux, http.MethodPost, "/feed/audio", `{"samples":[0.1,-0.1,0.2]}`)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(len(audio.blocks), ShouldEqual, 1)
			So(audio.blocks[0].SampleRate, ShouldEqual, 16000)
			So(len(audio.blocks[0].Samples), ShouldEqual, 3)
		})

		Convey("Malformed audio JSON is rejected", func() {
			w := serve(mux, http.MethodPost, "/feed/audio", `[1,2`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestLiveHandler(t *testing.T) {
	Convey("Given an idle session", t, func() {
		mux := http.NewServeMux()
		api.NewServer(sampleDeps(), &mockStatsProvider{}).Register(context.Background(), mux)

		Convey("Live view conflicts", func() {
			w := serve(mux, http.MethodGet, "/session/live", "")
			So(w.Code, ShouldEqual, http.StatusConflict)
		})
	})

	Convey("Given a running session streaming frames", t, func() {
		deps := sampleDeps()
		deps.frames = make(chan model.FrameResult, 4)
		mux := http.NewServeMux()
		api.NewServer(deps, &mockStatsProvider{}).Register(context.Background(), mux)
		srv := httptest.NewServer(mux)
		defer srv.Close()

		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/session/live"
		conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
		So(err, ShouldBeNil)
		So(resp.StatusCode, ShouldEqual, http.StatusSwitchingProtocols)
		defer func() { _ = conn.Close() }()

		at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		deps.frames <- model.FrameResult{At: at, FaceDetected: true, Direction: model.DirectionLeft, Warning: true}

		Convey("Frames are pushed as JSON", func() {
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var got model.FrameResult
			So(conn.ReadJSON(&got), ShouldBeNil)
			So(got.Direction, ShouldEqual, model.DirectionLeft)
			So(got.Warning, ShouldBeTrue)
			So(got.At.Equal(at), ShouldBeTrue)

			Convey("Closing the buffer ends the stream", func() {
				close(deps.frames)
				_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
				_, _, err := conn.ReadMessage()
				So(websocket.IsCloseError(err, websocket.CloseNormalClosure), ShouldBeTrue)
			})
		})
	})
}
