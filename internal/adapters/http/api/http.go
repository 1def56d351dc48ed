// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	service "github.com/okian/proctor/internal/app"
	"github.com/okian/proctor/internal/domain/audiolevel"
	"github.com/okian/proctor/internal/domain/geometry"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/report"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the session service.
type Dependencies interface {
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context) (report.Report, error)
	Status(ctx context.Context) service.Status
	Events(ctx context.Context) ([]model.SessionEvent, error)
	Report(ctx context.Context) (report.Report, error)

	// Frames exposes the live frame buffer; nil when idle.
	Frames(ctx context.Context) <-chan model.FrameResult
}

// FrameSink accepts landmark frames posted by the vision sidecar.
type FrameSink interface {
	Push(frame *geometry.LandmarkFrame)
}

// AudioSink accepts audio blocks posted by the capture sidecar.
type AudioSink interface {
	Push(block audiolevel.Block)
}

// Option configures the Server.
type Option func(*Server)

// WithFrameSink enables POST /feed/frames.
func WithFrameSink(s FrameSink) Option {
	return func(srv *Server) {
		srv.feedHandler.frames = s
	}
}

// WithAudioSink enables POST /feed/audio.
func WithAudioSink(s AudioSink) Option {
	return func(srv *Server) {
		srv.feedHandler.audio = s
	}
}

// WithSampleRate sets the sample rate assumed for audio payloads without one.
func WithSampleRate(rate int) Option {
	return func(srv *Server) {
		if rate > 0 {
			srv.feedHandler.sampleRate = rate
		}
	}
}

// Server wires HTTP routes for the monitoring API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	sessionHandler *SessionHandler
	eventsHandler  *EventsHandler
	feedHandler    *FeedHandler
	liveHandler    *LiveHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		sessionHandler: NewSessionHandler(deps),
		eventsHandler:  NewEventsHandler(deps),
		feedHandler:    NewFeedHandler(nil, nil),
		liveHandler:    NewLiveHandler(deps),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/session/start", MetricsMiddleware(s.sessionHandler.HandleStart, "session_start"))
	mux.HandleFunc("/session/stop", MetricsMiddleware(s.sessionHandler.HandleStop, "session_stop"))
	mux.HandleFunc("/session/status", MetricsMiddleware(s.sessionHandler.HandleStatus, "session_status"))
	mux.HandleFunc("/session/report", MetricsMiddleware(s.sessionHandler.HandleReport, "session_report"))
	mux.HandleFunc("/session/events", MetricsMiddleware(s.eventsHandler.HandleGetEvents, "session_events"))
	mux.HandleFunc("/session/live", MetricsMiddleware(s.liveHandler.HandleLive, "session_live"))
	mux.HandleFunc("/feed/frames", MetricsMiddleware(s.feedHandler.HandleFrames, "feed_frames"))
	mux.HandleFunc("/feed/audio", MetricsMiddleware(s.feedHandler.HandleAudio, "feed_audio"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps session lifecycle errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrAlreadyRunning), errors.Is(err, service.ErrNotRunning):
		writeError(w, http.StatusConflict, "conflict", WrapKind(op, ErrConflict, err))
	case errors.Is(err, service.ErrNoSession):
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
