package api

import (
	"encoding/json"
	"net/http"

	"github.com/okian/proctor/internal/adapters/feed"
	"github.com/okian/proctor/internal/domain/audiolevel"
)

const (
	maxFrameBody = 1 << 20
	maxAudioBody = 8 << 20
)

// FeedHandler accepts sensor input from external capture sidecars.
type FeedHandler struct {
	frames     FrameSink
	audio      AudioSink
	sampleRate int
}

// NewFeedHandler creates a feed handler. A nil sink disables its route.
func NewFeedHandler(frames FrameSink, audio AudioSink) *FeedHandler {
	return &FeedHandler{frames: frames, audio: audio, sampleRate: audiolevel.SampleRate}
}

type feedAck struct {
	Status string `json:"status"`
}

// HandleFrames handles POST /feed/frames requests. A payload without
// points records a no-face frame.
func (h *FeedHandler) HandleFrames(w http.ResponseWriter, r *http.Request) {
	const op = "api.feed_frames"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if h.frames == nil {
		writeError(w, http.StatusConflict, "feed_disabled", NewKind(op, ErrFeedDisabled))
		return
	}

	var p feed.FramePayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFrameBody)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	frame, err := p.Frame()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	h.frames.Push(frame)
	writeJSON(w, http.StatusAccepted, feedAck{Status: "accepted"})
}

// HandleAudio handles POST /feed/audio requests.
func (h *FeedHandler) HandleAudio(w http.ResponseWriter, r *http.Request) {
	const op = "api.feed_audio"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if h.audio == nil {
		writeError(w, http.StatusConflict, "feed_disabled", NewKind(op, ErrFeedDisabled))
		return
	}

	var p feed.AudioPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAudioBody)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if p.SampleRate <= 0 {
		p.SampleRate = h.sampleRate
	}
	block, err := p.Block()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	h.audio.Push(block)
	writeJSON(w, http.StatusAccepted, feedAck{Status: "accepted"})
}
