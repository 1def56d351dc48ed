package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/okian/proctor/pkg/logger"
)

const liveWriteTimeout = 5 * time.Second

// LiveHandler pushes frame results of the running session over a websocket.
// The frame buffer has a single reader, so concurrent viewers share frames.
type LiveHandler struct {
	deps     Dependencies
	upgrader websocket.Upgrader
}

// NewLiveHandler creates a live status handler.
func NewLiveHandler(deps Dependencies) *LiveHandler {
	return &LiveHandler{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// HandleLive handles GET /session/live requests.
func (h *LiveHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	const op = "api.session_live"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	frames := h.deps.Frames(r.Context())
	if frames == nil {
		writeError(w, http.StatusConflict, "conflict", NewKind(op, ErrConflict))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// Reading detects the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log := logger.Named("live")
	for {
		select {
		case <-ctx.Done():
			return
		case fr, ok := <-frames:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
					time.Now().Add(liveWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteJSON(fr); err != nil {
				log.Debug(ctx, "live client write failed", logger.Error(err))
				return
			}
		}
	}
}
