package api

import (
	"net/http"

	"github.com/okian/proctor/internal/domain/model"
)

// EventsHandler handles event log requests.
type EventsHandler struct {
	deps Dependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps Dependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

type eventsResponse struct {
	Count  int                  `json:"count"`
	Events []model.SessionEvent `json:"events"`
}

// HandleGetEvents handles GET /session/events?kind=K requests.
func (h *EventsHandler) HandleGetEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.session_events"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	var kind model.Kind
	if k := r.URL.Query().Get("kind"); k != "" {
		kind = model.Kind(k)
		if !validKind(kind) {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
	}

	events, err := h.deps.Events(r.Context())
	if err != nil {
		writeServiceError(w, op, err)
		return
	}

	out := make([]model.SessionEvent, 0, len(events))
	for _, ev := range events {
		if kind == "" || ev.Kind == kind {
			out = append(out, ev)
		}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Count: len(out), Events: out})
}

func validKind(k model.Kind) bool {
	for _, known := range model.Kinds() {
		if k == known {
			return true
		}
	}
	return false
}
