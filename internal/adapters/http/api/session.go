package api

import (
	"net/http"
	"strings"

	"github.com/okian/proctor/internal/report"
)

// SessionHandler handles session lifecycle requests.
type SessionHandler struct {
	deps Dependencies
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(deps Dependencies) *SessionHandler {
	return &SessionHandler{deps: deps}
}

type startResponse struct {
	SessionID string `json:"session_id"`
}

// HandleStart handles POST /session/start requests.
func (h *SessionHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	const op = "api.session_start"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	id, err := h.deps.Start(r.Context())
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{SessionID: id})
}

// HandleStop handles POST /session/stop requests and returns the final report.
func (h *SessionHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	const op = "api.session_stop"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	rep, err := h.deps.Stop(r.Context())
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// HandleStatus handles GET /session/status requests.
func (h *SessionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Status(r.Context()))
}

// HandleReport handles GET /session/report requests. The report is plain
// text unless format=json is requested.
func (h *SessionHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	const op = "api.session_report"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	rep, err := h.deps.Report(r.Context())
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	if strings.EqualFold(r.URL.Query().Get("format"), "json") {
		writeJSON(w, http.StatusOK, rep)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = report.RenderText(w, rep)
}
