// Package device serves the speaker's local HTTP control surface.
package device

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/speaker-service/internal/core"
	"github.com/book-expert/speaker-service/internal/playback"
)

const maxRequestBytes = 4096

type playRequest struct {
	URL string `json:"url"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler exposes a playback controller over HTTP.
type Handler struct {
	player playback.Player
	log    *logger.Logger
}

// New creates a Handler for player.
func New(player playback.Player, log *logger.Logger) *Handler {
	return &Handler{player: player, log: log}
}

// Register adds the control routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/play", h.Play)
	mux.HandleFunc("POST /api/stop", h.Stop)
	mux.HandleFunc("GET /api/status", h.Status)
}

// Play handles POST /api/play {"url": "..."}.
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	var req playRequest

	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})

		return
	}

	url := strings.TrimSpace(req.URL)
	if url == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "url is required"})

		return
	}

	err = h.player.Play(r.Context(), url)

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, statusResponse{Status: "playing"})
	case errors.Is(err, playback.ErrSuperseded):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		h.log.Error("Play %s failed: %v", url, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

// Stop handles POST /api/stop. It always succeeds.
func (h *Handler) Stop(w http.ResponseWriter, _ *http.Request) {
	_ = h.player.Stop()

	writeJSON(w, http.StatusOK, statusResponse{Status: "stopped"})
}

// Status handles GET /api/status.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.player.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
