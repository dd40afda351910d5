package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/aivsjobs/internal/pipeline"
)

// sessionStore is the subset of pipeline.Registry used by Handler.
type sessionStore interface {
	Create() *pipeline.Session
	Get(id uuid.UUID) *pipeline.Session
}

// Handler contains all HTTP handlers
type Handler struct {
	sessions            sessionStore
	maxProfessionLength int
}

// NewHandler creates a new handler
func NewHandler(sessions sessionStore, maxProfessionLength int) *Handler {
	return &Handler{
		sessions:            sessions,
		maxProfessionLength: maxProfessionLength,
	}
}

// indexPageData is passed to the "index" template.
type indexPageData struct {
	MaxLength int
}

// Index handles GET /
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := executeTemplate(w, "index", indexPageData{MaxLength: h.maxProfessionLength}); err != nil {
		log.Error().Err(err).Msg("Failed to render index page")
	}
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
