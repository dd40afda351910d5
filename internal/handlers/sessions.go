package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rivo/uniseg"
	"github.com/snappy-loop/aivsjobs/internal/models"
	"github.com/snappy-loop/aivsjobs/internal/pipeline"
)

// maxAnalyzeBodyBytes caps POST /api/sessions/{id}/analyze, matching the WebSocket read limit.
const maxAnalyzeBodyBytes = sessionWSReadLimit

// CreateSession handles POST /api/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create()
	writeJSON(w, http.StatusCreated, models.CreateSessionResponse{
		SessionID: s.ID(),
		State:     s.Snapshot(),
	})
}

// GetSession handles GET /api/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, status, msg := h.lookupSession(r)
	if s == nil {
		writeJSONError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// Analyze handles POST /api/sessions/{id}/analyze.
// Blank input is silently ignored: 200 with the unchanged state.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	s, status, msg := h.lookupSession(r)
	if s == nil {
		writeJSONError(w, status, msg)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAnalyzeBodyBytes)
	var req models.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validateProfession(req.Profession); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.Submit(req.Profession) {
		writeJSON(w, http.StatusOK, s.Snapshot())
		return
	}
	writeJSON(w, http.StatusAccepted, s.Snapshot())
}

func (h *Handler) lookupSession(r *http.Request) (*pipeline.Session, int, string) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return nil, http.StatusBadRequest, "invalid session id"
	}
	s := h.sessions.Get(id)
	if s == nil {
		return nil, http.StatusNotFound, "session not found"
	}
	return s, 0, ""
}

// validateProfession rejects input longer than the configured limit, counted in visible characters.
func (h *Handler) validateProfession(text string) error {
	if h.maxProfessionLength <= 0 {
		return nil
	}
	if n := uniseg.GraphemeClusterCount(strings.TrimSpace(text)); n > h.maxProfessionLength {
		return fmt.Errorf("profession must be at most %d characters, got %d", h.maxProfessionLength, n)
	}
	return nil
}
