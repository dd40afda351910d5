package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisResult is the model's verdict for one profession. Built once per run, never mutated.
type AnalysisResult struct {
	Replaceable bool   `json:"replaceable"`
	Explanation string `json:"explanation"`
	ImagePrompt string `json:"imagePrompt"`
}

// ImageStatus is the outcome of the illustration stage.
type ImageStatus string

const (
	ImagePending     ImageStatus = "pending"
	ImageUnavailable ImageStatus = "unavailable"
	ImageReady       ImageStatus = "ready"
)

// Illustration is the image derived from AnalysisResult.ImagePrompt.
// DataURI is set only when Status is ImageReady.
type Illustration struct {
	Status  ImageStatus `json:"status"`
	DataURI string      `json:"data_uri,omitempty"`
}

// Phase is the orchestrator state shown to the page.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseSuccess Phase = "success"
	PhaseFailed  Phase = "failed"
)

// Snapshot is a copy of a session's UI state at one point in time.
type Snapshot struct {
	SessionID    uuid.UUID       `json:"session_id"`
	Seq          uint64          `json:"seq"`
	Profession   string          `json:"profession"`
	Phase        Phase           `json:"phase"`
	Loading      bool            `json:"loading"`
	Error        string          `json:"error,omitempty"`
	Result       *AnalysisResult `json:"result,omitempty"`
	Illustration *Illustration   `json:"illustration,omitempty"`
}

// Run outcomes reported in RunEvent.Outcome.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// RunEvent describes one finished pipeline run.
type RunEvent struct {
	SessionID   uuid.UUID   `json:"session_id"`
	Seq         uint64      `json:"seq"`
	Profession  string      `json:"profession"`
	Outcome     string      `json:"outcome"`
	Replaceable *bool       `json:"replaceable,omitempty"`
	ImageStatus ImageStatus `json:"image_status,omitempty"`
	ErrorKind   string      `json:"error_kind,omitempty"`
	Stale       bool        `json:"stale"`
	DurationMs  int64       `json:"duration_ms"`
	OccurredAt  time.Time   `json:"occurred_at"`
}

// AnalyzeRequest is the body of POST /api/sessions/{id}/analyze.
type AnalyzeRequest struct {
	Profession string `json:"profession"`
}

// CreateSessionResponse is returned by POST /api/sessions.
type CreateSessionResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	State     Snapshot  `json:"state"`
}
