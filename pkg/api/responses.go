package api

import (
	"encoding/json"
	"time"

	"github.com/resumeforge/resumeforge/pkg/models"
)

// SessionResponse wraps a single session.
type SessionResponse struct {
	Session *models.Session `json:"session"`
}

// SessionListResponse is the list-endpoint projection.
type SessionListResponse struct {
	Sessions []models.SessionSummary `json:"sessions"`
}

// StartPipelineResponse acknowledges an admitted pipeline.
type StartPipelineResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// RespondResponse reports how a gate response was routed: "ok" woke a
// waiting gate, "buffered" stored it for the next gate of that name.
type RespondResponse struct {
	Status string `json:"status"`
	Gate   string `json:"gate"`
}

// ResumeResponse carries the latest rendered resume.
type ResumeResponse struct {
	SessionID string          `json:"session_id"`
	Version   int             `json:"version"`
	Resume    json.RawMessage `json:"resume"`
	CreatedAt time.Time       `json:"created_at"`
}

// ReadyResponse is the readiness probe body.
type ReadyResponse struct {
	Ready    bool `json:"ready"`
	DBOk     bool `json:"db_ok"`
	LLMKeyOk bool `json:"llm_key_ok"`
}

// WorkflowNode is one stage in the workflow summary. Status is one of
// "completed", "in_progress", "pending".
type WorkflowNode struct {
	Key    string `json:"key"`
	Status string `json:"status"`
}

// WorkflowArtifact is the latest version of one stage output.
type WorkflowArtifact struct {
	NodeKey      string          `json:"node_key"`
	ArtifactType string          `json:"artifact_type"`
	Version      int             `json:"version"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
}

// DraftReadiness summarises section-draft progress.
type DraftReadiness struct {
	Drafted  int  `json:"drafted"`
	Approved int  `json:"approved"`
	Ready    bool `json:"ready"`
}

// WorkflowResponse is the polled workflow summary.
type WorkflowResponse struct {
	SessionID      string                `json:"session_id"`
	PipelineStatus models.PipelineStatus `json:"pipeline_status"`
	Stage          models.Stage          `json:"stage"`
	ReplanState    models.ReplanState    `json:"replan_state,omitempty"`
	Nodes          []WorkflowNode        `json:"nodes"`
	Artifacts      []WorkflowArtifact    `json:"artifacts"`
	DraftReadiness DraftReadiness        `json:"draft_readiness"`
}
