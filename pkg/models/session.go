// Package models defines the shared domain types for ResumeForge:
// sessions, pipeline state, artifacts, evidence, and gate payloads.
package models

import (
	"encoding/json"
	"time"
)

// PipelineStatus is the durable run status of a session's pipeline.
type PipelineStatus string

const (
	PipelineStatusIdle     PipelineStatus = "idle"
	PipelineStatusRunning  PipelineStatus = "running"
	PipelineStatusError    PipelineStatus = "error"
	PipelineStatusComplete PipelineStatus = "complete"
)

// Stage identifies a node in the fixed pipeline graph.
type Stage string

const (
	StageIntake          Stage = "intake"
	StagePositioning     Stage = "positioning"
	StageResearch        Stage = "research"
	StageGapAnalysis     Stage = "gap_analysis"
	StageArchitect       Stage = "architect"
	StageArchitectReview Stage = "architect_review"
	StageSectionWriting  Stage = "section_writing"
	StageSectionReview   Stage = "section_review"
	StageQualityReview   Stage = "quality_review"
	StageComplete        Stage = "complete"
)

// StageOrder is the canonical forward sequence of the pipeline graph.
// Revision is a cycle back into section_writing, not a stage of its own.
var StageOrder = []Stage{
	StageIntake,
	StagePositioning,
	StageResearch,
	StageGapAnalysis,
	StageArchitect,
	StageArchitectReview,
	StageSectionWriting,
	StageSectionReview,
	StageQualityReview,
	StageComplete,
}

// ReplanState tracks the durable phases of a mid-run replan.
type ReplanState string

const (
	ReplanNone       ReplanState = ""
	ReplanRequested  ReplanState = "requested"
	ReplanInProgress ReplanState = "in_progress"
	ReplanCompleted  ReplanState = "completed"
)

// Session is the root entity. One row per resume-generation session.
type Session struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	PipelineStatus  PipelineStatus  `json:"pipeline_status"`
	PipelineStage   Stage           `json:"pipeline_stage"`
	PendingGate     string          `json:"pending_gate,omitempty"`
	PendingGateData json.RawMessage `json:"pending_gate_data,omitempty"`
	LastPanelType   string          `json:"last_panel_type,omitempty"`
	LastPanelData   json.RawMessage `json:"last_panel_data,omitempty"`
	ReplanState     ReplanState     `json:"replan_state,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// SessionSummary is the list-endpoint projection of a Session.
// last_panel_data is intentionally absent: the list endpoint derives
// company_name/job_title from it server-side and never returns the blob.
type SessionSummary struct {
	ID             string         `json:"id"`
	PipelineStatus PipelineStatus `json:"pipeline_status"`
	PipelineStage  Stage          `json:"pipeline_stage"`
	PendingGate    string         `json:"pending_gate,omitempty"`
	CompanyName    string         `json:"company_name,omitempty"`
	JobTitle       string         `json:"job_title,omitempty"`
	InputTokens    int64          `json:"input_tokens"`
	OutputTokens   int64          `json:"output_tokens"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// SessionLock is a capacity-accounting row. Rows with a recent heartbeat
// count as live pipelines; stale rows are reaped by the orphan sweep.
type SessionLock struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	PodID       string    `json:"pod_id"`
	ClaimedAt   time.Time `json:"claimed_at"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
}

// Artifact is a versioned stage output. The latest version is authoritative.
type Artifact struct {
	ID           int64           `json:"id"`
	SessionID    string          `json:"session_id"`
	NodeKey      string          `json:"node_key"`
	ArtifactType string          `json:"artifact_type"`
	Version      int             `json:"version"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Artifact types produced by the stage graph.
const (
	ArtifactParsedResume       = "parsed_resume"
	ArtifactPositioningProfile = "positioning_profile"
	ArtifactResearchBundle     = "research_bundle"
	ArtifactGapAnalysis        = "gap_analysis"
	ArtifactBlueprint          = "blueprint"
	ArtifactSectionDraft       = "section_draft"
	ArtifactQualityScores      = "quality_scores"
	ArtifactFinalResume        = "final_resume"
)
