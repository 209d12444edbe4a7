package api

import "encoding/json"

// StartPipelineRequest is the body for POST /api/pipeline/start.
type StartPipelineRequest struct {
	SessionID      string          `json:"session_id"`
	ResumeText     string          `json:"resume_text"`
	JobDescription string          `json:"job_description"`
	Preferences    json.RawMessage `json:"preferences,omitempty"`
}

// RespondRequest is the body for POST /api/pipeline/respond.
type RespondRequest struct {
	SessionID string          `json:"session_id"`
	Gate      string          `json:"gate"`
	Response  json.RawMessage `json:"response"`
}

// BenchmarkAssumptionsRequest is the body for
// POST /api/workflow/:id/benchmark/assumptions.
type BenchmarkAssumptionsRequest struct {
	Assumptions    json.RawMessage `json:"assumptions"`
	ConfirmRebuild bool            `json:"confirm_rebuild,omitempty"`
}
