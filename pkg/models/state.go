package models

import "encoding/json"

// MaxSectionRevisions caps how many times any one section may be revised
// within a single pipeline run. Counters live on PipelineState, never on the
// controller, so replacing a controller instance cannot reset them.
const MaxSectionRevisions = 3

// PipelineState is the run-time companion to a Session: the single source of
// truth for one pipeline execution. It is owned exclusively by the goroutine
// driving the Coordinator and snapshotted into the sessions row (state jsonb)
// at every stage boundary and every gate.
type PipelineState struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`

	Stage            Stage            `json:"stage"`
	ApprovedSections map[string]bool  `json:"approved_sections,omitempty"`
	RevisionCounts   map[string]int   `json:"revision_counts,omitempty"`
	Usage            TokenLedger      `json:"usage"`
	Scratchpads      map[string]map[string]json.RawMessage `json:"scratchpads,omitempty"`

	// Canonical outputs of completed stages. Raw JSON: each agent's output is
	// normalised by pkg/authoring before it lands here.
	ParsedResume       json.RawMessage            `json:"parsed_resume,omitempty"`
	PositioningProfile json.RawMessage            `json:"positioning_profile,omitempty"`
	ResearchBundle     json.RawMessage            `json:"research_bundle,omitempty"`
	GapAnalysis        *GapAnalysis               `json:"gap_analysis,omitempty"`
	Blueprint          json.RawMessage            `json:"blueprint,omitempty"`
	SectionDrafts      map[string]json.RawMessage `json:"section_drafts,omitempty"`
	QualityScores      json.RawMessage            `json:"quality_scores,omitempty"`

	ReplanState ReplanState `json:"replan_state,omitempty"`
}

// TokenLedger accumulates token and cost consumption across all LLM calls in
// one pipeline run.
type TokenLedger struct {
	InputTokens    int64 `json:"input_tokens"`
	OutputTokens   int64 `json:"output_tokens"`
	CostMicrocents int64 `json:"cost_microcents"`
}

// Add accumulates another ledger into this one.
func (t *TokenLedger) Add(other TokenLedger) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CostMicrocents += other.CostMicrocents
}

// NewPipelineState creates the state for a fresh pipeline run.
func NewPipelineState(sessionID, userID string) *PipelineState {
	return &PipelineState{
		SessionID:        sessionID,
		UserID:           userID,
		Stage:            StageIntake,
		ApprovedSections: make(map[string]bool),
		RevisionCounts:   make(map[string]int),
		SectionDrafts:    make(map[string]json.RawMessage),
		Scratchpads:      make(map[string]map[string]json.RawMessage),
	}
}

// RevisionCount returns the recorded revision count for a section. States
// restored from rows written before revision tracking existed have a nil map;
// it is lazily initialised on first write, and reads treat nil as zero.
func (s *PipelineState) RevisionCount(section string) int {
	if s.RevisionCounts == nil {
		return 0
	}
	return s.RevisionCounts[section]
}

// IncrementRevision bumps a section's revision counter and returns the new
// value. The counter is clamped at MaxSectionRevisions: callers must check
// RevisionCount before dispatching work, and a bug that calls past the cap
// must not push the durable counter beyond it.
func (s *PipelineState) IncrementRevision(section string) int {
	if s.RevisionCounts == nil {
		s.RevisionCounts = make(map[string]int)
	}
	if s.RevisionCounts[section] >= MaxSectionRevisions {
		return s.RevisionCounts[section]
	}
	s.RevisionCounts[section]++
	return s.RevisionCounts[section]
}

// ApproveSection marks a section approved. Approved sections only grow within
// one run.
func (s *PipelineState) ApproveSection(section string) {
	if s.ApprovedSections == nil {
		s.ApprovedSections = make(map[string]bool)
	}
	s.ApprovedSections[section] = true
}

// IsApproved reports whether a section has been approved.
func (s *PipelineState) IsApproved(section string) bool {
	return s.ApprovedSections[section]
}

// Scratchpad returns the named agent's scratchpad, creating it if needed.
// Scratchpads are transient working storage; they are snapshotted with the
// state but discarded on cancellation.
func (s *PipelineState) Scratchpad(agentName string) map[string]json.RawMessage {
	if s.Scratchpads == nil {
		s.Scratchpads = make(map[string]map[string]json.RawMessage)
	}
	pad, ok := s.Scratchpads[agentName]
	if !ok {
		pad = make(map[string]json.RawMessage)
		s.Scratchpads[agentName] = pad
	}
	return pad
}
