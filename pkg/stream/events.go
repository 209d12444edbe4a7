// Package stream implements the live-event fan-out: one bounded delivery
// queue per attached client, ordered per-session events over SSE, reconnect
// replay, and heartbeats.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
)

// Event types form a closed catalogue. Clients log and discard unknown
// types, so additions are backward compatible; renames are not.
const (
	EventConnected               = "connected"
	EventSessionRestore          = "session_restore"
	EventTransparency            = "transparency"
	EventTextDelta               = "text_delta"
	EventTextComplete            = "text_complete"
	EventToolStart               = "tool_start"
	EventToolComplete            = "tool_complete"
	EventStageStart              = "stage_start"
	EventStageComplete           = "stage_complete"
	EventAskUser                 = "ask_user"
	EventPhaseGate               = "phase_gate"
	EventQuestionnaire           = "questionnaire"
	EventPositioningQuestion     = "positioning_question"
	EventPositioningProfileFound = "positioning_profile_found"
	EventBlueprintReady          = "blueprint_ready"
	EventSectionDraft            = "section_draft"
	EventSectionRevised          = "section_revised"
	EventSectionApproved         = "section_approved"
	EventQualityScores           = "quality_scores"
	EventDraftReadinessUpdate    = "draft_readiness_update"
	EventWorkflowReplanRequested = "workflow_replan_requested"
	EventWorkflowReplanStarted   = "workflow_replan_started"
	EventWorkflowReplanCompleted = "workflow_replan_completed"
	EventRightPanelUpdate        = "right_panel_update"
	EventResumeUpdate            = "resume_update"
	EventRevisionStart           = "revision_start"
	EventPipelineComplete        = "pipeline_complete"
	EventPipelineError           = "pipeline_error"
	EventError                   = "error"
	EventHeartbeat               = "heartbeat"
	EventComplete                = "complete"
)

// Event is one fan-out delivery.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
	// Seq is set only on text_complete: globally monotonic per session,
	// used by clients to deduplicate across reconnect replays.
	Seq int64 `json:"seq,omitempty"`
}

// NewEvent builds an event with a payload map.
func NewEvent(eventType string, data map[string]any) Event {
	return Event{Type: eventType, Data: data}
}

// Marshal encodes the event payload as stored in the events table and sent
// on the wire.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// WriteSSE writes the event in server-sent-event framing.
func (e Event) WriteSSE(w io.Writer) error {
	payload, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, payload)
	return err
}

// persistent reports whether the event should be appended to the events
// table for restart catch-up. Transport chatter and synthetic replay frames
// are not.
func (e Event) persistent() bool {
	switch e.Type {
	case EventHeartbeat, EventConnected, EventSessionRestore, EventTextDelta:
		return false
	}
	return true
}

// terminal reports whether the event ends the stream.
func (e Event) terminal() bool {
	return e.Type == EventComplete
}
