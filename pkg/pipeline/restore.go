package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/resumeforge/resumeforge/pkg/services"
)

// Restorer builds the session_restore payload delivered on every stream
// attach: enough state for a client to re-render without replaying the whole
// run.
type Restorer struct {
	sessions *services.SessionService
	events   *services.EventService
	bound    int
}

// NewRestorer creates the restore builder. bound caps the recent-event
// replay.
func NewRestorer(sessions *services.SessionService, events *services.EventService, bound int) *Restorer {
	return &Restorer{sessions: sessions, events: events, bound: bound}
}

// BuildRestore assembles current stage, recent events, the latest panel
// snapshot, and any pending gate so reconnecting clients re-render gate UI.
func (r *Restorer) BuildRestore(ctx context.Context, sessionID string) (map[string]any, error) {
	sess, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session for restore: %w", err)
	}

	restore := map[string]any{
		"stage":           string(sess.PipelineStage),
		"pipeline_status": string(sess.PipelineStatus),
	}
	if sess.PendingGate != "" {
		restore["pending_gate"] = sess.PendingGate
		if len(sess.PendingGateData) > 0 {
			restore["pending_gate_data"] = json.RawMessage(sess.PendingGateData)
		}
	}
	if sess.LastPanelType != "" {
		restore["panel"] = map[string]any{
			"type": sess.LastPanelType,
			"data": json.RawMessage(sess.LastPanelData),
		}
	}

	recent, err := r.events.Recent(ctx, sessionID, r.bound)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent events for restore: %w", err)
	}
	if len(recent) > 0 {
		raws := make([]json.RawMessage, len(recent))
		copy(raws, recent)
		restore["recent_events"] = raws
	}
	return restore, nil
}
