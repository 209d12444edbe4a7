package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/resumeforge/resumeforge/pkg/models"
	"github.com/resumeforge/resumeforge/pkg/services"
	"github.com/resumeforge/resumeforge/pkg/stream"
)

// RequestReplan handles a mid-run benchmark-assumption change.
//
// Before section writing has started, the run transitions through the
// durable replan phases and re-executes from gap_analysis. Once section
// writing has begun, an in-place replan is refused: the caller must
// acknowledge with confirm_rebuild=true, which cancels the run so it can be
// restarted from saved artifacts.
func (m *Manager) RequestReplan(ctx context.Context, sess *models.Session, assumptions json.RawMessage, confirmRebuild bool) error {
	if sess.PipelineStatus != models.PipelineStatusRunning {
		return services.ErrNotRunning
	}

	writingStarted := stageIndex(sess.PipelineStage) >= stageIndex(models.StageSectionWriting)
	if writingStarted {
		if !confirmRebuild {
			return &services.ConfirmRequiredError{Action: "benchmark rebuild"}
		}
		// Acknowledged rebuild: stop the run; the client restarts from the
		// saved artifacts.
		m.stream.Publish(sess.ID, stream.NewEvent(stream.EventTransparency, map[string]any{
			"message": "Benchmark assumptions changed after section writing began; the pipeline will stop so it can be rebuilt.",
		}))
		if !m.Cancel(sess.ID) {
			return fmt.Errorf("%w: pipeline is not running in this process", services.ErrNotRunning)
		}
		return nil
	}

	if err := m.sessions.SetReplanState(ctx, sess.ID, models.ReplanRequested); err != nil {
		return fmt.Errorf("failed to persist replan request: %w", err)
	}

	m.mu.Lock()
	m.replans[sess.ID] = assumptions
	m.mu.Unlock()

	m.stream.Publish(sess.ID, stream.NewEvent(stream.EventWorkflowReplanRequested, map[string]any{
		"assumptions": json.RawMessage(assumptions),
	}))
	return nil
}

// takeReplan consumes a pending replan request for the session, if any.
// Called by the coordinator goroutine at stage boundaries, the next safe
// checkpoint after the request.
func (m *Manager) takeReplan(sessionID string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.replans[sessionID]
	if ok {
		delete(m.replans, sessionID)
	}
	return payload, ok
}
