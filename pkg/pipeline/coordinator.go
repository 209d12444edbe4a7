package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/resumeforge/resumeforge/pkg/agent"
	"github.com/resumeforge/resumeforge/pkg/metrics"
	"github.com/resumeforge/resumeforge/pkg/models"
	"github.com/resumeforge/resumeforge/pkg/stream"
)

func craftsmanTarget(sessionID string) string {
	return busChannelCraftsman + ":" + sessionID
}

func stageIndex(s models.Stage) int {
	for i, st := range models.StageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// runPipeline drives the stage graph for one session. It owns the pipeline
// state exclusively; every stage boundary and gate snapshots it.
func (m *Manager) runPipeline(ctx context.Context, sess *models.Session, state *models.PipelineState, input *StartInput) {
	defs := stageDefs()
	msgs := m.bus.Subscribe(craftsmanTarget(sess.ID))
	defer m.bus.Unsubscribe(craftsmanTarget(sess.ID))

	gapIdx := stageIndex(models.StageGapAnalysis)

	idx := 0
	for idx < len(models.StageOrder) {
		st := models.StageOrder[idx]
		if st == models.StageComplete {
			break
		}
		def := defs[st]

		state.Stage = st
		if err := m.sessions.PatchSessionState(ctx, sess.ID, state, models.PipelineStatusRunning, st); err != nil {
			m.fail(sess, state, fmt.Errorf("failed to persist stage transition: %w", err))
			return
		}
		m.stream.Publish(sess.ID, stream.NewEvent(stream.EventStageStart, map[string]any{
			"stage": string(st),
		}))

		started := time.Now()
		result, err := m.runStage(ctx, sess, state, input, def)
		if err != nil {
			m.fail(sess, state, err)
			return
		}

		state.Usage.Add(result.Usage)
		m.usage.Record(sess.UserID, result.Usage)

		m.stream.Publish(sess.ID, stream.NewEvent(stream.EventStageComplete, map[string]any{
			"stage":       string(st),
			"duration_ms": time.Since(started).Milliseconds(),
			"rounds":      result.Rounds,
		}))

		if st == models.StageQualityReview {
			m.drainRevisions(ctx, sess, state, input, msgs)
		}

		if err := m.sessions.PatchSessionState(ctx, sess.ID, state, models.PipelineStatusRunning, st); err != nil {
			m.fail(sess, state, fmt.Errorf("failed to snapshot state: %w", err))
			return
		}

		// Replan transitions happen only at stage boundaries: the current
		// stage always finishes before the rewind.
		if assumptions, ok := m.takeReplan(sess.ID); ok {
			state.ReplanState = models.ReplanRequested
			pad := state.Scratchpad("research")
			pad["replan_assumptions"] = assumptions
		}
		if state.ReplanState == models.ReplanRequested {
			state.ReplanState = models.ReplanInProgress
			m.stream.Publish(sess.ID, stream.NewEvent(stream.EventWorkflowReplanStarted, nil))
			if idx >= gapIdx {
				idx = gapIdx
				continue
			}
			idx++
			continue
		}
		if state.ReplanState == models.ReplanInProgress && st == models.StageGapAnalysis {
			state.ReplanState = models.ReplanCompleted
			m.stream.Publish(sess.ID, stream.NewEvent(stream.EventWorkflowReplanCompleted, nil))
		}

		idx++
	}

	m.finalize(ctx, sess, state)
}

// runStage assembles the stage's registry and execution context and runs one
// agent loop.
func (m *Manager) runStage(ctx context.Context, sess *models.Session, state *models.PipelineState, input *StartInput, def stageDef) (*agent.LoopResult, error) {
	registry, err := agent.NewRegistry(def.tools(m, state)...)
	if err != nil {
		return nil, fmt.Errorf("stage %s registry: %w", def.agentName, err)
	}

	ec := &agent.ExecutionContext{
		SessionID:  sess.ID,
		UserID:     sess.UserID,
		AgentName:  def.agentName,
		State:      state,
		Scratchpad: state.Scratchpad(def.agentName),
		Emit: func(eventType string, data map[string]any) {
			m.stream.Publish(sess.ID, stream.NewEvent(eventType, data))
		},
		WaitForUser: func(gctx context.Context, gateName string, payload json.RawMessage) (json.RawMessage, error) {
			return m.gates.Open(gctx, sess.ID, gateName, payload)
		},
		Bus:    m.bus,
		Logger: slog.With("session_id", sess.ID, "stage", string(state.Stage), "agent", def.agentName),
	}

	lc := &agent.LoopConfig{
		AgentName:    def.agentName,
		Model:        m.cfg.LLM.Model(def.profile),
		SystemPrompt: def.system,
		Registry:     registry,
	}

	result, err := m.loop.Run(ctx, lc, ec, def.instruction(state, input), nil)
	if err != nil {
		return nil, err
	}

	if def.post != nil {
		if err := def.post(ctx, m, sess, state, ec, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// fail marks the session errored and emits the user-safe failure events.
// Artifacts written so far stay intact so a restart can resume from them.
func (m *Manager) fail(sess *models.Session, state *models.PipelineState, err error) {
	m.emitError(sess.ID, userSafeMessage(err), err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if perr := m.sessions.PatchSessionState(ctx, sess.ID, state, models.PipelineStatusError, state.Stage); perr != nil {
		slog.Error("failed to persist error status", "session_id", sess.ID, "error", perr)
	}
	metrics.PipelinesCompleted.WithLabelValues("error").Inc()
	m.stream.CloseSession(sess.ID)
}

// finalize assembles the final resume artifact from the approved drafts and
// terminates the run.
func (m *Manager) finalize(ctx context.Context, sess *models.Session, state *models.PipelineState) {
	final := map[string]any{
		"sections": state.SectionDrafts,
		"usage":    state.Usage,
	}
	payload, err := json.Marshal(final)
	if err == nil {
		if _, aerr := m.artifacts.Append(ctx, sess.ID, "resume", models.ArtifactFinalResume, payload); aerr != nil {
			slog.Warn("failed to store final resume artifact", "session_id", sess.ID, "error", aerr)
		}
	}

	state.Stage = models.StageComplete
	if err := m.sessions.PatchSessionState(ctx, sess.ID, state, models.PipelineStatusComplete, models.StageComplete); err != nil {
		m.fail(sess, state, fmt.Errorf("failed to persist completion: %w", err))
		return
	}

	m.usage.FlushAll(ctx)
	metrics.PipelinesCompleted.WithLabelValues("complete").Inc()

	m.stream.Publish(sess.ID, stream.NewEvent(stream.EventPipelineComplete, map[string]any{
		"summary": map[string]any{
			"sections":      len(state.SectionDrafts),
			"input_tokens":  state.Usage.InputTokens,
			"output_tokens": state.Usage.OutputTokens,
		},
	}))
	m.stream.Publish(sess.ID, stream.NewEvent(stream.EventComplete, nil))

	if err := m.events.Prune(ctx, sess.ID, m.cfg.Stream.ReplayBufferSize); err != nil {
		slog.Warn("failed to prune events", "session_id", sess.ID, "error", err)
	}
	m.stream.CloseSession(sess.ID)
}
