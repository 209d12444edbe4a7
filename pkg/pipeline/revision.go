package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/resumeforge/resumeforge/pkg/agent"
	"github.com/resumeforge/resumeforge/pkg/bus"
	"github.com/resumeforge/resumeforge/pkg/config"
	"github.com/resumeforge/resumeforge/pkg/models"
	"github.com/resumeforge/resumeforge/pkg/stream"
)

// normalizeRevisionRequest accepts both payload shapes the reviewer emits:
// a revision_instructions array, or a flat {section, issue, instruction}
// which becomes a single high-priority instruction.
func normalizeRevisionRequest(payload json.RawMessage) []models.RevisionInstruction {
	var wrapped struct {
		Instructions []models.RevisionInstruction `json:"revision_instructions"`
	}
	if err := json.Unmarshal(payload, &wrapped); err == nil && len(wrapped.Instructions) > 0 {
		return wrapped.Instructions
	}

	var flat struct {
		Section     string `json:"section"`
		Issue       string `json:"issue"`
		Instruction string `json:"instruction"`
	}
	if err := json.Unmarshal(payload, &flat); err == nil && flat.Section != "" {
		return []models.RevisionInstruction{{
			TargetSection: flat.Section,
			Issue:         flat.Issue,
			Instruction:   flat.Instruction,
			Priority:      "high",
		}}
	}
	return nil
}

// drainRevisions processes every queued revision request after the quality
// review stage. Runs on the coordinator goroutine, so revision counters see
// no concurrent writers.
func (m *Manager) drainRevisions(ctx context.Context, sess *models.Session, state *models.PipelineState, input *StartInput, msgs <-chan bus.Message) {
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			m.handleRevisionRequest(ctx, sess, state, input, msg)
		default:
			return
		}
	}
}

// handleRevisionRequest applies the filter chain and dispatches one section-
// writer sub-loop for the survivors. Sub-loop failures are logged, never
// propagated: a failed revision leaves the prior draft standing.
func (m *Manager) handleRevisionRequest(ctx context.Context, sess *models.Session, state *models.PipelineState, input *StartInput, msg bus.Message) {
	if msg.Type != busTypeRequest || msg.Source != busSourceProducer {
		slog.Warn("ignoring unexpected bus message",
			"session_id", sess.ID, "type", msg.Type, "source", msg.Source)
		return
	}

	var survivors []models.RevisionInstruction
	for _, inst := range normalizeRevisionRequest(msg.Payload) {
		// Filter 1: priority. Only high-priority work is revised.
		if !strings.EqualFold(inst.Priority, "high") {
			continue
		}
		// Filter 2: approved sections are settled.
		if state.IsApproved(inst.TargetSection) {
			continue
		}
		// Filter 3: the per-section cap, read from durable state.
		if state.RevisionCount(inst.TargetSection) >= models.MaxSectionRevisions {
			m.stream.Publish(sess.ID, stream.NewEvent(stream.EventTransparency, map[string]any{
				"message": fmt.Sprintf("Section %q has reached the revision cap (%d); keeping the current draft.",
					inst.TargetSection, models.MaxSectionRevisions),
				"section": inst.TargetSection,
				"cap":     models.MaxSectionRevisions,
			}))
			continue
		}
		survivors = append(survivors, inst)
	}
	if len(survivors) == 0 {
		return
	}

	// Increment in durable state BEFORE dispatching, so a crash mid-revision
	// never under-counts.
	sections := make([]string, 0, len(survivors))
	counts := make(map[string]int, len(survivors))
	for _, inst := range survivors {
		if _, seen := counts[inst.TargetSection]; !seen {
			sections = append(sections, inst.TargetSection)
			counts[inst.TargetSection] = state.IncrementRevision(inst.TargetSection)
		}
	}
	if err := m.sessions.PatchSessionState(ctx, sess.ID, state, models.PipelineStatusRunning, state.Stage); err != nil {
		slog.Warn("failed to persist revision counters",
			"session_id", sess.ID, "sections", sections, "error", err)
		return
	}

	for _, section := range sections {
		m.stream.Publish(sess.ID, stream.NewEvent(stream.EventRevisionStart, map[string]any{
			"section":  section,
			"revision": counts[section],
		}))
	}

	if err := m.runRevisionSubLoop(ctx, sess, state, input, survivors); err != nil {
		slog.Warn("revision sub-loop failed",
			"session_id", sess.ID, "sections", sections, "error", err)
		return
	}

	for _, section := range sections {
		m.stream.Publish(sess.ID, stream.NewEvent(stream.EventSectionRevised, map[string]any{
			"section":  section,
			"revision": counts[section],
		}))
	}
}

// composeRevisionInstruction builds the sub-loop instruction: the blueprint,
// the current draft of every affected section, and the surviving
// instructions.
func composeRevisionInstruction(state *models.PipelineState, survivors []models.RevisionInstruction) string {
	var b strings.Builder
	if len(state.Blueprint) > 0 {
		fmt.Fprintf(&b, "Blueprint:\n%s\n\n", state.Blueprint)
	}

	seen := make(map[string]bool, len(survivors))
	for _, inst := range survivors {
		if seen[inst.TargetSection] {
			continue
		}
		seen[inst.TargetSection] = true
		fmt.Fprintf(&b, "Current draft of %q:\n%s\n\n", inst.TargetSection, state.SectionDrafts[inst.TargetSection])
	}

	b.WriteString("Revision instructions:\n")
	for _, inst := range survivors {
		fmt.Fprintf(&b, "- [%s] issue: %s; instruction: %s\n", inst.TargetSection, inst.Issue, inst.Instruction)
	}
	b.WriteString("\nRevise each named section against the blueprint and save it with save_section.")
	return b.String()
}

// runRevisionSubLoop runs one targeted section-writer pass over the
// surviving instructions.
func (m *Manager) runRevisionSubLoop(ctx context.Context, sess *models.Session, state *models.PipelineState, input *StartInput, survivors []models.RevisionInstruction) error {
	registry, err := agent.NewRegistry(
		keywordAuditTool(),
		lintTool(),
		saveSectionTool(m, state),
	)
	if err != nil {
		return err
	}

	ec := &agent.ExecutionContext{
		SessionID:  sess.ID,
		UserID:     sess.UserID,
		AgentName:  "section_writer",
		State:      state,
		Scratchpad: state.Scratchpad("section_writer"),
		Emit: func(eventType string, data map[string]any) {
			m.stream.Publish(sess.ID, stream.NewEvent(eventType, data))
		},
		WaitForUser: func(gctx context.Context, gateName string, payload json.RawMessage) (json.RawMessage, error) {
			return m.gates.Open(gctx, sess.ID, gateName, payload)
		},
		Bus:    m.bus,
		Logger: slog.With("session_id", sess.ID, "agent", "section_writer", "revision_sections", len(survivors)),
	}

	lc := &agent.LoopConfig{
		AgentName: "section_writer",
		Model:     m.cfg.LLM.Model(config.ProfilePrimary),
		SystemPrompt: "You revise resume sections against a reviewer's instructions, staying " +
			"within the blueprint. Keep everything that already works; fix what each " +
			"instruction names. Every bullet must cite evidence ids. Call save_section " +
			"with each revised section.",
		Registry: registry,
	}

	result, err := m.loop.Run(ctx, lc, ec, composeRevisionInstruction(state, survivors), nil)
	if err != nil {
		return err
	}
	state.Usage.Add(result.Usage)
	m.usage.Record(sess.UserID, result.Usage)
	return nil
}
