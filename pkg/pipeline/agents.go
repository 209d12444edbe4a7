package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/resumeforge/resumeforge/pkg/agent"
	"github.com/resumeforge/resumeforge/pkg/authoring"
	"github.com/resumeforge/resumeforge/pkg/bus"
	"github.com/resumeforge/resumeforge/pkg/config"
	"github.com/resumeforge/resumeforge/pkg/models"
	"github.com/resumeforge/resumeforge/pkg/stream"
)

// Agent names on the bus. The quality reviewer publishes revision requests
// as "producer"; the section writer consumes them as "craftsman".
const (
	busChannelCraftsman = "craftsman"
	busSourceProducer   = "producer"
	busTypeRequest      = "request"
)

// stageDef describes how one pipeline stage runs: which model tier, which
// tools, how the instruction is built, and how the loop's output lands in
// durable state.
type stageDef struct {
	agentName   string
	profile     config.ModelProfile
	system      string
	instruction func(state *models.PipelineState, input *StartInput) string
	tools       func(m *Manager, state *models.PipelineState) []agent.ToolDescriptor
	post        func(ctx context.Context, m *Manager, sess *models.Session, state *models.PipelineState, ec *agent.ExecutionContext, result *agent.LoopResult) error
}

func stageDefs() map[models.Stage]stageDef {
	return map[models.Stage]stageDef{
		models.StageIntake:          intakeDef(),
		models.StagePositioning:     positioningDef(),
		models.StageResearch:        researchDef(),
		models.StageGapAnalysis:     gapAnalysisDef(),
		models.StageArchitect:       architectDef(),
		models.StageArchitectReview: architectReviewDef(),
		models.StageSectionWriting:  sectionWritingDef(),
		models.StageSectionReview:   sectionReviewDef(),
		models.StageQualityReview:   qualityReviewDef(),
	}
}

// saveTool builds a tool that stores its validated input in the scratchpad
// under the given key. The post hook moves it into durable state.
func saveTool(name, description, key, schema string) agent.ToolDescriptor {
	return agent.ToolDescriptor{
		Name:        name,
		Description: description,
		Schema:      schema,
		Execute: func(_ context.Context, input json.RawMessage, ec *agent.ExecutionContext) (json.RawMessage, error) {
			ec.Scratchpad[key] = input
			return json.RawMessage(`{"saved": true}`), nil
		},
	}
}

// gateTool builds the interactive tool that suspends the agent on a named
// gate. The gate event goes out first; a response racing ahead of the
// persisted gate is buffered by the coordinator and consumed on open.
func gateTool(toolName, gateName, eventType string) agent.ToolDescriptor {
	return agent.ToolDescriptor{
		Name:        toolName,
		Description: "Present content to the user and wait for their response. Blocks until the user answers.",
		Schema:      `{"type":"object","properties":{"title":{"type":"string"},"content":{}},"required":["content"]}`,
		Execute: func(ctx context.Context, input json.RawMessage, ec *agent.ExecutionContext) (json.RawMessage, error) {
			var payload map[string]any
			if err := json.Unmarshal(input, &payload); err != nil {
				payload = map[string]any{"content": string(input)}
			}
			payload["gate"] = gateName
			ec.Emit(eventType, payload)

			resp, err := ec.WaitForUser(ctx, gateName, input)
			if err != nil {
				return nil, err
			}
			// Merge the response into the scratchpad before the loop
			// continues, so later rounds and the post hook can read it.
			ec.Scratchpad["gate_response:"+gateName] = resp
			return resp, nil
		},
	}
}

// keywordAuditTool exposes the keyword audit to the model. Parallel-safe:
// pure function of its input.
func keywordAuditTool() agent.ToolDescriptor {
	return agent.ToolDescriptor{
		Name:         "keyword_audit",
		Description:  "Check which target keywords appear in a block of text. Returns present, missing, and coverage.",
		Schema:       `{"type":"object","properties":{"text":{"type":"string"},"keywords":{"type":"array","items":{"type":"string"}}},"required":["text","keywords"]}`,
		ParallelSafe: true,
		Execute: func(_ context.Context, input json.RawMessage, _ *agent.ExecutionContext) (json.RawMessage, error) {
			var in struct {
				Text     string   `json:"text"`
				Keywords []string `json:"keywords"`
			}
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, err
			}
			return json.Marshal(authoring.AuditKeywords(in.Text, in.Keywords))
		},
	}
}

// lintTool exposes the anti-pattern lint. Parallel-safe.
func lintTool() agent.ToolDescriptor {
	return agent.ToolDescriptor{
		Name:         "lint_text",
		Description:  "Run the resume anti-pattern lint over text. Returns findings with advice.",
		Schema:       `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`,
		ParallelSafe: true,
		Execute: func(_ context.Context, input json.RawMessage, _ *agent.ExecutionContext) (json.RawMessage, error) {
			var in struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, err
			}
			findings := authoring.LintText(in.Text)
			if findings == nil {
				return json.RawMessage(`{"findings":[]}`), nil
			}
			return json.Marshal(map[string]any{"findings": findings})
		},
	}
}

// scratchToState moves a scratchpad document into a durable field and the
// artifact store, emitting the given event.
func scratchToState(ctx context.Context, m *Manager, sess *models.Session, ec *agent.ExecutionContext,
	key, artifactType, eventType string, target *json.RawMessage) error {
	raw, ok := ec.Scratchpad[key]
	if !ok {
		// The model concluded without calling the save tool; fall back to
		// its final text so the stage still produces an artifact.
		text := ec.Scratchpad["final_text"]
		if len(text) == 0 {
			return fmt.Errorf("stage produced no %s", artifactType)
		}
		raw = text
	}
	*target = raw
	if _, err := m.artifacts.Append(ctx, sess.ID, artifactType, artifactType, raw); err != nil {
		return fmt.Errorf("failed to store %s artifact: %w", artifactType, err)
	}
	if eventType != "" {
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			payload = map[string]any{"content": string(raw)}
		}
		ec.Emit(eventType, payload)
	}
	return nil
}

func intakeDef() stageDef {
	return stageDef{
		agentName: "intake",
		profile:   config.ProfileLight,
		system: "You parse resumes. Extract the candidate's contact details, roles, " +
			"dates, skills, education, and achievements into structured JSON, then call " +
			"save_parsed_resume exactly once. Do not invent information.",
		instruction: func(_ *models.PipelineState, input *StartInput) string {
			return "Parse this resume into the structured shape and save it.\n\n" + input.ResumeText
		},
		tools: func(_ *Manager, _ *models.PipelineState) []agent.ToolDescriptor {
			return []agent.ToolDescriptor{
				saveTool("save_parsed_resume", "Save the structured parse of the candidate's resume.",
					"parsed_resume",
					`{"type":"object","properties":{"contact":{"type":"object"},"roles":{"type":"array"},"skills":{"type":"array"},"education":{"type":"array"},"achievements":{"type":"array"}},"required":["roles"]}`),
			}
		},
		post: func(ctx context.Context, m *Manager, sess *models.Session, state *models.PipelineState, ec *agent.ExecutionContext, _ *agent.LoopResult) error {
			return scratchToState(ctx, m, sess, ec, "parsed_resume",
				models.ArtifactParsedResume, stream.EventResumeUpdate, &state.ParsedResume)
		},
	}
}

func positioningDef() stageDef {
	return stageDef{
		agentName: "positioning",
		profile:   config.ProfileMid,
		system: "You build a positioning profile: the candidate's target seniority, " +
			"narrative angle, and differentiators for this specific job. Ask the user " +
			"clarifying questions through the questionnaire tool when the resume alone " +
			"cannot answer them, then call save_positioning_profile.",
		instruction: func(state *models.PipelineState, input *StartInput) string {
			return fmt.Sprintf("Job description:\n%s\n\nParsed resume:\n%s\n\nBuild the positioning profile.",
				input.JobDescription, string(state.ParsedResume))
		},
		tools: func(_ *Manager, _ *models.PipelineState) []agent.ToolDescriptor {
			return []agent.ToolDescriptor{
				gateTool("questionnaire", "positioning", stream.EventQuestionnaire),
				saveTool("save_positioning_profile", "Save the positioning profile.",
					"positioning_profile",
					`{"type":"object","properties":{"seniority":{"type":"string"},"angle":{"type":"string"},"differentiators":{"type":"array","items":{"type":"string"}}},"required":["seniority","angle"]}`),
			}
		},
		post: func(ctx context.Context, m *Manager, sess *models.Session, state *models.PipelineState, ec *agent.ExecutionContext, _ *agent.LoopResult) error {
			if err := scratchToState(ctx, m, sess, ec, "positioning_profile",
				models.ArtifactPositioningProfile, stream.EventPositioningProfileFound, &state.PositioningProfile); err != nil {
				return err
			}
			return normalizeSeniorityField(&state.PositioningProfile)
		},
	}
}

// normalizeSeniorityField canonicalises the seniority alias in a profile.
func normalizeSeniorityField(profile *json.RawMessage) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(*profile, &doc); err != nil {
		return nil // fallback shape, leave as-is
	}
	var seniority string
	if err := json.Unmarshal(doc["seniority"], &seniority); err != nil {
		return nil
	}
	canonical, err := json.Marshal(authoring.NormalizeSeniority(seniority))
	if err != nil {
		return err
	}
	doc["seniority"] = canonical
	normalized, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	*profile = normalized
	return nil
}

func researchDef() stageDef {
	return stageDef{
		agentName: "research",
		profile:   config.ProfileMid,
		system: "You research the target role: extract the company name, job title, " +
			"required skills, and keyword list from the job description, and derive the " +
			"benchmark assumptions the rest of the pipeline will plan against. Call " +
			"save_research_bundle once with everything.",
		instruction: func(state *models.PipelineState, input *StartInput) string {
			return fmt.Sprintf("Job description:\n%s\n\nPositioning profile:\n%s\n\nProduce the research bundle.",
				input.JobDescription, string(state.PositioningProfile))
		},
		tools: func(_ *Manager, _ *models.PipelineState) []agent.ToolDescriptor {
			return []agent.ToolDescriptor{
				keywordAuditTool(),
				saveTool("save_research_bundle", "Save the research bundle.",
					"research_bundle",
					`{"type":"object","properties":{"company_name":{"type":"string"},"job_title":{"type":"string"},"keywords":{"type":"array","items":{"type":"string"}},"benchmark_assumptions":{"type":"array"}},"required":["keywords"]}`),
			}
		},
		post: func(ctx context.Context, m *Manager, sess *models.Session, state *models.PipelineState, ec *agent.ExecutionContext, _ *agent.LoopResult) error {
			if err := scratchToState(ctx, m, sess, ec, "research_bundle",
				models.ArtifactResearchBundle, stream.EventRightPanelUpdate, &state.ResearchBundle); err != nil {
				return err
			}
			// The research bundle feeds the session list's company/job
			// columns through the panel snapshot.
			if err := m.sessions.SetPanel(ctx, sess.ID, "research", state.ResearchBundle); err != nil {
				ec.Logger.Warn("failed to persist panel snapshot", "error", err)
			}
			return nil
		},
	}
}

func gapAnalysisDef() stageDef {
	return stageDef{
		agentName: "gap_analysis",
		profile:   config.ProfileMid,
		system: "You map job requirements to candidate evidence. Classify every " +
			"requirement as strong, partial, or gap; attach evidence ids; mark items " +
			"the candidate cannot address. Call save_gap_analysis once.",
		instruction: func(state *models.PipelineState, input *StartInput) string {
			return fmt.Sprintf("Research bundle:\n%s\n\nParsed resume:\n%s\n\nProduce the requirement/evidence matrix.",
				string(state.ResearchBundle), string(state.ParsedResume))
		},
		tools: func(_ *Manager, _ *models.PipelineState) []agent.ToolDescriptor {
			return []agent.ToolDescriptor{
				saveTool("save_gap_analysis", "Save the gap analysis matrix.",
					"gap_analysis",
					`{"type":"object","properties":{"requirements":{"type":"array"},"evidence":{"type":"array"},"summary":{"type":"string"}},"required":["requirements","evidence"]}`),
			}
		},
		post: func(ctx context.Context, m *Manager, sess *models.Session, state *models.PipelineState, ec *agent.ExecutionContext, _ *agent.LoopResult) error {
			var raw json.RawMessage
			if err := scratchToState(ctx, m, sess, ec, "gap_analysis",
				models.ArtifactGapAnalysis, stream.EventDraftReadinessUpdate, &raw); err != nil {
				return err
			}
			ga := &models.GapAnalysis{}
			if err := json.Unmarshal(raw, ga); err != nil {
				return fmt.Errorf("gap analysis has unusable shape: %w", err)
			}
			state.GapAnalysis = ga
			return nil
		},
	}
}

func architectDef() stageDef {
	return stageDef{
		agentName: "architect",
		profile:   config.ProfileOrchestrator,
		system: "You design the resume blueprint: section order, the evidence each " +
			"section draws on, and per-section guidance for the writer. Every section " +
			"must trace back to requirements from the gap analysis. Call save_blueprint once.",
		instruction: func(state *models.PipelineState, _ *StartInput) string {
			ga, _ := json.Marshal(state.GapAnalysis)
			return fmt.Sprintf("Gap analysis:\n%s\n\nPositioning profile:\n%s\n\nDesign the blueprint.",
				string(ga), string(state.PositioningProfile))
		},
		tools: func(_ *Manager, _ *models.PipelineState) []agent.ToolDescriptor {
			return []agent.ToolDescriptor{
				saveTool("save_blueprint", "Save the resume blueprint.",
					"blueprint",
					`{"type":"object","properties":{"sections":{"type":"array","items":{"type":"object","properties":{"name":{"type":"string"},"evidence_ids":{"type":"array"},"guidance":{"type":"string"}},"required":["name"]}}},"required":["sections"]}`),
			}
		},
		post: func(ctx context.Context, m *Manager, sess *models.Session, state *models.PipelineState, ec *agent.ExecutionContext, _ *agent.LoopResult) error {
			return scratchToState(ctx, m, sess, ec, "blueprint",
				models.ArtifactBlueprint, stream.EventBlueprintReady, &state.Blueprint)
		},
	}
}

func architectReviewDef() stageDef {
	return stageDef{
		agentName: "architect_review",
		profile:   config.ProfileLight,
		system: "You present the blueprint to the user for approval. Summarize the " +
			"plan, present it through present_to_user, and apply any structural changes " +
			"the user requests by calling save_blueprint with the revised plan.",
		instruction: func(state *models.PipelineState, _ *StartInput) string {
			return "Blueprint:\n" + string(state.Blueprint) + "\n\nPresent it for approval."
		},
		tools: func(_ *Manager, _ *models.PipelineState) []agent.ToolDescriptor {
			return []agent.ToolDescriptor{
				gateTool("present_to_user", "architect_review", stream.EventPhaseGate),
				saveTool("save_blueprint", "Save the revised blueprint.",
					"blueprint", `{"type":"object","properties":{"sections":{"type":"array"}},"required":["sections"]}`),
			}
		},
		post: func(ctx context.Context, m *Manager, sess *models.Session, state *models.PipelineState, ec *agent.ExecutionContext, _ *agent.LoopResult) error {
			// Re-store only when the review actually changed the plan.
			if _, revised := ec.Scratchpad["blueprint"]; revised {
				return scratchToState(ctx, m, sess, ec, "blueprint",
					models.ArtifactBlueprint, stream.EventBlueprintReady, &state.Blueprint)
			}
			return nil
		},
	}
}

func sectionWritingDef() stageDef {
	return stageDef{
		agentName: "section_writer",
		profile:   config.ProfilePrimary,
		system: "You write resume sections from the blueprint. Every bullet must cite " +
			"evidence ids from the gap analysis. Use keyword_audit and lint_text to check " +
			"your drafts, then call save_section once per section.",
		instruction: func(state *models.PipelineState, _ *StartInput) string {
			ga, _ := json.Marshal(state.GapAnalysis)
			return fmt.Sprintf("Blueprint:\n%s\n\nGap analysis:\n%s\n\nWrite every section.",
				string(state.Blueprint), string(ga))
		},
		tools: func(m *Manager, state *models.PipelineState) []agent.ToolDescriptor {
			return []agent.ToolDescriptor{
				keywordAuditTool(),
				lintTool(),
				saveSectionTool(m, state),
			}
		},
		post: func(ctx context.Context, m *Manager, sess *models.Session, state *models.PipelineState, ec *agent.ExecutionContext, _ *agent.LoopResult) error {
			if len(state.SectionDrafts) == 0 {
				return fmt.Errorf("section writing produced no sections")
			}
			return nil
		},
	}
}

// saveSectionTool normalises, probes, and stores one section draft. Unlike
// the plain save tools it writes durable state directly: drafts accumulate
// across the revision cycle, not just within one loop run.
func saveSectionTool(m *Manager, state *models.PipelineState) agent.ToolDescriptor {
	return agent.ToolDescriptor{
		Name:        "save_section",
		Description: "Save one written resume section. Bullets may be strings or {text, evidence_ids} objects.",
		Schema:      `{"type":"object","properties":{"section":{"type":"string"},"content":{}},"required":["section","content"]}`,
		Execute: func(ctx context.Context, input json.RawMessage, ec *agent.ExecutionContext) (json.RawMessage, error) {
			var in struct {
				Section string          `json:"section"`
				Content json.RawMessage `json:"content"`
			}
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, err
			}

			draft := authoring.NormalizeSectionDraft(in.Section, in.Content)
			var evidence []models.EvidenceItem
			if state.GapAnalysis != nil {
				evidence = state.GapAnalysis.Evidence
			}
			findings := authoring.ProbeEvidence(in.Section, draft.Bullets, evidence)

			normalized, err := json.Marshal(draft)
			if err != nil {
				return nil, err
			}
			state.SectionDrafts[in.Section] = normalized
			if _, err := m.artifacts.Append(ctx, state.SessionID, in.Section, models.ArtifactSectionDraft, normalized); err != nil {
				return nil, fmt.Errorf("failed to store section draft: %w", err)
			}

			ec.Emit(stream.EventSectionDraft, map[string]any{
				"section": in.Section,
				"draft":   draft,
			})

			out := map[string]any{"saved": true, "section": in.Section}
			if len(findings) > 0 {
				// Integrity findings go back to the model so it can fix the
				// draft in a later call instead of failing the stage.
				out["evidence_findings"] = findings
			}
			return json.Marshal(out)
		},
	}
}

func sectionReviewDef() stageDef {
	return stageDef{
		agentName: "section_review",
		profile:   config.ProfileLight,
		system: "You present the drafted sections to the user. Show every draft " +
			"through present_to_user and record which sections the user approved.",
		instruction: func(state *models.PipelineState, _ *StartInput) string {
			drafts, _ := json.Marshal(state.SectionDrafts)
			return "Drafted sections:\n" + string(drafts) + "\n\nPresent them for review."
		},
		tools: func(_ *Manager, _ *models.PipelineState) []agent.ToolDescriptor {
			return []agent.ToolDescriptor{
				gateTool("present_to_user", "section_review", stream.EventPhaseGate),
			}
		},
		post: func(ctx context.Context, m *Manager, sess *models.Session, state *models.PipelineState, ec *agent.ExecutionContext, _ *agent.LoopResult) error {
			resp, ok := ec.Scratchpad["gate_response:section_review"]
			if !ok {
				return nil
			}
			var parsed struct {
				ApprovedSections []string `json:"approved_sections"`
				Approved         bool     `json:"approved"`
			}
			if err := json.Unmarshal(resp, &parsed); err != nil {
				return nil
			}
			if parsed.Approved && len(parsed.ApprovedSections) == 0 {
				for section := range state.SectionDrafts {
					parsed.ApprovedSections = append(parsed.ApprovedSections, section)
				}
			}
			for _, section := range parsed.ApprovedSections {
				state.ApproveSection(section)
				ec.Emit(stream.EventSectionApproved, map[string]any{"section": section})
			}
			return nil
		},
	}
}

func qualityReviewDef() stageDef {
	return stageDef{
		agentName: busSourceProducer,
		profile:   config.ProfilePrimary,
		system: "You are the final quality reviewer. Score every section for impact, " +
			"evidence grounding, and keyword coverage; call save_quality_scores. For " +
			"sections that need work, call request_revisions with targeted instructions. " +
			"Then present the scores through present_to_user for sign-off.",
		instruction: func(state *models.PipelineState, _ *StartInput) string {
			drafts, _ := json.Marshal(state.SectionDrafts)
			return "Sections:\n" + string(drafts) + "\n\nReview quality."
		},
		tools: func(m *Manager, state *models.PipelineState) []agent.ToolDescriptor {
			return []agent.ToolDescriptor{
				keywordAuditTool(),
				lintTool(),
				saveTool("save_quality_scores", "Save per-section quality scores.",
					"quality_scores",
					`{"type":"object","properties":{"scores":{"type":"object"},"summary":{"type":"string"}},"required":["scores"]}`),
				requestRevisionsTool(m),
				gateTool("present_to_user", "quality_review", stream.EventPhaseGate),
			}
		},
		post: func(ctx context.Context, m *Manager, sess *models.Session, state *models.PipelineState, ec *agent.ExecutionContext, _ *agent.LoopResult) error {
			if err := scratchToState(ctx, m, sess, ec, "quality_scores",
				models.ArtifactQualityScores, stream.EventQualityScores, &state.QualityScores); err != nil {
				return err
			}
			return nil
		},
	}
}

// requestRevisionsTool publishes revision instructions on the craftsman
// channel. The revision controller applies priority, approval, and cap
// filters before any section-writer sub-loop runs.
func requestRevisionsTool(m *Manager) agent.ToolDescriptor {
	return agent.ToolDescriptor{
		Name:        "request_revisions",
		Description: "Request targeted revisions to drafted sections. Accepts revision_instructions or a flat {section, issue, instruction}.",
		Schema:      `{"type":"object"}`,
		Execute: func(_ context.Context, input json.RawMessage, ec *agent.ExecutionContext) (json.RawMessage, error) {
			ec.Bus.Publish(bus.Message{
				Target:  craftsmanTarget(ec.SessionID),
				Type:    busTypeRequest,
				Source:  busSourceProducer,
				Payload: input,
			})
			return json.RawMessage(`{"requested": true}`), nil
		},
	}
}
