package models

// EvidenceItem is a situation/action/result triple. Evidence is the grounding
// for every claim the section writer makes: a bullet that cites no evidence
// item is flagged by the evidence-integrity probe.
type EvidenceItem struct {
	ID                string   `json:"id"`
	Situation         string   `json:"situation"`
	Action            string   `json:"action"`
	Result            string   `json:"result"`
	MetricsDefensible bool     `json:"metrics_defensible"`
	UserValidated     bool     `json:"user_validated"`
	ScopeMetrics      []string `json:"scope_metrics,omitempty"`
	Addresses         []string `json:"addresses,omitempty"` // requirement ids
}

// RequirementClass classifies how well a job-description requirement is met.
type RequirementClass string

const (
	RequirementStrong  RequirementClass = "strong"
	RequirementPartial RequirementClass = "partial"
	RequirementGap     RequirementClass = "gap"
)

// Requirement is one testable ask extracted from the job description.
type Requirement struct {
	ID            string           `json:"id"`
	Text          string           `json:"text"`
	Class         RequirementClass `json:"class"`
	Unaddressable bool             `json:"unaddressable,omitempty"`
	EvidenceIDs   []string         `json:"evidence_ids,omitempty"`
	Strengthen    string           `json:"strengthen,omitempty"`
	Mitigation    string           `json:"mitigation,omitempty"`
}

// GapAnalysis is the canonical output of the gap_analysis stage: the full
// requirement/evidence matrix downstream stages plan against.
type GapAnalysis struct {
	Requirements []Requirement  `json:"requirements"`
	Evidence     []EvidenceItem `json:"evidence"`
	Summary      string         `json:"summary,omitempty"`
}

// RevisionInstruction is one targeted fix request from the quality reviewer
// back to the section writer.
type RevisionInstruction struct {
	TargetSection string `json:"target_section"`
	Issue         string `json:"issue"`
	Instruction   string `json:"instruction"`
	Priority      string `json:"priority"` // "high", "medium", "low"
}
