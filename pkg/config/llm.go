package config

// ModelProfile names a cost/capability tier. Stages are assigned profiles,
// never concrete model IDs, so model upgrades are a config change.
type ModelProfile string

const (
	// ProfileLight handles mechanical transforms: parsing, normalisation.
	ProfileLight ModelProfile = "light"
	// ProfileMid handles structured analysis: research, gap analysis.
	ProfileMid ModelProfile = "mid"
	// ProfilePrimary handles user-facing prose: section writing, review.
	ProfilePrimary ModelProfile = "primary"
	// ProfileOrchestrator handles planning and replanning decisions.
	ProfileOrchestrator ModelProfile = "orchestrator"
)

// LLMConfig contains provider settings and the profile → model ID mapping.
type LLMConfig struct {
	APIKey    string
	MaxTokens int
	Profiles  map[ModelProfile]string
}

// DefaultLLMConfig returns the built-in model mapping.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		MaxTokens: 8192,
		Profiles: map[ModelProfile]string{
			ProfileLight:        "claude-3-5-haiku-latest",
			ProfileMid:          "claude-sonnet-4-20250514",
			ProfilePrimary:      "claude-sonnet-4-20250514",
			ProfileOrchestrator: "claude-opus-4-20250514",
		},
	}
}

// Model resolves a profile to its configured model ID, falling back to the
// primary profile for unknown names.
func (c *LLMConfig) Model(profile ModelProfile) string {
	if id, ok := c.Profiles[profile]; ok && id != "" {
		return id
	}
	return c.Profiles[ProfilePrimary]
}
