package authoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuditKeywords(t *testing.T) {
	text := "Built Kubernetes operators in Go. Ran PostgreSQL migrations at scale."

	audit := AuditKeywords(text, []string{"Kubernetes", "Go", "PostgreSQL", "Terraform"})
	assert.Equal(t, []string{"Kubernetes", "Go", "PostgreSQL"}, audit.Present)
	assert.Equal(t, []string{"Terraform"}, audit.Missing)
	assert.InDelta(t, 0.75, audit.Coverage, 1e-9)
}

func TestAuditKeywords_WordBoundaries(t *testing.T) {
	audit := AuditKeywords("Worked on Golang services", []string{"Go"})
	assert.Equal(t, []string{"Go"}, audit.Missing, "Go must not match inside Golang")

	audit = AuditKeywords("Shipped a Go service", []string{"Go"})
	assert.Equal(t, []string{"Go"}, audit.Present)
}

func TestAuditKeywords_Phrases(t *testing.T) {
	audit := AuditKeywords("Led a machine learning platform team", []string{"machine learning"})
	assert.Equal(t, []string{"machine learning"}, audit.Present)

	audit = AuditKeywords("Led a machine-adjacent learning team", []string{"machine learning"})
	assert.Equal(t, []string{"machine learning"}, audit.Missing)
}

func TestAuditKeywords_EmptyInputs(t *testing.T) {
	audit := AuditKeywords("anything", nil)
	assert.Empty(t, audit.Present)
	assert.Empty(t, audit.Missing)
	assert.Zero(t, audit.Coverage)

	audit = AuditKeywords("anything", []string{"", "  "})
	assert.Empty(t, audit.Present)
	assert.Empty(t, audit.Missing)
}

func TestLintText(t *testing.T) {
	text := "Responsible for various projects. I was a results-driven team player."

	findings := LintText(text)
	patterns := make(map[string]bool)
	for _, f := range findings {
		patterns[f.Pattern] = true
	}
	assert.True(t, patterns["responsible_for"])
	assert.True(t, patterns["first_person"])
	assert.True(t, patterns["buzzword"])
	assert.True(t, patterns["vague_quantity"])
}

func TestLintText_CleanBulletPasses(t *testing.T) {
	findings := LintText("Reduced p99 latency from 900ms to 120ms by rewriting the cache layer")
	assert.Empty(t, findings)
}

func TestLintText_FindingsCarryAdvice(t *testing.T) {
	findings := LintText("responsible for the build system")
	if assert.Len(t, findings, 1) {
		assert.Equal(t, "responsible_for", findings[0].Pattern)
		assert.NotEmpty(t, findings[0].Advice)
	}
}
