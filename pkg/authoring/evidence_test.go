package authoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumeforge/resumeforge/pkg/models"
)

var probeInventory = []models.EvidenceItem{
	{ID: "ev-1", MetricsDefensible: true},
	{ID: "ev-2", MetricsDefensible: false},
}

func TestProbeEvidence_CleanBullets(t *testing.T) {
	bullets := []Bullet{
		{Text: "Cut deploy time by 80%", EvidenceIDs: []string{"ev-1"}},
		{Text: "Mentored new engineers on incident response", EvidenceIDs: []string{"ev-2"}},
	}
	assert.Empty(t, ProbeEvidence("experience", bullets, probeInventory))
}

func TestProbeEvidence_UncitedBullet(t *testing.T) {
	bullets := []Bullet{{Text: "Led the platform migration"}}

	findings := ProbeEvidence("experience", bullets, probeInventory)
	require.Len(t, findings, 1)
	assert.Equal(t, "experience", findings[0].Section)
	assert.Equal(t, "cites no evidence item", findings[0].Problem)
}

func TestProbeEvidence_UnknownEvidenceID(t *testing.T) {
	bullets := []Bullet{{Text: "Led the platform migration", EvidenceIDs: []string{"ev-9"}}}

	findings := ProbeEvidence("experience", bullets, probeInventory)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Problem, "ev-9")
}

func TestProbeEvidence_NumericClaimNeedsDefensibleMetrics(t *testing.T) {
	bullets := []Bullet{{Text: "Cut deploy time by 80%", EvidenceIDs: []string{"ev-2"}}}

	findings := ProbeEvidence("experience", bullets, probeInventory)
	require.Len(t, findings, 1)
	assert.Equal(t, "numeric claim without defensible metrics", findings[0].Problem)

	// The same bullet passes once any cited item carries defensible metrics.
	bullets[0].EvidenceIDs = []string{"ev-2", "ev-1"}
	assert.Empty(t, ProbeEvidence("experience", bullets, probeInventory))
}

func TestProbeEvidence_UnknownIDAndNumericClaimBothReported(t *testing.T) {
	bullets := []Bullet{{Text: "Scaled to 2m users", EvidenceIDs: []string{"ev-9"}}}

	findings := ProbeEvidence("experience", bullets, probeInventory)
	assert.Len(t, findings, 2)
}
