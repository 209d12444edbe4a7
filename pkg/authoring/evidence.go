package authoring

import (
	"regexp"

	"github.com/resumeforge/resumeforge/pkg/models"
)

var numericClaim = regexp.MustCompile(`\d+(\.\d+)?\s*(%|percent|x\b|ms\b|s\b|k\b|m\b|users|requests|dollars|\$)?`)

// EvidenceFinding flags one bullet that fails the integrity probe.
type EvidenceFinding struct {
	Section string `json:"section"`
	Bullet  string `json:"bullet"`
	Problem string `json:"problem"`
}

// ProbeEvidence checks every bullet of a section draft against the evidence
// inventory: each bullet must cite at least one known evidence item, and a
// bullet carrying a numeric claim must be backed by an item whose metrics
// are defensible.
func ProbeEvidence(section string, bullets []Bullet, evidence []models.EvidenceItem) []EvidenceFinding {
	byID := make(map[string]models.EvidenceItem, len(evidence))
	for _, item := range evidence {
		byID[item.ID] = item
	}

	var findings []EvidenceFinding
	for _, b := range bullets {
		if len(b.EvidenceIDs) == 0 {
			findings = append(findings, EvidenceFinding{
				Section: section,
				Bullet:  b.Text,
				Problem: "cites no evidence item",
			})
			continue
		}

		defensible := false
		unknown := ""
		for _, id := range b.EvidenceIDs {
			item, ok := byID[id]
			if !ok {
				unknown = id
				continue
			}
			if item.MetricsDefensible {
				defensible = true
			}
		}
		if unknown != "" {
			findings = append(findings, EvidenceFinding{
				Section: section,
				Bullet:  b.Text,
				Problem: "cites unknown evidence id " + unknown,
			})
		}
		if numericClaim.MatchString(b.Text) && !defensible {
			findings = append(findings, EvidenceFinding{
				Section: section,
				Bullet:  b.Text,
				Problem: "numeric claim without defensible metrics",
			})
		}
	}
	return findings
}
