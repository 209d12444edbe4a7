// Package authoring implements the content post-processing invariants shared
// by the writing and review stages: keyword audit, anti-pattern lint,
// delimiter sanitisation, evidence-integrity probing, and the permissive
// normaliser for model-produced JSON.
package authoring

import (
	"regexp"
	"strings"
)

// KeywordAudit reports which of the target keywords appear in the text.
// Matching is case-insensitive on word boundaries; multi-word keywords match
// as phrases.
type KeywordAudit struct {
	Present []string `json:"present"`
	Missing []string `json:"missing"`
	// Coverage is the matched fraction, 0..1.
	Coverage float64 `json:"coverage"`
}

// AuditKeywords checks the text against the job description's keywords.
func AuditKeywords(text string, keywords []string) KeywordAudit {
	audit := KeywordAudit{Present: []string{}, Missing: []string{}}
	if len(keywords) == 0 {
		return audit
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k == "" {
			continue
		}
		if containsWord(lower, k) {
			audit.Present = append(audit.Present, kw)
		} else {
			audit.Missing = append(audit.Missing, kw)
		}
	}
	total := len(audit.Present) + len(audit.Missing)
	if total > 0 {
		audit.Coverage = float64(len(audit.Present)) / float64(total)
	}
	return audit
}

func containsWord(haystack, needle string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], needle)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(needle)
		if (start == 0 || !isWordChar(haystack[start-1])) &&
			(end == len(haystack) || !isWordChar(haystack[end])) {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}

// LintFinding is one anti-pattern hit.
type LintFinding struct {
	Pattern string `json:"pattern"`
	Match   string `json:"match"`
	Advice  string `json:"advice"`
}

type lintRule struct {
	name   string
	re     *regexp.Regexp
	advice string
}

// Resume anti-patterns: filler phrasing that weakens bullets. The list is
// deliberately short; the reviewer agent handles judgement calls.
var lintRules = []lintRule{
	{"responsible_for", regexp.MustCompile(`(?i)\bresponsible for\b`),
		"lead with the action and its outcome instead of the duty"},
	{"buzzword", regexp.MustCompile(`(?i)\b(synerg\w+|go-getter|team player|results[- ]driven|detail[- ]oriented|think(ing)? outside the box|self[- ]starter)\b`),
		"replace with a concrete, evidence-backed claim"},
	{"first_person", regexp.MustCompile(`(?i)\b(I|my|me)\b`),
		"resume bullets are written without first-person pronouns"},
	{"passive_opener", regexp.MustCompile(`(?i)^\s*(was|were|has been|have been)\b`),
		"open with a strong verb"},
	{"vague_quantity", regexp.MustCompile(`(?i)\b(many|various|several|numerous) (projects|systems|teams|tasks)\b`),
		"quantify or drop the claim"},
}

// LintText runs the anti-pattern rules over a block of text.
func LintText(text string) []LintFinding {
	var findings []LintFinding
	for _, rule := range lintRules {
		for _, match := range rule.re.FindAllString(text, 5) {
			findings = append(findings, LintFinding{
				Pattern: rule.name,
				Match:   match,
				Advice:  rule.advice,
			})
		}
	}
	return findings
}
