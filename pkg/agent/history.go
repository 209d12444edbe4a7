package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/resumeforge/resumeforge/pkg/llm"
)

// Resume section names worth surfacing in a compaction summary.
var knownSections = []string{
	"summary", "experience", "skills", "education", "projects",
	"certifications", "achievements",
}

// outcomePhrase matches outcome-shaped claims in dropped conversation spans
// so the summary keeps the facts later rounds may cite.
var outcomePhrase = regexp.MustCompile(
	`(?i)\b(improved|reduced|increased|delivered|launched|led|built|saved|grew|migrated|scaled)\b[^.\n]{0,80}`)

// CompactHistory bounds the message list once it grows past the threshold:
// keep message 0 (the instruction), drop the middle, keep the most recent
// keepTail messages, and inject a summary note enumerating section names and
// outcome-shaped phrases found in the dropped span. A bridge assistant turn
// is inserted when the splice would break user/assistant alternation.
func CompactHistory(messages []llm.Message, keepTail int) []llm.Message {
	if len(messages) <= keepTail+1 {
		return messages
	}

	head := messages[0]
	tail := messages[len(messages)-keepTail:]
	dropped := messages[1 : len(messages)-keepTail]

	summary := summarizeDropped(dropped)

	out := make([]llm.Message, 0, len(tail)+3)
	out = append(out, head)
	out = append(out, llm.Message{Role: llm.RoleUser, Content: summary})
	if len(tail) > 0 && tail[0].Role == llm.RoleUser {
		out = append(out, llm.Message{
			Role:    llm.RoleAssistant,
			Content: "Understood. Continuing from the summarized context.",
		})
	}
	out = append(out, tail...)
	return out
}

func summarizeDropped(dropped []llm.Message) string {
	seenSections := make(map[string]bool)
	var sections []string
	var outcomes []string

	for _, m := range dropped {
		lower := strings.ToLower(m.Content)
		for _, s := range knownSections {
			if !seenSections[s] && strings.Contains(lower, s) {
				seenSections[s] = true
				sections = append(sections, s)
			}
		}
		for _, match := range outcomePhrase.FindAllString(m.Content, 3) {
			if len(outcomes) < 12 {
				outcomes = append(outcomes, strings.TrimSpace(match))
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[History note] %d earlier messages were summarized to bound the conversation.", len(dropped))
	if len(sections) > 0 {
		fmt.Fprintf(&b, " Sections discussed: %s.", strings.Join(sections, ", "))
	}
	if len(outcomes) > 0 {
		fmt.Fprintf(&b, " Key claims: %s.", strings.Join(outcomes, "; "))
	}
	return b.String()
}
