package authoring

import (
	"regexp"
	"strings"
)

var (
	codeFence      = regexp.MustCompile("(?m)^```[a-zA-Z]*\\s*$")
	bulletPrefix   = regexp.MustCompile(`(?m)^\s*[-*•·]\s+`)
	repeatedSpaces = regexp.MustCompile(`[ \t]{2,}`)
	repeatedBreaks = regexp.MustCompile(`\n{3,}`)
	smartQuotes    = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
	unicodeDashes  = strings.NewReplacer("—", "-", "–", "-")
	zeroWidthChars = strings.NewReplacer("\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "")
)

// SanitizeDelimiters strips model formatting artifacts from prose destined
// for the resume document: code fences, markdown bullet markers, smart
// punctuation, zero-width characters, and runaway whitespace.
func SanitizeDelimiters(text string) string {
	out := codeFence.ReplaceAllString(text, "")
	out = bulletPrefix.ReplaceAllString(out, "")
	out = smartQuotes.Replace(out)
	out = unicodeDashes.Replace(out)
	out = zeroWidthChars.Replace(out)
	out = repeatedSpaces.ReplaceAllString(out, " ")
	out = repeatedBreaks.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
