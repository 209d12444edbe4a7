package authoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeDelimiters(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "code fences stripped",
			input:    "```markdown\nShipped the rewrite\n```",
			expected: "Shipped the rewrite",
		},
		{
			name:     "bullet markers stripped",
			input:    "- Shipped the rewrite\n* Cut costs\n• Trained the team",
			expected: "Shipped the rewrite\nCut costs\nTrained the team",
		},
		{
			name:     "smart punctuation normalized",
			input:    "Launched “Atlas” — the team’s flagship",
			expected: `Launched "Atlas" - the team's flagship`,
		},
		{
			name:     "whitespace collapsed",
			input:    "Shipped  the   rewrite\n\n\n\nCut costs",
			expected: "Shipped the rewrite\n\nCut costs",
		},
		{
			name:     "surrounding whitespace trimmed",
			input:    "  \nShipped the rewrite\n  ",
			expected: "Shipped the rewrite",
		},
		{
			name:     "zero width characters removed",
			input:    "Ship​ped the re‌write",
			expected: "Shipped the rewrite",
		},
		{
			name:     "clean text untouched",
			input:    "Shipped the rewrite in Q3",
			expected: "Shipped the rewrite in Q3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeDelimiters(tt.input))
		})
	}
}
