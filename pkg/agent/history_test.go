package agent

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumeforge/resumeforge/pkg/llm"
)

func makeMessages(n int) []llm.Message {
	msgs := make([]llm.Message, 0, n)
	for i := 0; i < n; i++ {
		role := llm.RoleAssistant
		if i%2 == 0 {
			role = llm.RoleUser
		}
		msgs = append(msgs, llm.Message{Role: role, Content: fmt.Sprintf("message %d", i)})
	}
	return msgs
}

func TestCompactHistory_ShortHistoryUntouched(t *testing.T) {
	msgs := makeMessages(10)
	out := CompactHistory(msgs, 20)
	assert.Equal(t, msgs, out)
}

func TestCompactHistory_KeepsHeadAndTail(t *testing.T) {
	msgs := makeMessages(50)
	out := CompactHistory(msgs, 20)

	require.NotEmpty(t, out)
	assert.Equal(t, msgs[0], out[0], "original instruction must survive compaction")
	assert.Equal(t, msgs[len(msgs)-20:], out[len(out)-20:], "recent tail must survive compaction")
	assert.LessOrEqual(t, len(out), 23)
}

func TestCompactHistory_SummaryMentionsSections(t *testing.T) {
	msgs := makeMessages(50)
	msgs[5].Content = "The experience section improved conversion by 40% after the rewrite"
	out := CompactHistory(msgs, 20)

	summary := out[1]
	assert.Equal(t, llm.RoleUser, summary.Role)
	assert.Contains(t, summary.Content, "experience")
	assert.Contains(t, summary.Content, "improved conversion by 40%")
}

func TestCompactHistory_BridgePreservesAlternation(t *testing.T) {
	msgs := makeMessages(50)
	out := CompactHistory(msgs, 20)

	// The tail here starts with a user turn, so a bridge assistant turn is
	// spliced in after the summary note.
	tailStart := len(out) - 20
	if out[tailStart].Role == llm.RoleUser {
		assert.Equal(t, llm.RoleAssistant, out[tailStart-1].Role)
	}
}

func TestCompactHistory_BoundProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("compacted history is bounded and head-preserved", prop.ForAll(
		func(n int) bool {
			msgs := makeMessages(n)
			out := CompactHistory(msgs, 20)
			if n == 0 {
				return len(out) == 0
			}
			if len(out) > 23 {
				return false
			}
			if out[0].Content != msgs[0].Content || out[0].Role != msgs[0].Role {
				return false
			}
			// Repeated compaction stays within the same bound.
			again := CompactHistory(out, 20)
			return len(again) <= 23
		},
		gen.IntRange(0, 200),
	))

	properties.TestingRun(t)
}
