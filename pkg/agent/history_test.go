package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/keplerai/kepler/pkg/llms"
)

func historyFixture(turns int) []llms.Message {
	var history []llms.Message
	for i := 0; i < turns; i++ {
		history = append(history,
			llms.Message{Role: llms.RoleUser, Content: strings.Repeat("q", 10)},
			llms.Message{Role: llms.RoleAssistant, Content: strings.Repeat("a", 10)},
		)
	}
	return history
}

func TestFormatTopicContextWrapsAndWarns(t *testing.T) {
	history := []llms.Message{
		{Role: llms.RoleUser, Content: "Explain attention"},
		{Role: llms.RoleAssistant, Content: "Attention weighs tokens by relevance."},
	}

	out := FormatTopicContext(history, 5)

	assert.True(t, strings.HasPrefix(out, topicContextStart))
	assert.Contains(t, out, topicContextEnd)
	assert.True(t, strings.HasSuffix(out, topicContextWarn))
	assert.Contains(t, out, "user: Explain attention")
	assert.Contains(t, out, "assistant: Attention weighs tokens by relevance.")
}

func TestFormatTopicContextEmptyHistory(t *testing.T) {
	assert.Equal(t, "", FormatTopicContext(nil, 5))
}

func TestFormatTopicContextTruncatesPerRole(t *testing.T) {
	long := strings.Repeat("x", 1000)
	history := []llms.Message{
		{Role: llms.RoleUser, Content: long},
		{Role: llms.RoleAssistant, Content: long},
	}

	out := FormatTopicContext(history, 1)

	lines := strings.Split(out, "\n")
	assert.Equal(t, "user: "+long[:userTruncateLen]+"...", lines[1])
	assert.Equal(t, "assistant: "+long[:assistantTruncateLen]+"...", lines[2])
}

func TestLastTurnsWindow(t *testing.T) {
	history := historyFixture(6)

	assert.Len(t, lastTurns(history, 2), 4)
	assert.Len(t, lastTurns(history, 10), 12)
	assert.Len(t, lastTurns(history, 0), 12)

	// The window keeps the most recent messages.
	kept := lastTurns(history, 1)
	assert.Equal(t, history[len(history)-2:], kept)
}

func TestFormatForPromptTruncates(t *testing.T) {
	history := []llms.Message{
		{Role: llms.RoleUser, Content: strings.Repeat("y", 600)},
	}

	out := FormatForPrompt(history, 3, 500)
	assert.Contains(t, out, strings.Repeat("y", 500)+"...")
	assert.NotContains(t, out, strings.Repeat("y", 501))
}
