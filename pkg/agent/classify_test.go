package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keplerai/kepler/pkg/tools"
)

func newClassifyGraph(provider *mockProvider, registered ...tools.Tool) *Graph {
	registry := tools.NewRegistry()
	for _, tool := range registered {
		if err := registry.Register(tool); err != nil {
			panic(err)
		}
	}
	graph := NewGraph(provider, registry, NewCheckpointStore(0))
	graph.ctx = context.Background()
	graph.events = make(chan Event, 100)
	return graph
}

func TestFastPathRequiresHistory(t *testing.T) {
	provider := &mockProvider{structured: []string{classifyResponse(IntentDirect, 90)}}
	graph := newClassifyGraph(provider)

	state := newTestState()
	state.OriginalQuery = "yes"
	state.ConversationHistory = nil

	_, err := graph.classify(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.structuredCalls)
}

func TestFastPathBlockedByLowLastScore(t *testing.T) {
	provider := &mockProvider{structured: []string{classifyResponse(IntentDirect, 90)}}
	graph := newClassifyGraph(provider)

	lowScore := 10
	state := newTestState()
	state.OriginalQuery = "tell me more"
	state.ConversationHistory = historyFixture(1)
	state.Metadata.LastGuardrailScore = &lowScore

	_, err := graph.classify(context.Background(), state)
	require.NoError(t, err)

	// A low score on the previous turn disables the shortcut.
	assert.Equal(t, 1, provider.structuredCalls)
}

func TestFastPathRequiresFollowUpShape(t *testing.T) {
	provider := &mockProvider{structured: []string{classifyResponse(IntentDirect, 90)}}
	graph := newClassifyGraph(provider)

	state := newTestState()
	state.OriginalQuery = "Summarize the attention paper"
	state.ConversationHistory = historyFixture(1)

	_, err := graph.classify(context.Background(), state)
	require.NoError(t, err)

	// Substantive questions always go through the model.
	assert.Equal(t, 1, provider.structuredCalls)
}

func TestIterationGuardSkipsLLM(t *testing.T) {
	provider := &mockProvider{}
	graph := newClassifyGraph(provider)

	score := 85
	state := newTestState()
	state.Iteration = state.MaxIterations
	state.Metadata.GuardrailScore = &score

	classification, err := graph.classify(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 0, provider.structuredCalls)
	assert.Equal(t, IntentDirect, classification.Intent)
	assert.Equal(t, 85, classification.ScopeScore)
}

func TestDedupGuardBlocksNonChunkToolByName(t *testing.T) {
	listTool := &mockTool{name: "list_papers"}
	graph := newClassifyGraph(&mockProvider{}, listTool)

	state := newTestState()
	state.ToolHistory = []ToolExecution{
		{ToolName: "list_papers", ToolArgs: map[string]any{"limit": 10}, Success: true},
	}

	classification := &Classification{
		Intent: IntentExecute,
		ToolCalls: []ToolCall{
			// Different args, same tool: still blocked.
			{ToolName: "list_papers", ToolArgsJSON: `{"limit":50}`},
		},
	}
	graph.applyDedupGuard(state, classification)

	assert.Equal(t, IntentDirect, classification.Intent)
	assert.Empty(t, classification.ToolCalls)
	assert.Equal(t, "all requested tools already succeeded", classification.Reasoning)
}

func TestDedupGuardAllowsChunkToolWithNovelArgs(t *testing.T) {
	retrieve := &mockTool{name: "retrieve_chunks", extends: true}
	graph := newClassifyGraph(&mockProvider{}, retrieve)

	state := newTestState()
	state.ToolHistory = []ToolExecution{
		{ToolName: "retrieve_chunks", ToolArgs: map[string]any{"query": "attention"}, Success: true},
	}

	classification := &Classification{
		Intent: IntentExecute,
		ToolCalls: []ToolCall{
			{ToolName: "retrieve_chunks", ToolArgsJSON: `{"query":"attention"}`},
			{ToolName: "retrieve_chunks", ToolArgsJSON: `{"query":"positional encoding"}`},
		},
	}
	graph.applyDedupGuard(state, classification)

	require.Len(t, classification.ToolCalls, 1)
	assert.Equal(t, `{"query":"positional encoding"}`, classification.ToolCalls[0].ToolArgsJSON)
	assert.Equal(t, IntentExecute, classification.Intent)
}

func TestDedupGuardIgnoresFailedExecutions(t *testing.T) {
	listTool := &mockTool{name: "list_papers"}
	graph := newClassifyGraph(&mockProvider{}, listTool)

	state := newTestState()
	state.ToolHistory = []ToolExecution{
		{ToolName: "list_papers", Success: false, Error: "db down"},
	}

	classification := &Classification{
		Intent:    IntentExecute,
		ToolCalls: []ToolCall{{ToolName: "list_papers", ToolArgsJSON: `{}`}},
	}
	graph.applyDedupGuard(state, classification)

	// A failed call may be retried.
	assert.Len(t, classification.ToolCalls, 1)
}

func TestClassifyStoresFirstScoreOnly(t *testing.T) {
	provider := &mockProvider{structured: []string{
		classifyResponse(IntentDirect, 92),
		classifyResponse(IntentDirect, 3),
	}}
	graph := newClassifyGraph(provider)

	state := newTestState()
	_, err := graph.classify(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, state.Metadata.GuardrailScore)
	assert.Equal(t, 92, *state.Metadata.GuardrailScore)

	second, err := graph.classify(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 92, second.ScopeScore)
	assert.Equal(t, 92, *state.Metadata.GuardrailScore)
}

func TestExecuteWithNoCallsBecomesDirect(t *testing.T) {
	provider := &mockProvider{structured: []string{classifyResponse(IntentExecute, 90)}}
	graph := newClassifyGraph(provider)

	state := newTestState()
	classification, err := graph.classify(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, IntentDirect, classification.Intent)
}

func TestParseStructuredTrimsWrapping(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"intent\":\"direct\",\"scope_score\":80}\n```"
	classification, err := parseStructured[Classification](raw)
	require.NoError(t, err)
	assert.Equal(t, IntentDirect, classification.Intent)
	assert.Equal(t, 80, classification.ScopeScore)
}
