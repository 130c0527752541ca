package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keplerai/kepler/pkg/tools"
)

func newEvaluateGraph(provider *mockProvider) *Graph {
	graph := NewGraph(provider, tools.NewRegistry(), NewCheckpointStore(0))
	graph.ctx = context.Background()
	graph.events = make(chan Event, 100)
	return graph
}

func TestEvaluateEmptyRetrievalSkipsLLM(t *testing.T) {
	provider := &mockProvider{}
	graph := newEvaluateGraph(provider)

	state := newTestState()
	require.NoError(t, graph.evaluate(context.Background(), state))

	assert.Equal(t, 0, provider.structuredCalls)
	require.NotNil(t, state.EvaluationResult)
	assert.False(t, state.EvaluationResult.Sufficient)
	assert.Nil(t, state.RelevantChunks)
}

func TestEvaluateStagnationSkipsLLM(t *testing.T) {
	provider := &mockProvider{}
	graph := newEvaluateGraph(provider)

	chunks := sampleChunks("c1", "c2")
	state := newTestState()
	state.RetrievedChunks = chunks
	state.Metadata.PreviousChunkFingerprints = chunkFingerprints(chunks)

	require.NoError(t, graph.evaluate(context.Background(), state))

	assert.Equal(t, 0, provider.structuredCalls)
	require.NotNil(t, state.EvaluationResult)
	assert.True(t, state.EvaluationResult.Sufficient)
	assert.Equal(t, "identical chunks as previous iteration", state.EvaluationResult.Reasoning)
	assert.Equal(t, chunks, state.RelevantChunks)
}

func TestEvaluateSufficientPromotesChunks(t *testing.T) {
	provider := &mockProvider{structured: []string{evaluateResponse(true, "")}}
	graph := newEvaluateGraph(provider)

	state := newTestState()
	state.RetrievedChunks = sampleChunks("c1", "c2", "c3")

	require.NoError(t, graph.evaluate(context.Background(), state))

	assert.True(t, state.EvaluationResult.Sufficient)
	assert.Len(t, state.RelevantChunks, 3)
	assert.Len(t, state.Metadata.PreviousChunkFingerprints, 3)
}

func TestEvaluateRewriteClearsRelevantChunks(t *testing.T) {
	provider := &mockProvider{structured: []string{evaluateResponse(false, "better query")}}
	graph := newEvaluateGraph(provider)

	state := newTestState()
	state.Iteration = 1
	state.RetrievedChunks = sampleChunks("c1")

	require.NoError(t, graph.evaluate(context.Background(), state))

	assert.Equal(t, "better query", state.RewrittenQuery)
	assert.Nil(t, state.RelevantChunks)
	assert.False(t, state.EvaluationResult.Sufficient)
}

func TestEvaluateIterationBudgetForcesPromotion(t *testing.T) {
	provider := &mockProvider{structured: []string{evaluateResponse(false, "yet another rewrite")}}
	graph := newEvaluateGraph(provider)

	state := newTestState()
	state.Iteration = state.MaxIterations
	state.RetrievedChunks = sampleChunks("c1", "c2")

	require.NoError(t, graph.evaluate(context.Background(), state))

	// Out of budget: take what is on hand and drop the rewrite.
	assert.Len(t, state.RelevantChunks, 2)
	assert.Empty(t, state.EvaluationResult.SuggestedRewrite)
	assert.Empty(t, state.RewrittenQuery)
}

func TestEvaluateInsufficientWithoutRewritePromotes(t *testing.T) {
	provider := &mockProvider{structured: []string{evaluateResponse(false, "")}}
	graph := newEvaluateGraph(provider)

	state := newTestState()
	state.Iteration = 1
	state.RetrievedChunks = sampleChunks("c1")

	require.NoError(t, graph.evaluate(context.Background(), state))

	assert.Len(t, state.RelevantChunks, 1)
	assert.False(t, state.EvaluationResult.Sufficient)
}

func TestChunkFingerprintsAreOrderInsensitive(t *testing.T) {
	forward := chunkFingerprints(sampleChunks("c1", "c2"))
	reversed := chunkFingerprints(sampleChunks("c2", "c1"))
	assert.Equal(t, forward, reversed)
	assert.True(t, equalFingerprints(forward, reversed))
}

func TestEqualFingerprintsEmptyNeverMatches(t *testing.T) {
	assert.False(t, equalFingerprints(nil, nil))
	assert.False(t, equalFingerprints([]string{}, []string{}))
	assert.False(t, equalFingerprints([]string{"a"}, []string{"a", "b"}))
}
