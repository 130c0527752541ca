package agent

import (
	"context"
	"fmt"
	"sort"

	"github.com/keplerai/kepler/pkg/llms"
	"github.com/keplerai/kepler/pkg/papers"
)

// fingerprintChars is how much chunk text goes into a stagnation
// fingerprint.
const fingerprintChars = 100

// evaluate judges whether the retrieved chunks answer the query, with
// two LLM-free fast paths: an empty retrieval set and stagnation
// (identical chunks as the previous iteration).
func (g *Graph) evaluate(ctx context.Context, state *AgentState) error {
	if len(state.RetrievedChunks) == 0 {
		state.EvaluationResult = &BatchEvaluation{Sufficient: false, Reasoning: "no chunks retrieved"}
		state.RelevantChunks = nil
		state.AddReasoningStep("Evaluation skipped: nothing was retrieved")
		return nil
	}

	fingerprints := chunkFingerprints(state.RetrievedChunks)
	if equalFingerprints(fingerprints, state.Metadata.PreviousChunkFingerprints) {
		state.EvaluationResult = &BatchEvaluation{Sufficient: true, Reasoning: "identical chunks as previous iteration"}
		state.RelevantChunks = state.RetrievedChunks
		state.Metadata.PreviousChunkFingerprints = fingerprints
		state.AddReasoningStep("Retrieval stagnated, accepting the current chunks")
		return nil
	}
	state.Metadata.PreviousChunkFingerprints = fingerprints

	query := state.CurrentQuery()
	messages := buildEvaluatePrompt(query, state.RetrievedChunks)

	raw, _, err := g.provider.GenerateStructured(ctx, messages, &llms.StructuredOutputConfig{
		Format: "json",
		Schema: evaluationSchema,
	})
	if err != nil {
		return fmt.Errorf("evaluation call failed: %w", err)
	}

	evaluation, err := parseStructured[BatchEvaluation](raw)
	if err != nil {
		return fmt.Errorf("evaluation response invalid: %w", err)
	}

	switch {
	case evaluation.Sufficient:
		state.RelevantChunks = state.RetrievedChunks
	case state.Iteration >= state.MaxIterations:
		// Out of budget; take what is on hand rather than rewriting.
		state.RelevantChunks = state.RetrievedChunks
		evaluation.SuggestedRewrite = ""
	case evaluation.SuggestedRewrite != "":
		state.RewrittenQuery = evaluation.SuggestedRewrite
		state.RelevantChunks = nil
	default:
		// Insufficient but no better query to try; best effort.
		state.RelevantChunks = state.RetrievedChunks
	}

	state.EvaluationResult = evaluation
	state.AddReasoningStep(fmt.Sprintf("Evaluated %d chunks: sufficient=%v (%s)",
		len(state.RetrievedChunks), evaluation.Sufficient, evaluation.Reasoning))
	return nil
}

// chunkFingerprints builds the sorted stagnation signature of a chunk
// set: "{arxiv_id}:{first 100 chars}" per chunk.
func chunkFingerprints(chunks []papers.Chunk) []string {
	fingerprints := make([]string, len(chunks))
	for i, chunk := range chunks {
		text := chunk.ChunkText
		if len(text) > fingerprintChars {
			text = text[:fingerprintChars]
		}
		fingerprints[i] = chunk.ArxivID + ":" + text
	}
	sort.Strings(fingerprints)
	return fingerprints
}

func equalFingerprints(a, b []string) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
