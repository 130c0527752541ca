package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/keplerai/kepler/pkg/llms"
)

// fastPathPattern matches short conversational follow-ups that can
// skip classification entirely.
var fastPathPattern = regexp.MustCompile(`(?i)^(yes|no|explain|tell me more|why|how|what about|go on|continue)[.!?\s]*$`)

// classify runs the layered classify-and-route decision. Layers in
// order: injection scan, follow-up fast path, iteration guard, LLM
// call, dedup guard. Each layer can short-circuit the rest.
func (g *Graph) classify(ctx context.Context, state *AgentState) (*Classification, error) {
	query := state.CurrentQuery()

	scan := Scan(query)
	state.Metadata.InjectionScan = &scan
	if scan.Suspicious {
		state.AddReasoningStep(fmt.Sprintf("Injection scan matched: %s", strings.Join(scan.Matched, ", ")))
	}

	if state.Iteration == 0 && g.isFollowUpFastPath(state, query, scan) {
		score := 100
		state.Metadata.GuardrailScore = &score
		state.AddReasoningStep("Classified as conversational follow-up without an LLM call")
		return &Classification{Intent: IntentDirect, ScopeScore: 100, Reasoning: "conversational follow-up"}, nil
	}

	state.Iteration++
	if state.Iteration > state.MaxIterations {
		state.AddReasoningStep("Iteration limit reached, forcing a direct answer")
		return &Classification{
			Intent:     IntentDirect,
			ScopeScore: g.lastKnownScore(state),
			Reasoning:  "iteration limit reached",
		}, nil
	}

	topicContext := FormatTopicContext(state.ConversationHistory, 0)
	messages := buildClassifyPrompt(state, g.registry.AllDefinitions(), topicContext, scan.Suspicious)

	raw, _, err := g.provider.GenerateStructured(ctx, messages, &llms.StructuredOutputConfig{
		Format: "json",
		Schema: classificationSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("classification call failed: %w", err)
	}

	classification, err := parseStructured[Classification](raw)
	if err != nil {
		return nil, fmt.Errorf("classification response invalid: %w", err)
	}

	// Rewrite iterations keep the first iteration's scope score; the
	// rewrite does not re-score scope.
	if state.Iteration > 1 && state.Metadata.GuardrailScore != nil {
		classification.ScopeScore = *state.Metadata.GuardrailScore
	} else {
		score := classification.ScopeScore
		state.Metadata.GuardrailScore = &score
	}

	g.applyDedupGuard(state, classification)

	if classification.Intent == IntentExecute && len(classification.ToolCalls) == 0 {
		classification.Intent = IntentDirect
	}

	state.AddReasoningStep(fmt.Sprintf("Classified intent=%s score=%d: %s",
		classification.Intent, classification.ScopeScore, classification.Reasoning))
	return classification, nil
}

func (g *Graph) isFollowUpFastPath(state *AgentState, query string, scan ScanResult) bool {
	if len(state.ConversationHistory) == 0 {
		return false
	}
	if !fastPathPattern.MatchString(query) {
		return false
	}
	if scan.Suspicious {
		return false
	}
	last := state.Metadata.LastGuardrailScore
	return last == nil || *last >= state.Metadata.GuardrailThreshold
}

func (g *Graph) lastKnownScore(state *AgentState) int {
	if state.Metadata.GuardrailScore != nil {
		return *state.Metadata.GuardrailScore
	}
	if state.Metadata.LastGuardrailScore != nil {
		return *state.Metadata.LastGuardrailScore
	}
	return 100
}

// applyDedupGuard strips tool calls that already succeeded this turn.
// Chunk-producing tools are retry-friendly: only an exact (name, args)
// repeat is blocked. Other tools are blocked by name once they have
// succeeded, whatever the arguments.
func (g *Graph) applyDedupGuard(state *AgentState, classification *Classification) {
	if len(classification.ToolCalls) == 0 {
		return
	}

	succeededCalls := make(map[string]bool)
	succeededTools := make(map[string]bool)
	for _, exec := range state.ToolHistory {
		if !exec.Success {
			continue
		}
		succeededCalls[exec.ToolName+"|"+canonicalArgs(exec.ToolArgs)] = true
		succeededTools[exec.ToolName] = true
	}

	kept := classification.ToolCalls[:0]
	for _, call := range classification.ToolCalls {
		args := map[string]any{}
		_ = json.Unmarshal([]byte(call.ToolArgsJSON), &args)

		blocked := false
		tool := g.registry.Get(call.ToolName)
		if tool != nil && tool.ExtendsChunks() {
			blocked = succeededCalls[call.ToolName+"|"+canonicalArgs(args)]
		} else {
			blocked = succeededTools[call.ToolName]
		}
		if !blocked {
			kept = append(kept, call)
		}
	}

	if len(kept) == 0 {
		classification.ToolCalls = nil
		classification.Intent = IntentDirect
		classification.Reasoning = "all requested tools already succeeded"
		return
	}
	classification.ToolCalls = kept
}

// canonicalArgs produces a stable key for an args map; encoding/json
// sorts map keys.
func canonicalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(data)
}
