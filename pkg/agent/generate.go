package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/keplerai/kepler/pkg/llms"
)

// generate streams the final answer. Every token is forwarded as an
// event and accumulated so the full answer survives on the state for
// persistence.
func (g *Graph) generate(ctx context.Context, state *AgentState) error {
	return g.streamAnswer(ctx, state, buildGenerationPrompt(state))
}

// outOfScope streams a short polite rejection.
func (g *Graph) outOfScope(ctx context.Context, state *AgentState) error {
	return g.streamAnswer(ctx, state, buildOutOfScopePrompt(state))
}

func (g *Graph) streamAnswer(ctx context.Context, state *AgentState, messages []llms.Message) error {
	stream, err := g.provider.GenerateStreaming(ctx, messages)
	if err != nil {
		return fmt.Errorf("generation failed to start: %w", err)
	}

	var b strings.Builder
	for chunk := range stream {
		switch chunk.Type {
		case llms.ChunkTypeText:
			if chunk.Text == "" {
				continue
			}
			b.WriteString(chunk.Text)
			g.emit(Event{Type: EventToken, Token: chunk.Text})
		case llms.ChunkTypeError:
			state.Answer = b.String()
			return fmt.Errorf("generation failed: %w", chunk.Error)
		}

		if ctx.Err() != nil {
			// Cancelled mid-stream; keep what was accumulated.
			state.Answer = b.String()
			return ctx.Err()
		}
	}

	state.Answer = b.String()
	return nil
}
