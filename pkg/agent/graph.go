package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/keplerai/kepler/pkg/llms"
	"github.com/keplerai/kepler/pkg/tools"
)

// Graph drives one agent invocation through the node state machine:
//
//	START → classify_and_route
//	classify_and_route → out_of_scope | executor | evaluate | generate
//	executor           → HITL pause | evaluate | classify_and_route
//	evaluate           → generate | classify_and_route
//	generate, out_of_scope → END
//
// The single mutable AgentState is owned by the loop; nodes never run
// concurrently with each other.
type Graph struct {
	provider    llms.Provider
	registry    *tools.Registry
	checkpoints *CheckpointStore

	ctx    context.Context
	events chan Event
}

func NewGraph(provider llms.Provider, registry *tools.Registry, checkpoints *CheckpointStore) *Graph {
	return &Graph{
		provider:    provider,
		registry:    registry,
		checkpoints: checkpoints,
	}
}

// Run executes the state machine over state, emitting internal events
// until the run completes, pauses, fails or the context is cancelled.
// The channel closes after the final event; state is safe to read then.
func (g *Graph) Run(ctx context.Context, state *AgentState) <-chan Event {
	g.ctx = ctx
	g.events = make(chan Event, 100)
	go func() {
		defer close(g.events)
		g.drive(ctx, state, NodeClassify)
	}()
	return g.events
}

// Resume rehydrates a paused run from its checkpoint, synthesizes a
// tool output recording the user's decision, and re-enters the loop at
// classify-and-route. ErrCheckpointNotFound is returned synchronously.
func (g *Graph) Resume(ctx context.Context, threadID string, approved bool, selectedIDs []string) (<-chan Event, *AgentState, error) {
	state, err := g.checkpoints.Load(threadID)
	if err != nil {
		return nil, nil, err
	}
	g.checkpoints.Delete(threadID)

	var text string
	if approved {
		text = fmt.Sprintf("The user approved ingestion of: %s. The papers are now in the knowledge base.", strings.Join(selectedIDs, ", "))
	} else {
		text = "The user declined the proposed ingestion. Answer with what is already available and do not propose it again."
	}
	state.ToolOutputs = append(state.ToolOutputs, ToolOutput{
		ToolName: "ingest_confirmation",
		Data: map[string]any{
			"approved":     approved,
			"selected_ids": selectedIDs,
		},
		PromptText: text,
	})
	state.ToolHistory = append(state.ToolHistory, ToolExecution{
		ToolName:      "ingest_confirmation",
		ToolArgs:      map[string]any{"approved": approved},
		Success:       true,
		ResultSummary: text,
	})

	state.PauseReason = nil
	state.Status = StatusRunning

	g.ctx = ctx
	g.events = make(chan Event, 100)
	go func() {
		defer close(g.events)
		g.drive(ctx, state, NodeClassify)
	}()
	return g.events, state, nil
}

func (g *Graph) drive(ctx context.Context, state *AgentState, node string) {
	state.Status = StatusRunning

	for {
		if ctx.Err() != nil {
			state.Status = StatusFailed
			g.emit(Event{Type: EventError, Node: node, Err: ctx.Err()})
			return
		}

		switch node {
		case NodeClassify:
			g.emit(Event{Type: EventNodeStart, Node: NodeClassify, Message: "Classifying your question"})

			classification, err := g.classify(ctx, state)
			if err != nil {
				g.fail(state, NodeClassify, err)
				return
			}
			state.Classification = classification

			g.emit(Event{Type: EventNodeEnd, Node: NodeClassify, Message: "Classification complete", Details: map[string]any{
				"intent":      classification.Intent,
				"scope_score": classification.ScopeScore,
				"tools":       toolNames(classification.ToolCalls),
			}})

			switch {
			case classification.Intent == IntentOutOfScope ||
				classification.ScopeScore < state.Metadata.GuardrailThreshold:
				node = NodeOutOfScope
			case classification.Intent == IntentExecute && len(classification.ToolCalls) > 0:
				node = NodeExecutor
			case len(state.RetrievedChunks) > 0 && state.EvaluationResult == nil:
				node = NodeEvaluate
			default:
				node = NodeGenerate
			}

		case NodeExecutor:
			// No node-start event: the per-tool events tell the story.
			chunksRetrieved, err := g.executeTools(ctx, state)
			if err != nil {
				g.fail(state, NodeExecutor, err)
				return
			}

			g.emit(Event{Type: EventNodeEnd, Node: NodeExecutor, Message: "Tools finished", Details: map[string]any{
				"tools": state.LastExecutedTools,
			}})

			switch {
			case state.PauseReason != nil:
				if err := g.checkpoints.Save(state.ThreadID, state); err != nil {
					g.fail(state, NodeExecutor, fmt.Errorf("failed to checkpoint paused run: %w", err))
					return
				}
				state.Status = StatusPaused
				g.emit(Event{Type: EventInterrupt, Interrupt: state.PauseReason})
				return
			case chunksRetrieved:
				node = NodeEvaluate
			default:
				node = NodeClassify
			}

		case NodeEvaluate:
			g.emit(Event{Type: EventNodeStart, Node: NodeEvaluate, Message: "Evaluating retrieved context"})

			// A fresh evaluation; clear the previous verdict first so a
			// rewrite loop cannot reuse it.
			state.EvaluationResult = nil
			if err := g.evaluate(ctx, state); err != nil {
				g.fail(state, NodeEvaluate, err)
				return
			}

			evaluation := state.EvaluationResult
			// The verdict is final unless a rewrite sends the loop back
			// to the router; consumers key source emission off this.
			final := evaluation.Sufficient || state.Iteration >= state.MaxIterations || evaluation.SuggestedRewrite == ""
			g.emit(Event{Type: EventNodeEnd, Node: NodeEvaluate, Message: "Evaluation complete", Details: map[string]any{
				"sufficient": evaluation.Sufficient,
				"final":      final,
				"relevant":   len(state.RelevantChunks),
				"total":      len(state.RetrievedChunks),
			}})

			if final {
				node = NodeGenerate
			} else {
				node = NodeClassify
			}

		case NodeGenerate:
			g.emit(Event{Type: EventNodeStart, Node: NodeGenerate, Message: "Writing the answer"})

			if err := g.generate(ctx, state); err != nil {
				g.fail(state, NodeGenerate, err)
				return
			}

			g.emit(Event{Type: EventNodeEnd, Node: NodeGenerate, Message: "Answer complete"})
			state.Status = StatusCompleted
			g.emit(Event{Type: EventDone})
			return

		case NodeOutOfScope:
			g.emit(Event{Type: EventNodeStart, Node: NodeOutOfScope, Message: "Question is outside my focus"})

			if err := g.outOfScope(ctx, state); err != nil {
				g.fail(state, NodeOutOfScope, err)
				return
			}

			g.emit(Event{Type: EventNodeEnd, Node: NodeOutOfScope, Message: "Responded out of scope"})
			state.Status = StatusCompleted
			g.emit(Event{Type: EventDone})
			return

		default:
			g.fail(state, node, fmt.Errorf("unknown node %q", node))
			return
		}
	}
}

func (g *Graph) fail(state *AgentState, node string, err error) {
	state.Status = StatusFailed
	g.emit(Event{Type: EventError, Node: node, Err: err})
}

// emit never blocks past cancellation, so an abandoned consumer cannot
// leak the driver goroutine.
func (g *Graph) emit(event Event) {
	select {
	case g.events <- event:
	case <-g.ctx.Done():
	}
}

func toolNames(calls []ToolCall) []string {
	names := make([]string, len(calls))
	for i, call := range calls {
		names[i] = call.ToolName
	}
	return names
}
