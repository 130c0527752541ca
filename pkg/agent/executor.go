package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/keplerai/kepler/pkg/papers"
	"github.com/keplerai/kepler/pkg/tools"
)

// toolOutcome pairs the history record with the raw result for
// post-processing in request order.
type toolOutcome struct {
	exec   ToolExecution
	result *tools.Result
	fatal  error
}

// executeTools runs the router's tool calls in parallel. Errors are
// isolated per call and never escape, with one exception: a
// chunk-producing tool returning non-list data is a misconfiguration
// and fails the node. Returns whether any chunk-producing tool
// succeeded in this batch.
func (g *Graph) executeTools(ctx context.Context, state *AgentState) (bool, error) {
	calls := state.Classification.ToolCalls
	outcomes := make([]toolOutcome, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = toolOutcome{exec: ToolExecution{
						ToolName:      call.ToolName,
						Success:       false,
						ResultSummary: fmt.Sprintf("tool panicked: %v", r),
						Error:         fmt.Sprintf("tool panicked: %v", r),
					}}
				}
			}()
			outcomes[i] = g.runToolCall(ctx, call)
		}(i, call)
	}
	wg.Wait()

	state.LastExecutedTools = nil
	chunksRetrieved := false

	// tool_history order mirrors request order, not completion order.
	for _, outcome := range outcomes {
		if outcome.fatal != nil {
			return false, outcome.fatal
		}

		state.ToolHistory = append(state.ToolHistory, outcome.exec)
		state.LastExecutedTools = append(state.LastExecutedTools, outcome.exec.ToolName)

		result := outcome.result
		if result == nil {
			// Args never parsed; record the failure for the generator too.
			state.ToolOutputs = append(state.ToolOutputs, ToolOutput{
				ToolName: outcome.exec.ToolName,
				Data:     map[string]any{"error": outcome.exec.Error},
			})
			continue
		}

		if !result.Success {
			state.ToolOutputs = append(state.ToolOutputs, ToolOutput{
				ToolName: result.ToolName,
				Data:     map[string]any{"error": result.Error},
			})
			continue
		}

		tool := g.registry.Get(result.ToolName)
		if tool != nil && tool.ExtendsChunks() {
			chunks, _ := result.Data.([]papers.Chunk)
			state.RetrievedChunks = append(state.RetrievedChunks, chunks...)
			state.RetrievalAttempts++
			chunksRetrieved = true
			continue
		}

		if result.Data != nil {
			state.ToolOutputs = append(state.ToolOutputs, ToolOutput{
				ToolName:   result.ToolName,
				Data:       result.Data,
				PromptText: result.PromptText,
			})
		}

		if tool != nil && tool.SetsPause() {
			if reason := pauseReasonFromData(result.Data); reason != nil {
				state.PauseReason = reason
			}
		}
	}

	return chunksRetrieved, nil
}

func (g *Graph) runToolCall(ctx context.Context, call ToolCall) toolOutcome {
	args := map[string]any{}
	if call.ToolArgsJSON != "" {
		if err := json.Unmarshal([]byte(call.ToolArgsJSON), &args); err != nil {
			msg := fmt.Sprintf("invalid tool arguments: %v", err)
			return toolOutcome{exec: ToolExecution{
				ToolName:      call.ToolName,
				Success:       false,
				ResultSummary: msg,
				Error:         msg,
			}}
		}
	}

	g.emit(Event{Type: EventToolStart, ToolName: call.ToolName, ToolArgs: args})

	result, err := g.registry.Execute(ctx, call.ToolName, args)

	success := err == nil && result != nil && result.Success
	g.emit(Event{Type: EventToolEnd, ToolName: call.ToolName, Success: success})

	if err != nil {
		if errors.Is(err, tools.ErrInvalidChunkData) {
			return toolOutcome{fatal: err}
		}
		msg := err.Error()
		return toolOutcome{
			exec: ToolExecution{
				ToolName:      call.ToolName,
				ToolArgs:      args,
				Success:       false,
				ResultSummary: msg,
				Error:         msg,
			},
			result: &tools.Result{ToolName: call.ToolName, Success: false, Error: msg},
		}
	}

	return toolOutcome{
		exec: ToolExecution{
			ToolName:      call.ToolName,
			ToolArgs:      args,
			Success:       result.Success,
			ResultSummary: summarizeResult(result),
			Error:         result.Error,
		},
		result: result,
	}
}

// summarizeResult builds the short form the router reasons about on
// later iterations. Failed calls carry the error verbatim.
func summarizeResult(result *tools.Result) string {
	if !result.Success {
		return result.Error
	}

	switch data := result.Data.(type) {
	case []papers.Chunk:
		ids := make([]string, 0, 10)
		for _, chunk := range data {
			if len(ids) == 10 {
				break
			}
			ids = append(ids, chunk.ChunkID)
		}
		return fmt.Sprintf("retrieved %d chunks (%s)", len(data), strings.Join(ids, ", "))
	case map[string]any:
		if count, ok := data["count"]; ok {
			return fmt.Sprintf("found %v results", count)
		}
		if processed, ok := data["papers_processed"]; ok {
			return fmt.Sprintf("processed %v papers", processed)
		}
		return "succeeded"
	default:
		return "succeeded"
	}
}

func pauseReasonFromData(data any) *PauseReason {
	m, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	proposed, ok := m["papers"].([]papers.Paper)
	if !ok || len(proposed) == 0 {
		return nil
	}

	ids := make([]string, len(proposed))
	for i, p := range proposed {
		ids[i] = p.ArxivID
	}
	return &PauseReason{Papers: proposed, ProposedIDs: ids}
}
