// Package agent implements the orchestration core: a state machine
// that classifies user turns, dispatches tools, evaluates retrieval
// sufficiency within a bounded rewrite loop, and streams a final
// answer, with human-in-the-loop pause and resume across requests.
package agent

import (
	"github.com/keplerai/kepler/pkg/llms"
	"github.com/keplerai/kepler/pkg/papers"
)

// Status is the lifecycle of one orchestrator invocation.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Intents produced by the classify-and-route node.
const (
	IntentOutOfScope = "out_of_scope"
	IntentExecute    = "execute"
	IntentDirect     = "direct"
)

// ToolCall is one tool invocation requested by the router. Arguments
// stay JSON-encoded until the executor parses them.
type ToolCall struct {
	ToolName     string `json:"tool_name"`
	ToolArgsJSON string `json:"tool_args_json"`
}

// Classification is the router's decision for one iteration.
type Classification struct {
	Intent     string     `json:"intent"`
	ToolCalls  []ToolCall `json:"tool_calls"`
	ScopeScore int        `json:"scope_score"`
	Reasoning  string     `json:"reasoning"`
}

// ToolExecution records one tool call in tool_history. ResultSummary
// is the short form the router reasons about on later iterations.
type ToolExecution struct {
	ToolName      string         `json:"tool_name"`
	ToolArgs      map[string]any `json:"tool_args"`
	Success       bool           `json:"success"`
	ResultSummary string         `json:"result_summary"`
	Error         string         `json:"error,omitempty"`
}

// ToolOutput is a non-chunk tool result carried to the generator.
// Append-only across iterations.
type ToolOutput struct {
	ToolName   string `json:"tool_name"`
	Data       any    `json:"data"`
	PromptText string `json:"prompt_text,omitempty"`
}

// BatchEvaluation is the evaluate node's verdict on the retrieved set.
type BatchEvaluation struct {
	Sufficient       bool   `json:"sufficient"`
	Reasoning        string `json:"reasoning"`
	SuggestedRewrite string `json:"suggested_rewrite,omitempty"`
}

// PauseReason is why the run interrupted for human confirmation.
type PauseReason struct {
	Papers      []papers.Paper `json:"papers"`
	ProposedIDs []string       `json:"proposed_ids"`
}

// StateMetadata is the bag of cross-node signals attached to a run.
type StateMetadata struct {
	ReasoningSteps            []string    `json:"reasoning_steps"`
	GuardrailScore            *int        `json:"guardrail_score,omitempty"`
	LastGuardrailScore        *int        `json:"last_guardrail_score,omitempty"`
	GuardrailThreshold        int         `json:"guardrail_threshold"`
	TopK                      int         `json:"top_k"`
	InjectionScan             *ScanResult `json:"injection_scan,omitempty"`
	PreviousChunkFingerprints []string    `json:"previous_chunk_fingerprints,omitempty"`
}

// AgentState is the single mutable record one orchestrator invocation
// operates on. It serializes to JSON for the checkpoint store.
type AgentState struct {
	Messages      []llms.Message `json:"messages"`
	OriginalQuery string         `json:"original_query"`
	RewrittenQuery string        `json:"rewritten_query,omitempty"`

	Status               Status `json:"status"`
	Iteration            int    `json:"iteration"`
	MaxIterations        int    `json:"max_iterations"`
	MaxRetrievalAttempts int    `json:"max_retrieval_attempts"`
	RetrievalAttempts    int    `json:"retrieval_attempts"`

	Classification    *Classification `json:"classification,omitempty"`
	ToolHistory       []ToolExecution `json:"tool_history"`
	LastExecutedTools []string        `json:"last_executed_tools,omitempty"`

	RetrievedChunks []papers.Chunk `json:"retrieved_chunks"`
	RelevantChunks  []papers.Chunk `json:"relevant_chunks"`
	ToolOutputs     []ToolOutput   `json:"tool_outputs"`

	EvaluationResult *BatchEvaluation `json:"evaluation_result,omitempty"`

	ConversationHistory []llms.Message `json:"conversation_history"`
	Metadata            StateMetadata  `json:"metadata"`

	PauseReason *PauseReason `json:"pause_reason,omitempty"`

	Answer string `json:"answer,omitempty"`

	SessionID string `json:"session_id"`
	ThreadID  string `json:"thread_id"`
}

// CurrentQuery resolves the text the router should classify: rewritten
// query first, then the original, then the last user message.
func (s *AgentState) CurrentQuery() string {
	if s.RewrittenQuery != "" {
		return s.RewrittenQuery
	}
	if s.OriginalQuery != "" {
		return s.OriginalQuery
	}
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == llms.RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// AddReasoningStep appends a human-readable step to the run's trace.
func (s *AgentState) AddReasoningStep(step string) {
	s.Metadata.ReasoningSteps = append(s.Metadata.ReasoningSteps, step)
}
