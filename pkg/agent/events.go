package agent

// EventType tags the internal events the graph emits while running.
// The stream service translates these into the external SSE contract.
type EventType string

const (
	EventNodeStart EventType = "node_start"
	EventNodeEnd   EventType = "node_end"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
	EventToken     EventType = "token"
	EventInterrupt EventType = "interrupt"
	EventError     EventType = "error"
	EventDone      EventType = "done"
)

// Node tags, also used as the step names in status events.
const (
	NodeClassify   = "classify_and_route"
	NodeExecutor   = "executor"
	NodeEvaluate   = "evaluate"
	NodeGenerate   = "generate"
	NodeOutOfScope = "out_of_scope"
)

// Event is one internal graph event.
type Event struct {
	Type EventType

	// Node start/end.
	Node    string
	Message string
	Details map[string]any

	// Tool start/end.
	ToolName string
	ToolArgs map[string]any
	Success  bool

	// Generation.
	Token string

	// HITL interrupt.
	Interrupt *PauseReason

	// Failure.
	Err error
}
