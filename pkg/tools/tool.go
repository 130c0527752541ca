// Package tools defines the agent's executable tools and their
// registry. Tools declare capability flags the orchestrator routes on:
// chunk-producing tools extend the retrieval set, pause-inducing tools
// interrupt the run for human confirmation.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrToolNotFound is returned when execution is requested for an
// unregistered tool name.
var ErrToolNotFound = errors.New("tool not found")

// ErrInvalidChunkData marks the programmer error of a chunk-producing
// tool returning non-list data on success.
var ErrInvalidChunkData = errors.New("chunk-producing tool returned non-list data")

// ConfigurationError reports an invalid tool registration.
type ConfigurationError struct {
	Tool    string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("tool %q: %s", e.Tool, e.Message)
}

// Result is what a tool execution hands back to the orchestrator.
// Data is []papers.Chunk for chunk-producing tools and a map for
// everything else. PromptText, when set, is a pre-formatted block the
// generator prefers over the raw data.
type Result struct {
	ToolName   string `json:"tool_name"`
	Success    bool   `json:"success"`
	Data       any    `json:"data,omitempty"`
	PromptText string `json:"prompt_text,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Tool is one executable capability.
type Tool interface {
	Name() string
	Description() string
	ParametersSchema() map[string]any
	ExtendsChunks() bool
	SetsPause() bool
	RequiredDependencies() []string

	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Definition is the router-facing view of a registered tool, in
// registration order.
type Definition struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Parameters    map[string]any `json:"parameters"`
	ExtendsChunks bool           `json:"extends_chunks"`
	SetsPause     bool           `json:"sets_pause"`
}

// Registry is a name-keyed, ordered table of tools. Dependency names
// supplied at construction gate registration: a tool whose
// RequiredDependencies are not all satisfied fails to register.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	order     []string
	satisfied map[string]bool
}

func NewRegistry(satisfiedDependencies ...string) *Registry {
	satisfied := make(map[string]bool, len(satisfiedDependencies))
	for _, dep := range satisfiedDependencies {
		satisfied[dep] = true
	}
	return &Registry{
		tools:     make(map[string]Tool),
		satisfied: satisfied,
	}
}

func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return &ConfigurationError{Tool: name, Message: "name cannot be empty"}
	}

	var missing []string
	for _, dep := range tool.RequiredDependencies() {
		if !r.satisfied[dep] {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ConfigurationError{Tool: name, Message: fmt.Sprintf("missing dependencies: %v", missing)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return &ConfigurationError{Tool: name, Message: "already registered"}
	}

	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Get returns the named tool or nil.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// AllDefinitions returns the registered tools in registration order,
// for building the router prompt.
func (r *Registry) AllDefinitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		defs = append(defs, Definition{
			Name:          tool.Name(),
			Description:   tool.Description(),
			Parameters:    tool.ParametersSchema(),
			ExtendsChunks: tool.ExtendsChunks(),
			SetsPause:     tool.SetsPause(),
		})
	}
	return defs
}

// Execute dispatches to the named tool. Chunk-producing tools must
// return their Data as a chunk list on success; any other type is a
// programmer error surfaced as a hard failure, not a tool failure.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*Result, error) {
	tool := r.Get(name)
	if tool == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("tool %s returned no result", name)
	}
	result.ToolName = name

	if tool.ExtendsChunks() && result.Success {
		if _, ok := chunkList(result.Data); !ok {
			return nil, fmt.Errorf("tool %s declares extends_chunks but returned %T: %w", name, result.Data, ErrInvalidChunkData)
		}
	}
	return result, nil
}
