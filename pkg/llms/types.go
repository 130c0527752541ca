// Package llms contains the LLM provider clients used by the agent.
// All providers speak the same small interface: plain generation,
// streaming generation, and schema-constrained structured generation.
package llms

import "context"

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn of model input.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Stream chunk types.
const (
	ChunkTypeText  = "text"
	ChunkTypeDone  = "done"
	ChunkTypeError = "error"
)

// StreamChunk is a piece of streaming model output.
type StreamChunk struct {
	Type   string // ChunkTypeText, ChunkTypeDone or ChunkTypeError
	Text   string
	Tokens int
	Error  error
}

// StructuredOutputConfig requests schema-constrained output. Schema is a
// JSON schema as a map; providers translate it to their native mechanism
// (response_format for OpenAI, prefill for Anthropic, response schema for
// Gemini).
type StructuredOutputConfig struct {
	Format  string
	Schema  map[string]interface{}
	Prefill string
}

// Provider is a chat completion backend.
type Provider interface {
	Generate(ctx context.Context, messages []Message) (string, int, error)
	GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error)
	GenerateStructured(ctx context.Context, messages []Message, structConfig *StructuredOutputConfig) (string, int, error)

	ModelName() string
	Close() error
}
