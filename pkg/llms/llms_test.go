package llms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keplerai/kepler/pkg/config"
)

func testLLMConfig(typ, host string) config.LLMConfig {
	cfg := config.LLMConfig{
		Type:   typ,
		Model:  "test-model",
		APIKey: "test-key",
		Host:   host,
	}
	cfg.SetDefaults()
	cfg.MaxRetries = 0
	return cfg
}

func TestOpenAIGenerate(t *testing.T) {
	var gotReq openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotReq))

		json.NewEncoder(w).Encode(openAIResponse{
			Choices: []openAIChoice{{Message: openAIMessage{Role: "assistant", Content: "hello"}}},
			Usage:   openAIUsage{TotalTokens: 42},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(testLLMConfig("openai", srv.URL))
	require.NoError(t, err)

	text, tokens, err := p.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 42, tokens)
	assert.Len(t, gotReq.Messages, 2)
	assert.False(t, gotReq.Stream)
}

func TestOpenAIGenerateStructuredSetsSchema(t *testing.T) {
	var gotReq openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotReq))

		json.NewEncoder(w).Encode(openAIResponse{
			Choices: []openAIChoice{{Message: openAIMessage{Content: `{"ok":true}`}}},
			Usage:   openAIUsage{TotalTokens: 10},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(testLLMConfig("openai", srv.URL))
	require.NoError(t, err)

	schema := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"ok": map[string]interface{}{"type": "boolean"}},
	}
	text, _, err := p.GenerateStructured(context.Background(), []Message{{Role: RoleUser, Content: "go"}}, &StructuredOutputConfig{
		Format: "json",
		Schema: schema,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, text)

	require.NotNil(t, gotReq.ResponseFormat)
	assert.Equal(t, "json_schema", gotReq.ResponseFormat.Type)
	require.NotNil(t, gotReq.ResponseFormat.JSONSchema)
	assert.True(t, gotReq.ResponseFormat.JSONSchema.Strict)
}

func TestOpenAIGenerateStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"choices":[{"delta":{"content":"hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"total_tokens":7}}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(testLLMConfig("openai", srv.URL))
	require.NoError(t, err)

	ch, err := p.GenerateStreaming(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)

	var text string
	var done bool
	var tokens int
	for chunk := range ch {
		switch chunk.Type {
		case "text":
			text += chunk.Text
		case "done":
			done = true
			tokens = chunk.Tokens
		case "error":
			t.Fatalf("unexpected error chunk: %v", chunk.Error)
		}
	}

	assert.Equal(t, "hello", text)
	assert.True(t, done)
	assert.Equal(t, 7, tokens)
}

func TestOpenAIReasoningModelRequest(t *testing.T) {
	cfg := testLLMConfig("openai", "http://unused")
	cfg.Model = "o3-mini"
	p, err := NewOpenAIProvider(cfg)
	require.NoError(t, err)

	req := p.buildRequest([]Message{{Role: RoleUser, Content: "hi"}}, false)
	assert.Nil(t, req.MaxTokens)
	require.NotNil(t, req.MaxCompletionTokens)
	assert.Equal(t, 1.0, req.Temperature)
}

func TestAnthropicGenerateStructuredPrefill(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotReq))

		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContentBlock{{Type: "text", Text: `"verdict":"sufficient"}`}},
			Usage:   anthropicUsage{InputTokens: 5, OutputTokens: 5},
		})
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(testLLMConfig("anthropic", srv.URL))
	require.NoError(t, err)

	text, tokens, err := p.GenerateStructured(context.Background(), []Message{
		{Role: RoleSystem, Content: "judge"},
		{Role: RoleUser, Content: "chunks"},
	}, &StructuredOutputConfig{Format: "json", Schema: map[string]interface{}{"type": "object"}})
	require.NoError(t, err)

	assert.Equal(t, `{"verdict":"sufficient"}`, text)
	assert.Equal(t, 10, tokens)

	// System prompt carries the schema, last message is the "{" prefill.
	assert.Contains(t, gotReq.System, "judge")
	assert.Contains(t, gotReq.System, "JSON")
	require.NotEmpty(t, gotReq.Messages)
	last := gotReq.Messages[len(gotReq.Messages)-1]
	assert.Equal(t, RoleAssistant, last.Role)
	assert.Equal(t, "{", last.Content)
}

func TestWrapTimeout(t *testing.T) {
	err := wrapTimeout(fmt.Errorf("call failed: %w", context.DeadlineExceeded), "openai", 120)

	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, "openai", timeoutErr.Provider)
	assert.Equal(t, 120, timeoutErr.Seconds)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	plain := errors.New("boom")
	assert.Equal(t, plain, wrapTimeout(plain, "openai", 120))
	assert.NoError(t, wrapTimeout(nil, "openai", 120))
}

func TestRegistryResolve(t *testing.T) {
	base := testLLMConfig("openai", "http://example")
	registry := NewRegistry(map[string]config.LLMConfig{"openai": base})

	p, err := registry.Resolve("openai", "gpt-4o-mini", 0.3)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", p.ModelName())

	// The base configuration is untouched by overrides.
	assert.Equal(t, "test-model", registry.configs["openai"].Model)

	_, err = registry.Resolve("missing", "", 0.2)
	assert.Error(t, err)
}
