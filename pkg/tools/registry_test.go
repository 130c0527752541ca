package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keplerai/kepler/pkg/papers"
)

type fakeTool struct {
	name          string
	extendsChunks bool
	deps          []string
	result        *Result
	err           error
	calls         int
}

func (f *fakeTool) Name() string                    { return f.name }
func (f *fakeTool) Description() string             { return "fake tool" }
func (f *fakeTool) ParametersSchema() map[string]any {
	return map[string]any{"type": "object"}
}
func (f *fakeTool) ExtendsChunks() bool            { return f.extendsChunks }
func (f *fakeTool) SetsPause() bool                { return false }
func (f *fakeTool) RequiredDependencies() []string { return f.deps }

func (f *fakeTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	f.calls++
	return f.result, f.err
}

func TestRegistryRegisterChecksDependencies(t *testing.T) {
	registry := NewRegistry("search_service")

	require.NoError(t, registry.Register(&fakeTool{name: "ok", deps: []string{"search_service"}}))

	err := registry.Register(&fakeTool{name: "needs_db", deps: []string{"paper_store"}})
	require.Error(t, err)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "paper_store")
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(&fakeTool{name: "dup"}))
	err := registry.Register(&fakeTool{name: "dup"})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Execute(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestRegistryExecuteSetsToolName(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&fakeTool{
		name:   "echo",
		result: &Result{Success: true, Data: map[string]any{"ok": true}},
	}))

	result, err := registry.Execute(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo", result.ToolName)
	assert.True(t, result.Success)
}

func TestRegistryEnforcesChunkListContract(t *testing.T) {
	registry := NewRegistry()

	// Wrong Data type on a chunk-producing tool is a hard failure.
	require.NoError(t, registry.Register(&fakeTool{
		name:          "bad_chunks",
		extendsChunks: true,
		result:        &Result{Success: true, Data: map[string]any{"oops": true}},
	}))
	_, err := registry.Execute(context.Background(), "bad_chunks", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extends_chunks")

	require.NoError(t, registry.Register(&fakeTool{
		name:          "good_chunks",
		extendsChunks: true,
		result:        &Result{Success: true, Data: []papers.Chunk{{ChunkID: "c1"}}},
	}))
	result, err := registry.Execute(context.Background(), "good_chunks", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)

	// Failed calls are exempt from the contract.
	require.NoError(t, registry.Register(&fakeTool{
		name:          "failed_chunks",
		extendsChunks: true,
		result:        &Result{Success: false, Error: "upstream down"},
	}))
	result, err = registry.Execute(context.Background(), "failed_chunks", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestRegistryAllDefinitionsOrdered(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, registry.Register(&fakeTool{name: name}))
	}

	defs := registry.AllDefinitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "zeta", defs[0].Name)
	assert.Equal(t, "alpha", defs[1].Name)
	assert.Equal(t, "mid", defs[2].Name)
}

func TestDecodeArgsWeakTyping(t *testing.T) {
	// JSON numbers arrive as float64; string slices as []any.
	decoded, err := decodeArgs[retrieveChunksArgs](map[string]any{
		"query": "attention",
		"top_k": float64(7),
	})
	require.NoError(t, err)
	assert.Equal(t, "attention", decoded.Query)
	assert.Equal(t, 7, decoded.TopK)

	ids, err := decodeArgs[ingestPapersArgs](map[string]any{
		"arxiv_ids": []any{"1706.03762", "1512.03385"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1706.03762", "1512.03385"}, ids.ArxivIDs)
}

func TestSchemaForShape(t *testing.T) {
	schema := schemaFor[retrieveChunksArgs]()
	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "query")
	assert.Contains(t, props, "top_k")

	required, ok := schema["required"].([]any)
	require.True(t, ok)
	assert.Contains(t, required, "query")
}
