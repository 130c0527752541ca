package tools

import (
	"context"
	"fmt"

	"github.com/keplerai/kepler/pkg/search"
)

type retrieveChunksArgs struct {
	Query    string  `json:"query" jsonschema:"required,description=The search query to retrieve relevant paper chunks for"`
	TopK     int     `json:"top_k,omitempty" jsonschema:"description=Maximum number of chunks to return,minimum=1,maximum=20"`
	Mode     string  `json:"mode,omitempty" jsonschema:"description=Retrieval mode,enum=vector|fulltext|hybrid"`
	MinScore float64 `json:"min_score,omitempty" jsonschema:"description=Minimum similarity score for vector results"`
}

// RetrieveChunksTool runs hybrid search over the ingested corpus. Its
// results extend the agent's retrieved chunk set.
type RetrieveChunksTool struct {
	search      *search.Service
	defaultTopK int
}

func NewRetrieveChunksTool(searchService *search.Service, defaultTopK int) *RetrieveChunksTool {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &RetrieveChunksTool{search: searchService, defaultTopK: defaultTopK}
}

func (t *RetrieveChunksTool) Name() string { return "retrieve_chunks" }

func (t *RetrieveChunksTool) Description() string {
	return "Search the ingested paper corpus for text chunks relevant to a query. " +
		"Use this to ground answers about papers that are already in the knowledge base."
}

func (t *RetrieveChunksTool) ParametersSchema() map[string]any {
	return schemaFor[retrieveChunksArgs]()
}

func (t *RetrieveChunksTool) ExtendsChunks() bool            { return true }
func (t *RetrieveChunksTool) SetsPause() bool                { return false }
func (t *RetrieveChunksTool) RequiredDependencies() []string { return []string{"search_service"} }

func (t *RetrieveChunksTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	decoded, err := decodeArgs[retrieveChunksArgs](args)
	if err != nil {
		return &Result{ToolName: t.Name(), Success: false, Error: err.Error()}, nil
	}
	if decoded.Query == "" {
		return &Result{ToolName: t.Name(), Success: false, Error: "query is required"}, nil
	}
	if decoded.TopK <= 0 {
		decoded.TopK = t.defaultTopK
	}

	mode, err := search.ParseMode(decoded.Mode)
	if err != nil {
		return &Result{ToolName: t.Name(), Success: false, Error: err.Error()}, nil
	}

	chunks, err := t.search.HybridSearch(ctx, decoded.Query, decoded.TopK, mode, decoded.MinScore)
	if err != nil {
		return &Result{ToolName: t.Name(), Success: false, Error: fmt.Sprintf("retrieval failed: %v", err)}, nil
	}

	return &Result{ToolName: t.Name(), Success: true, Data: chunks}, nil
}

var _ Tool = (*RetrieveChunksTool)(nil)
