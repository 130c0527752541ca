package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/keplerai/kepler/pkg/papers"
)

type listPapersArgs struct {
	Offset int `json:"offset,omitempty" jsonschema:"description=Pagination offset,minimum=0"`
	Limit  int `json:"limit,omitempty" jsonschema:"description=Maximum number of papers to return,minimum=1,maximum=100"`
}

// ListPapersTool enumerates what is already in the knowledge base.
type ListPapersTool struct {
	store *papers.Store
}

func NewListPapersTool(store *papers.Store) *ListPapersTool {
	return &ListPapersTool{store: store}
}

func (t *ListPapersTool) Name() string { return "list_papers" }

func (t *ListPapersTool) Description() string {
	return "List the papers currently ingested in the knowledge base with their chunk counts. " +
		"Use this to answer questions about what the corpus contains."
}

func (t *ListPapersTool) ParametersSchema() map[string]any {
	return schemaFor[listPapersArgs]()
}

func (t *ListPapersTool) ExtendsChunks() bool            { return false }
func (t *ListPapersTool) SetsPause() bool                { return false }
func (t *ListPapersTool) RequiredDependencies() []string { return []string{"paper_store"} }

func (t *ListPapersTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	decoded, err := decodeArgs[listPapersArgs](args)
	if err != nil {
		return &Result{ToolName: t.Name(), Success: false, Error: err.Error()}, nil
	}
	if decoded.Limit <= 0 {
		decoded.Limit = 20
	}

	stored, err := t.store.List(ctx, decoded.Offset, decoded.Limit)
	if err != nil {
		return &Result{ToolName: t.Name(), Success: false, Error: fmt.Sprintf("failed to list papers: %v", err)}, nil
	}
	total, err := t.store.Count(ctx)
	if err != nil {
		return &Result{ToolName: t.Name(), Success: false, Error: fmt.Sprintf("failed to count papers: %v", err)}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The knowledge base contains %d papers.\n", total)
	for i, p := range stored {
		fmt.Fprintf(&b, "%d. %s (%s)", decoded.Offset+i+1, p.Title, p.ArxivID)
		if len(p.Authors) > 0 {
			fmt.Fprintf(&b, " by %s", strings.Join(p.Authors, ", "))
		}
		fmt.Fprintf(&b, " [%d chunks]\n", p.ChunkCount)
	}

	return &Result{
		ToolName:   t.Name(),
		Success:    true,
		Data:       map[string]any{"papers": stored, "count": total},
		PromptText: b.String(),
	}, nil
}

var _ Tool = (*ListPapersTool)(nil)
