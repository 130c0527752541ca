package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/keplerai/kepler/pkg/papers"
)

type searchPapersArgs struct {
	Query      string `json:"query" jsonschema:"required,description=Keywords or phrase to search the paper registry for"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Maximum number of papers to return,minimum=1,maximum=25"`
}

// SearchPapersTool queries the external paper registry for papers
// matching a topic. It only reads metadata; nothing is ingested.
type SearchPapersTool struct {
	client *papers.Client
}

func NewSearchPapersTool(client *papers.Client) *SearchPapersTool {
	return &SearchPapersTool{client: client}
}

func (t *SearchPapersTool) Name() string { return "search_papers" }

func (t *SearchPapersTool) Description() string {
	return "Search the arXiv registry for papers matching a topic. Returns titles, authors and " +
		"abstracts. Use this to discover papers that are not yet in the knowledge base."
}

func (t *SearchPapersTool) ParametersSchema() map[string]any {
	return schemaFor[searchPapersArgs]()
}

func (t *SearchPapersTool) ExtendsChunks() bool            { return false }
func (t *SearchPapersTool) SetsPause() bool                { return false }
func (t *SearchPapersTool) RequiredDependencies() []string { return []string{"registry_client"} }

func (t *SearchPapersTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	decoded, err := decodeArgs[searchPapersArgs](args)
	if err != nil {
		return &Result{ToolName: t.Name(), Success: false, Error: err.Error()}, nil
	}
	if decoded.Query == "" {
		return &Result{ToolName: t.Name(), Success: false, Error: "query is required"}, nil
	}
	if decoded.MaxResults <= 0 {
		decoded.MaxResults = 5
	}

	found, err := t.client.Search(ctx, decoded.Query, decoded.MaxResults)
	if err != nil {
		return &Result{ToolName: t.Name(), Success: false, Error: fmt.Sprintf("registry search failed: %v", err)}, nil
	}

	return &Result{
		ToolName:   t.Name(),
		Success:    true,
		Data:       map[string]any{"papers": found, "count": len(found)},
		PromptText: formatPaperList(found),
	}, nil
}

func formatPaperList(found []papers.Paper) string {
	if len(found) == 0 {
		return "No papers found in the registry for this query."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d papers in the registry:\n", len(found))
	for i, p := range found {
		fmt.Fprintf(&b, "%d. %s (%s)", i+1, p.Title, p.ArxivID)
		if len(p.Authors) > 0 {
			fmt.Fprintf(&b, " by %s", strings.Join(p.Authors, ", "))
		}
		b.WriteString("\n")
		if p.Abstract != "" {
			fmt.Fprintf(&b, "   %s\n", truncate(p.Abstract, 300))
		}
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

var _ Tool = (*SearchPapersTool)(nil)
