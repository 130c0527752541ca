package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/keplerai/kepler/pkg/papers"
)

type proposeIngestArgs struct {
	Query      string `json:"query" jsonschema:"required,description=Topic to find ingestion candidates for"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Maximum number of candidate papers,minimum=1,maximum=10"`
}

// ProposeIngestTool searches the registry and proposes papers for
// ingestion. A successful call pauses the run for human confirmation;
// nothing is downloaded until the user approves.
type ProposeIngestTool struct {
	client *papers.Client
}

func NewProposeIngestTool(client *papers.Client) *ProposeIngestTool {
	return &ProposeIngestTool{client: client}
}

func (t *ProposeIngestTool) Name() string { return "propose_ingest" }

func (t *ProposeIngestTool) Description() string {
	return "Find papers in the arXiv registry that could be ingested into the knowledge base and " +
		"ask the user to confirm. Use this when the corpus lacks coverage for the user's question."
}

func (t *ProposeIngestTool) ParametersSchema() map[string]any {
	return schemaFor[proposeIngestArgs]()
}

func (t *ProposeIngestTool) ExtendsChunks() bool            { return false }
func (t *ProposeIngestTool) SetsPause() bool                { return true }
func (t *ProposeIngestTool) RequiredDependencies() []string { return []string{"registry_client"} }

func (t *ProposeIngestTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	decoded, err := decodeArgs[proposeIngestArgs](args)
	if err != nil {
		return &Result{ToolName: t.Name(), Success: false, Error: err.Error()}, nil
	}
	if decoded.Query == "" {
		return &Result{ToolName: t.Name(), Success: false, Error: "query is required"}, nil
	}
	if decoded.MaxResults <= 0 {
		decoded.MaxResults = 5
	}

	candidates, err := t.client.Search(ctx, decoded.Query, decoded.MaxResults)
	if err != nil {
		return &Result{ToolName: t.Name(), Success: false, Error: fmt.Sprintf("registry search failed: %v", err)}, nil
	}
	if len(candidates) == 0 {
		return &Result{ToolName: t.Name(), Success: false, Error: "no ingestion candidates found"}, nil
	}

	return &Result{
		ToolName: t.Name(),
		Success:  true,
		Data:     map[string]any{"papers": candidates, "query": decoded.Query},
	}, nil
}

type ingestPapersArgs struct {
	ArxivIDs []string `json:"arxiv_ids" jsonschema:"required,description=External IDs of the papers to ingest"`
}

// IngestPapersTool runs the full ingestion pipeline for a set of paper
// IDs: fetch metadata, download PDFs, chunk, embed and index.
type IngestPapersTool struct {
	ingestor *papers.Ingestor
}

func NewIngestPapersTool(ingestor *papers.Ingestor) *IngestPapersTool {
	return &IngestPapersTool{ingestor: ingestor}
}

func (t *IngestPapersTool) Name() string { return "ingest_papers" }

func (t *IngestPapersTool) Description() string {
	return "Ingest papers into the knowledge base by arXiv ID: download, parse, chunk, embed and index them. " +
		"Only call this after the user has approved the papers."
}

func (t *IngestPapersTool) ParametersSchema() map[string]any {
	return schemaFor[ingestPapersArgs]()
}

func (t *IngestPapersTool) ExtendsChunks() bool            { return false }
func (t *IngestPapersTool) SetsPause() bool                { return false }
func (t *IngestPapersTool) RequiredDependencies() []string { return []string{"ingestor"} }

func (t *IngestPapersTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	decoded, err := decodeArgs[ingestPapersArgs](args)
	if err != nil {
		return &Result{ToolName: t.Name(), Success: false, Error: err.Error()}, nil
	}
	if len(decoded.ArxivIDs) == 0 {
		return &Result{ToolName: t.Name(), Success: false, Error: "arxiv_ids is required"}, nil
	}

	report, err := t.ingestor.Ingest(ctx, decoded.ArxivIDs)
	if err != nil {
		return &Result{ToolName: t.Name(), Success: false, Error: fmt.Sprintf("ingestion failed: %v", err)}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Ingested %d papers (%d chunks) in %.1fs.", report.PapersProcessed, report.ChunksCreated, report.DurationSeconds)
	if len(report.Errors) > 0 {
		fmt.Fprintf(&b, " %d papers failed: %s", len(report.Errors), strings.Join(report.Errors, "; "))
	}

	return &Result{
		ToolName: t.Name(),
		Success:  true,
		Data: map[string]any{
			"papers_processed": report.PapersProcessed,
			"chunks_created":   report.ChunksCreated,
			"duration_seconds": report.DurationSeconds,
			"errors":           report.Errors,
		},
		PromptText: b.String(),
	}, nil
}

var (
	_ Tool = (*ProposeIngestTool)(nil)
	_ Tool = (*IngestPapersTool)(nil)
)
