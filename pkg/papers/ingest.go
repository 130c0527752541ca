package papers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/keplerai/kepler/pkg/config"
	"github.com/keplerai/kepler/pkg/embedders"
	"github.com/keplerai/kepler/pkg/vector"
)

// Ingestor runs the fetch → extract → chunk → embed → upsert pipeline
// for a set of paper IDs. Papers are processed concurrently with a
// bounded worker count; each paper holds a row lock for the duration of
// its ingest so two requests cannot ingest the same paper twice.
type Ingestor struct {
	client     *Client
	extractor  *Extractor
	chunker    *Chunker
	embedder   embedders.Embedder
	vectors    vector.Provider
	store      *Store
	collection string
	workers    int
}

func NewIngestor(
	client *Client,
	extractor *Extractor,
	chunker *Chunker,
	embedder embedders.Embedder,
	vectors vector.Provider,
	store *Store,
	collection string,
	cfg config.IngestConfig,
) *Ingestor {
	cfg.SetDefaults()
	return &Ingestor{
		client:     client,
		extractor:  extractor,
		chunker:    chunker,
		embedder:   embedder,
		vectors:    vectors,
		store:      store,
		collection: collection,
		workers:    cfg.Concurrency,
	}
}

// Ingest fetches registry metadata for ids and processes each paper.
// Per-paper failures are collected into the report, never fatal; the
// returned error covers only failures before any paper work started.
func (in *Ingestor) Ingest(ctx context.Context, ids []string) (*IngestReport, error) {
	start := time.Now()
	report := &IngestReport{Errors: []string{}}
	if len(ids) == 0 {
		return report, nil
	}

	metas, err := in.client.FetchByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch paper metadata: %w", err)
	}
	byID := make(map[string]Paper, len(metas))
	for _, p := range metas {
		byID[p.ArxivID] = p
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.workers)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			paper, ok := byID[id]
			if !ok {
				mu.Lock()
				report.Errors = append(report.Errors, fmt.Sprintf("%s: not found in registry", id))
				mu.Unlock()
				return nil
			}

			created, err := in.ingestOne(gctx, paper)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", id, err))
				return nil
			}
			if created > 0 {
				report.PapersProcessed++
				report.ChunksCreated += created
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.DurationSeconds = time.Since(start).Seconds()
	return report, nil
}

// ingestOne processes a single paper. Returns the number of chunks
// created; zero with nil error means the paper was skipped (locked or
// already ingested).
func (in *Ingestor) ingestOne(ctx context.Context, paper Paper) (int, error) {
	tx, acquired, err := in.store.BeginIngest(ctx, paper.ArxivID)
	if err != nil {
		return 0, err
	}
	if !acquired {
		slog.Debug("Skipping paper, locked or already ingested", "arxiv_id", paper.ArxivID)
		return 0, nil
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	pages, err := in.extractor.Extract(ctx, paper.PDFURL)
	if err != nil {
		return 0, fmt.Errorf("pdf extraction failed: %w", err)
	}

	chunks := in.chunker.ChunkPaper(paper, pages)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no chunks produced")
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.ChunkText
	}
	vectors, err := in.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	for i, chunk := range chunks {
		// Authors ride along JSON-encoded so string-valued backends
		// round-trip the list intact.
		authors, err := json.Marshal(chunk.Authors)
		if err != nil {
			return 0, fmt.Errorf("failed to encode authors: %w", err)
		}
		metadata := map[string]any{
			"content":        chunk.ChunkText,
			"arxiv_id":       chunk.ArxivID,
			"title":          chunk.Title,
			"authors":        string(authors),
			"section_name":   chunk.SectionName,
			"page_number":    chunk.PageNumber,
			"pdf_url":        chunk.PDFURL,
			"published_date": chunk.PublishedDate,
		}
		if err := in.vectors.Upsert(ctx, in.collection, chunk.ChunkID, vectors[i], metadata); err != nil {
			return 0, fmt.Errorf("vector upsert failed: %w", err)
		}
	}

	if err := in.store.FinishIngest(ctx, tx, paper, chunks); err != nil {
		return 0, err
	}
	committed = true

	slog.Info("Ingested paper",
		"arxiv_id", paper.ArxivID,
		"title", paper.Title,
		"chunks", len(chunks))

	return len(chunks), nil
}
