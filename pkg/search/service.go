// Package search implements hybrid retrieval over the paper corpus:
// vector similarity, SQL fulltext, or both fused with Reciprocal Rank
// Fusion.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/keplerai/kepler/pkg/embedders"
	"github.com/keplerai/kepler/pkg/papers"
	"github.com/keplerai/kepler/pkg/vector"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeVector   Mode = "vector"
	ModeFulltext Mode = "fulltext"
	ModeHybrid   Mode = "hybrid"
)

// rrfK is the rank-dampening constant in the RRF formula 1/(rank + k).
const rrfK = 60

// ParseMode validates a mode string coming off the wire.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeVector, ModeFulltext, ModeHybrid:
		return Mode(s), nil
	case "":
		return ModeHybrid, nil
	default:
		return "", fmt.Errorf("unsupported search mode: %q (supported: vector, fulltext, hybrid)", s)
	}
}

// Service runs retrieval against the vector store and the SQL chunk
// table, which hold the same chunks indexed two different ways.
type Service struct {
	embedder   embedders.Embedder
	vectors    vector.Provider
	store      *papers.Store
	collection string
}

func NewService(embedder embedders.Embedder, vectors vector.Provider, store *papers.Store, collection string) *Service {
	return &Service{
		embedder:   embedder,
		vectors:    vectors,
		store:      store,
		collection: collection,
	}
}

// HybridSearch retrieves up to topK chunks for query. minScore applies
// to vector similarity only; fulltext and hybrid scores are rank-based.
func (s *Service) HybridSearch(ctx context.Context, query string, topK int, mode Mode, minScore float64) ([]papers.Chunk, error) {
	if query == "" {
		return nil, &SearchError{Op: "hybrid_search", Err: fmt.Errorf("query is required")}
	}
	if topK <= 0 {
		topK = 5
	}

	switch mode {
	case ModeVector:
		chunks, err := s.vectorSearch(ctx, query, topK, minScore)
		if err != nil {
			return nil, &SearchError{Op: "vector_search", Err: err}
		}
		return chunks, nil

	case ModeFulltext:
		chunks, err := s.fulltextSearch(ctx, query, topK)
		if err != nil {
			return nil, &SearchError{Op: "fulltext_search", Err: err}
		}
		return chunks, nil

	case ModeHybrid:
		fetchK := 2 * topK

		var vecChunks, ftChunks []papers.Chunk
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			vecChunks, err = s.vectorSearch(gctx, query, fetchK, minScore)
			return err
		})
		g.Go(func() error {
			var err error
			ftChunks, err = s.fulltextSearch(gctx, query, fetchK)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, &SearchError{Op: "hybrid_search", Err: err}
		}

		return fuseRRF([][]papers.Chunk{vecChunks, ftChunks}, topK), nil

	default:
		return nil, &SearchError{Op: "hybrid_search", Err: fmt.Errorf("unsupported mode: %q", mode)}
	}
}

func (s *Service) vectorSearch(ctx context.Context, query string, topK int, minScore float64) ([]papers.Chunk, error) {
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := s.vectors.Search(ctx, s.collection, embedding, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	chunks := make([]papers.Chunk, 0, len(results))
	for _, r := range results {
		if minScore > 0 && float64(r.Score) < minScore {
			continue
		}
		chunks = append(chunks, chunkFromResult(r))
	}
	return chunks, nil
}

// fuseRRF combines ranked lists with Reciprocal Rank Fusion: each chunk
// gains 1/(rank + rrfK) per list it appears in (rank is 1-based).
// Duplicates keep the first-seen metadata. Scores are normalized so the
// top result is exactly 1.0.
func fuseRRF(lists [][]papers.Chunk, topK int) []papers.Chunk {
	type fused struct {
		chunk papers.Chunk
		score float64
	}

	byID := make(map[string]*fused)
	var order []*fused

	for _, list := range lists {
		for rank, chunk := range list {
			f, ok := byID[chunk.ChunkID]
			if !ok {
				f = &fused{chunk: chunk}
				byID[chunk.ChunkID] = f
				order = append(order, f)
			}
			f.score += 1.0 / float64(rank+1+rrfK)
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].score > order[j].score
	})
	if len(order) > topK {
		order = order[:topK]
	}
	if len(order) == 0 {
		return nil
	}

	max := order[0].score
	out := make([]papers.Chunk, len(order))
	for i, f := range order {
		chunk := f.chunk
		chunk.Score = f.score / max
		out[i] = chunk
	}
	return out
}

// chunkFromResult maps a vector hit back to a Chunk. Metadata values
// may be typed (Qdrant) or stringly (chromem), so extraction is lenient.
func chunkFromResult(r vector.Result) papers.Chunk {
	chunk := papers.Chunk{
		ChunkID:       r.ID,
		ArxivID:       metaString(r.Metadata, "arxiv_id"),
		Title:         metaString(r.Metadata, "title"),
		Authors:       metaAuthors(r.Metadata),
		ChunkText:     metaString(r.Metadata, "content"),
		SectionName:   metaString(r.Metadata, "section_name"),
		PageNumber:    metaInt(r.Metadata, "page_number"),
		Score:         float64(r.Score),
		PDFURL:        metaString(r.Metadata, "pdf_url"),
		PublishedDate: metaString(r.Metadata, "published_date"),
	}
	if chunk.ChunkText == "" {
		chunk.ChunkText = r.Content
	}
	return chunk
}

// metaAuthors decodes the JSON-encoded author list written at ingest
// time. Anything unparseable counts as no authors.
func metaAuthors(m map[string]any) []string {
	raw := metaString(m, "authors")
	if raw == "" {
		return nil
	}
	var authors []string
	if err := json.Unmarshal([]byte(raw), &authors); err != nil {
		return nil
	}
	return authors
}

func metaString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

func metaInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
