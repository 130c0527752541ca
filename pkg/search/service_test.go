package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keplerai/kepler/pkg/config"
	"github.com/keplerai/kepler/pkg/papers"
	"github.com/keplerai/kepler/pkg/vector"
)

// fixedEmbedder returns the same vector for every input.
type fixedEmbedder struct {
	vec []float32
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

func (f *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fixedEmbedder) Dimension() int    { return len(f.vec) }
func (f *fixedEmbedder) ModelName() string { return "fixed" }
func (f *fixedEmbedder) Close() error      { return nil }

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, mode)

	mode, err = ParseMode("vector")
	require.NoError(t, err)
	assert.Equal(t, ModeVector, mode)

	_, err = ParseMode("semantic")
	assert.Error(t, err)
}

func TestTsQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"multi-head attention", "multi & head & attention"},
		{"What is RLHF?", "what & is & rlhf"},
		{"  ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tsQuery(tt.in))
	}
}

func TestFuseRRFNormalizesAndDedupes(t *testing.T) {
	vecList := []papers.Chunk{
		{ChunkID: "a", Title: "from vector", Score: 0.9},
		{ChunkID: "b", Score: 0.8},
		{ChunkID: "c", Score: 0.7},
	}
	ftList := []papers.Chunk{
		{ChunkID: "d", Score: 3},
		{ChunkID: "a", Title: "from fulltext", Score: 2},
	}

	fused := fuseRRF([][]papers.Chunk{vecList, ftList}, 3)
	require.Len(t, fused, 3)

	// "a" appears in both lists, so it fuses highest.
	assert.Equal(t, "a", fused[0].ChunkID)
	assert.Equal(t, 1.0, fused[0].Score)
	// First-seen metadata wins.
	assert.Equal(t, "from vector", fused[0].Title)

	for _, c := range fused[1:] {
		assert.Greater(t, c.Score, 0.0)
		assert.Less(t, c.Score, 1.0)
	}
}

func TestFuseRRFEmpty(t *testing.T) {
	assert.Nil(t, fuseRRF(nil, 5))
	assert.Nil(t, fuseRRF([][]papers.Chunk{{}, {}}, 5))
}

func newSearchFixture(t *testing.T) *Service {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := papers.NewStore(db, "sqlite")
	require.NoError(t, err)

	vectors, err := vector.NewChromemProvider(config.ChromemConfig{})
	require.NoError(t, err)

	ctx := context.Background()
	paper := papers.Paper{ArxivID: "1706.03762", Title: "Attention Is All You Need", Authors: []string{"Ashish Vaswani", "Noam Shazeer"}}
	chunks := []papers.Chunk{
		{ChunkID: "c1", ArxivID: paper.ArxivID, Title: paper.Title, Authors: paper.Authors, ChunkText: "Multi-head attention allows the model to attend jointly.", SectionName: "Methods", PageNumber: 3},
		{ChunkID: "c2", ArxivID: paper.ArxivID, Title: paper.Title, Authors: paper.Authors, ChunkText: "We describe positional encodings using sine functions.", SectionName: "Methods", PageNumber: 5},
	}

	tx, acquired, err := store.BeginIngest(ctx, paper.ArxivID)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NoError(t, store.FinishIngest(ctx, tx, paper, chunks))

	embedder := &fixedEmbedder{vec: []float32{1, 0, 0}}
	for i, c := range chunks {
		vec := []float32{1, float32(i) * 0.1, 0}
		authors, err := json.Marshal(c.Authors)
		require.NoError(t, err)
		require.NoError(t, vectors.Upsert(ctx, "chunks", c.ChunkID, vec, map[string]any{
			"content":      c.ChunkText,
			"arxiv_id":     c.ArxivID,
			"title":        c.Title,
			"authors":      string(authors),
			"section_name": c.SectionName,
			"page_number":  c.PageNumber,
		}))
	}

	return NewService(embedder, vectors, store, "chunks")
}

func TestFulltextSearchSQLite(t *testing.T) {
	svc := newSearchFixture(t)

	chunks, err := svc.HybridSearch(context.Background(), "multi-head attention", 5, ModeFulltext, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "c1", chunks[0].ChunkID)
	assert.Equal(t, "1706.03762", chunks[0].ArxivID)
	assert.Equal(t, "Methods", chunks[0].SectionName)
	assert.Equal(t, 3, chunks[0].PageNumber)
}

func TestHybridSearchTopScoreIsOne(t *testing.T) {
	svc := newSearchFixture(t)

	chunks, err := svc.HybridSearch(context.Background(), "attention", 5, ModeHybrid, 0)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	assert.Equal(t, 1.0, chunks[0].Score)
	seen := map[string]bool{}
	for _, c := range chunks {
		assert.False(t, seen[c.ChunkID], "duplicate chunk %s", c.ChunkID)
		seen[c.ChunkID] = true
		assert.Greater(t, c.Score, 0.0)
		assert.LessOrEqual(t, c.Score, 1.0)
	}
}

func TestVectorSearchMapsMetadata(t *testing.T) {
	svc := newSearchFixture(t)

	chunks, err := svc.HybridSearch(context.Background(), "anything", 2, ModeVector, 0)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	top := chunks[0]
	assert.Equal(t, "1706.03762", top.ArxivID)
	assert.Equal(t, "Attention Is All You Need", top.Title)
	assert.Equal(t, []string{"Ashish Vaswani", "Noam Shazeer"}, top.Authors)
	assert.NotEmpty(t, top.ChunkText)
	// chromem stores metadata as strings; page numbers still come back as ints.
	assert.NotZero(t, top.PageNumber)
}

func TestVectorAndFulltextAgreeOnAuthors(t *testing.T) {
	svc := newSearchFixture(t)

	viaVector, err := svc.HybridSearch(context.Background(), "positional encodings", 5, ModeVector, 0)
	require.NoError(t, err)
	viaFulltext, err := svc.HybridSearch(context.Background(), "positional encodings", 5, ModeFulltext, 0)
	require.NoError(t, err)
	require.NotEmpty(t, viaVector)
	require.NotEmpty(t, viaFulltext)

	assert.Equal(t, []string{"Ashish Vaswani", "Noam Shazeer"}, viaVector[0].Authors)
	assert.Equal(t, viaFulltext[0].Authors, viaVector[0].Authors)
}

func TestHybridSearchRejectsEmptyQuery(t *testing.T) {
	svc := NewService(nil, nil, nil, "chunks")
	_, err := svc.HybridSearch(context.Background(), "", 5, ModeHybrid, 0)
	require.Error(t, err)

	var searchErr *SearchError
	assert.ErrorAs(t, err, &searchErr)
}
