package papers

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, "sqlite")
	require.NoError(t, err)
	return store
}

func samplePaper() Paper {
	return Paper{
		ArxivID:       "1706.03762",
		Title:         "Attention Is All You Need",
		Authors:       []string{"Vaswani", "Shazeer"},
		Abstract:      "The dominant sequence transduction models...",
		PublishedDate: "2017-06-12",
		PDFURL:        "http://arxiv.org/pdf/1706.03762",
	}
}

func TestStoreIngestRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	paper := samplePaper()

	tx, acquired, err := store.BeginIngest(ctx, paper.ArxivID)
	require.NoError(t, err)
	require.True(t, acquired)

	chunks := []Chunk{
		{ChunkID: "c1", ArxivID: paper.ArxivID, Title: paper.Title, ChunkText: "chunk one", SectionName: "Abstract", PageNumber: 1},
		{ChunkID: "c2", ArxivID: paper.ArxivID, Title: paper.Title, ChunkText: "chunk two", SectionName: "Introduction", PageNumber: 2},
	}
	require.NoError(t, store.FinishIngest(ctx, tx, paper, chunks))

	papers, err := store.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, paper.ArxivID, papers[0].ArxivID)
	assert.Equal(t, paper.Title, papers[0].Title)
	assert.Equal(t, []string{"Vaswani", "Shazeer"}, papers[0].Authors)
	assert.Equal(t, 2, papers[0].ChunkCount)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStoreSkipsAlreadyIngested(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	paper := samplePaper()

	tx, acquired, err := store.BeginIngest(ctx, paper.ArxivID)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NoError(t, store.FinishIngest(ctx, tx, paper, []Chunk{
		{ChunkID: "c1", ArxivID: paper.ArxivID, ChunkText: "chunk"},
	}))

	tx2, acquired2, err := store.BeginIngest(ctx, paper.ArxivID)
	require.NoError(t, err)
	assert.False(t, acquired2)
	assert.Nil(t, tx2)
}

func TestStoreListEmptyAndPlaceholdersHidden(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// A placeholder row with no chunks is invisible to List and Count.
	tx, acquired, err := store.BeginIngest(ctx, "2301.00001")
	require.NoError(t, err)
	require.True(t, acquired)
	require.NoError(t, tx.Rollback())

	papers, err := store.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, papers)
}

func TestStoreRejectsUnknownDialect(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = NewStore(db, "oracle")
	assert.Error(t, err)
}
