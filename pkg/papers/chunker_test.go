package papers

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keplerai/kepler/pkg/config"
)

func testChunker(t *testing.T, target, overlap int) *Chunker {
	t.Helper()
	c, err := NewChunker(config.ChunkerConfig{
		TargetTokens:  target,
		OverlapTokens: overlap,
	})
	require.NoError(t, err)
	return c
}

func TestChunkPaperCarriesMetadata(t *testing.T) {
	c := testChunker(t, 512, 64)

	paper := Paper{
		ArxivID:       "1706.03762",
		Title:         "Attention Is All You Need",
		Authors:       []string{"Vaswani"},
		PDFURL:        "http://arxiv.org/pdf/1706.03762",
		PublishedDate: "2017-06-12",
	}
	pages := []Page{{Number: 1, Text: "Abstract\n\nThe dominant sequence transduction models are based on recurrent networks."}}

	chunks := c.ChunkPaper(paper, pages)
	require.Len(t, chunks, 1)

	chunk := chunks[0]
	assert.NotEmpty(t, chunk.ChunkID)
	assert.Equal(t, "1706.03762", chunk.ArxivID)
	assert.Equal(t, "Attention Is All You Need", chunk.Title)
	assert.Equal(t, "Abstract", chunk.SectionName)
	assert.Equal(t, 1, chunk.PageNumber)
	assert.Contains(t, chunk.ChunkText, "sequence transduction")
}

func TestChunkPaperSplitsOnTokenBudget(t *testing.T) {
	c := testChunker(t, 50, 10)

	var blocks []string
	for i := 0; i < 10; i++ {
		blocks = append(blocks, fmt.Sprintf("Paragraph %d with a reasonable amount of text to fill the token budget of the chunker.", i))
	}
	pages := []Page{{Number: 1, Text: strings.Join(blocks, "\n\n")}}

	chunks := c.ChunkPaper(Paper{ArxivID: "x"}, pages)
	require.Greater(t, len(chunks), 1)

	// Every paragraph appears somewhere.
	all := ""
	for _, chunk := range chunks {
		all += chunk.ChunkText + "\n"
	}
	for i := 0; i < 10; i++ {
		assert.Contains(t, all, fmt.Sprintf("Paragraph %d ", i))
	}
}

func TestChunkPaperSectionTracking(t *testing.T) {
	pages := []Page{
		{Number: 1, Text: "Introduction\n\nFirst part."},
		{Number: 2, Text: "Second part continues the introduction.\n\n3. Methods\n\nWe train a model."},
	}

	paragraphs := collectParagraphs(pages)
	require.Len(t, paragraphs, 5)
	assert.Equal(t, "Introduction", paragraphs[0].section)
	assert.Equal(t, "Introduction", paragraphs[2].section)
	assert.Equal(t, "Methods", paragraphs[3].section)
	assert.Equal(t, "Methods", paragraphs[4].section)
	assert.Equal(t, 2, paragraphs[4].page)
}

func TestChunkPaperEmpty(t *testing.T) {
	c := testChunker(t, 512, 64)
	assert.Nil(t, c.ChunkPaper(Paper{}, nil))
	assert.Nil(t, c.ChunkPaper(Paper{}, []Page{{Number: 1, Text: "   \n\n  "}}))
}

func TestDetectSection(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"Abstract", "Abstract"},
		{"1 Introduction", "Introduction"},
		{"3. Methods", "Methods"},
		{"7 Conclusions", "Conclusion"},
		{"References", "References"},
		{"ordinary sentence about methods and results in running text that is too long to be a header", ""},
		{"The results of this study", ""},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, detectSection(tt.line))
		})
	}
}
