// Package papers covers the paper lifecycle: registry search, PDF text
// extraction, chunking, and ingestion into the SQL and vector stores.
package papers

import "time"

// Paper is registry metadata for one paper.
type Paper struct {
	ArxivID       string   `json:"arxiv_id"`
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	Abstract      string   `json:"abstract"`
	Categories    []string `json:"categories,omitempty"`
	PublishedDate string   `json:"published_date,omitempty"`
	PDFURL        string   `json:"pdf_url"`
}

// Chunk is the unit of retrieval: a slice of a paper with its metadata
// and, after search, a relevance score.
type Chunk struct {
	ChunkID       string   `json:"chunk_id"`
	ArxivID       string   `json:"arxiv_id"`
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	ChunkText     string   `json:"chunk_text"`
	SectionName   string   `json:"section_name,omitempty"`
	PageNumber    int      `json:"page_number,omitempty"`
	Score         float64  `json:"score"`
	PDFURL        string   `json:"pdf_url,omitempty"`
	PublishedDate string   `json:"published_date,omitempty"`
}

// Page is one page of extracted PDF text.
type Page struct {
	Number int
	Text   string
}

// IngestReport summarizes one ingestion run.
type IngestReport struct {
	PapersProcessed int      `json:"papers_processed"`
	ChunksCreated   int      `json:"chunks_created"`
	DurationSeconds float64  `json:"duration_seconds"`
	Errors          []string `json:"errors"`
}

// StoredPaper is a row in the papers table.
type StoredPaper struct {
	ArxivID       string    `json:"arxiv_id"`
	Title         string    `json:"title"`
	Authors       []string  `json:"authors"`
	Abstract      string    `json:"abstract,omitempty"`
	PublishedDate string    `json:"published_date,omitempty"`
	PDFURL        string    `json:"pdf_url,omitempty"`
	ChunkCount    int       `json:"chunk_count"`
	IngestedAt    time.Time `json:"ingested_at"`
}
