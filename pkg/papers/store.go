package papers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Store persists paper metadata and chunk text in SQL. Chunk text lives
// here as well as in the vector store because the fulltext side of
// hybrid search runs against these rows.
type Store struct {
	db      *sql.DB
	dialect string
}

const createPapersTableSQL = `
CREATE TABLE IF NOT EXISTS papers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    arxiv_id VARCHAR(64) NOT NULL UNIQUE,
    title TEXT NOT NULL,
    authors TEXT,
    abstract TEXT,
    published_date VARCHAR(32),
    pdf_url TEXT,
    chunk_count INTEGER NOT NULL DEFAULT 0,
    ingested_at TIMESTAMP
);
`

const createChunksTableSQL = `
CREATE TABLE IF NOT EXISTS paper_chunks (
    chunk_id VARCHAR(64) PRIMARY KEY,
    arxiv_id VARCHAR(64) NOT NULL,
    title TEXT,
    authors TEXT,
    chunk_text TEXT NOT NULL,
    section_name VARCHAR(128),
    page_number INTEGER,
    pdf_url TEXT,
    published_date VARCHAR(32),
    FOREIGN KEY (arxiv_id) REFERENCES papers(arxiv_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_chunks_arxiv_id ON paper_chunks(arxiv_id);
`

const createPapersTablePostgresSQL = `
CREATE TABLE IF NOT EXISTS papers (
    id SERIAL PRIMARY KEY,
    arxiv_id VARCHAR(64) NOT NULL UNIQUE,
    title TEXT NOT NULL,
    authors TEXT,
    abstract TEXT,
    published_date VARCHAR(32),
    pdf_url TEXT,
    chunk_count INTEGER NOT NULL DEFAULT 0,
    ingested_at TIMESTAMP
);
`

const createChunksIndexPostgresSQL = `
CREATE INDEX IF NOT EXISTS idx_chunks_tsv ON paper_chunks
    USING GIN (to_tsvector('english', chunk_text));
`

func NewStore(db *sql.DB, dialect string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize papers schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	papersSQL := createPapersTableSQL
	if s.dialect == "postgres" {
		papersSQL = createPapersTablePostgresSQL
	} else if s.dialect == "mysql" {
		papersSQL = strings.Replace(createPapersTableSQL,
			"INTEGER PRIMARY KEY AUTOINCREMENT", "BIGINT PRIMARY KEY AUTO_INCREMENT", 1)
	}

	if _, err := s.db.ExecContext(ctx, papersSQL); err != nil {
		return fmt.Errorf("failed to create papers table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createChunksTableSQL); err != nil {
		return fmt.Errorf("failed to create paper_chunks table: %w", err)
	}
	if s.dialect == "postgres" {
		if _, err := s.db.ExecContext(ctx, createChunksIndexPostgresSQL); err != nil {
			return fmt.Errorf("failed to create fulltext index: %w", err)
		}
	}

	return nil
}

// q rewrites ? placeholders to $n for postgres.
func (s *Store) q(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DB exposes the underlying handle for collaborators that share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Dialect() string {
	return s.dialect
}

// BeginIngest opens a transaction and takes the per-paper ingest lock.
// It inserts a placeholder row when the paper is new, then locks it with
// FOR UPDATE SKIP LOCKED where the dialect supports it. acquired=false
// means another worker holds the row or the paper is already ingested;
// callers skip silently.
func (s *Store) BeginIngest(ctx context.Context, arxivID string) (tx *sql.Tx, acquired bool, err error) {
	tx, err = s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	txn := tx
	defer func() {
		if err != nil || !acquired {
			_ = txn.Rollback()
			tx = nil
		}
	}()

	insertSQL := s.q(`INSERT INTO papers (arxiv_id, title, chunk_count) VALUES (?, '', 0) ON CONFLICT (arxiv_id) DO NOTHING`)
	if s.dialect == "mysql" {
		insertSQL = `INSERT IGNORE INTO papers (arxiv_id, title, chunk_count) VALUES (?, '', 0)`
	}
	if _, err = tx.ExecContext(ctx, insertSQL, arxivID); err != nil {
		return nil, false, fmt.Errorf("failed to insert paper row: %w", err)
	}

	lockSQL := s.q(`SELECT chunk_count FROM papers WHERE arxiv_id = ?`)
	if s.dialect != "sqlite" {
		lockSQL += " FOR UPDATE SKIP LOCKED"
	}

	var chunkCount int
	scanErr := tx.QueryRowContext(ctx, lockSQL, arxivID).Scan(&chunkCount)
	if scanErr == sql.ErrNoRows {
		// Row exists but is locked by a concurrent ingest.
		return nil, false, nil
	}
	if scanErr != nil {
		err = fmt.Errorf("failed to lock paper row: %w", scanErr)
		return nil, false, err
	}
	if chunkCount > 0 {
		// Already ingested.
		return nil, false, nil
	}

	acquired = true
	return tx, true, nil
}

// FinishIngest writes the paper metadata and its chunks inside the
// ingest transaction and commits.
func (s *Store) FinishIngest(ctx context.Context, tx *sql.Tx, paper Paper, chunks []Chunk) error {
	authorsJSON, err := json.Marshal(paper.Authors)
	if err != nil {
		return fmt.Errorf("failed to marshal authors: %w", err)
	}

	updateSQL := s.q(`
UPDATE papers
SET title = ?, authors = ?, abstract = ?, published_date = ?, pdf_url = ?, chunk_count = ?, ingested_at = ?
WHERE arxiv_id = ?`)
	if _, err := tx.ExecContext(ctx, updateSQL,
		paper.Title, string(authorsJSON), paper.Abstract, paper.PublishedDate,
		paper.PDFURL, len(chunks), time.Now().UTC(), paper.ArxivID,
	); err != nil {
		return fmt.Errorf("failed to update paper row: %w", err)
	}

	insertSQL := s.q(`
INSERT INTO paper_chunks (chunk_id, arxiv_id, title, authors, chunk_text, section_name, page_number, pdf_url, published_date)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, chunk := range chunks {
		chunkAuthors, err := json.Marshal(chunk.Authors)
		if err != nil {
			return fmt.Errorf("failed to marshal chunk authors: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insertSQL,
			chunk.ChunkID, chunk.ArxivID, chunk.Title, string(chunkAuthors),
			chunk.ChunkText, chunk.SectionName, chunk.PageNumber,
			chunk.PDFURL, chunk.PublishedDate,
		); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", chunk.ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ingest: %w", err)
	}
	return nil
}

// List returns ingested papers ordered by ingestion time, newest first.
func (s *Store) List(ctx context.Context, offset, limit int) ([]StoredPaper, error) {
	if limit <= 0 {
		limit = 50
	}

	query := s.q(`
SELECT arxiv_id, title, authors, abstract, published_date, pdf_url, chunk_count, ingested_at
FROM papers
WHERE chunk_count > 0
ORDER BY ingested_at DESC
LIMIT ? OFFSET ?`)

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list papers: %w", err)
	}
	defer rows.Close()

	var papers []StoredPaper
	for rows.Next() {
		var p StoredPaper
		var authors, abstract, published, pdfURL sql.NullString
		var ingestedAt sql.NullTime
		if err := rows.Scan(&p.ArxivID, &p.Title, &authors, &abstract, &published, &pdfURL, &p.ChunkCount, &ingestedAt); err != nil {
			return nil, fmt.Errorf("failed to scan paper row: %w", err)
		}
		if authors.Valid && authors.String != "" {
			if err := json.Unmarshal([]byte(authors.String), &p.Authors); err != nil {
				return nil, fmt.Errorf("failed to decode authors for %s: %w", p.ArxivID, err)
			}
		}
		p.Abstract = abstract.String
		p.PublishedDate = published.String
		p.PDFURL = pdfURL.String
		if ingestedAt.Valid {
			p.IngestedAt = ingestedAt.Time
		}
		papers = append(papers, p)
	}

	return papers, rows.Err()
}

// Count returns how many papers have been ingested.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM papers WHERE chunk_count > 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count papers: %w", err)
	}
	return count, nil
}
