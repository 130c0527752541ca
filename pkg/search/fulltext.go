package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/keplerai/kepler/pkg/papers"
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// tsQuery turns free text into a conjunctive lexical expression:
// lowercased alphanumeric tokens joined by " & ".
func tsQuery(query string) string {
	tokens := tokenPattern.FindAllString(strings.ToLower(query), -1)
	return strings.Join(tokens, " & ")
}

const fulltextPostgresSQL = `
SELECT chunk_id, arxiv_id, title, authors, chunk_text, section_name, page_number, pdf_url, published_date,
       ts_rank(to_tsvector('english', chunk_text), query) AS rank
FROM paper_chunks, to_tsquery('english', $1) AS query
WHERE to_tsvector('english', chunk_text) @@ query
ORDER BY rank DESC
LIMIT $2`

// fulltextSearch runs the lexical side of hybrid retrieval against the
// paper_chunks table. Postgres uses the GIN tsvector index; other
// dialects fall back to a LIKE conjunction scored by occurrence count,
// which is good enough for development and tests.
func (s *Service) fulltextSearch(ctx context.Context, query string, topK int) ([]papers.Chunk, error) {
	expr := tsQuery(query)
	if expr == "" {
		return nil, nil
	}

	if s.store.Dialect() == "postgres" {
		rows, err := s.store.DB().QueryContext(ctx, fulltextPostgresSQL, expr, topK)
		if err != nil {
			return nil, fmt.Errorf("fulltext query failed: %w", err)
		}
		defer rows.Close()
		return scanChunks(rows, topK)
	}

	return s.fulltextLike(ctx, expr, topK)
}

func (s *Service) fulltextLike(ctx context.Context, expr string, topK int) ([]papers.Chunk, error) {
	tokens := strings.Split(expr, " & ")

	var b strings.Builder
	b.WriteString(`
SELECT chunk_id, arxiv_id, title, authors, chunk_text, section_name, page_number, pdf_url, published_date, 0
FROM paper_chunks
WHERE 1=1`)
	args := make([]any, 0, len(tokens)+1)
	for _, token := range tokens {
		b.WriteString(" AND LOWER(chunk_text) LIKE ?")
		args = append(args, "%"+token+"%")
	}
	// Overfetch so Go-side scoring has candidates to rank.
	b.WriteString(" LIMIT ?")
	args = append(args, 5*topK)

	rows, err := s.store.DB().QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("fulltext query failed: %w", err)
	}
	defer rows.Close()

	chunks, err := scanChunks(rows, 0)
	if err != nil {
		return nil, err
	}

	for i := range chunks {
		text := strings.ToLower(chunks[i].ChunkText)
		count := 0
		for _, token := range tokens {
			count += strings.Count(text, token)
		}
		chunks[i].Score = float64(count)
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	return chunks, nil
}

func scanChunks(rows *sql.Rows, limit int) ([]papers.Chunk, error) {
	var chunks []papers.Chunk
	for rows.Next() {
		var c papers.Chunk
		var authors, section, pdfURL, published sql.NullString
		var page sql.NullInt64
		if err := rows.Scan(&c.ChunkID, &c.ArxivID, &c.Title, &authors, &c.ChunkText,
			&section, &page, &pdfURL, &published, &c.Score); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		if authors.Valid && authors.String != "" {
			if err := json.Unmarshal([]byte(authors.String), &c.Authors); err != nil {
				return nil, fmt.Errorf("failed to decode authors for chunk %s: %w", c.ChunkID, err)
			}
		}
		c.SectionName = section.String
		c.PageNumber = int(page.Int64)
		c.PDFURL = pdfURL.String
		c.PublishedDate = published.String
		chunks = append(chunks, c)

		if limit > 0 && len(chunks) >= limit {
			break
		}
	}
	return chunks, rows.Err()
}
