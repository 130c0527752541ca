package papers

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"

	"github.com/keplerai/kepler/pkg/config"
)

// Chunker splits extracted pages into token-bounded, section-aware
// chunks. Chunk boundaries prefer paragraph breaks; consecutive chunks
// overlap by a configured number of tokens so context survives the cut.
type Chunker struct {
	encoding *tiktoken.Tiktoken
	target   int
	overlap  int
}

var (
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
	encodingCacheMu sync.Mutex
)

func getEncoding(name string) (*tiktoken.Tiktoken, error) {
	encodingCacheMu.Lock()
	defer encodingCacheMu.Unlock()

	if enc, ok := encodingCache[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %q: %w", name, err)
	}
	encodingCache[name] = enc
	return enc, nil
}

func NewChunker(cfg config.ChunkerConfig) (*Chunker, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunker config: %w", err)
	}

	encoding, err := getEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	return &Chunker{
		encoding: encoding,
		target:   cfg.TargetTokens,
		overlap:  cfg.OverlapTokens,
	}, nil
}

func (c *Chunker) countTokens(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

type paragraph struct {
	text    string
	section string
	page    int
}

// ChunkPaper splits a paper's pages into chunks carrying the paper's
// metadata. Section names come from header detection as pages are
// scanned; a paragraph belongs to the most recent header above it.
func (c *Chunker) ChunkPaper(paper Paper, pages []Page) []Chunk {
	paragraphs := collectParagraphs(pages)
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []Chunk
	var current []paragraph
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, c.buildChunk(paper, current))

		// Seed the next chunk with trailing paragraphs up to the
		// overlap budget.
		var carried []paragraph
		carriedTokens := 0
		for i := len(current) - 1; i >= 0 && carriedTokens < c.overlap; i-- {
			carried = append([]paragraph{current[i]}, carried...)
			carriedTokens += c.countTokens(current[i].text)
		}
		if len(carried) == len(current) {
			// Nothing but overlap; drop it to guarantee progress.
			carried = nil
			carriedTokens = 0
		}
		current = carried
		currentTokens = carriedTokens
	}

	for _, p := range paragraphs {
		tokens := c.countTokens(p.text)

		if currentTokens > 0 && currentTokens+tokens > c.target {
			flush()
		}

		current = append(current, p)
		currentTokens += tokens
	}
	if len(current) > 0 {
		chunks = append(chunks, c.buildChunk(paper, current))
	}

	return chunks
}

func (c *Chunker) buildChunk(paper Paper, parts []paragraph) Chunk {
	texts := make([]string, len(parts))
	for i, p := range parts {
		texts[i] = p.text
	}

	return Chunk{
		ChunkID:       uuid.New().String(),
		ArxivID:       paper.ArxivID,
		Title:         paper.Title,
		Authors:       paper.Authors,
		ChunkText:     strings.Join(texts, "\n\n"),
		SectionName:   parts[0].section,
		PageNumber:    parts[0].page,
		PDFURL:        paper.PDFURL,
		PublishedDate: paper.PublishedDate,
	}
}

func collectParagraphs(pages []Page) []paragraph {
	var out []paragraph
	section := ""

	for _, page := range pages {
		for _, block := range strings.Split(page.Text, "\n\n") {
			block = strings.TrimSpace(block)
			if block == "" {
				continue
			}

			// A header line switches the current section; it is also
			// kept as text so headers remain searchable.
			firstLine := block
			if idx := strings.IndexByte(block, '\n'); idx >= 0 {
				firstLine = block[:idx]
			}
			if s := detectSection(firstLine); s != "" {
				section = s
			}

			out = append(out, paragraph{
				text:    normalizeWhitespace(block),
				section: section,
				page:    page.Number,
			})
		}
	}

	return out
}
