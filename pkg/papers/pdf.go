package papers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/keplerai/kepler/pkg/httpclient"
)

// maxPDFBytes caps how much of a PDF is downloaded. Papers beyond this
// are almost certainly scans or appendix-heavy; refuse rather than OOM.
const maxPDFBytes = 50 << 20

// Extractor downloads paper PDFs and extracts per-page text.
type Extractor struct {
	httpClient *httpclient.Client
}

func NewExtractor() *Extractor {
	return &Extractor{
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 120 * time.Second}),
			httpclient.WithMaxRetries(3),
			httpclient.WithHeaderParser(httpclient.ParseRetryAfterHeader),
		),
	}
}

// Extract downloads the PDF at url and returns its pages in order.
func (e *Extractor) Extract(ctx context.Context, url string) ([]Page, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("PDF download failed: %w", err)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF body: %w", err)
	}
	if len(data) > maxPDFBytes {
		return nil, fmt.Errorf("PDF exceeds %d byte limit", maxPDFBytes)
	}

	return extractPages(data)
}

func extractPages(data []byte) ([]Page, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	pages := make([]Page, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the paper.
			continue
		}

		pages = append(pages, Page{Number: i, Text: text})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("no extractable text in PDF")
	}

	return pages, nil
}

// Common scientific paper section headers, matched at line granularity.
var sectionHeaderPattern = regexp.MustCompile(`(?i)^\s*(?:\d+\.?\s+)?(abstract|introduction|background|related work|methods?|methodology|approach|experiments?|results|evaluation|discussion|limitations|conclusions?|acknowledg(?:e)?ments|references|appendix)\b`)

// detectSection returns the canonical section name when line looks like a
// section header, or "" otherwise.
func detectSection(line string) string {
	m := sectionHeaderPattern.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	// Headers are short; a match inside running text is not a header.
	if len(line) > 60 {
		return ""
	}
	return normalizeSection(m[1])
}

var canonicalSections = map[string]string{
	"abstract":         "Abstract",
	"introduction":     "Introduction",
	"background":       "Background",
	"related work":     "Related Work",
	"method":           "Methods",
	"methods":          "Methods",
	"methodology":      "Methods",
	"approach":         "Approach",
	"experiment":       "Experiments",
	"experiments":      "Experiments",
	"results":          "Results",
	"evaluation":       "Evaluation",
	"discussion":       "Discussion",
	"limitations":      "Limitations",
	"conclusion":       "Conclusion",
	"conclusions":      "Conclusion",
	"acknowledgments":  "Acknowledgments",
	"acknowledgements": "Acknowledgments",
	"references":       "References",
	"appendix":         "Appendix",
}

func normalizeSection(name string) string {
	if canonical, ok := canonicalSections[strings.ToLower(name)]; ok {
		return canonical
	}
	return name
}
