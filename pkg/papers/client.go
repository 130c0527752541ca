package papers

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/keplerai/kepler/pkg/config"
	"github.com/keplerai/kepler/pkg/httpclient"
)

// pagedDelay is the politeness delay between paged registry calls,
// per the arXiv API usage guidelines.
const pagedDelay = 3 * time.Second

// pageSize is the maximum results fetched per registry call.
const pageSize = 100

// Client queries an arXiv-compatible paper registry over its Atom API.
type Client struct {
	baseURL    string
	maxResults int
	httpClient *httpclient.Client
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Href  string `xml:"href,attr"`
		Title string `xml:"title,attr"`
		Type  string `xml:"type,attr"`
	} `xml:"link"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
}

func NewClient(cfg config.RegistryConfig) *Client {
	httpClient := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithHeaderParser(httpclient.ParseRetryAfterHeader),
	)

	return &Client{
		baseURL:    cfg.BaseURL,
		maxResults: cfg.MaxResults,
		httpClient: httpClient,
	}
}

// Search queries the registry by free text. maxResults <= 0 uses the
// configured default.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Paper, error) {
	if maxResults <= 0 {
		maxResults = c.maxResults
	}

	var papers []Paper
	for start := 0; start < maxResults; start += pageSize {
		if start > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(pagedDelay):
			}
		}

		limit := maxResults - start
		if limit > pageSize {
			limit = pageSize
		}

		params := url.Values{}
		params.Set("search_query", "all:"+query)
		params.Set("start", fmt.Sprint(start))
		params.Set("max_results", fmt.Sprint(limit))
		params.Set("sortBy", "relevance")

		page, err := c.fetch(ctx, params)
		if err != nil {
			return nil, err
		}
		papers = append(papers, page...)

		if len(page) < limit {
			break
		}
	}

	return papers, nil
}

// FetchByIDs looks up papers by their registry identifiers.
func (c *Client) FetchByIDs(ctx context.Context, ids []string) ([]Paper, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("id_list", strings.Join(ids, ","))
	params.Set("max_results", fmt.Sprint(len(ids)))

	return c.fetch(ctx, params)
}

func (c *Client) fetch(ctx context.Context, params url.Values) ([]Paper, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("registry request failed: %w", err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry response: %w", err)
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to parse registry feed: %w", err)
	}

	papers := make([]Paper, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		papers = append(papers, entryToPaper(entry))
	}

	return papers, nil
}

func entryToPaper(entry atomEntry) Paper {
	paper := Paper{
		ArxivID:  arxivIDFromURL(entry.ID),
		Title:    normalizeWhitespace(entry.Title),
		Abstract: normalizeWhitespace(entry.Summary),
	}

	for _, a := range entry.Authors {
		paper.Authors = append(paper.Authors, a.Name)
	}
	for _, c := range entry.Categories {
		paper.Categories = append(paper.Categories, c.Term)
	}
	for _, l := range entry.Links {
		if l.Title == "pdf" || l.Type == "application/pdf" {
			paper.PDFURL = l.Href
			break
		}
	}
	if paper.PDFURL == "" && paper.ArxivID != "" {
		paper.PDFURL = "https://arxiv.org/pdf/" + paper.ArxivID
	}

	if t, err := time.Parse(time.RFC3339, entry.Published); err == nil {
		paper.PublishedDate = t.Format("2006-01-02")
	}

	return paper
}

// arxivIDFromURL extracts the bare identifier from an Atom entry ID like
// "http://arxiv.org/abs/1706.03762v5", dropping the version suffix.
func arxivIDFromURL(entryID string) string {
	id := entryID
	if idx := strings.LastIndex(id, "/abs/"); idx >= 0 {
		id = id[idx+len("/abs/"):]
	}
	if idx := strings.LastIndex(id, "v"); idx > 0 {
		version := id[idx+1:]
		if version != "" && strings.IndexFunc(version, func(r rune) bool { return r < '0' || r > '9' }) < 0 {
			id = id[:idx]
		}
	}
	return id
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
