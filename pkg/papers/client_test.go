package papers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keplerai/kepler/pkg/config"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v5</id>
    <title>Attention Is All
  You Need</title>
    <summary>The dominant sequence transduction models...</summary>
    <published>2017-06-12T17:57:34Z</published>
    <author><name>Ashish Vaswani</name></author>
    <author><name>Noam Shazeer</name></author>
    <link href="http://arxiv.org/abs/1706.03762v5" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/1706.03762v5" rel="related" type="application/pdf"/>
    <category term="cs.CL"/>
  </entry>
</feed>`

func TestClientSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all:attention", r.URL.Query().Get("search_query"))
		assert.Equal(t, "0", r.URL.Query().Get("start"))
		fmt.Fprint(w, sampleFeed)
	}))
	defer srv.Close()

	c := NewClient(config.RegistryConfig{BaseURL: srv.URL, MaxResults: 10, Timeout: 5})

	papers, err := c.Search(context.Background(), "attention", 10)
	require.NoError(t, err)
	require.Len(t, papers, 1)

	p := papers[0]
	assert.Equal(t, "1706.03762", p.ArxivID)
	assert.Equal(t, "Attention Is All You Need", p.Title)
	assert.Equal(t, []string{"Ashish Vaswani", "Noam Shazeer"}, p.Authors)
	assert.Equal(t, "2017-06-12", p.PublishedDate)
	assert.Equal(t, "http://arxiv.org/pdf/1706.03762v5", p.PDFURL)
	assert.Equal(t, []string{"cs.CL"}, p.Categories)
}

func TestClientFetchByIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1706.03762,1512.03385", r.URL.Query().Get("id_list"))
		fmt.Fprint(w, sampleFeed)
	}))
	defer srv.Close()

	c := NewClient(config.RegistryConfig{BaseURL: srv.URL, Timeout: 5})

	papers, err := c.FetchByIDs(context.Background(), []string{"1706.03762", "1512.03385"})
	require.NoError(t, err)
	assert.Len(t, papers, 1)

	empty, err := c.FetchByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestArxivIDFromURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://arxiv.org/abs/1706.03762v5", "1706.03762"},
		{"http://arxiv.org/abs/1706.03762", "1706.03762"},
		{"http://arxiv.org/abs/hep-th/9901001v2", "hep-th/9901001"},
		{"2301.00001v12", "2301.00001"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, arxivIDFromURL(tt.in))
		})
	}
}
