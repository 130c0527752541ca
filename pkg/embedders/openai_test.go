package embedders

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keplerai/kepler/pkg/config"
)

func newTestEmbedder(t *testing.T, url string, batchSize int) *OpenAIEmbedder {
	t.Helper()
	e, err := NewOpenAIEmbedder(config.EmbedderConfig{
		Type:      "openai",
		APIKey:    "test-key",
		Host:      url,
		BatchSize: batchSize,
	})
	require.NoError(t, err)
	return e
}

func TestOpenAIEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIEmbedRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		require.Len(t, req.Input, 1)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"embedding": []float32{0.1, 0.2, 0.3}, "index": 0},
			},
		})
	}))
	defer srv.Close()

	e := newTestEmbedder(t, srv.URL, 0)

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestOpenAIEmbedBatchSplitsAndOrders(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++

		var req openAIEmbedRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))

		// Return embeddings out of order; the client must reorder by index.
		data := make([]map[string]interface{}, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]interface{}{
				"embedding": []float32{float32(i)},
				"index":     i,
			})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
	defer srv.Close()

	e := newTestEmbedder(t, srv.URL, 2)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []float32{0}, vecs[0])
	assert.Equal(t, []float32{1}, vecs[1])
	assert.Equal(t, []float32{0}, vecs[2])
}

func TestOpenAIEmbedAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"message": "invalid input", "type": "invalid_request_error"},
		})
	}))
	defer srv.Close()

	e := newTestEmbedder(t, srv.URL, 0)

	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid input")
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(config.EmbedderConfig{Type: "openai"})
	assert.Error(t, err)

	_, err = New(config.EmbedderConfig{Type: "cohere"})
	assert.Error(t, err)
}
