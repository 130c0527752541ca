package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noFlushWriter struct {
	http.ResponseWriter
}

func TestSSEWriterHeadersAndFraming(t *testing.T) {
	rec := httptest.NewRecorder()

	sse, err := NewSSEWriter(rec, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	require.NoError(t, sse.Send(EventStatus, StatusPayload{Step: "classify_and_route", Message: "Classifying your question"}))
	require.NoError(t, sse.Send(EventDone, map[string]any{}))

	body := rec.Body.String()
	assert.Contains(t, body, "event: status\ndata: ")
	assert.Contains(t, body, `"step":"classify_and_route"`)
	assert.Contains(t, body, "event: done\ndata: {}\n\n")
}

func TestSSEWriterRequiresFlusher(t *testing.T) {
	rec := httptest.NewRecorder()

	_, err := NewSSEWriter(noFlushWriter{rec}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "streaming")
}

func TestSSEWriterRejectsUnencodablePayload(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := NewSSEWriter(rec, nil)
	require.NoError(t, err)

	err = sse.Send(EventMetadata, map[string]any{"bad": make(chan int)})
	require.Error(t, err)
}
