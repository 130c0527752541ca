package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/keplerai/kepler/pkg/observability"
)

// EventSink receives stream events. The stream service emits through a
// sink so tests can capture events without HTTP plumbing.
type EventSink func(event string, payload any) error

// SSEWriter frames events for a text/event-stream response, flushing
// after every event so tokens reach the client as they are produced.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	metrics *observability.Metrics
}

// NewSSEWriter sets the streaming headers and returns the writer. The
// response writer must support flushing.
func NewSSEWriter(w http.ResponseWriter, metrics *observability.Metrics) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	// Disables proxy buffering (nginx) that would defeat streaming.
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher, metrics: metrics}, nil
}

// Send frames one event as `event: <name>\ndata: <json>\n\n`.
func (s *SSEWriter) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("client disconnected: %w", err)
	}
	s.flusher.Flush()
	if s.metrics != nil {
		s.metrics.EventSent(event)
	}
	return nil
}

// Sink adapts the writer to the stream service's sink interface.
func (s *SSEWriter) Sink() EventSink {
	return s.Send
}
