// Package server exposes the service over HTTP: an SSE stream endpoint
// driving the agent, conversation management, cancellation, and health.
package server

import "github.com/keplerai/kepler/pkg/store"

// SSE event names of the external stream contract.
const (
	EventStatus         = "status"
	EventContent        = "content"
	EventSources        = "sources"
	EventMetadata       = "metadata"
	EventError          = "error"
	EventCitations      = "citations"
	EventConfirmIngest  = "confirm_ingest"
	EventIngestComplete = "ingest_complete"
	EventDone           = "done"
)

// In-band error codes.
const (
	CodeCheckpointExpired = "CHECKPOINT_EXPIRED"
	CodeDoubleConfirm     = "DOUBLE_CONFIRM"
	CodeTimeout           = "TIMEOUT"
)

// StatusPayload narrates progress through the agent's nodes.
type StatusPayload struct {
	Step    string         `json:"step"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ContentPayload carries one answer token.
type ContentPayload struct {
	Token string `json:"token"`
}

// SourcesPayload lists the papers backing the upcoming answer.
type SourcesPayload struct {
	Sources []store.SourceInfo `json:"sources"`
}

// MetadataPayload is the turn summary emitted before done.
type MetadataPayload struct {
	Query           string   `json:"query"`
	ExecutionTimeMS int64    `json:"execution_time_ms"`
	RetrievalAttempts int    `json:"retrieval_attempts"`
	RewrittenQuery  *string  `json:"rewritten_query,omitempty"`
	GuardrailScore  *int     `json:"guardrail_score,omitempty"`
	Provider        string   `json:"provider"`
	Model           string   `json:"model"`
	SessionID       string   `json:"session_id,omitempty"`
	TurnNumber      int      `json:"turn_number"`
	ReasoningSteps  []string `json:"reasoning_steps"`
	TraceID         string   `json:"trace_id,omitempty"`
}

// ErrorPayload is an in-band stream error. Code is set for the cases
// clients are expected to branch on.
type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ConfirmIngestPayload asks the user to approve ingesting papers.
type ConfirmIngestPayload struct {
	Papers    []ConfirmPaper `json:"papers"`
	SessionID string         `json:"session_id"`
	ThreadID  string         `json:"thread_id"`
}

// ConfirmPaper is the display form of an ingest candidate.
type ConfirmPaper struct {
	ArxivID       string   `json:"arxiv_id"`
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	Abstract      string   `json:"abstract"`
	PublishedDate string   `json:"published_date,omitempty"`
	PDFURL        string   `json:"pdf_url"`
}

// IngestCompletePayload reports the inline ingestion on resume.
type IngestCompletePayload struct {
	PapersProcessed int      `json:"papers_processed"`
	ChunksCreated   int      `json:"chunks_created"`
	DurationSeconds float64  `json:"duration_seconds"`
	Errors          []string `json:"errors"`
}
