// Package store persists conversations and their turns in SQL
// (postgres, mysql or sqlite). Turns are append-only; the only
// in-place update is filling a pending human-in-the-loop turn.
package store

import (
	"time"

	"github.com/keplerai/kepler/pkg/papers"
)

// Conversation is one session's turn log.
type Conversation struct {
	ID        int64     `json:"-"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"-"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count"`
	Turns     []Turn    `json:"turns,omitempty"`
}

// Turn is one request-response pair within a session. TurnNumber is
// unique and contiguous per session, starting at 0.
type Turn struct {
	ID                  int64                `json:"-"`
	TurnNumber          int                  `json:"turn_number"`
	UserQuery           string               `json:"user_query"`
	AgentResponse       string               `json:"agent_response"`
	Provider            string               `json:"provider,omitempty"`
	Model               string               `json:"model,omitempty"`
	GuardrailScore      *int                 `json:"guardrail_score,omitempty"`
	RetrievalAttempts   int                  `json:"retrieval_attempts"`
	RewrittenQuery      *string              `json:"rewritten_query,omitempty"`
	Sources             []SourceInfo         `json:"sources,omitempty"`
	ReasoningSteps      []string             `json:"reasoning_steps,omitempty"`
	ThinkingSteps       []string             `json:"thinking_steps,omitempty"`
	Citations           *Citations           `json:"citations,omitempty"`
	PendingConfirmation *PendingConfirmation `json:"pending_confirmation,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
}

// SourceInfo is the per-paper provenance attached to an answered turn.
type SourceInfo struct {
	ArxivID           string   `json:"arxiv_id"`
	Title             string   `json:"title"`
	Authors           []string `json:"authors,omitempty"`
	PDFURL            string   `json:"pdf_url,omitempty"`
	RelevanceScore    float64  `json:"relevance_score"`
	PublishedDate     string   `json:"published_date,omitempty"`
	WasGradedRelevant bool     `json:"was_graded_relevant"`
}

// Citations summarizes the references extracted for one cited paper.
type Citations struct {
	ArxivID        string   `json:"arxiv_id"`
	Title          string   `json:"title"`
	References     []string `json:"references"`
	ReferenceCount int      `json:"reference_count"`
}

// PendingConfirmation is the snapshot stored when an agent run pauses
// for ingestion approval. It carries everything needed to resume the
// run from a separate HTTP request.
type PendingConfirmation struct {
	Papers      []papers.Paper `json:"papers"`
	Model       string         `json:"model"`
	Temperature float64        `json:"temperature"`
	ThreadID    string         `json:"thread_id"`
}

// TurnCompletion carries the fields written when a pending turn is
// filled after ingestion approval. Nil optional fields are left
// untouched in the stored row.
type TurnCompletion struct {
	AgentResponse  string
	ThinkingSteps  []string
	Sources        []SourceInfo
	ReasoningSteps []string
	Citations      *Citations
}
