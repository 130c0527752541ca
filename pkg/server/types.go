package server

import (
	"fmt"

	"github.com/keplerai/kepler/pkg/config"
)

// StreamRequest is the body of POST /stream. Exactly one of Query and
// Resume must be set.
type StreamRequest struct {
	Query     string         `json:"query,omitempty"`
	Resume    *ResumeRequest `json:"resume,omitempty"`
	SessionID string         `json:"session_id,omitempty"`

	config.StreamOptions
}

// ResumeRequest continues a run paused for ingestion approval.
type ResumeRequest struct {
	SessionID   string   `json:"session_id"`
	ThreadID    string   `json:"thread_id"`
	Approved    bool     `json:"approved"`
	SelectedIDs []string `json:"selected_ids,omitempty"`
}

// Validate applies defaults from the agent configuration and enforces
// the documented ranges. Failures surface as 4xx before any streaming.
func (r *StreamRequest) Validate(agent config.AgentConfig) error {
	hasQuery := r.Query != ""
	hasResume := r.Resume != nil
	if hasQuery == hasResume {
		return fmt.Errorf("exactly one of query or resume must be set")
	}
	if hasResume {
		if r.Resume.SessionID == "" {
			return fmt.Errorf("resume.session_id is required")
		}
		if r.Resume.ThreadID == "" {
			return fmt.Errorf("resume.thread_id is required")
		}
	}

	r.StreamOptions.ApplyDefaults(agent)
	return r.StreamOptions.Validate()
}
