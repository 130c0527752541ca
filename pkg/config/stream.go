package config

import "fmt"

// StreamOptions are the per-request tunables of a stream request. Zero
// values mean "use the configured default"; ApplyDefaults resolves them
// against an AgentConfig before validation.
type StreamOptions struct {
	Provider             string  `json:"provider,omitempty"`
	Model                string  `json:"model,omitempty"`
	TopK                 int     `json:"top_k,omitempty"`
	GuardrailThreshold   int     `json:"guardrail_threshold,omitempty"`
	MaxRetrievalAttempts int     `json:"max_retrieval_attempts,omitempty"`
	MaxIterations        int     `json:"max_iterations,omitempty"`
	Temperature          float64 `json:"temperature,omitempty"`
	TimeoutSeconds       int     `json:"timeout_seconds,omitempty"`
	ConversationWindow   int     `json:"conversation_window,omitempty"`
}

// ApplyDefaults fills unset options from the agent configuration.
func (o *StreamOptions) ApplyDefaults(agent AgentConfig) {
	if o.Provider == "" {
		o.Provider = agent.DefaultProvider
	}
	if o.TopK == 0 {
		o.TopK = agent.TopK
	}
	if o.GuardrailThreshold == 0 {
		o.GuardrailThreshold = agent.GuardrailThreshold
	}
	if o.MaxRetrievalAttempts == 0 {
		o.MaxRetrievalAttempts = agent.MaxRetrievalAttempts
	}
	if o.MaxIterations == 0 {
		o.MaxIterations = agent.MaxIterations
	}
	if o.Temperature == 0 {
		o.Temperature = agent.Temperature
	}
	if o.TimeoutSeconds == 0 {
		o.TimeoutSeconds = agent.TimeoutSeconds
	}
	if o.ConversationWindow == 0 {
		o.ConversationWindow = agent.ConversationWindow
	}
}

// Validate enforces the documented ranges after defaults were applied.
func (o *StreamOptions) Validate() error {
	if o.TopK < 1 || o.TopK > 10 {
		return fmt.Errorf("top_k must be in [1,10], got %d", o.TopK)
	}
	if o.GuardrailThreshold < 0 || o.GuardrailThreshold > 100 {
		return fmt.Errorf("guardrail_threshold must be in [0,100], got %d", o.GuardrailThreshold)
	}
	if o.MaxRetrievalAttempts < 1 || o.MaxRetrievalAttempts > 5 {
		return fmt.Errorf("max_retrieval_attempts must be in [1,5], got %d", o.MaxRetrievalAttempts)
	}
	if o.MaxIterations < 1 || o.MaxIterations > 20 {
		return fmt.Errorf("max_iterations must be in [1,20], got %d", o.MaxIterations)
	}
	if o.Temperature < 0 || o.Temperature > 1 {
		return fmt.Errorf("temperature must be in [0,1], got %g", o.Temperature)
	}
	if o.TimeoutSeconds < 10 || o.TimeoutSeconds > 600 {
		return fmt.Errorf("timeout_seconds must be in [10,600], got %d", o.TimeoutSeconds)
	}
	if o.ConversationWindow < 1 || o.ConversationWindow > 10 {
		return fmt.Errorf("conversation_window must be in [1,10], got %d", o.ConversationWindow)
	}
	return nil
}
