package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/keplerai/kepler/pkg/config"
	"github.com/keplerai/kepler/pkg/httpclient"
)

// OllamaProvider talks to a local Ollama server over its /api/chat
// endpoint. No API key is involved; streaming responses are NDJSON.
type OllamaProvider struct {
	config     config.LLMConfig
	httpClient *httpclient.Client
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	// Format is "json" or a JSON schema object for structured output.
	Format  json.RawMessage `json:"format,omitempty"`
	Options *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

func NewOllamaProvider(cfg config.LLMConfig) (*OllamaProvider, error) {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}

	httpClient := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
	)

	return &OllamaProvider{
		config:     cfg,
		httpClient: httpClient,
	}, nil
}

func (p *OllamaProvider) ModelName() string {
	return p.config.Model
}

func (p *OllamaProvider) Close() error {
	return nil
}

func (p *OllamaProvider) Generate(ctx context.Context, messages []Message) (string, int, error) {
	request := p.buildRequest(messages, false)

	response, err := p.makeRequest(ctx, request)
	if err != nil {
		return "", 0, wrapTimeout(err, "ollama", p.config.Timeout)
	}
	if response.Error != "" {
		return "", 0, fmt.Errorf("Ollama API error: %s", response.Error)
	}

	return response.Message.Content, response.PromptEvalCount + response.EvalCount, nil
}

func (p *OllamaProvider) GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	request := p.buildRequest(messages, true)

	outputCh := make(chan StreamChunk, 100)

	go func() {
		defer close(outputCh)

		if err := p.makeStreamingRequest(ctx, request, outputCh); err != nil {
			outputCh <- StreamChunk{
				Type:  "error",
				Error: wrapTimeout(err, "ollama", p.config.Timeout),
			}
		}
	}()

	return outputCh, nil
}

func (p *OllamaProvider) GenerateStructured(ctx context.Context, messages []Message, structConfig *StructuredOutputConfig) (string, int, error) {
	request := p.buildRequest(messages, false)

	if structConfig != nil && structConfig.Format == "json" {
		if structConfig.Schema != nil {
			schema, err := json.Marshal(structConfig.Schema)
			if err != nil {
				return "", 0, fmt.Errorf("failed to marshal schema: %w", err)
			}
			request.Format = schema
		} else {
			request.Format = json.RawMessage(`"json"`)
		}
	}

	response, err := p.makeRequest(ctx, request)
	if err != nil {
		return "", 0, wrapTimeout(err, "ollama", p.config.Timeout)
	}
	if response.Error != "" {
		return "", 0, fmt.Errorf("Ollama API error: %s", response.Error)
	}

	return response.Message.Content, response.PromptEvalCount + response.EvalCount, nil
}

func (p *OllamaProvider) buildRequest(messages []Message, stream bool) ollamaRequest {
	ollamaMessages := make([]ollamaMessage, len(messages))
	for i, msg := range messages {
		ollamaMessages[i] = ollamaMessage{Role: msg.Role, Content: msg.Content}
	}

	request := ollamaRequest{
		Model:    p.config.Model,
		Messages: ollamaMessages,
		Stream:   stream,
	}

	options := &ollamaOptions{}
	if p.config.Temperature != nil {
		options.Temperature = p.config.Temperature
	}
	if p.config.MaxTokens > 0 {
		options.NumPredict = p.config.MaxTokens
	}
	if options.Temperature != nil || options.NumPredict > 0 {
		request.Options = options
	}

	return request
}

func (p *OllamaProvider) newRequest(ctx context.Context, request ollamaRequest) (*http.Request, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.config.Host+"/api/chat", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}

	req.Header.Set("Content-Type", "application/json")

	return req, nil
}

func (p *OllamaProvider) doRequest(ctx context.Context, request ollamaRequest) (*http.Response, error) {
	req, err := p.newRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if resp != nil && resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("HTTP request failed: no response received")
	}

	return resp, nil
}

func (p *OllamaProvider) makeRequest(ctx context.Context, request ollamaRequest) (*ollamaResponse, error) {
	resp, err := p.doRequest(ctx, request)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response ollamaResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &response, nil
}

func (p *OllamaProvider) makeStreamingRequest(ctx context.Context, request ollamaRequest, outputCh chan<- StreamChunk) error {
	resp, err := p.doRequest(ctx, request)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	totalTokens := 0

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var streamResp ollamaResponse
		if err := json.Unmarshal(line, &streamResp); err != nil {
			continue
		}

		if streamResp.Error != "" {
			return fmt.Errorf("API error: %s", streamResp.Error)
		}
		if streamResp.Message.Content != "" {
			outputCh <- StreamChunk{Type: "text", Text: streamResp.Message.Content}
		}
		if streamResp.Done {
			totalTokens = streamResp.PromptEvalCount + streamResp.EvalCount
			break
		}
	}

	outputCh <- StreamChunk{Type: "done", Tokens: totalTokens}

	return nil
}
