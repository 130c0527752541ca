package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/keplerai/kepler/pkg/config"
	"github.com/keplerai/kepler/pkg/httpclient"
)

type AnthropicProvider struct {
	config     config.LLMConfig
	httpClient *httpclient.Client
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Stream      bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Usage   anthropicUsage          `json:"usage"`
	Error   *anthropicError         `json:"error,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Usage *anthropicUsage `json:"usage,omitempty"`
	Error *anthropicError `json:"error,omitempty"`
}

func NewAnthropicProvider(cfg config.LLMConfig) (*AnthropicProvider, error) {
	if cfg.Host == "" {
		cfg.Host = "https://api.anthropic.com"
	}

	httpClient := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
		httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
	)

	return &AnthropicProvider{
		config:     cfg,
		httpClient: httpClient,
	}, nil
}

func (p *AnthropicProvider) ModelName() string {
	return p.config.Model
}

func (p *AnthropicProvider) Close() error {
	return nil
}

func (p *AnthropicProvider) Generate(ctx context.Context, messages []Message) (string, int, error) {
	request := p.buildRequest(messages, false)

	response, err := p.makeRequest(ctx, request)
	if err != nil {
		return "", 0, wrapTimeout(err, "anthropic", p.config.Timeout)
	}
	if response.Error != nil {
		return "", 0, fmt.Errorf("Anthropic API error: %s", response.Error.Message)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return text.String(), response.Usage.InputTokens + response.Usage.OutputTokens, nil
}

func (p *AnthropicProvider) GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	request := p.buildRequest(messages, true)

	outputCh := make(chan StreamChunk, 100)

	go func() {
		defer close(outputCh)

		if err := p.makeStreamingRequest(ctx, request, outputCh); err != nil {
			outputCh <- StreamChunk{
				Type:  "error",
				Error: wrapTimeout(err, "anthropic", p.config.Timeout),
			}
		}
	}()

	return outputCh, nil
}

// GenerateStructured asks for JSON by embedding the schema in the system
// prompt and prefilling the assistant turn with "{". Anthropic has no
// native response_format, so the prefill anchors the completion to JSON.
func (p *AnthropicProvider) GenerateStructured(ctx context.Context, messages []Message, structConfig *StructuredOutputConfig) (string, int, error) {
	request := p.buildRequest(messages, false)

	prefill := "{"
	if structConfig != nil {
		if structConfig.Schema != nil {
			schemaJSON, err := json.Marshal(structConfig.Schema)
			if err != nil {
				return "", 0, fmt.Errorf("failed to marshal schema: %w", err)
			}
			instruction := fmt.Sprintf("Respond with a single JSON object matching this schema, with no surrounding text:\n%s", schemaJSON)
			if request.System != "" {
				request.System += "\n\n" + instruction
			} else {
				request.System = instruction
			}
		}
		if structConfig.Prefill != "" {
			prefill = structConfig.Prefill
		}
	}

	request.Messages = append(request.Messages, anthropicMessage{
		Role:    RoleAssistant,
		Content: prefill,
	})

	response, err := p.makeRequest(ctx, request)
	if err != nil {
		return "", 0, wrapTimeout(err, "anthropic", p.config.Timeout)
	}
	if response.Error != nil {
		return "", 0, fmt.Errorf("Anthropic API error: %s", response.Error.Message)
	}

	var text strings.Builder
	text.WriteString(prefill)
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return text.String(), response.Usage.InputTokens + response.Usage.OutputTokens, nil
}

func (p *AnthropicProvider) buildRequest(messages []Message, stream bool) anthropicRequest {
	// Anthropic takes the system prompt as a top-level field, not a message.
	var system string
	anthropicMessages := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		anthropicMessages = append(anthropicMessages, anthropicMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	temperature := 0.7
	if p.config.Temperature != nil {
		temperature = *p.config.Temperature
	}

	maxTokens := p.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return anthropicRequest{
		Model:       p.config.Model,
		Messages:    anthropicMessages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      stream,
	}
}

func (p *AnthropicProvider) newRequest(ctx context.Context, request anthropicRequest) (*http.Request, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.config.Host+"/v1/messages", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	return req, nil
}

func (p *AnthropicProvider) doRequest(ctx context.Context, request anthropicRequest) (*http.Response, error) {
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

func (p *AnthropicProvider) makeRequest(ctx context.Context, request anthropicRequest) (*anthropicResponse, error) {
	resp, err := p.doRequest(ctx, request)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &response, nil
}

func (p *AnthropicProvider) makeStreamingRequest(ctx context.Context, request anthropicRequest, outputCh chan<- StreamChunk) error {
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
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]

		var event anthropicStreamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				outputCh <- StreamChunk{Type: "text", Text: event.Delta.Text}
			}
		case "message_delta":
			if event.Usage != nil {
				totalTokens += event.Usage.OutputTokens
			}
		case "message_start":
			if event.Usage != nil {
				totalTokens += event.Usage.InputTokens
			}
		case "error":
			if event.Error != nil {
				return fmt.Errorf("API error: %s", event.Error.Message)
			}
		case "message_stop":
			outputCh <- StreamChunk{Type: "done", Tokens: totalTokens}
			return nil
		}
	}

	outputCh <- StreamChunk{Type: "done", Tokens: totalTokens}

	return nil
}
