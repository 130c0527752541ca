package llms

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/keplerai/kepler/pkg/config"
)

// GeminiProvider wraps the official genai SDK.
type GeminiProvider struct {
	config config.LLMConfig
	client *genai.Client
}

func NewGeminiProvider(cfg config.LLMConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		config: cfg,
		client: client,
	}, nil
}

func (p *GeminiProvider) ModelName() string {
	return p.config.Model
}

func (p *GeminiProvider) Close() error {
	return nil
}

func (p *GeminiProvider) Generate(ctx context.Context, messages []Message) (string, int, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	contents, genConfig := p.buildRequest(messages)

	resp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, genConfig)
	if err != nil {
		return "", 0, wrapTimeout(fmt.Errorf("Gemini generation failed: %w", err), "gemini", p.config.Timeout)
	}

	return parseGeminiResponse(resp)
}

func (p *GeminiProvider) GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	contents, genConfig := p.buildRequest(messages)

	outputCh := make(chan StreamChunk, 100)

	go func() {
		defer close(outputCh)

		ctx, cancel := p.withTimeout(ctx)
		defer cancel()

		totalTokens := 0
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.config.Model, contents, genConfig) {
			if err != nil {
				outputCh <- StreamChunk{
					Type:  "error",
					Error: wrapTimeout(fmt.Errorf("Gemini streaming error: %w", err), "gemini", p.config.Timeout),
				}
				return
			}

			if resp.UsageMetadata != nil {
				totalTokens = int(resp.UsageMetadata.TotalTokenCount)
			}

			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Text != "" && !part.Thought {
					outputCh <- StreamChunk{Type: "text", Text: part.Text}
				}
			}
		}

		outputCh <- StreamChunk{Type: "done", Tokens: totalTokens}
	}()

	return outputCh, nil
}

func (p *GeminiProvider) GenerateStructured(ctx context.Context, messages []Message, structConfig *StructuredOutputConfig) (string, int, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	contents, genConfig := p.buildRequest(messages)

	if structConfig != nil && structConfig.Format == "json" {
		genConfig.ResponseMIMEType = "application/json"
		if structConfig.Schema != nil {
			genConfig.ResponseSchema = toGenaiSchema(structConfig.Schema)
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, genConfig)
	if err != nil {
		return "", 0, wrapTimeout(fmt.Errorf("Gemini generation failed: %w", err), "gemini", p.config.Timeout)
	}

	return parseGeminiResponse(resp)
}

func (p *GeminiProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.config.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(p.config.Timeout)*time.Second)
}

func (p *GeminiProvider) buildRequest(messages []Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	var contents []*genai.Content
	var system strings.Builder

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content)
		case RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	genConfig := &genai.GenerateContentConfig{}
	if system.Len() > 0 {
		genConfig.SystemInstruction = &genai.Content{
			Role:  "user",
			Parts: []*genai.Part{{Text: system.String()}},
		}
	}
	if p.config.Temperature != nil {
		genConfig.Temperature = genai.Ptr(float32(*p.config.Temperature))
	}
	if p.config.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(p.config.MaxTokens)
	}

	return contents, genConfig
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) (string, int, error) {
	if len(resp.Candidates) == 0 {
		return "", 0, fmt.Errorf("empty response from Gemini")
	}

	var text strings.Builder
	if content := resp.Candidates[0].Content; content != nil {
		for _, part := range content.Parts {
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
		}
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return text.String(), tokens, nil
}

// toGenaiSchema converts a JSON schema map to the genai schema type.
func toGenaiSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}

	s := &genai.Schema{}

	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		s.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]interface{}); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		s.Items = toGenaiSchema(items)
	}
	if enum, ok := schema["enum"].([]interface{}); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}

	return s
}
