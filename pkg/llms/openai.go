package llms

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/climatepath/pendo/pkg/config"
)

const defaultOpenAIHost = "https://api.openai.com"

// OpenAIProvider calls the OpenAI chat-completions and embeddings APIs.
type OpenAIProvider struct {
	cfg    *config.LLMProviderConfig
	client *http.Client
	host   string
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	StreamOptions  map[string]any  `json:"stream_options,omitempty"`
	ResponseFormat map[string]any  `json:"response_format,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage openAIUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIProvider creates a provider from config.
func NewOpenAIProvider(cfg *config.LLMProviderConfig) (*OpenAIProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("openai: config is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api_key is required")
	}
	host := strings.TrimSuffix(cfg.Host, "/")
	if host == "" {
		host = defaultOpenAIHost
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		host:   host,
	}, nil
}

func (p *OpenAIProvider) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
}

func (p *OpenAIProvider) toWire(messages []Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openAIMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// Generate implements Provider.
func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message) (string, Usage, error) {
	return p.generate(ctx, messages, nil)
}

func (p *OpenAIProvider) generate(ctx context.Context, messages []Message, responseFormat map[string]any) (string, Usage, error) {
	start := time.Now()
	req := openAIRequest{
		Model:          p.cfg.Model,
		Messages:       p.toWire(messages),
		MaxTokens:      p.cfg.MaxTokens,
		Temperature:    p.cfg.Temperature,
		ResponseFormat: responseFormat,
	}

	var resp openAIResponse
	if err := postJSON(ctx, p.client, p.host+"/v1/chat/completions", p.headers(), req, &resp); err != nil {
		return "", Usage{}, classify(ctx, "openai", err)
	}
	if resp.Error != nil {
		return "", Usage{}, NewError(KindTransport, "openai", fmt.Errorf("%s", resp.Error.Message))
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, NewError(KindTransport, "openai", fmt.Errorf("no choices in response"))
	}

	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		LatencyMs:        float64(time.Since(start).Milliseconds()),
	}
	if usage.TotalTokens == 0 {
		usage.PromptTokens = CountMessageTokens(messages)
		usage.CompletionTokens = CountTokens(resp.Choices[0].Message.Content)
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return resp.Choices[0].Message.Content, usage, nil
}

// GenerateStreaming implements Provider.
func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	start := time.Now()
	req := openAIRequest{
		Model:         p.cfg.Model,
		Messages:      p.toWire(messages),
		MaxTokens:     p.cfg.MaxTokens,
		Temperature:   p.cfg.Temperature,
		Stream:        true,
		StreamOptions: map[string]any{"include_usage": true},
	}

	body, err := postStream(ctx, p.client, p.host+"/v1/chat/completions", p.headers(), req)
	if err != nil {
		return nil, classify(ctx, "openai", err)
	}

	out := make(chan StreamChunk, 16)
	go func() {
		defer close(out)
		defer body.Close()

		usage := Usage{}
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				break
			}

			var chunk openAIStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Usage != nil {
				usage.PromptTokens = chunk.Usage.PromptTokens
				usage.CompletionTokens = chunk.Usage.CompletionTokens
				usage.TotalTokens = chunk.Usage.TotalTokens
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					select {
					case out <- StreamChunk{Text: choice.Delta.Content}:
					case <-ctx.Done():
						out <- StreamChunk{Err: classify(ctx, "openai", ctx.Err())}
						return
					}
				}
			}
		}
		if err := scanner.Err(); err != nil {
			out <- StreamChunk{Err: classify(ctx, "openai", err)}
			return
		}
		usage.LatencyMs = float64(time.Since(start).Milliseconds())
		out <- StreamChunk{Done: true, Usage: &usage}
	}()
	return out, nil
}

// GenerateStructured implements Provider using JSON mode plus a schema
// instruction, with repair-on-parse as the fallback.
func (p *OpenAIProvider) GenerateStructured(ctx context.Context, messages []Message, out any) (Usage, error) {
	schema := SchemaFor(out)
	text, usage, err := p.generate(ctx, structuredInstruction(messages, schema), map[string]any{"type": "json_object"})
	if err != nil {
		return usage, err
	}
	if err := decodeStructured("openai", text, out); err != nil {
		return usage, err
	}
	return usage, nil
}

// Embed implements Provider.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	model := p.cfg.EmbeddingModel
	if model == "" {
		model = "text-embedding-3-small"
	}
	req := map[string]any{"model": model, "input": text}

	var resp openAIEmbeddingResponse
	if err := postJSON(ctx, p.client, p.host+"/v1/embeddings", p.headers(), req, &resp); err != nil {
		return nil, classify(ctx, "openai", err)
	}
	if len(resp.Data) == 0 {
		return nil, NewError(KindTransport, "openai", fmt.Errorf("no embedding in response"))
	}
	return resp.Data[0].Embedding, nil
}

// ModelName implements Provider.
func (p *OpenAIProvider) ModelName() string { return p.cfg.Model }

// Close implements Provider.
func (p *OpenAIProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
