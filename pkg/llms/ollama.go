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

const defaultOllamaHost = "http://localhost:11434"

// OllamaProvider calls a local Ollama server for chat and embeddings.
type OllamaProvider struct {
	cfg    *config.LLMProviderConfig
	client *http.Client
	host   string
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

// NewOllamaProvider creates a provider from config. No API key is needed.
func NewOllamaProvider(cfg *config.LLMProviderConfig) (*OllamaProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ollama: config is required")
	}
	host := strings.TrimSuffix(cfg.Host, "/")
	if host == "" {
		host = defaultOllamaHost
	}
	return &OllamaProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		host:   host,
	}, nil
}

func (p *OllamaProvider) toWire(messages []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (p *OllamaProvider) options() map[string]any {
	opts := map[string]any{}
	if p.cfg.MaxTokens > 0 {
		opts["num_predict"] = p.cfg.MaxTokens
	}
	if p.cfg.Temperature > 0 {
		opts["temperature"] = p.cfg.Temperature
	}
	return opts
}

// Generate implements Provider.
func (p *OllamaProvider) Generate(ctx context.Context, messages []Message) (string, Usage, error) {
	return p.generate(ctx, messages, "")
}

func (p *OllamaProvider) generate(ctx context.Context, messages []Message, format string) (string, Usage, error) {
	start := time.Now()
	req := ollamaRequest{
		Model:    p.cfg.Model,
		Messages: p.toWire(messages),
		Stream:   false,
		Format:   format,
		Options:  p.options(),
	}

	var resp ollamaResponse
	if err := postJSON(ctx, p.client, p.host+"/api/chat", nil, req, &resp); err != nil {
		return "", Usage{}, classify(ctx, "ollama", err)
	}
	if resp.Error != "" {
		return "", Usage{}, NewError(KindTransport, "ollama", fmt.Errorf("%s", resp.Error))
	}

	usage := Usage{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		LatencyMs:        float64(time.Since(start).Milliseconds()),
	}
	return resp.Message.Content, usage, nil
}

// GenerateStreaming implements Provider. Ollama streams newline-delimited
// JSON objects rather than SSE.
func (p *OllamaProvider) GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	start := time.Now()
	req := ollamaRequest{
		Model:    p.cfg.Model,
		Messages: p.toWire(messages),
		Stream:   true,
		Options:  p.options(),
	}

	body, err := postStream(ctx, p.client, p.host+"/api/chat", nil, req)
	if err != nil {
		return nil, classify(ctx, "ollama", err)
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
			if line == "" {
				continue
			}

			var chunk ollamaResponse
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				continue
			}
			if chunk.Error != "" {
				out <- StreamChunk{Err: NewError(KindTransport, "ollama", fmt.Errorf("%s", chunk.Error))}
				return
			}
			if chunk.Message.Content != "" {
				select {
				case out <- StreamChunk{Text: chunk.Message.Content}:
				case <-ctx.Done():
					out <- StreamChunk{Err: classify(ctx, "ollama", ctx.Err())}
					return
				}
			}
			if chunk.Done {
				usage.PromptTokens = chunk.PromptEvalCount
				usage.CompletionTokens = chunk.EvalCount
				usage.TotalTokens = chunk.PromptEvalCount + chunk.EvalCount
				break
			}
		}
		if err := scanner.Err(); err != nil {
			out <- StreamChunk{Err: classify(ctx, "ollama", err)}
			return
		}
		usage.LatencyMs = float64(time.Since(start).Milliseconds())
		out <- StreamChunk{Done: true, Usage: &usage}
	}()
	return out, nil
}

// GenerateStructured implements Provider using Ollama's JSON format mode.
func (p *OllamaProvider) GenerateStructured(ctx context.Context, messages []Message, out any) (Usage, error) {
	schema := SchemaFor(out)
	text, usage, err := p.generate(ctx, structuredInstruction(messages, schema), "json")
	if err != nil {
		return usage, err
	}
	if err := decodeStructured("ollama", text, out); err != nil {
		return usage, err
	}
	return usage, nil
}

// Embed implements Provider.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	model := p.cfg.EmbeddingModel
	if model == "" {
		model = p.cfg.Model
	}
	req := map[string]any{"model": model, "prompt": text}

	var resp struct {
		Embedding []float64 `json:"embedding"`
		Error     string    `json:"error,omitempty"`
	}
	if err := postJSON(ctx, p.client, p.host+"/api/embeddings", nil, req, &resp); err != nil {
		return nil, classify(ctx, "ollama", err)
	}
	if resp.Error != "" {
		return nil, NewError(KindTransport, "ollama", fmt.Errorf("%s", resp.Error))
	}
	if len(resp.Embedding) == 0 {
		return nil, NewError(KindTransport, "ollama", fmt.Errorf("no embedding in response"))
	}

	out := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// ModelName implements Provider.
func (p *OllamaProvider) ModelName() string { return p.cfg.Model }

// Close implements Provider.
func (p *OllamaProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
