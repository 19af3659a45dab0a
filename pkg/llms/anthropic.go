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

const (
	defaultAnthropicHost    = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	defaultAnthropicMaxTokens = 1024
)

// AnthropicProvider calls the Anthropic messages API. Anthropic has no
// embedding endpoint; Embed fails with Unavailable.
type AnthropicProvider struct {
	cfg    *config.LLMProviderConfig
	client *http.Client
	host   string
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropicProvider creates a provider from config.
func NewAnthropicProvider(cfg *config.LLMProviderConfig) (*AnthropicProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("anthropic: config is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api_key is required")
	}
	host := strings.TrimSuffix(cfg.Host, "/")
	if host == "" {
		host = defaultAnthropicHost
	}
	return &AnthropicProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		host:   host,
	}, nil
}

func (p *AnthropicProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}
}

// toWire splits system messages into the dedicated system field and merges
// consecutive same-role turns, which the messages API requires.
func (p *AnthropicProvider) toWire(messages []Message) (string, []anthropicMessage) {
	var system strings.Builder
	wire := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
			continue
		}
		role := string(m.Role)
		if n := len(wire); n > 0 && wire[n-1].Role == role {
			wire[n-1].Content += "\n\n" + m.Content
			continue
		}
		wire = append(wire, anthropicMessage{Role: role, Content: m.Content})
	}
	if len(wire) == 0 {
		wire = append(wire, anthropicMessage{Role: "user", Content: ""})
	}
	return system.String(), wire
}

// Generate implements Provider.
func (p *AnthropicProvider) Generate(ctx context.Context, messages []Message) (string, Usage, error) {
	start := time.Now()
	system, wire := p.toWire(messages)
	maxTokens := p.cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	req := anthropicRequest{
		Model:     p.cfg.Model,
		System:    system,
		Messages:  wire,
		MaxTokens: maxTokens,
	}

	var resp anthropicResponse
	if err := postJSON(ctx, p.client, p.host+"/v1/messages", p.headers(), req, &resp); err != nil {
		return "", Usage{}, classify(ctx, "anthropic", err)
	}
	if resp.Error != nil {
		return "", Usage{}, NewError(KindTransport, "anthropic", fmt.Errorf("%s", resp.Error.Message))
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	usage := Usage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		LatencyMs:        float64(time.Since(start).Milliseconds()),
	}
	return text.String(), usage, nil
}

// GenerateStreaming implements Provider.
func (p *AnthropicProvider) GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	start := time.Now()
	system, wire := p.toWire(messages)
	maxTokens := p.cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	req := anthropicRequest{
		Model:     p.cfg.Model,
		System:    system,
		Messages:  wire,
		MaxTokens: maxTokens,
		Stream:    true,
	}

	body, err := postStream(ctx, p.client, p.host+"/v1/messages", p.headers(), req)
	if err != nil {
		return nil, classify(ctx, "anthropic", err)
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

			var event struct {
				Type  string `json:"type"`
				Delta struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"delta"`
				Usage *struct {
					InputTokens  int `json:"input_tokens"`
					OutputTokens int `json:"output_tokens"`
				} `json:"usage"`
			}
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}
			if event.Usage != nil {
				usage.PromptTokens += event.Usage.InputTokens
				usage.CompletionTokens += event.Usage.OutputTokens
			}
			if event.Type == "content_block_delta" && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				select {
				case out <- StreamChunk{Text: event.Delta.Text}:
				case <-ctx.Done():
					out <- StreamChunk{Err: classify(ctx, "anthropic", ctx.Err())}
					return
				}
			}
			if event.Type == "message_stop" {
				break
			}
		}
		if err := scanner.Err(); err != nil {
			out <- StreamChunk{Err: classify(ctx, "anthropic", err)}
			return
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		usage.LatencyMs = float64(time.Since(start).Milliseconds())
		out <- StreamChunk{Done: true, Usage: &usage}
	}()
	return out, nil
}

// GenerateStructured implements Provider.
func (p *AnthropicProvider) GenerateStructured(ctx context.Context, messages []Message, out any) (Usage, error) {
	schema := SchemaFor(out)
	text, usage, err := p.Generate(ctx, structuredInstruction(messages, schema))
	if err != nil {
		return usage, err
	}
	if err := decodeStructured("anthropic", text, out); err != nil {
		return usage, err
	}
	return usage, nil
}

// Embed implements Provider.
func (p *AnthropicProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, NewError(KindUnavailable, "anthropic", fmt.Errorf("embeddings not supported"))
}

// ModelName implements Provider.
func (p *AnthropicProvider) ModelName() string { return p.cfg.Model }

// Close implements Provider.
func (p *AnthropicProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
