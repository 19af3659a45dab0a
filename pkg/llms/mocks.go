package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockProvider is a scripted in-memory provider for tests. Responses are
// consumed in order; the last one repeats once the script runs out.
type MockProvider struct {
	mu        sync.Mutex
	Responses []string
	Embedding []float32
	Err       error
	Model     string

	calls    int
	Captured [][]Message
}

// NewMockProvider creates a mock that replies with the given responses.
func NewMockProvider(responses ...string) *MockProvider {
	return &MockProvider{Responses: responses, Model: "mock-model"}
}

func (m *MockProvider) next(messages []Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Captured = append(m.Captured, messages)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", fmt.Errorf("mock: no scripted responses")
	}
	idx := m.calls
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.calls++
	return m.Responses[idx], nil
}

// Calls returns how many generate calls the mock has served.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate implements Provider.
func (m *MockProvider) Generate(ctx context.Context, messages []Message) (string, Usage, error) {
	if err := ctx.Err(); err != nil {
		return "", Usage{}, classify(ctx, "mock", err)
	}
	text, err := m.next(messages)
	if err != nil {
		return "", Usage{}, err
	}
	usage := Usage{
		PromptTokens:     CountMessageTokens(messages),
		CompletionTokens: CountTokens(text),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return text, usage, nil
}

// GenerateStreaming implements Provider by chunking the scripted response.
func (m *MockProvider) GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	text, _, err := m.Generate(ctx, messages)
	if err != nil {
		return nil, err
	}
	out := make(chan StreamChunk, 8)
	go func() {
		defer close(out)
		const chunkSize = 16
		for i := 0; i < len(text); i += chunkSize {
			end := i + chunkSize
			if end > len(text) {
				end = len(text)
			}
			select {
			case out <- StreamChunk{Text: text[i:end]}:
			case <-ctx.Done():
				return
			}
		}
		out <- StreamChunk{Done: true, Usage: &Usage{}}
	}()
	return out, nil
}

// GenerateStructured implements Provider by decoding the scripted response.
func (m *MockProvider) GenerateStructured(ctx context.Context, messages []Message, out any) (Usage, error) {
	text, usage, err := m.Generate(ctx, messages)
	if err != nil {
		return usage, err
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return usage, NewError(KindBadStructuredOutput, "mock", err)
	}
	return usage, nil
}

// Embed implements Provider.
func (m *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Embedding != nil {
		return m.Embedding, nil
	}
	// Deterministic toy embedding derived from the text bytes.
	vec := make([]float32, 8)
	for i, b := range []byte(text) {
		vec[i%8] += float32(b) / 255
	}
	return vec, nil
}

// ModelName implements Provider.
func (m *MockProvider) ModelName() string { return m.Model }

// Close implements Provider.
func (m *MockProvider) Close() error { return nil }
