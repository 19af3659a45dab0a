// Package llms is the gateway to LLM providers: chat completion, streaming,
// structured output, and embeddings behind one contract.
package llms

import "context"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn sent to a provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System builds a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant builds an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Usage reports token accounting and latency for one call.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	LatencyMs        float64 `json:"latency_ms"`
}

// StreamChunk is one element of a streaming response. The final chunk has
// Done=true and carries the usage record; Err is set when the stream fails.
type StreamChunk struct {
	Text  string
	Done  bool
	Usage *Usage
	Err   error
}

// Provider is the single LLM contract all callers use. Implementations are
// safe for unlimited concurrent calls and serialize nothing internally.
type Provider interface {
	// Generate performs a non-streaming chat completion.
	Generate(ctx context.Context, messages []Message) (string, Usage, error)

	// GenerateStreaming returns a lazy finite sequence of text chunks
	// terminated by a Done chunk carrying usage info.
	GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error)

	// GenerateStructured requests JSON output conforming to the schema of
	// out and unmarshals the response into it.
	GenerateStructured(ctx context.Context, messages []Message, out any) (Usage, error)

	// Embed returns an embedding vector for the text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// ModelName returns the configured model identifier.
	ModelName() string

	// Close releases provider resources.
	Close() error
}
