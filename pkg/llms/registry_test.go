package llms

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climatepath/pendo/pkg/config"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LLMProviderConfig
		wantErr bool
	}{
		{
			name: "openai",
			cfg:  &config.LLMProviderConfig{Type: "openai", Model: "gpt-4o-mini", APIKey: "sk-test"},
		},
		{
			name:    "openai missing key",
			cfg:     &config.LLMProviderConfig{Type: "openai", Model: "gpt-4o-mini"},
			wantErr: true,
		},
		{
			name: "anthropic",
			cfg:  &config.LLMProviderConfig{Type: "anthropic", Model: "claude-3-5-haiku", APIKey: "sk-ant"},
		},
		{
			name: "ollama needs no key",
			cfg:  &config.LLMProviderConfig{Type: "ollama", Model: "llama3.1"},
		},
		{
			name:    "unknown type",
			cfg:     &config.LLMProviderConfig{Type: "cohere"},
			wantErr: true,
		},
		{
			name:    "nil config",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cfg.Model, p.ModelName())
			assert.NoError(t, p.Close())
		})
	}
}

func TestProviderRegistryCreateFromConfig(t *testing.T) {
	r := NewProviderRegistry()

	p, err := r.CreateFromConfig("main", &config.LLMProviderConfig{
		Type: "ollama", Model: "llama3.1", Timeout: time.Second,
	})
	require.NoError(t, err)
	require.NotNil(t, p)

	got, ok := r.Get("main")
	require.True(t, ok)
	assert.Equal(t, "llama3.1", got.ModelName())

	_, err = r.CreateFromConfig("main", &config.LLMProviderConfig{Type: "ollama", Model: "other"})
	assert.Error(t, err)

	assert.NoError(t, r.Close())
}

func TestMockProviderScript(t *testing.T) {
	ctx := context.Background()
	m := NewMockProvider("first", "second")

	text, usage, err := m.Generate(ctx, []Message{User("hi")})
	require.NoError(t, err)
	assert.Equal(t, "first", text)
	assert.Positive(t, usage.TotalTokens)

	text, _, err = m.Generate(ctx, []Message{User("again")})
	require.NoError(t, err)
	assert.Equal(t, "second", text)

	// Script exhausted: last response repeats.
	text, _, err = m.Generate(ctx, []Message{User("more")})
	require.NoError(t, err)
	assert.Equal(t, "second", text)
	assert.Equal(t, 3, m.Calls())
}

func TestMockProviderStructured(t *testing.T) {
	ctx := context.Background()
	m := NewMockProvider(`{"intent": "greeting", "confidence": 0.95}`)

	var out scoredReply
	_, err := m.GenerateStructured(ctx, []Message{User("hello")}, &out)
	require.NoError(t, err)
	assert.Equal(t, "greeting", out.Intent)
	assert.InDelta(t, 0.95, out.Confidence, 1e-9)
}

func TestMockProviderStreaming(t *testing.T) {
	ctx := context.Background()
	m := NewMockProvider("a fairly long streamed answer about climate careers")

	ch, err := m.GenerateStreaming(ctx, []Message{User("stream it")})
	require.NoError(t, err)

	var assembled string
	var done bool
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		if chunk.Done {
			done = true
			continue
		}
		assembled += chunk.Text
	}
	assert.True(t, done)
	assert.Equal(t, "a fairly long streamed answer about climate careers", assembled)
}
