package llms

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scoredReply struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

func TestDecodeStructured(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
		want    scoredReply
	}{
		{
			name: "clean json",
			text: `{"intent": "skill_assessment", "confidence": 0.9}`,
			want: scoredReply{Intent: "skill_assessment", Confidence: 0.9},
		},
		{
			name: "fenced json",
			text: "```json\n{\"intent\": \"job_search\", \"confidence\": 0.7}\n```",
			want: scoredReply{Intent: "job_search", Confidence: 0.7},
		},
		{
			name: "prose prefix",
			text: `Sure, here is the result: {"intent": "greeting", "confidence": 1}`,
			want: scoredReply{Intent: "greeting", Confidence: 1},
		},
		{
			name: "repairable trailing comma",
			text: `{"intent": "greeting", "confidence": 0.5,}`,
			want: scoredReply{Intent: "greeting", Confidence: 0.5},
		},
		{
			name:    "empty response",
			text:    "   ",
			wantErr: true,
		},
		{
			name:    "no json at all",
			text:    "I cannot answer that.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out scoredReply
			err := decodeStructured("test", tt.text, &out)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, KindBadStructuredOutput, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestSchemaFor(t *testing.T) {
	schema := SchemaFor(&scoredReply{})
	assert.Equal(t, "object", schema["type"])
	assert.NotContains(t, schema, "$schema")

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "intent")
	assert.Contains(t, props, "confidence")
}

func TestStructuredInstructionAppendsSchema(t *testing.T) {
	msgs := structuredInstruction([]Message{User("hi")}, map[string]any{"type": "object"})
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleSystem, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, `"type":"object"`)
}

type fakeNetError struct{ timeout bool }

func (e *fakeNetError) Error() string   { return "fake net error" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return false }

var _ net.Error = (*fakeNetError)(nil)

func TestClassify(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, KindTimeout, KindOf(classify(ctx, "p", context.DeadlineExceeded)))
	assert.Equal(t, KindCancelled, KindOf(classify(ctx, "p", context.Canceled)))
	assert.Equal(t, KindTimeout, KindOf(classify(ctx, "p", &fakeNetError{timeout: true})))
	assert.Equal(t, KindTransport, KindOf(classify(ctx, "p", errors.New("boom"))))
	assert.NoError(t, classify(ctx, "p", nil))

	expired, cancel := context.WithTimeout(ctx, time.Nanosecond)
	defer cancel()
	<-expired.Done()
	assert.Equal(t, KindTimeout, KindOf(classify(expired, "p", errors.New("read: broken pipe"))))
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("underlying")
	err := NewError(KindUnavailable, "anthropic", base)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "anthropic")
	assert.Equal(t, Kind(""), KindOf(fmt.Errorf("plain")))
}
