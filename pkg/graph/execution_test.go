package graph

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climatepath/pendo/pkg/conversation"
)

func appendNode(content string) NodeFunc {
	return func(ctx context.Context, nc *NodeContext, s *conversation.State) (*conversation.Delta, error) {
		return &conversation.Delta{
			Messages: []conversation.Message{conversation.NewMessage(conversation.KindAI, content)},
		}, nil
	}
}

func buildLinear(t *testing.T, contents ...string) *Engine {
	t.Helper()
	g := New()
	prev := START
	for i, c := range contents {
		name := string(rune('a' + i))
		require.NoError(t, g.AddNode(name, appendNode(c)))
		require.NoError(t, g.AddEdge(prev, name))
		prev = name
	}
	require.NoError(t, g.AddEdge(prev, END))
	e, err := NewEngine(g, nil)
	require.NoError(t, err)
	return e
}

func TestInvokeAppendsInGraphOrder(t *testing.T) {
	e := buildLinear(t, "one", "two", "three")

	initial := &conversation.State{
		Messages: []conversation.Message{conversation.NewMessage(conversation.KindHuman, "hi")},
	}
	res, err := e.Invoke(context.Background(), initial)
	require.NoError(t, err)
	require.False(t, res.Suspended)

	var got []string
	for _, m := range res.State.Messages {
		got = append(got, m.Content)
	}
	assert.Equal(t, []string{"hi", "one", "two", "three"}, got)
	assert.Equal(t, 3, res.State.StepCount)
}

func TestConditionalRouting(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode("classify", appendNode("classified")))
	require.NoError(t, g.AddNode("left", appendNode("left")))
	require.NoError(t, g.AddNode("right", appendNode("right")))
	require.NoError(t, g.AddEdge(START, "classify"))
	require.NoError(t, g.AddConditionalEdge("classify", func(s *conversation.State) string {
		if s.UserID == "go-left" {
			return "left"
		}
		return "right"
	}, map[string]string{"left": "left", "right": "right"}))
	require.NoError(t, g.AddEdge("left", END))
	require.NoError(t, g.AddEdge("right", END))

	e, err := NewEngine(g, nil)
	require.NoError(t, err)

	res, err := e.Invoke(context.Background(), &conversation.State{UserID: "go-left"})
	require.NoError(t, err)
	assert.Equal(t, "left", res.State.Messages[len(res.State.Messages)-1].Content)

	res, err = e.Invoke(context.Background(), &conversation.State{UserID: "other"})
	require.NoError(t, err)
	assert.Equal(t, "right", res.State.Messages[len(res.State.Messages)-1].Content)
}

func TestInterruptSuspendAndResume(t *testing.T) {
	// The node appends a fixed-ID message before interrupting, so resume
	// re-applies the identical delta and dedup must keep exactly one copy.
	pre := conversation.NewMessage(conversation.KindAI, "before the question")

	g := New()
	require.NoError(t, g.AddNode("ask", func(ctx context.Context, nc *NodeContext, s *conversation.State) (*conversation.Delta, error) {
		value, err := nc.Interrupt(map[string]any{"question": "what sector interests you?"})
		if err != nil {
			return &conversation.Delta{Messages: []conversation.Message{pre}}, err
		}
		reply := conversation.NewMessage(conversation.KindAI, "you said: "+value.(string))
		return &conversation.Delta{
			Messages: []conversation.Message{pre, reply},
		}, nil
	}))
	require.NoError(t, g.AddEdge(START, "ask"))
	require.NoError(t, g.AddEdge("ask", END))

	e, err := NewEngine(g, nil)
	require.NoError(t, err)

	res, err := e.Invoke(context.Background(), &conversation.State{})
	require.NoError(t, err)
	require.True(t, res.Suspended)
	require.NotNil(t, res.Checkpoint)
	assert.Equal(t, "ask", res.Checkpoint.Node)
	assert.Equal(t, "what sector interests you?", res.Checkpoint.Payload["question"])
	assert.Len(t, res.State.Messages, 1)

	final, err := e.Resume(context.Background(), res.Checkpoint, "solar")
	require.NoError(t, err)
	require.False(t, final.Suspended)

	// No message lost, none duplicated across the suspend/resume cycle.
	var contents []string
	for _, m := range final.State.Messages {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"before the question", "you said: solar"}, contents)
}

func TestCheckpointSerializable(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode("ask", func(ctx context.Context, nc *NodeContext, s *conversation.State) (*conversation.Delta, error) {
		_, err := nc.Interrupt(map[string]any{"stage": "discovery"})
		return nil, err
	}))
	require.NoError(t, g.AddEdge(START, "ask"))
	require.NoError(t, g.AddEdge("ask", END))
	e, err := NewEngine(g, nil)
	require.NoError(t, err)

	res, err := e.Invoke(context.Background(), &conversation.State{UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	require.True(t, res.Suspended)

	data, err := json.Marshal(res.Checkpoint)
	require.NoError(t, err)

	var restored Checkpoint
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, "ask", restored.Node)
	assert.Equal(t, "u1", restored.State.UserID)

	final, err := e.Resume(context.Background(), &restored, "answer")
	require.NoError(t, err)
	assert.False(t, final.Suspended)
}

func TestNodeErrorSetsHumanReview(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode("boom", func(ctx context.Context, nc *NodeContext, s *conversation.State) (*conversation.Delta, error) {
		return nil, errors.New("downstream failure")
	}))
	require.NoError(t, g.AddNode("never", appendNode("never reached")))
	require.NoError(t, g.AddEdge(START, "boom"))
	require.NoError(t, g.AddEdge("boom", "never"))
	require.NoError(t, g.AddEdge("never", END))

	e, err := NewEngine(g, nil)
	require.NoError(t, err)

	res, err := e.Invoke(context.Background(), &conversation.State{})
	require.NoError(t, err)
	assert.True(t, res.State.NeedsHumanReview)
	require.Len(t, res.State.Messages, 1)
	assert.Equal(t, conversation.KindAI, res.State.Messages[0].Kind)
	assert.NotEmpty(t, res.State.Messages[0].Content)
}

func TestNodePanicIsCaught(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode("panics", func(ctx context.Context, nc *NodeContext, s *conversation.State) (*conversation.Delta, error) {
		panic("unexpected")
	}))
	require.NoError(t, g.AddEdge(START, "panics"))
	require.NoError(t, g.AddEdge("panics", END))

	e, err := NewEngine(g, nil)
	require.NoError(t, err)

	res, err := e.Invoke(context.Background(), &conversation.State{})
	require.NoError(t, err)
	assert.True(t, res.State.NeedsHumanReview)
}

func TestStreamEmitsPerNodeUpdates(t *testing.T) {
	e := buildLinear(t, "one", "two")

	updates, wait := e.Stream(context.Background(), &conversation.State{})
	var nodes []string
	for u := range updates {
		nodes = append(nodes, u.Node)
	}
	res, err := wait()
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, nodes)
	assert.Len(t, res.State.Messages, 2)
}

func TestNodeStateIsCloned(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode("mutator", func(ctx context.Context, nc *NodeContext, s *conversation.State) (*conversation.Delta, error) {
		// Mutations of the clone must not leak into the engine's state.
		s.Messages[0].Content = "mutated"
		s.UserID = "mutated"
		return nil, nil
	}))
	require.NoError(t, g.AddEdge(START, "mutator"))
	require.NoError(t, g.AddEdge("mutator", END))

	e, err := NewEngine(g, nil)
	require.NoError(t, err)

	initial := &conversation.State{
		UserID:   "original",
		Messages: []conversation.Message{conversation.NewMessage(conversation.KindHuman, "original")},
	}
	res, err := e.Invoke(context.Background(), initial)
	require.NoError(t, err)
	assert.Equal(t, "original", res.State.UserID)
	assert.Equal(t, "original", res.State.Messages[0].Content)
}

func TestValidateCatchesDanglingEdges(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode("a", appendNode("a")))
	require.NoError(t, g.AddEdge(START, "a"))
	require.NoError(t, g.AddEdge("a", "ghost"))

	_, err := NewEngine(g, nil)
	assert.Error(t, err)
}
