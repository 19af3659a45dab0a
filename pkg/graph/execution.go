package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/climatepath/pendo/pkg/conversation"
)

const nodeFailureMessage = "Something went wrong on my side while working on that. A human will review this conversation; in the meantime, feel free to rephrase or ask me something else."

// InterruptError carries the interrupt payload out of a node. Nodes return
// it (optionally alongside a partial delta) to suspend the execution.
type InterruptError struct {
	Payload map[string]any
}

func (e *InterruptError) Error() string { return "execution interrupted awaiting human input" }

// NodeContext gives a node access to the interrupt primitive and, on
// re-entry after a suspension, the human-supplied resume value.
type NodeContext struct {
	Node string

	resume    any
	hasResume bool
}

// Interrupt suspends the execution and surfaces payload to the transport.
// On re-entry after Resume it returns the human-supplied value instead.
// The node should return the error unmodified, together with any partial
// delta it wants applied before suspension.
func (nc *NodeContext) Interrupt(payload map[string]any) (any, error) {
	if nc.hasResume {
		value := nc.resume
		nc.resume = nil
		nc.hasResume = false
		return value, nil
	}
	return nil, &InterruptError{Payload: payload}
}

// ResumeValue returns the pending resume value without consuming it.
func (nc *NodeContext) ResumeValue() (any, bool) { return nc.resume, nc.hasResume }

// Checkpoint is the serializable suspension record: the node to re-enter and
// the state accumulated so far.
type Checkpoint struct {
	Node    string              `json:"node"`
	State   *conversation.State `json:"state"`
	Payload map[string]any      `json:"payload,omitempty"`
}

// Result is the outcome of an Invoke or Resume.
type Result struct {
	State      *conversation.State
	Suspended  bool
	Checkpoint *Checkpoint
}

// NodeUpdate is one streamed per-node increment.
type NodeUpdate struct {
	Node  string
	Delta *conversation.Delta
}

// Engine executes a compiled graph.
type Engine struct {
	graph  *Graph
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEngine wraps a validated graph.
func NewEngine(g *Graph, logger *slog.Logger) (*Engine, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{graph: g, logger: logger}, nil
}

// SetTracer enables a span per node execution.
func (e *Engine) SetTracer(t trace.Tracer) { e.tracer = t }

// Invoke runs the graph from its entry until END or suspension.
func (e *Engine) Invoke(ctx context.Context, state *conversation.State) (*Result, error) {
	return e.run(ctx, state, e.graph.entry, nil, false, nil)
}

// Resume re-enters the checkpointed node with the human-supplied value.
// Previously accumulated state is retained; the re-entered node's re-applied
// deltas deduplicate by message ID.
func (e *Engine) Resume(ctx context.Context, cp *Checkpoint, value any) (*Result, error) {
	if cp == nil || cp.State == nil {
		return nil, fmt.Errorf("graph: resume requires a checkpoint")
	}
	return e.run(ctx, cp.State, cp.Node, value, true, nil)
}

// Stream runs like Invoke but emits a NodeUpdate as each node completes.
// The channel closes when the execution terminates or suspends; the final
// Result is delivered through the returned function.
func (e *Engine) Stream(ctx context.Context, state *conversation.State) (<-chan NodeUpdate, func() (*Result, error)) {
	updates := make(chan NodeUpdate, 8)
	done := make(chan struct{})

	var result *Result
	var runErr error
	go func() {
		defer close(updates)
		defer close(done)
		result, runErr = e.run(ctx, state, e.graph.entry, nil, false, updates)
	}()

	wait := func() (*Result, error) {
		<-done
		return result, runErr
	}
	return updates, wait
}

// StreamResume is Stream for a checkpointed execution.
func (e *Engine) StreamResume(ctx context.Context, cp *Checkpoint, value any) (<-chan NodeUpdate, func() (*Result, error)) {
	updates := make(chan NodeUpdate, 8)
	done := make(chan struct{})

	var result *Result
	var runErr error
	go func() {
		defer close(updates)
		defer close(done)
		if cp == nil || cp.State == nil {
			runErr = fmt.Errorf("graph: resume requires a checkpoint")
			return
		}
		result, runErr = e.run(ctx, cp.State, cp.Node, value, true, updates)
	}()

	wait := func() (*Result, error) {
		<-done
		return result, runErr
	}
	return updates, wait
}

func (e *Engine) run(ctx context.Context, state *conversation.State, current string, resumeValue any, resuming bool, updates chan<- NodeUpdate) (*Result, error) {
	if state == nil {
		state = &conversation.State{}
	}

	for current != END {
		if err := ctx.Err(); err != nil {
			e.failState(state, current, err)
			return &Result{State: state}, nil
		}

		fn, ok := e.graph.nodes[current]
		if !ok {
			return nil, fmt.Errorf("graph: undefined node %q", current)
		}

		// Counters are engine-owned: each node entry advances the step count.
		// Resume re-enters the same node without consuming another step.
		if !resuming {
			state.StepCount++
		}

		nc := &NodeContext{Node: current}
		if resuming {
			nc.resume = resumeValue
			nc.hasResume = true
			resuming = false
		}

		state.WorkflowState = current
		nodeCtx := ctx
		var span trace.Span
		if e.tracer != nil {
			nodeCtx, span = e.tracer.Start(ctx, "node."+current)
		}
		delta, err := e.callNode(nodeCtx, fn, nc, state)
		if span != nil {
			var ie *InterruptError
			if err != nil && !errors.As(err, &ie) {
				span.RecordError(err)
			}
			span.End()
		}
		state.Apply(delta)

		if err != nil {
			var ie *InterruptError
			if errors.As(err, &ie) {
				e.logger.Debug("execution suspended", "node", current)
				return &Result{
					State:     state,
					Suspended: true,
					Checkpoint: &Checkpoint{
						Node:    current,
						State:   state,
						Payload: ie.Payload,
					},
				}, nil
			}
			e.logger.Error("node failed", "node", current, "error", err)
			e.failState(state, current, err)
			return &Result{State: state}, nil
		}

		if updates != nil {
			select {
			case updates <- NodeUpdate{Node: current, Delta: delta}:
			case <-ctx.Done():
				e.failState(state, current, ctx.Err())
				return &Result{State: state}, nil
			}
		}

		next, err := e.graph.next(current, state)
		if err != nil {
			e.failState(state, current, err)
			return &Result{State: state}, nil
		}
		current = next
	}

	return &Result{State: state}, nil
}

// callNode invokes fn on a clone of the state, converting panics to errors.
func (e *Engine) callNode(ctx context.Context, fn NodeFunc, nc *NodeContext, state *conversation.State) (delta *conversation.Delta, err error) {
	defer func() {
		if r := recover(); r != nil {
			delta = nil
			err = fmt.Errorf("node %s panicked: %v", nc.Node, r)
		}
	}()
	return fn(ctx, nc, state.Clone())
}

// failState marks the state for human review with a safe user-facing
// message. The engine never retries a failed node.
func (e *Engine) failState(state *conversation.State, node string, cause error) {
	state.NeedsHumanReview = true
	state.Apply(&conversation.Delta{
		Messages: []conversation.Message{conversation.NewMessage(conversation.KindAI, nodeFailureMessage)},
	})
	e.logger.Warn("execution terminated with failure", "node", node, "error", cause)
}
