// Package graph implements the typed workflow state machine: named nodes
// returning partial state deltas, conditional routing, cooperative interrupts
// with resumable checkpoints, and streaming per-node updates.
package graph

import (
	"context"
	"fmt"

	"github.com/climatepath/pendo/pkg/conversation"
)

// Reserved node names marking the entry predecessor and terminal successor.
const (
	START = "__start__"
	END   = "__end__"
)

// NodeFunc is one workflow step. It receives a clone of the accumulated
// state and returns a partial update; it must not retain the clone.
type NodeFunc func(ctx context.Context, nc *NodeContext, state *conversation.State) (*conversation.Delta, error)

// RouterFunc picks the label of the outgoing conditional edge.
type RouterFunc func(state *conversation.State) string

type conditionalEdge struct {
	router  RouterFunc
	targets map[string]string
}

// Graph is a compiled workflow. Build with AddNode/AddEdge/SetEntry, then
// Invoke or Stream.
type Graph struct {
	nodes       map[string]NodeFunc
	edges       map[string]string
	conditional map[string]conditionalEdge
	entry       string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:       make(map[string]NodeFunc),
		edges:       make(map[string]string),
		conditional: make(map[string]conditionalEdge),
	}
}

// AddNode registers a named node.
func (g *Graph) AddNode(name string, fn NodeFunc) error {
	if name == "" || name == START || name == END {
		return fmt.Errorf("graph: invalid node name %q", name)
	}
	if _, exists := g.nodes[name]; exists {
		return fmt.Errorf("graph: node %q already defined", name)
	}
	if fn == nil {
		return fmt.Errorf("graph: node %q has no function", name)
	}
	g.nodes[name] = fn
	return nil
}

// AddEdge registers an unconditional from → to edge. START as from sets the
// entry node.
func (g *Graph) AddEdge(from, to string) error {
	if from == START {
		return g.SetEntry(to)
	}
	if _, exists := g.conditional[from]; exists {
		return fmt.Errorf("graph: node %q already has a conditional edge", from)
	}
	g.edges[from] = to
	return nil
}

// AddConditionalEdge registers a router on from. The router's label is looked
// up in targets; a label equal to END (or mapped to END) terminates.
func (g *Graph) AddConditionalEdge(from string, router RouterFunc, targets map[string]string) error {
	if router == nil {
		return fmt.Errorf("graph: conditional edge on %q has no router", from)
	}
	if _, exists := g.edges[from]; exists {
		return fmt.Errorf("graph: node %q already has an unconditional edge", from)
	}
	g.conditional[from] = conditionalEdge{router: router, targets: targets}
	return nil
}

// SetEntry sets the node executed first.
func (g *Graph) SetEntry(name string) error {
	if g.entry != "" && g.entry != name {
		return fmt.Errorf("graph: entry already set to %q", g.entry)
	}
	g.entry = name
	return nil
}

// Validate checks the graph is runnable: an entry exists and every edge
// target is a defined node or END.
func (g *Graph) Validate() error {
	if g.entry == "" {
		return fmt.Errorf("graph: no entry node")
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return fmt.Errorf("graph: entry node %q not defined", g.entry)
	}
	for from, to := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("graph: edge from undefined node %q", from)
		}
		if to != END {
			if _, ok := g.nodes[to]; !ok {
				return fmt.Errorf("graph: edge %q → undefined node %q", from, to)
			}
		}
	}
	for from, ce := range g.conditional {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("graph: conditional edge from undefined node %q", from)
		}
		for label, to := range ce.targets {
			if to != END {
				if _, ok := g.nodes[to]; !ok {
					return fmt.Errorf("graph: conditional %q[%q] → undefined node %q", from, label, to)
				}
			}
		}
	}
	return nil
}

// next resolves the successor of node given the current state.
func (g *Graph) next(node string, state *conversation.State) (string, error) {
	if ce, ok := g.conditional[node]; ok {
		label := ce.router(state)
		if label == END {
			return END, nil
		}
		if to, ok := ce.targets[label]; ok {
			return to, nil
		}
		// A label naming a node directly is accepted.
		if _, ok := g.nodes[label]; ok {
			return label, nil
		}
		return "", fmt.Errorf("graph: router on %q returned unknown label %q", node, label)
	}
	if to, ok := g.edges[node]; ok {
		return to, nil
	}
	return END, nil
}
