// Package agent implements the specialist runtime: a single interaction
// pipeline shared by the supervisor and the seven domain specialists, with
// per-specialist profiles supplying intents, confidence adjustments, and
// next-action tables.
package agent

import (
	"context"
	"errors"

	"github.com/climatepath/pendo/pkg/conversation"
)

// ErrInvalidInput is returned when an interaction request is missing its
// message or identifiers.
var ErrInvalidInput = errors.New("invalid input")

// SpecialistID identifies one of the eight agents.
type SpecialistID string

const (
	Pendo   SpecialistID = "pendo"
	Alex    SpecialistID = "alex"
	Mai     SpecialistID = "mai"
	Marcus  SpecialistID = "marcus"
	Liv     SpecialistID = "liv"
	Miguel  SpecialistID = "miguel"
	Jasmine SpecialistID = "jasmine"
	Lauren  SpecialistID = "lauren"
)

// Specialists lists the seven domain specialists (everything except the
// supervisor).
var Specialists = []SpecialistID{Alex, Mai, Marcus, Liv, Miguel, Jasmine, Lauren}

// Valid reports whether id names a known agent.
func (id SpecialistID) Valid() bool {
	switch id {
	case Pendo, Alex, Mai, Marcus, Liv, Miguel, Jasmine, Lauren:
		return true
	}
	return false
}

// Request is one user interaction handed to an agent.
type Request struct {
	Message        string
	UserID         string
	ConversationID string
	SessionData    map[string]any
	UserProfile    map[string]any
}

// Context is the per-turn context assembled for one invocation. It is built
// fresh each call and never persisted.
type Context struct {
	UserID              string
	ConversationID      string
	SessionData         map[string]any
	UserProfile         map[string]any
	ConversationHistory []conversation.Message
	ToolsAvailable      []string
	Metadata            map[string]any
}

// Response is the uniform agent output. It is never mutated after emission.
type Response struct {
	Content          string         `json:"content"`
	SpecialistType   string         `json:"specialist_type"`
	ConfidenceScore  float64        `json:"confidence_score"`
	ToolsUsed        []string       `json:"tools_used,omitempty"`
	NextActions      []string       `json:"next_actions"`
	Sources          []string       `json:"sources,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Success          bool           `json:"success"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	ProcessingTimeMs float64        `json:"processing_time_ms"`
}

// Agent is the capability contract every specialist implements.
type Agent interface {
	ID() SpecialistID
	Capabilities() []string
	HandleInteraction(ctx context.Context, req *Request) (*Response, error)
}
