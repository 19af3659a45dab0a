// Package store persists user profiles, workflow sessions, and the partner
// organization database. Two implementations are provided: an in-memory store
// for tests and single-node development, and a database/sql store that runs
// on SQLite or Postgres.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// UserType distinguishes the profile tables a user may appear in. Resolution
// order is fixed: admin, then partner, then job seeker.
type UserType string

const (
	UserTypeAdmin     UserType = "admin"
	UserTypePartner   UserType = "partner"
	UserTypeJobSeeker UserType = "job_seeker"
)

// Profile is a resolved user profile.
type Profile struct {
	UserID     string         `json:"user_id"`
	UserType   UserType       `json:"user_type"`
	Email      string         `json:"email,omitempty"`
	FullName   string         `json:"full_name,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ProfileStore resolves user profiles across the typed profile tables.
type ProfileStore interface {
	// ResolveProfile checks the admin, partner, and job seeker tables in that
	// order and returns the first match, or ErrNotFound.
	ResolveProfile(ctx context.Context, userID string) (*Profile, error)
	UpsertProfile(ctx context.Context, p *Profile) error
}

// SessionStatus is the lifecycle state of a workflow session row.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionExpired  SessionStatus = "expired"
	SessionInactive SessionStatus = "inactive"
)

// WorkflowSession is one persisted workflow execution, keyed by session ID.
// Data holds the serialized checkpoint for suspended executions.
type WorkflowSession struct {
	SessionID    string         `json:"session_id"`
	UserID       string         `json:"user_id"`
	WorkflowType string         `json:"workflow_type"`
	Status       SessionStatus  `json:"status"`
	Data         map[string]any `json:"data,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// SessionStore persists workflow sessions.
type SessionStore interface {
	SaveSession(ctx context.Context, s *WorkflowSession) error
	GetSession(ctx context.Context, sessionID string) (*WorkflowSession, error)
	ListSessions(ctx context.Context, userID string) ([]*WorkflowSession, error)
	// ExpireSessions marks active sessions older than cutoff as expired and
	// returns how many rows changed.
	ExpireSessions(ctx context.Context, cutoff time.Time) (int, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// PartnerMatch is one scored partner organization result.
type PartnerMatch struct {
	Organization  string  `json:"organization"`
	Role          string  `json:"role"`
	MatchScore    float64 `json:"match_score"`
	CareerPageURL string  `json:"career_page_url"`
	Contact       string  `json:"contact,omitempty"`
	Location      string  `json:"location,omitempty"`
	SalaryRange   string  `json:"salary_range,omitempty"`
}

// Partner is a partner organization row.
type Partner struct {
	Organization  string   `json:"organization"`
	Role          string   `json:"role"`
	FocusAreas    []string `json:"focus_areas"`
	CareerPageURL string   `json:"career_page_url"`
	Contact       string   `json:"contact,omitempty"`
	Location      string   `json:"location,omitempty"`
	SalaryRange   string   `json:"salary_range,omitempty"`
}

// PartnerStore matches partner organizations against a free-text query.
type PartnerStore interface {
	// MatchPartners returns up to limit partners ranked by match score
	// descending. An empty result is not an error.
	MatchPartners(ctx context.Context, query string, limit int) ([]PartnerMatch, error)
	AddPartner(ctx context.Context, p *Partner) error
}

// Store bundles the three persistence concerns behind one handle.
type Store interface {
	ProfileStore
	SessionStore
	PartnerStore
	Close() error
}
