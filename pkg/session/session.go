// Package session tracks live conversation sessions in process: a rolling
// message window per (user, conversation) pair, per-user usage counters, and
// expiry with a grace period before purge. The tracker is sharded by FNV
// hash so hot paths don't contend on one lock.
package session

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/climatepath/pendo/pkg/config"
	"github.com/climatepath/pendo/pkg/conversation"
)

const (
	// DefaultWindowSize bounds the rolling message window.
	DefaultWindowSize = 20

	// DefaultGracePeriod keeps expired sessions visible before Purge drops
	// them.
	DefaultGracePeriod = time.Hour

	// sessionTTL is the fixed expiry, counted from session creation.
	sessionTTL = 24 * time.Hour

	shardCount = 16
)

// Status is the lifecycle state reported for a session.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusUnknown Status = "unknown"
)

type key struct {
	userID         string
	conversationID string
}

type session struct {
	key         key
	window      []conversation.Message
	specialists map[string]struct{}
	createdAt   time.Time
}

type shard struct {
	mu       sync.RWMutex
	sessions map[key]*session
}

// UserStats aggregates a user's sessions across all shards.
type UserStats struct {
	TotalSessions   int      `json:"total_sessions"`
	ActiveSessions  int      `json:"active_sessions"`
	SpecialistsUsed []string `json:"specialists_used"`
}

// Tracker is the sharded session tracker.
type Tracker struct {
	windowSize int
	grace      time.Duration
	now        func() time.Time

	shards [shardCount]*shard
}

// NewTracker builds a tracker from config; zero values take the defaults.
func NewTracker(cfg *config.SessionConfig) *Tracker {
	t := &Tracker{
		windowSize: DefaultWindowSize,
		grace:      DefaultGracePeriod,
		now:        time.Now,
	}
	if cfg != nil {
		if cfg.WindowSize > 0 {
			t.windowSize = cfg.WindowSize
		}
		if cfg.GracePeriod > 0 {
			t.grace = cfg.GracePeriod
		}
	}
	for i := range t.shards {
		t.shards[i] = &shard{sessions: make(map[key]*session)}
	}
	return t
}

func (t *Tracker) shardFor(k key) *shard {
	h := fnv.New32a()
	h.Write([]byte(k.userID))
	h.Write([]byte{0})
	h.Write([]byte(k.conversationID))
	return t.shards[h.Sum32()%shardCount]
}

// Touch records activity on a session, creating it on first use, and appends
// any messages to the rolling window. Touching an expired session starts a
// fresh record.
func (t *Tracker) Touch(userID, conversationID string, msgs ...conversation.Message) {
	k := key{userID, conversationID}
	sh := t.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := t.now()
	s, ok := sh.sessions[k]
	if !ok || now.Sub(s.createdAt) > sessionTTL {
		s = &session{key: k, specialists: make(map[string]struct{}), createdAt: now}
		sh.sessions[k] = s
	}
	s.window = append(s.window, msgs...)
	if overflow := len(s.window) - t.windowSize; overflow > 0 {
		s.window = append([]conversation.Message(nil), s.window[overflow:]...)
	}
}

// RecordSpecialist notes that a specialist served this session.
func (t *Tracker) RecordSpecialist(userID, conversationID, specialist string) {
	k := key{userID, conversationID}
	sh := t.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if s, ok := sh.sessions[k]; ok {
		s.specialists[specialist] = struct{}{}
	}
}

// Window returns a copy of the session's rolling message window.
func (t *Tracker) Window(userID, conversationID string) []conversation.Message {
	k := key{userID, conversationID}
	sh := t.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[k]
	if !ok {
		return nil
	}
	return append([]conversation.Message(nil), s.window...)
}

// Status reports the lifecycle state of a session. A session expires 24 h
// after creation regardless of activity, but stays visible until purged.
func (t *Tracker) Status(userID, conversationID string) Status {
	k := key{userID, conversationID}
	sh := t.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[k]
	if !ok {
		return StatusUnknown
	}
	if t.now().Sub(s.createdAt) > sessionTTL {
		return StatusExpired
	}
	return StatusActive
}

// Stats aggregates counters for one user across all shards.
func (t *Tracker) Stats(userID string) UserStats {
	now := t.now()
	stats := UserStats{}
	used := make(map[string]struct{})
	for _, sh := range t.shards {
		sh.mu.RLock()
		for k, s := range sh.sessions {
			if k.userID != userID {
				continue
			}
			stats.TotalSessions++
			if now.Sub(s.createdAt) <= sessionTTL {
				stats.ActiveSessions++
			}
			for sp := range s.specialists {
				used[sp] = struct{}{}
			}
		}
		sh.mu.RUnlock()
	}
	for sp := range used {
		stats.SpecialistsUsed = append(stats.SpecialistsUsed, sp)
	}
	sort.Strings(stats.SpecialistsUsed)
	return stats
}

// Len returns the number of tracked sessions.
func (t *Tracker) Len() int {
	total := 0
	for _, sh := range t.shards {
		sh.mu.RLock()
		total += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return total
}

// Purge drops sessions that have been expired for longer than the grace
// period and returns how many were removed.
func (t *Tracker) Purge() int {
	cutoff := t.now().Add(-(sessionTTL + t.grace))
	removed := 0
	for _, sh := range t.shards {
		sh.mu.Lock()
		for k, s := range sh.sessions {
			if s.createdAt.Before(cutoff) {
				delete(sh.sessions, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
