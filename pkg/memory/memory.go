// Package memory provides per-agent memory: an append-only episodic log, a
// replace-on-write semantic map, and an embedding cache for similarity
// retrieval. Failures in embedding or indexing degrade to recency retrieval;
// they never fail the caller.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/climatepath/pendo/pkg/vector"
)

// Embedder turns text into a vector. llms.Provider satisfies this.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Episode is one recorded interaction.
type Episode struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Timestamp  time.Time      `json:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Store is one agent's memory. Writes are serialized; reads are concurrent.
type Store struct {
	agentID  string
	embedder Embedder
	index    vector.Index
	logger   *slog.Logger

	mu       sync.RWMutex
	episodes []Episode
	byID     map[string]int
	semantic map[string]any
	embedded map[string]bool
}

// NewStore creates a memory store for one agent. embedder may be nil, in
// which case retrieval is recency-only.
func NewStore(agentID string, embedder Embedder, index vector.Index, logger *slog.Logger) *Store {
	if index == nil {
		index = vector.NewMemoryIndex()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		agentID:  agentID,
		embedder: embedder,
		index:    index,
		logger:   logger,
		byID:     make(map[string]int),
		semantic: make(map[string]any),
		embedded: make(map[string]bool),
	}
}

// AgentID returns the owning agent id.
func (s *Store) AgentID() string { return s.agentID }

// StoreEpisode appends an episode and lazily caches its embedding. The
// embedding write is best-effort: on failure the episode is still recorded
// and retrieval falls back to recency for it.
func (s *Store) StoreEpisode(ctx context.Context, content string, attributes map[string]any) Episode {
	ep := Episode{
		ID:         uuid.NewString(),
		Content:    content,
		Timestamp:  time.Now().UTC(),
		Attributes: attributes,
	}

	s.mu.Lock()
	s.byID[ep.ID] = len(s.episodes)
	s.episodes = append(s.episodes, ep)
	s.mu.Unlock()

	if s.embedder == nil {
		return ep
	}
	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		s.logger.Warn("episode embedding failed, recency fallback will apply",
			"agent", s.agentID, "episode", ep.ID, "error", err)
		return ep
	}
	if err := s.index.Upsert(ctx, ep.ID, embedding, map[string]any{"content": content}); err != nil {
		s.logger.Warn("episode index write failed",
			"agent", s.agentID, "episode", ep.ID, "error", err)
		return ep
	}

	s.mu.Lock()
	s.embedded[ep.ID] = true
	s.mu.Unlock()
	return ep
}

// Retrieve returns the k episodes most similar to query, ties newest-first.
// When no embeddings are available it returns the k most recent episodes in
// reverse chronological order.
func (s *Store) Retrieve(ctx context.Context, query string, k int) []Episode {
	if k <= 0 {
		return nil
	}

	s.mu.RLock()
	haveEmbeddings := len(s.embedded) > 0
	s.mu.RUnlock()

	if s.embedder != nil && haveEmbeddings {
		if episodes, ok := s.retrieveBySimilarity(ctx, query, k); ok {
			return episodes
		}
	}
	return s.mostRecent(k)
}

func (s *Store) retrieveBySimilarity(ctx context.Context, query string, k int) ([]Episode, bool) {
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("query embedding failed, using recency",
			"agent", s.agentID, "error", err)
		return nil, false
	}
	hits, err := s.index.Search(ctx, embedding, k)
	if err != nil {
		s.logger.Warn("similarity search failed, using recency",
			"agent", s.agentID, "error", err)
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	episodes := make([]Episode, 0, len(hits))
	for _, hit := range hits {
		if idx, ok := s.byID[hit.ID]; ok {
			episodes = append(episodes, s.episodes[idx])
		}
	}
	return episodes, true
}

func (s *Store) mostRecent(k int) []Episode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.episodes)
	if k > n {
		k = n
	}
	out := make([]Episode, 0, k)
	for i := n - 1; i >= n-k; i-- {
		out = append(out, s.episodes[i])
	}
	return out
}

// UpdateSemantic sets a semantic key, replacing any previous value.
func (s *Store) UpdateSemantic(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.semantic[key] = value
}

// Semantic returns the value stored under key.
func (s *Store) Semantic(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.semantic[key]
	return v, ok
}

// Len returns the number of recorded episodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.episodes)
}

// Manager hands out one Store per agent, creating on first use.
type Manager struct {
	embedder Embedder
	newIndex func(agentID string) (vector.Index, error)
	logger   *slog.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager creates a store manager. newIndex builds the embedding cache
// backend per agent; nil means in-memory.
func NewManager(embedder Embedder, newIndex func(agentID string) (vector.Index, error), logger *slog.Logger) *Manager {
	return &Manager{
		embedder: embedder,
		newIndex: newIndex,
		logger:   logger,
		stores:   make(map[string]*Store),
	}
}

// ForAgent returns the agent's store, creating it on first use.
func (m *Manager) ForAgent(agentID string) (*Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[agentID]; ok {
		return s, nil
	}

	var idx vector.Index
	if m.newIndex != nil {
		built, err := m.newIndex(agentID)
		if err != nil {
			return nil, fmt.Errorf("memory: index for %s: %w", agentID, err)
		}
		idx = built
	}
	s := NewStore(agentID, m.embedder, idx, m.logger)
	m.stores[agentID] = s
	return s, nil
}
