package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

type memoryEntry struct {
	id        string
	embedding []float32
	metadata  map[string]any
	seq       uint64
}

// MemoryIndex is an in-process cosine similarity index. Results are
// deterministic: equal scores order newest-first by insertion sequence.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	nextSeq uint64
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]*memoryEntry)}
}

// Upsert implements Index.
func (m *MemoryIndex) Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[id] = &memoryEntry{
		id:        id,
		embedding: append([]float32(nil), embedding...),
		metadata:  metadata,
		seq:       m.nextSeq,
	}
	m.nextSeq++
	return nil
}

// Search implements Index.
func (m *MemoryIndex) Search(ctx context.Context, embedding []float32, topK int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		entry *memoryEntry
		score float32
	}
	candidates := make([]scored, 0, len(m.entries))
	for _, e := range m.entries {
		candidates = append(candidates, scored{entry: e, score: CosineSimilarity(embedding, e.embedding)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].entry.seq > candidates[j].entry.seq
	})

	if topK > len(candidates) {
		topK = len(candidates)
	}
	hits := make([]Hit, 0, topK)
	for _, c := range candidates[:topK] {
		hits = append(hits, Hit{ID: c.entry.id, Score: c.score, Metadata: c.entry.metadata})
	}
	return hits, nil
}

// Len returns the number of stored entries.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close implements Index.
func (m *MemoryIndex) Close() error { return nil }

// CosineSimilarity computes the cosine of the angle between two vectors,
// or 0 when either has zero magnitude or lengths differ.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
