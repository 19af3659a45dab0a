// Package vector provides the embedding index behind the memory store:
// an in-process cosine index by default, with chromem-go and Qdrant backends
// for persistence and scale.
package vector

import (
	"context"
	"fmt"

	"github.com/climatepath/pendo/pkg/config"
)

// Hit is one similarity search result.
type Hit struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Index stores pre-computed embeddings for one collection and answers
// top-k cosine similarity queries.
type Index interface {
	Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]any) error
	Search(ctx context.Context, embedding []float32, topK int) ([]Hit, error)
	Close() error
}

// NewIndex builds an index for the named collection from config.
func NewIndex(cfg *config.VectorConfig, collection string) (Index, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryIndex(), nil
	case "chromem":
		return NewChromemIndex(cfg.Path, collection)
	case "qdrant":
		return NewQdrantIndex(cfg.Host, cfg.Port, collection, cfg.Dimension)
	default:
		return nil, fmt.Errorf("vector: unsupported backend: %s", cfg.Backend)
	}
}
