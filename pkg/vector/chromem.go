package vector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/philippgille/chromem-go"
)

// ChromemIndex backs an Index with chromem-go, optionally persisted to disk.
type ChromemIndex struct {
	db          *chromem.DB
	collection  *chromem.Collection
	persistPath string
}

// NewChromemIndex creates a chromem-backed index for one collection.
// When persistDir is empty the index lives in memory only.
func NewChromemIndex(persistDir, collection string) (*ChromemIndex, error) {
	var db *chromem.DB
	var persistPath string

	if persistDir != "" {
		if err := os.MkdirAll(persistDir, 0o755); err != nil {
			return nil, fmt.Errorf("chromem: create persist dir: %w", err)
		}
		persistPath = filepath.Join(persistDir, collection+".gob")
		if _, err := os.Stat(persistPath); err == nil {
			loaded, err := chromem.NewPersistentDB(persistPath, false)
			if err != nil {
				return nil, fmt.Errorf("chromem: load %s: %w", persistPath, err)
			}
			db = loaded
		}
	}
	if db == nil {
		db = chromem.NewDB()
	}

	// Embeddings are pre-computed by the caller; chromem must never embed.
	identity := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("chromem: embedding requested but vectors are pre-computed")
	}
	col, err := db.GetOrCreateCollection(collection, nil, identity)
	if err != nil {
		return nil, fmt.Errorf("chromem: collection %q: %w", collection, err)
	}

	return &ChromemIndex{db: db, collection: col, persistPath: persistPath}, nil
}

// Upsert implements Index.
func (c *ChromemIndex) Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]any) error {
	strMeta := make(map[string]string, len(metadata))
	content := ""
	for k, v := range metadata {
		strMeta[k] = fmt.Sprint(v)
		if k == "content" {
			content = strMeta[k]
		}
	}

	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  strMeta,
		Embedding: embedding,
	}
	if err := c.collection.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("chromem: upsert: %w", err)
	}
	return c.persist()
}

// Search implements Index.
func (c *ChromemIndex) Search(ctx context.Context, embedding []float32, topK int) ([]Hit, error) {
	if count := c.collection.Count(); count < topK {
		topK = count
	}
	if topK == 0 {
		return nil, nil
	}

	results, err := c.collection.QueryEmbedding(ctx, embedding, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		meta := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		hits = append(hits, Hit{ID: r.ID, Score: r.Similarity, Metadata: meta})
	}
	return hits, nil
}

// Close implements Index.
func (c *ChromemIndex) Close() error { return c.persist() }

func (c *ChromemIndex) persist() error {
	if c.persistPath == "" {
		return nil
	}
	if err := c.db.Export(c.persistPath, false, ""); err != nil {
		return fmt.Errorf("chromem: persist: %w", err)
	}
	return nil
}
