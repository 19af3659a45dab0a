package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantIndex backs an Index with a remote Qdrant collection over gRPC.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantIndex connects to Qdrant and ensures the collection exists.
func NewQdrantIndex(host string, port int, collection string, dimension int) (*QdrantIndex, error) {
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect %s:%d: %w", host, port, err)
	}

	return &QdrantIndex{client: client, collection: collection, dimension: dimension}, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, dimension int) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("qdrant: check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("qdrant: create collection: %w", err)
	}
	return nil
}

// Upsert implements Index.
func (q *QdrantIndex) Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]any) error {
	if err := q.ensureCollection(ctx, len(embedding)); err != nil {
		return err
	}

	payload := make(map[string]*qdrant.Value, len(metadata))
	for k, v := range metadata {
		val, err := qdrant.NewValue(v)
		if err != nil {
			return fmt.Errorf("qdrant: metadata %s: %w", k, err)
		}
		payload[k] = val
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(id),
		Vectors: qdrant.NewVectors(embedding...),
		Payload: payload,
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert: %w", err)
	}
	return nil
}

// Search implements Index.
func (q *QdrantIndex) Search(ctx context.Context, embedding []float32, topK int) ([]Hit, error) {
	req := &qdrant.SearchPoints{
		CollectionName: q.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	result, err := q.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}

	hits := make([]Hit, 0, len(result.Result))
	for _, point := range result.Result {
		var id string
		if point.Id != nil {
			switch v := point.Id.PointIdOptions.(type) {
			case *qdrant.PointId_Uuid:
				id = v.Uuid
			case *qdrant.PointId_Num:
				id = fmt.Sprintf("%d", v.Num)
			}
		}

		meta := make(map[string]any, len(point.Payload))
		for k, value := range point.Payload {
			switch v := value.Kind.(type) {
			case *qdrant.Value_StringValue:
				meta[k] = v.StringValue
			case *qdrant.Value_IntegerValue:
				meta[k] = v.IntegerValue
			case *qdrant.Value_DoubleValue:
				meta[k] = v.DoubleValue
			case *qdrant.Value_BoolValue:
				meta[k] = v.BoolValue
			}
		}
		hits = append(hits, Hit{ID: id, Score: point.Score, Metadata: meta})
	}
	return hits, nil
}

// Close implements Index.
func (q *QdrantIndex) Close() error { return q.client.Close() }
