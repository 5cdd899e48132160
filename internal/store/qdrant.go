package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
)

// Qdrant wraps the vector index with connection management and health
// checks. Point IDs are the document IDs, so a semantic hit maps straight
// back to its SQLite row.
type Qdrant struct {
	client *qdrant.Client
}

// NewQdrant creates a Qdrant client and validates connectivity. The health
// check retries with exponential backoff and fails fast if the server stays
// unreachable.
func NewQdrant(host string, port int) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	q := &Qdrant{client: client}
	if err := q.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}
	return q, nil
}

func (q *Qdrant) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return q.Health(ctx)
	}, backoff.WithContext(b, ctx))
}

// Health performs a single health check.
func (q *Qdrant) Health(ctx context.Context) error {
	result, err := q.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the rule_documents collection if it does not
// exist. Idempotent.
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	collections, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, name := range collections {
		if name == CollectionName {
			return nil
		}
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: CollectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     VectorDimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// ClearCollection drops and recreates the collection.
func (q *Qdrant) ClearCollection(ctx context.Context) error {
	if err := q.client.DeleteCollection(ctx, CollectionName); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return q.EnsureCollection(ctx)
}

// Close closes the client connection.
func (q *Qdrant) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

// UpsertDocuments stores documents with their embeddings. vectors[i] must
// be the embedding of docs[i]. Upserts are batched and retried with
// exponential backoff.
func (q *Qdrant) UpsertDocuments(ctx context.Context, docs []Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("document/vector count mismatch: %d vs %d", len(docs), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != VectorDimension {
			return fmt.Errorf("%w: document %d has %d dimensions, expected %d",
				ErrDimensionMismatch, docs[i].ID, len(v), VectorDimension)
		}
	}

	const batchSize = 100
	for i := 0; i < len(docs); i += batchSize {
		end := min(i+batchSize, len(docs))

		points := make([]*qdrant.PointStruct, 0, end-i)
		for j := i; j < end; j++ {
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(uint64(docs[j].ID)),
				Vectors: qdrant.NewVectors(vectors[j]...),
				Payload: qdrant.NewValueMap(map[string]any{
					"content": docs[j].Content,
					"context": docs[j].Context,
					"source":  docs[j].Source,
				}),
			})
		}
		if err := q.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

func (q *Qdrant) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: CollectionName,
			Points:         points,
		})
		return err
	}, backoff.WithContext(b, ctx))
}

// SimilaritySearch returns the IDs of the closest documents to the query
// vector, best first.
func (q *Qdrant) SimilaritySearch(ctx context.Context, vector []float32, limit int) ([]int64, error) {
	if len(vector) != VectorDimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), VectorDimension)
	}

	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: CollectionName,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	ids := make([]int64, 0, len(results))
	for _, r := range results {
		ids = append(ids, int64(r.Id.GetNum()))
	}
	return ids, nil
}

// PointCount returns the number of stored points.
func (q *Qdrant) PointCount(ctx context.Context) (uint64, error) {
	info, err := q.client.GetCollectionInfo(ctx, CollectionName)
	if err != nil {
		return 0, fmt.Errorf("get collection info: %w", err)
	}
	return info.GetPointsCount(), nil
}
