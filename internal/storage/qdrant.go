package storage

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// ScoredID is a chunk ID with its similarity score, as returned by a
// vector index.
type ScoredID struct {
	// ID is the chunk ID the point was stored under.
	ID string
	// Score is the cosine similarity to the query.
	Score float32
}

// VectorIndex mirrors chunk embeddings for approximate similarity search.
// The Gateway treats it as a secondary store: SQLite rows remain the
// source of truth and matches are hydrated from them.
type VectorIndex interface {
	// Upsert stores or updates the points for the given chunks.
	Upsert(ctx context.Context, chunks []Chunk) error
	// Search returns the IDs of the chunks most similar to the embedding,
	// best first, at most limit of them, all scoring at least threshold.
	Search(ctx context.Context, embedding []float32, limit int, threshold float32) ([]ScoredID, error)
	// DeleteDocument removes every point belonging to the document.
	DeleteDocument(ctx context.Context, documentID string) error
	// Close releases the index connection.
	Close() error
}

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string
	// Port is the Qdrant gRPC port (default: 6334).
	Port int
	// Collection is the Qdrant collection name to use.
	Collection string
	// VectorSize is the dimensionality of the stored embeddings.
	VectorSize uint64
	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string
	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex implements VectorIndex backed by a Qdrant instance.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client
	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig
}

// NewQdrantIndex creates a QdrantIndex, ensuring the target collection
// exists (creating it if necessary).
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

// Upsert stores or updates one point per chunk, keyed by chunk ID. The
// payload carries only the fields needed to hydrate and delete points;
// content stays in SQLite.
func (s *QdrantIndex) Upsert(ctx context.Context, chunks []Chunk) error {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				"document_id": c.DocumentID,
				"chunk_index": int64(c.Index),
			}),
		})
	}

	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// Search performs a cosine similarity query and returns scored chunk IDs,
// best first.
func (s *QdrantIndex) Search(ctx context.Context, embedding []float32, limit int, threshold float32) ([]ScoredID, error) {
	lim := uint64(limit)
	query := &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &lim,
	}
	if threshold > 0 {
		query.ScoreThreshold = &threshold
	}

	results, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	out := make([]ScoredID, 0, len(results))
	for _, r := range results {
		out = append(out, ScoredID{ID: r.Id.GetUuid(), Score: r.Score})
	}
	return out, nil
}

// DeleteDocument removes every point whose payload references the document.
func (s *QdrantIndex) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("document_id", documentID),
			},
		}),
	}); err != nil {
		return fmt.Errorf("qdrant: delete failed: %w", err)
	}
	return nil
}

// Client exposes the underlying Qdrant gRPC client for health probes.
func (s *QdrantIndex) Client() *qdrant.Client {
	return s.client
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantIndex) Close() error {
	return s.client.Close()
}
