package types

import (
	"context"

	"github.com/askdoc/askdoc/internal/models"
)

// Embedder turns texts into fixed-dimension vectors. The dimension must be
// constant across calls for the lifetime of one index instance.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex stores chunk vectors and answers similarity queries, scoped to
// one document or across all documents.
type VectorIndex interface {
	Add(ctx context.Context, docID string, chunks []models.Chunk, vectors [][]float32) error
	Search(ctx context.Context, docID string, query []float32, k int) ([]models.ScoredChunk, error)
	SearchAll(ctx context.Context, query []float32, k int) ([]models.ScoredHit, error)
	Remove(ctx context.Context, docID string) error
	Stats(ctx context.Context, docID string) (models.DocumentStats, error)
	DocIDs(ctx context.Context) ([]string, error)
}

// Snapshotter is implemented by index backends that can persist their full
// state to disk and restore it.
type Snapshotter interface {
	Save(path string) error
	Load(path string) error
}
