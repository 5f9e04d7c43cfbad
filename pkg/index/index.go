package index

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/askdoc/askdoc/internal/models"
	"github.com/askdoc/askdoc/internal/types"
	"github.com/askdoc/askdoc/pkg/store"
)

// DefaultOversample is the multiplier applied to k before filtering a
// document-scoped search down to one document. Scanning 4*k candidates keeps
// recall close to k even when the target document is a small fraction of the
// corpus; anything below 3 loses hits too easily.
const DefaultOversample = 4

// DefaultTopK matches the query layer's default result count.
const DefaultTopK = 5

type IndexConfig struct {
	Oversample int
}

// slot pairs a vector row with the chunk it was embedded from.
type slot struct {
	DocID string `json:"doc_id"`
	Chunk int    `json:"chunk"`
}

// Index is a flat in-memory embedding index. Vectors are stored
// unit-normalized so inner product equals cosine similarity, and mapping[i]
// always resolves vector row i to its (document, chunk) pair.
//
// The index has no point-deletion primitive: removing a document re-embeds
// every surviving chunk and rebuilds vectors and mapping from scratch.
// Mutations are not safe to run concurrently; callers serialize them.
type Index struct {
	config   IndexConfig
	embedder types.Embedder
	chunks   *store.DocumentChunkStore
	vectors  [][]float32
	mapping  []slot
	dim      int
}

func NewWithConfig(config IndexConfig, embedder types.Embedder) *Index {
	if config.Oversample < 3 {
		config.Oversample = DefaultOversample
	}
	return &Index{
		config:   config,
		embedder: embedder,
		chunks:   store.NewDocumentChunkStore(),
	}
}

// Add appends the document's vectors and replaces its chunk list wholesale.
// The vector dimension is fixed from the first vectors ever added. Adding an
// empty chunk list is a no-op. If docID is already indexed the caller must
// Remove it first; Add does not merge or detect duplicates.
func (ix *Index) Add(ctx context.Context, docID string, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}

	dim := ix.dim
	if dim == 0 {
		dim = len(vectors[0])
	}
	normalized := make([][]float32, len(vectors))
	for i, vec := range vectors {
		if len(vec) != dim {
			return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(vec), dim)
		}
		normalized[i] = normalize(vec)
	}

	ix.dim = dim
	ix.chunks.Put(docID, chunks)
	for i := range chunks {
		ix.vectors = append(ix.vectors, normalized[i])
		ix.mapping = append(ix.mapping, slot{DocID: docID, Chunk: i})
	}
	return nil
}

// Search returns up to k chunks of docID ranked by similarity to query,
// strictly descending, ties broken by insertion order. An unknown docID
// yields an empty result. The whole index is scanned and the top
// k*Oversample candidates are filtered down to the target document.
func (ix *Index) Search(ctx context.Context, docID string, query []float32, k int) ([]models.ScoredChunk, error) {
	chunks, ok := ix.chunks.Get(docID)
	if !ok {
		return nil, nil
	}
	if k <= 0 {
		k = DefaultTopK
	}
	ranked, err := ix.rank(query)
	if err != nil {
		return nil, err
	}

	limit := k * ix.config.Oversample
	if limit > len(ranked) {
		limit = len(ranked)
	}

	var results []models.ScoredChunk
	for _, cand := range ranked[:limit] {
		m := ix.mapping[cand.row]
		if m.DocID != docID {
			continue
		}
		results = append(results, models.ScoredChunk{Chunk: chunks[m.Chunk], Score: cand.score})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// SearchAll ranks every stored chunk against query and returns the top k,
// each tagged with its owning document.
func (ix *Index) SearchAll(ctx context.Context, query []float32, k int) ([]models.ScoredHit, error) {
	if len(ix.vectors) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = DefaultTopK
	}
	ranked, err := ix.rank(query)
	if err != nil {
		return nil, err
	}
	if k > len(ranked) {
		k = len(ranked)
	}

	results := make([]models.ScoredHit, 0, k)
	for _, cand := range ranked[:k] {
		m := ix.mapping[cand.row]
		chunks, ok := ix.chunks.Get(m.DocID)
		if !ok {
			continue
		}
		results = append(results, models.ScoredHit{
			Chunk: chunks[m.Chunk],
			Score: cand.score,
			DocID: m.DocID,
		})
	}
	return results, nil
}

// Remove deletes docID and rebuilds the whole index from the surviving
// documents, re-embedding every remaining chunk in slot order. Removing an
// unknown document is a no-op. The swap happens only after every surviving
// chunk embedded successfully, so a failed rebuild leaves the previous
// vectors, mapping and chunk store untouched.
func (ix *Index) Remove(ctx context.Context, docID string) error {
	if !ix.chunks.Has(docID) {
		return nil
	}

	var texts []string
	newMapping := make([]slot, 0, len(ix.mapping))
	for _, m := range ix.mapping {
		if m.DocID == docID {
			continue
		}
		chunks, ok := ix.chunks.Get(m.DocID)
		if !ok {
			continue
		}
		texts = append(texts, chunks[m.Chunk].Text)
		newMapping = append(newMapping, m)
	}

	newVectors := make([][]float32, 0, len(texts))
	if len(texts) > 0 {
		embedded, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to re-embed surviving chunks: %w", err)
		}
		if len(embedded) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d chunks", len(embedded), len(texts))
		}
		for _, vec := range embedded {
			if len(vec) != ix.dim {
				return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(vec), ix.dim)
			}
			newVectors = append(newVectors, normalize(vec))
		}
	}

	ix.chunks.Remove(docID)
	ix.vectors = newVectors
	ix.mapping = newMapping
	return nil
}

// Stats reports chunk count and character totals for docID, or a zero value
// when the document is absent.
func (ix *Index) Stats(ctx context.Context, docID string) (models.DocumentStats, error) {
	chunks, ok := ix.chunks.Get(docID)
	if !ok || len(chunks) == 0 {
		return models.DocumentStats{}, nil
	}

	total := 0
	for _, chunk := range chunks {
		total += len(chunk.Text)
	}
	return models.DocumentStats{
		TotalChunks:     len(chunks),
		AvgChunkLength:  float64(total) / float64(len(chunks)),
		TotalCharacters: total,
	}, nil
}

func (ix *Index) DocIDs(ctx context.Context) ([]string, error) {
	return ix.chunks.DocIDs(), nil
}

// Len reports the number of stored vectors.
func (ix *Index) Len() int {
	return len(ix.vectors)
}

// Dimension reports the fixed vector dimension, 0 before the first Add.
func (ix *Index) Dimension() int {
	return ix.dim
}

type candidate struct {
	row   int
	score float32
}

// rank scores the normalized query against every stored vector and sorts
// descending. The stable sort keeps insertion order for equal scores.
func (ix *Index) rank(query []float32) ([]candidate, error) {
	if ix.dim != 0 && len(query) != ix.dim {
		return nil, fmt.Errorf("query dimension mismatch: got %d, want %d", len(query), ix.dim)
	}
	q := normalize(query)

	ranked := make([]candidate, len(ix.vectors))
	for i, vec := range ix.vectors {
		ranked[i] = candidate{row: i, score: dot(vec, q)}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].score > ranked[b].score
	})
	return ranked, nil
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// normalize returns a unit-length copy of v so that inner product equals
// cosine similarity. A zero vector is copied unchanged.
func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)

	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
