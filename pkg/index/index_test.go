package index_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdoc/askdoc/internal/models"
	"github.com/askdoc/askdoc/pkg/index"
)

// stubEmbedder returns fixed vectors keyed by text, so rebuilds are
// deterministic and failures can be injected.
type stubEmbedder struct {
	vectors map[string][]float32
	fail    bool
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.fail {
		return nil, errors.New("embedding backend unavailable")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, ok := s.vectors[text]
		if !ok {
			return nil, fmt.Errorf("no stub vector for %q", text)
		}
		out[i] = vec
	}
	return out, nil
}

func makeChunks(texts ...string) []models.Chunk {
	chunks := make([]models.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = models.Chunk{
			Text:    text,
			ChunkID: fmt.Sprintf("chunk_%d", i),
			Page:    1,
		}
	}
	return chunks
}

// newTwoDocIndex builds an index holding document A (3 chunks) and document
// B (2 chunks) with hand-picked vectors so that the ranking against the
// query vector {1,0,0} is a0 > a1 > b1 > a2 = b0.
func newTwoDocIndex(t *testing.T) (*index.Index, *stubEmbedder) {
	t.Helper()

	emb := &stubEmbedder{vectors: map[string][]float32{
		"a zero": {1, 0, 0},
		"a one":  {0.8, 0.6, 0},
		"a two":  {0, 1, 0},
		"b zero": {0, 0, 1},
		"b one":  {0.6, 0, 0.8},
	}}
	ix := index.NewWithConfig(index.IndexConfig{}, emb)

	ctx := context.Background()
	chunksA := makeChunks("a zero", "a one", "a two")
	chunksB := makeChunks("b zero", "b one")

	vecsA, err := emb.Embed(ctx, []string{"a zero", "a one", "a two"})
	require.NoError(t, err)
	vecsB, err := emb.Embed(ctx, []string{"b zero", "b one"})
	require.NoError(t, err)

	require.NoError(t, ix.Add(ctx, "docA", chunksA, vecsA))
	require.NoError(t, ix.Add(ctx, "docB", chunksB, vecsB))
	return ix, emb
}

var query = []float32{1, 0, 0}

func TestAdd_EmptyIsNoOp(t *testing.T) {
	ix := index.NewWithConfig(index.IndexConfig{}, &stubEmbedder{})

	require.NoError(t, ix.Add(context.Background(), "doc", nil, nil))
	assert.Equal(t, 0, ix.Len())

	ids, err := ix.DocIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestAdd_CountMismatch(t *testing.T) {
	ix := index.NewWithConfig(index.IndexConfig{}, &stubEmbedder{})

	err := ix.Add(context.Background(), "doc", makeChunks("one", "two"), [][]float32{{1, 0}})
	assert.Error(t, err)
	assert.Equal(t, 0, ix.Len())
}

func TestAdd_DimensionMismatchLeavesIndexUntouched(t *testing.T) {
	ctx := context.Background()
	ix := index.NewWithConfig(index.IndexConfig{}, &stubEmbedder{})

	require.NoError(t, ix.Add(ctx, "docA", makeChunks("one"), [][]float32{{1, 0, 0}}))

	err := ix.Add(ctx, "docB", makeChunks("two"), [][]float32{{1, 0, 0, 0}})
	assert.Error(t, err)
	assert.Equal(t, 1, ix.Len())

	stats, err := ix.Stats(ctx, "docB")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalChunks)
}

func TestAdd_MixedDimensionsOnFirstCall(t *testing.T) {
	ix := index.NewWithConfig(index.IndexConfig{}, &stubEmbedder{})

	err := ix.Add(context.Background(), "doc",
		makeChunks("one", "two"),
		[][]float32{{1, 0, 0}, {1, 0}})
	assert.Error(t, err)
	assert.Equal(t, 0, ix.Len())
	assert.Equal(t, 0, ix.Dimension())
}

func TestSearch_ScopedToDocumentDescendingScores(t *testing.T) {
	ix, _ := newTwoDocIndex(t)
	ctx := context.Background()

	results, err := ix.Search(ctx, "docA", query, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "chunk_0", results[0].Chunk.ChunkID)
	assert.Equal(t, "chunk_1", results[1].Chunk.ChunkID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.InDelta(t, 0.8, results[1].Score, 1e-5)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearch_UnknownDocumentIsEmpty(t *testing.T) {
	ix, _ := newTwoDocIndex(t)

	results, err := ix.Search(context.Background(), "nope", query, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_TiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	ix := index.NewWithConfig(index.IndexConfig{}, &stubEmbedder{})

	require.NoError(t, ix.Add(ctx, "doc",
		makeChunks("first", "second"),
		[][]float32{{0, 1, 0}, {0, 1, 0}}))

	results, err := ix.Search(ctx, "doc", []float32{0, 1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "chunk_0", results[0].Chunk.ChunkID)
	assert.Equal(t, "chunk_1", results[1].Chunk.ChunkID)
}

func TestSearch_QueryDimensionMismatch(t *testing.T) {
	ix, _ := newTwoDocIndex(t)

	_, err := ix.Search(context.Background(), "docA", []float32{1, 0}, 2)
	assert.Error(t, err)
}

func TestSearchAll_TagsResultsWithDocumentID(t *testing.T) {
	ix, _ := newTwoDocIndex(t)

	hits, err := ix.SearchAll(context.Background(), query, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "docA", hits[0].DocID)
	assert.Equal(t, "chunk_0", hits[0].Chunk.ChunkID)
	assert.Equal(t, "docA", hits[1].DocID)
	assert.Equal(t, "chunk_1", hits[1].Chunk.ChunkID)
	assert.Equal(t, "docB", hits[2].DocID)
	assert.Equal(t, "chunk_1", hits[2].Chunk.ChunkID)

	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestSearchAll_EmptyIndex(t *testing.T) {
	ix := index.NewWithConfig(index.IndexConfig{}, &stubEmbedder{})

	hits, err := ix.SearchAll(context.Background(), query, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRemove_RebuildsFromSurvivors(t *testing.T) {
	ix, _ := newTwoDocIndex(t)
	ctx := context.Background()

	before, err := ix.Search(ctx, "docB", query, 2)
	require.NoError(t, err)
	require.Len(t, before, 2)

	require.NoError(t, ix.Remove(ctx, "docA"))
	assert.Equal(t, 2, ix.Len())

	// docA is gone everywhere.
	results, err := ix.Search(ctx, "docA", query, 3)
	require.NoError(t, err)
	assert.Empty(t, results)

	hits, err := ix.SearchAll(ctx, query, 3)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, hit := range hits {
		assert.Equal(t, "docB", hit.DocID)
	}

	stats, err := ix.Stats(ctx, "docA")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalChunks)

	// docB is unaffected, same chunks and scores as before.
	after, err := ix.Search(ctx, "docB", query, 2)
	require.NoError(t, err)
	require.Len(t, after, 2)
	for i := range before {
		assert.Equal(t, before[i].Chunk.ChunkID, after[i].Chunk.ChunkID)
		assert.InDelta(t, before[i].Score, after[i].Score, 1e-5)
	}
}

func TestRemove_UnknownDocumentIsNoOp(t *testing.T) {
	ix, _ := newTwoDocIndex(t)

	require.NoError(t, ix.Remove(context.Background(), "nope"))
	assert.Equal(t, 5, ix.Len())
}

func TestRemove_FailedRebuildLeavesStateUntouched(t *testing.T) {
	ix, emb := newTwoDocIndex(t)
	ctx := context.Background()

	emb.fail = true
	err := ix.Remove(ctx, "docA")
	require.Error(t, err)

	// Everything is still searchable exactly as before the failed call.
	assert.Equal(t, 5, ix.Len())

	results, err := ix.Search(ctx, "docA", query, 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	results, err = ix.Search(ctx, "docB", query, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	// A later retry succeeds once the backend recovers.
	emb.fail = false
	require.NoError(t, ix.Remove(ctx, "docA"))
	assert.Equal(t, 2, ix.Len())
}

func TestRemove_LastDocumentEmptiesIndex(t *testing.T) {
	ctx := context.Background()
	emb := &stubEmbedder{vectors: map[string][]float32{"only": {1, 0, 0}}}
	ix := index.NewWithConfig(index.IndexConfig{}, emb)

	require.NoError(t, ix.Add(ctx, "doc", makeChunks("only"), [][]float32{{1, 0, 0}}))
	require.NoError(t, ix.Remove(ctx, "doc"))

	assert.Equal(t, 0, ix.Len())
	hits, err := ix.SearchAll(ctx, query, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	ix := index.NewWithConfig(index.IndexConfig{}, &stubEmbedder{})

	require.NoError(t, ix.Add(ctx, "doc",
		makeChunks("ab", "abcd"),
		[][]float32{{1, 0}, {0, 1}}))

	stats, err := ix.Stats(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalChunks)
	assert.InDelta(t, 3.0, stats.AvgChunkLength, 1e-9)
	assert.Equal(t, 6, stats.TotalCharacters)

	stats, err = ix.Stats(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, stats)
}
