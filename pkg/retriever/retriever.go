package retriever

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/askdoc/askdoc/internal/models"
	"github.com/askdoc/askdoc/internal/types"
	"github.com/askdoc/askdoc/pkg/extract"
	"github.com/askdoc/askdoc/pkg/segmenter"
)

type RetrieverConfig struct {
	TopK int
}

// Retriever is the upward interface of the retrieval subsystem: it extracts,
// segments and embeds documents on the way in and answers similarity queries
// on the way out.
//
// The underlying index and chunk store are not safe under concurrent
// mutation, so one coordinating mutex serializes all mutating calls here;
// read-only operations share the read lock and may run concurrently.
type Retriever struct {
	mu        sync.RWMutex
	config    RetrieverConfig
	embedder  types.Embedder
	segmenter *segmenter.Segmenter
	extractor *extract.Extractor
	index     types.VectorIndex
}

func NewWithConfig(config RetrieverConfig, embedder types.Embedder, seg *segmenter.Segmenter, index types.VectorIndex) *Retriever {
	if config.TopK == 0 {
		config.TopK = 5
	}
	return &Retriever{
		config:    config,
		embedder:  embedder,
		segmenter: seg,
		extractor: extract.New(),
		index:     index,
	}
}

// IngestFile extracts, segments, embeds and indexes one file under a fresh
// document id.
func (r *Retriever) IngestFile(ctx context.Context, path string) (models.DocumentInfo, error) {
	text, pages, err := r.extractor.ExtractFile(path)
	if err != nil {
		return models.DocumentInfo{}, err
	}

	source := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	chunks := r.segmenter.ChunkDocument(text, pages, source)
	if len(chunks) == 0 {
		return models.DocumentInfo{}, fmt.Errorf("no content could be extracted from %s", filepath.Base(path))
	}

	docID := uuid.NewString()
	if err := r.AddDocument(ctx, docID, chunks); err != nil {
		return models.DocumentInfo{}, err
	}

	maxPage := 0
	for _, chunk := range chunks {
		if chunk.Page > maxPage {
			maxPage = chunk.Page
		}
	}

	return models.DocumentInfo{
		ID:       docID,
		Filename: filepath.Base(path),
		Type:     strings.ToUpper(source),
		Chunks:   len(chunks),
		Pages:    maxPage,
	}, nil
}

// AddDocument embeds the chunks and indexes them under docID. A document
// that is already indexed is replaced wholesale.
func (r *Retriever) AddDocument(ctx context.Context, docID string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed document: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// The index requires an existing document to be removed before re-add.
	stats, err := r.index.Stats(ctx, docID)
	if err != nil {
		return err
	}
	if stats.TotalChunks > 0 {
		if err := r.index.Remove(ctx, docID); err != nil {
			return err
		}
	}

	return r.index.Add(ctx, docID, chunks, vectors)
}

// Search returns the top k chunks of docID ranked against the query text.
func (r *Retriever) Search(ctx context.Context, docID, query string, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = r.config.TopK
	}
	vec, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index.Search(ctx, docID, vec, k)
}

// SearchAll ranks the query text against every indexed document.
func (r *Retriever) SearchAll(ctx context.Context, query string, k int) ([]models.ScoredHit, error) {
	if k <= 0 {
		k = r.config.TopK
	}
	vec, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index.SearchAll(ctx, vec, k)
}

// RemoveDocument deletes docID from the index. Removing an unknown document
// is a no-op.
func (r *Retriever) RemoveDocument(ctx context.Context, docID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index.Remove(ctx, docID)
}

func (r *Retriever) Stats(ctx context.Context, docID string) (models.DocumentStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index.Stats(ctx, docID)
}

func (r *Retriever) DocIDs(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index.DocIDs(ctx)
}

// Save persists the index if the configured backend supports snapshots.
func (r *Retriever) Save(path string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sn, ok := r.index.(types.Snapshotter)
	if !ok {
		return fmt.Errorf("snapshots require the in-memory index backend")
	}
	return sn.Save(path)
}

// Load restores a previously saved index snapshot.
func (r *Retriever) Load(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sn, ok := r.index.(types.Snapshotter)
	if !ok {
		return fmt.Errorf("snapshots require the in-memory index backend")
	}
	return sn.Load(path)
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding backend returned %d vectors for one query", len(vectors))
	}
	return vectors[0], nil
}
