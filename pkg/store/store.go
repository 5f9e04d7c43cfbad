package store

import (
	"sort"

	"github.com/askdoc/askdoc/internal/models"
)

// DocumentChunkStore owns the ordered chunk list of every indexed document.
// A document is either fully present or absent; Put replaces any existing
// entry wholesale, there is no merge.
//
// The store is not safe for concurrent mutation; callers serialize access.
type DocumentChunkStore struct {
	docs map[string][]models.Chunk
}

func NewDocumentChunkStore() *DocumentChunkStore {
	return &DocumentChunkStore{
		docs: make(map[string][]models.Chunk),
	}
}

// Put replaces the chunk list for docID.
func (s *DocumentChunkStore) Put(docID string, chunks []models.Chunk) {
	s.docs[docID] = chunks
}

// Get returns the ordered chunk list for docID, or false if absent.
func (s *DocumentChunkStore) Get(docID string) ([]models.Chunk, bool) {
	chunks, ok := s.docs[docID]
	return chunks, ok
}

func (s *DocumentChunkStore) Has(docID string) bool {
	_, ok := s.docs[docID]
	return ok
}

func (s *DocumentChunkStore) Remove(docID string) {
	delete(s.docs, docID)
}

func (s *DocumentChunkStore) Len() int {
	return len(s.docs)
}

// DocIDs returns all document ids in sorted order so listings stay stable.
func (s *DocumentChunkStore) DocIDs() []string {
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Export returns a shallow copy of the full contents, used when persisting
// a snapshot.
func (s *DocumentChunkStore) Export() map[string][]models.Chunk {
	out := make(map[string][]models.Chunk, len(s.docs))
	for id, chunks := range s.docs {
		out[id] = chunks
	}
	return out
}

// Replace swaps in a full set of contents, used when restoring a snapshot.
func (s *DocumentChunkStore) Replace(docs map[string][]models.Chunk) {
	if docs == nil {
		docs = make(map[string][]models.Chunk)
	}
	s.docs = docs
}
