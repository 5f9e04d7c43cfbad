package models

// Chunk is one overlapping window of a document's text, produced by the
// segmenter at ingestion. Chunks are immutable once created.
type Chunk struct {
	Text     string                 `json:"text"`
	ChunkID  string                 `json:"chunk_id"`
	Page     int                    `json:"page,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// PageText holds the cleaned text of a single source page. It is only
// produced for paginated formats and drives page attribution.
type PageText struct {
	Page int
	Text string
}

// ScoredChunk is a search hit scoped to one document.
type ScoredChunk struct {
	Chunk Chunk
	Score float32
}

// ScoredHit is a search hit across all documents, tagged with its owner.
type ScoredHit struct {
	Chunk Chunk
	Score float32
	DocID string
}

// DocumentStats summarizes an indexed document.
type DocumentStats struct {
	TotalChunks     int
	AvgChunkLength  float64
	TotalCharacters int
}

// DocumentInfo describes an ingested document to the API and CLI layers.
type DocumentInfo struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Type     string `json:"type"`
	Chunks   int    `json:"chunks"`
	Pages    int    `json:"pages,omitempty"`
}
