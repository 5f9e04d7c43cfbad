package index

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/askdoc/askdoc/internal/models"
)

type PgIndexConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
}

// PgIndex is the Postgres-backed index variant. It keeps chunk rows and
// their embeddings in one table and pushes document scoping and ranking into
// SQL, so deletion is a plain DELETE instead of a rebuild. The in-memory
// Index remains the reference semantics; PgIndex does not snapshot.
type PgIndex struct {
	config PgIndexConfig
	pool   *pgxpool.Pool
}

func NewPgWithConfig(ctx context.Context, config PgIndexConfig) (*PgIndex, error) {
	if config.TableName == "" {
		config.TableName = "chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	pg := &PgIndex{
		config: config,
		pool:   pool,
	}

	if err := pg.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pg, nil
}

func (pg *PgIndex) initialize(ctx context.Context) error {
	_, err := pg.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %v", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			doc_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			chunk_id TEXT,
			page INTEGER,
			content TEXT,
			metadata JSONB,
			embedding vector(%d)
		)`, pg.config.TableName, pg.config.VectorDim)

	if _, err := pg.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %v", err)
	}

	createVectorIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		pg.config.TableName, pg.config.TableName)

	if _, err := pg.pool.Exec(ctx, createVectorIndex); err != nil {
		return fmt.Errorf("failed to create vector index: %v", err)
	}

	createDocIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_doc_id_idx ON %s (doc_id)`,
		pg.config.TableName, pg.config.TableName)

	if _, err := pg.pool.Exec(ctx, createDocIndex); err != nil {
		return fmt.Errorf("failed to create doc index: %v", err)
	}

	return nil
}

func (pg *PgIndex) Add(ctx context.Context, docID string, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}
	for _, vec := range vectors {
		if len(vec) != pg.config.VectorDim {
			return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(vec), pg.config.VectorDim)
		}
	}

	tx, err := pg.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, doc_id, chunk_index, chunk_id, page, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			page = EXCLUDED.page,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`,
		pg.config.TableName)

	for i, chunk := range chunks {
		id := fmt.Sprintf("%s_%d", docID, i)
		_, err := tx.Exec(ctx, stmt,
			id,
			docID,
			i,
			chunk.ChunkID,
			chunk.Page,
			chunk.Text,
			chunk.Metadata,
			pgvector.NewVector(normalize(vectors[i])),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %v", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}
	return nil
}

func (pg *PgIndex) Search(ctx context.Context, docID string, query []float32, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	// Document scoping is a WHERE clause here, no oversampling needed.
	stmt := fmt.Sprintf(`
		SELECT chunk_id, page, content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE doc_id = $2
		ORDER BY embedding <=> $1, chunk_index
		LIMIT $3`,
		pg.config.TableName)

	rows, err := pg.pool.Query(ctx, stmt, pgvector.NewVector(normalize(query)), docID, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %v", err)
	}
	defer rows.Close()

	var results []models.ScoredChunk
	for rows.Next() {
		var chunk models.Chunk
		var score float64
		if err := rows.Scan(&chunk.ChunkID, &chunk.Page, &chunk.Text, &chunk.Metadata, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		results = append(results, models.ScoredChunk{Chunk: chunk, Score: float32(score)})
	}
	return results, rows.Err()
}

func (pg *PgIndex) SearchAll(ctx context.Context, query []float32, k int) ([]models.ScoredHit, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	stmt := fmt.Sprintf(`
		SELECT doc_id, chunk_id, page, content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1, doc_id, chunk_index
		LIMIT $2`,
		pg.config.TableName)

	rows, err := pg.pool.Query(ctx, stmt, pgvector.NewVector(normalize(query)), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %v", err)
	}
	defer rows.Close()

	var results []models.ScoredHit
	for rows.Next() {
		var hit models.ScoredHit
		var score float64
		if err := rows.Scan(&hit.DocID, &hit.Chunk.ChunkID, &hit.Chunk.Page, &hit.Chunk.Text, &hit.Chunk.Metadata, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		hit.Score = float32(score)
		results = append(results, hit)
	}
	return results, rows.Err()
}

func (pg *PgIndex) Remove(ctx context.Context, docID string) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE doc_id = $1", pg.config.TableName)
	if _, err := pg.pool.Exec(ctx, stmt, docID); err != nil {
		return fmt.Errorf("failed to delete document: %v", err)
	}
	return nil
}

func (pg *PgIndex) Stats(ctx context.Context, docID string) (models.DocumentStats, error) {
	stmt := fmt.Sprintf(`
		SELECT COUNT(*),
		       COALESCE(AVG(LENGTH(content)), 0),
		       COALESCE(SUM(LENGTH(content)), 0)
		FROM %s WHERE doc_id = $1`,
		pg.config.TableName)

	var stats models.DocumentStats
	err := pg.pool.QueryRow(ctx, stmt, docID).Scan(&stats.TotalChunks, &stats.AvgChunkLength, &stats.TotalCharacters)
	if err != nil {
		return models.DocumentStats{}, fmt.Errorf("failed to query stats: %v", err)
	}
	return stats, nil
}

func (pg *PgIndex) DocIDs(ctx context.Context) ([]string, error) {
	stmt := fmt.Sprintf("SELECT DISTINCT doc_id FROM %s ORDER BY doc_id", pg.config.TableName)
	rows, err := pg.pool.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %v", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (pg *PgIndex) Close() {
	if pg.pool != nil {
		pg.pool.Close()
	}
}
