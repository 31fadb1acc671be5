// Package vectorstore is the Vector Store Gateway: tenant-scoped CRUD on a
// single pgvector-backed collection, plus the filtered scan/delete
// operations Tenant Admin needs. One physical table holds every tenant's
// chunks; every row and every query is scoped by tenant_id, which keeps
// the tenant-isolation invariant enforceable in one place instead of one
// per-tenant collection.
package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/aurorabench/converge-backend/internal/model"
)

// Store is the Vector Store Gateway over a pgx pool.
type Store struct {
	pool      *pgxpool.Pool
	dimension int
}

// New creates a Store and ensures its schema exists.
func New(ctx context.Context, pool *pgxpool.Pool, dimension int) (*Store, error) {
	s := &Store{pool: pool, dimension: dimension}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS tenant_chunks (
	id UUID PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	chunk_index INT NOT NULL,
	total_chunks INT NOT NULL DEFAULT 1,
	text TEXT NOT NULL,
	modality TEXT NOT NULL DEFAULT 'text',
	source TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	embedding vector(%d) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS tenant_chunks_tenant_idx ON tenant_chunks (tenant_id);
CREATE INDEX IF NOT EXISTS tenant_chunks_tenant_doc_idx ON tenant_chunks (tenant_id, document_id);
CREATE UNIQUE INDEX IF NOT EXISTS tenant_chunks_idempotency_idx
	ON tenant_chunks (tenant_id, document_id, chunk_index);

DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE schemaname = current_schema() AND indexname = 'tenant_chunks_embedding_idx'
	) THEN
		EXECUTE 'CREATE INDEX tenant_chunks_embedding_idx ON tenant_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)';
	END IF;
END
$$;
`, s.dimension)

	_, err := s.pool.Exec(ctx, stmt)
	if err != nil && strings.Contains(err.Error(), "ivfflat") {
		// Approximate index creation needs a minimum row count; harmless to skip.
		return nil
	}
	if err != nil {
		return fmt.Errorf("vectorstore.ensureSchema: %w", err)
	}
	return nil
}

// CountByTenantDocument reports how many chunks already exist for
// (tenant, document). Used by the Ingestion Core's idempotency check.
func (s *Store) CountByTenantDocument(ctx context.Context, tenant, documentID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM tenant_chunks WHERE tenant_id = $1 AND document_id = $2`,
		tenant, documentID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("vectorstore.CountByTenantDocument: %w", err)
	}
	return n, nil
}

// UpsertChunks persists chunks with their embeddings, idempotent on
// (tenant_id, document_id, chunk_index): a retry of the same batch
// overwrites rather than duplicates.
func (s *Store) UpsertChunks(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()

	for _, c := range chunks {
		if len(c.Embedding) != s.dimension {
			return fmt.Errorf("vectorstore.UpsertChunks: embedding dimension mismatch: expected %d got %d", s.dimension, len(c.Embedding))
		}
		id := c.ChunkID
		if id == "" {
			id = uuid.New().String()
		}
		metaJSON, err := marshalMetadata(c.Metadata)
		if err != nil {
			return fmt.Errorf("vectorstore.UpsertChunks: %w", err)
		}
		batch.Queue(`
			INSERT INTO tenant_chunks
				(id, tenant_id, document_id, chunk_index, total_chunks, text, modality, source, metadata, embedding, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (tenant_id, document_id, chunk_index) DO UPDATE SET
				text = EXCLUDED.text,
				total_chunks = EXCLUDED.total_chunks,
				modality = EXCLUDED.modality,
				source = EXCLUDED.source,
				metadata = EXCLUDED.metadata,
				embedding = EXCLUDED.embedding`,
			id, c.TenantID, c.DocumentID, c.ChunkIndex, c.TotalChunks, c.Text,
			string(c.Modality), c.Source, metaJSON, pgvector.NewVector(c.Embedding), now,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < len(chunks); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("vectorstore.UpsertChunks: chunk %d: %w", i, err)
		}
	}
	return nil
}

// SimilaritySearch finds the top-K chunks in tenant closest to queryVec by
// cosine distance, above threshold.
func (s *Store) SimilaritySearch(ctx context.Context, tenant string, queryVec []float32, topK int, threshold float64) ([]model.ScoredChunk, error) {
	embedding := pgvector.NewVector(queryVec)

	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, tenant_id, text, chunk_index, total_chunks, modality, source, metadata, created_at,
			1 - (embedding <=> $1::vector) AS similarity
		FROM tenant_chunks
		WHERE tenant_id = $2 AND (1 - (embedding <=> $1::vector)) > $3
		ORDER BY embedding <=> $1::vector
		LIMIT $4`,
		embedding, tenant, threshold, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("vectorstore.SimilaritySearch: %w", err)
	}
	defer rows.Close()

	var out []model.ScoredChunk
	for rows.Next() {
		var c model.Chunk
		var metaJSON []byte
		var score float64
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.TenantID, &c.Text, &c.ChunkIndex,
			&c.TotalChunks, &c.Modality, &c.Source, &metaJSON, &c.CreatedAt, &score); err != nil {
			return nil, fmt.Errorf("vectorstore.SimilaritySearch: scan: %w", err)
		}
		c.Metadata, err = unmarshalMetadata(metaJSON)
		if err != nil {
			return nil, fmt.Errorf("vectorstore.SimilaritySearch: %w", err)
		}
		out = append(out, model.ScoredChunk{Chunk: c, Score: score})
	}
	return out, rows.Err()
}

// DeleteByDocument removes every chunk of (tenant, documentID). Idempotent:
// a second call removes zero rows and returns no error.
func (s *Store) DeleteByDocument(ctx context.Context, tenant, documentID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tenant_chunks WHERE tenant_id = $1 AND document_id = $2`, tenant, documentID)
	if err != nil {
		return fmt.Errorf("vectorstore.DeleteByDocument: %w", err)
	}
	return nil
}

// DeleteByTenant wipes every chunk for tenant, without touching the shared
// table itself.
func (s *Store) DeleteByTenant(ctx context.Context, tenant string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tenant_chunks WHERE tenant_id = $1`, tenant)
	if err != nil {
		return fmt.Errorf("vectorstore.DeleteByTenant: %w", err)
	}
	return nil
}

// DistinctTenants scans for every tenant_id with at least one chunk.
func (s *Store) DistinctTenants(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM tenant_chunks ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("vectorstore.DistinctTenants: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("vectorstore.DistinctTenants: scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountDistinctDocuments returns the number of distinct document_id values
// for tenant. Returns 0, nil if the tenant has no chunks at all.
func (s *Store) CountDistinctDocuments(ctx context.Context, tenant string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(DISTINCT document_id) FROM tenant_chunks WHERE tenant_id = $1`, tenant,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("vectorstore.CountDistinctDocuments: %w", err)
	}
	return n, nil
}

// HealthCheck verifies the pool can still reach the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("vectorstore.HealthCheck: %w", err)
	}
	return nil
}
