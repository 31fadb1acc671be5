package vectorstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aurorabench/converge-backend/internal/model"
)

// newTestStore connects to a real Postgres instance when TEST_DATABASE_URL
// is set, and skips otherwise, exercising the real pgx path rather than
// a mock database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)

	store, err := New(ctx, pool, 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func vec(seed float32) []float32 {
	v := make([]float32, 8)
	for i := range v {
		v[i] = seed
	}
	return v
}

func TestStore_UpsertIdempotentOnChunkIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chunks := []model.Chunk{
		{TenantID: "acme", DocumentID: "doc-1", ChunkIndex: 0, TotalChunks: 1, Text: "hello", Embedding: vec(0.1)},
	}
	if err := s.UpsertChunks(ctx, chunks); err != nil {
		t.Fatalf("UpsertChunks: %v", err)
	}
	if err := s.UpsertChunks(ctx, chunks); err != nil {
		t.Fatalf("UpsertChunks (retry): %v", err)
	}

	n, err := s.CountByTenantDocument(ctx, "acme", "doc-1")
	if err != nil {
		t.Fatalf("CountByTenantDocument: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 chunk after idempotent upsert, got %d", n)
	}

	_ = s.DeleteByDocument(ctx, "acme", "doc-1")
}

func TestStore_TenantIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.UpsertChunks(ctx, []model.Chunk{
		{TenantID: "tenant-a", DocumentID: "shared", ChunkIndex: 0, TotalChunks: 1, Text: "refund window is 14 days", Embedding: vec(0.5)},
	})
	_ = s.UpsertChunks(ctx, []model.Chunk{
		{TenantID: "tenant-b", DocumentID: "shared", ChunkIndex: 0, TotalChunks: 1, Text: "refund window is 14 days", Embedding: vec(0.5)},
	})
	defer func() {
		_ = s.DeleteByTenant(ctx, "tenant-a")
		_ = s.DeleteByTenant(ctx, "tenant-b")
	}()

	results, err := s.SimilaritySearch(ctx, "tenant-a", vec(0.5), 10, 0.0)
	if err != nil {
		t.Fatalf("SimilaritySearch: %v", err)
	}
	for _, r := range results {
		if r.Chunk.TenantID != "tenant-a" {
			t.Fatalf("leaked chunk from tenant %q into tenant-a's results", r.Chunk.TenantID)
		}
	}
}
