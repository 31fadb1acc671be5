package ingest

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CachedChunks is the on-disk payload for one chunk-cache entry.
type CachedChunks struct {
	Chunks    []string  `json:"chunks"`
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"count"`
}

// ChunkCache stores already-split chunk text on disk, keyed by
// md5(tenant|document_id|chunk_size|chunk_overlap), so a re-indexing
// attempt with identical chunking parameters can skip load+split and go
// straight to embed+store.
type ChunkCache struct {
	dir string
	ttl time.Duration
}

// NewChunkCache creates a ChunkCache rooted at dir. ttl of zero disables
// expiry (entries only go stale when purged).
func NewChunkCache(dir string, ttl time.Duration) *ChunkCache {
	return &ChunkCache{dir: dir, ttl: ttl}
}

// ChunkCacheKey derives the md5 cache key for a chunking configuration.
func ChunkCacheKey(tenant, documentID string, chunkSize, chunkOverlap int) string {
	raw := fmt.Sprintf("%s|%s|%d|%d", tenant, documentID, chunkSize, chunkOverlap)
	sum := md5.Sum([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

func (c *ChunkCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// Get returns the cached chunk texts for key, if present and not expired.
func (c *ChunkCache) Get(key string) (*CachedChunks, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	var cached CachedChunks
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false
	}
	if c.ttl > 0 && time.Since(cached.Timestamp) > c.ttl {
		return nil, false
	}
	return &cached, true
}

// Set stores chunk texts under key.
func (c *ChunkCache) Set(key string, chunks []string) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("ingest.ChunkCache.Set: mkdir: %w", err)
	}
	entry := CachedChunks{Chunks: chunks, Timestamp: time.Now().UTC(), Count: len(chunks)}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("ingest.ChunkCache.Set: marshal: %w", err)
	}
	if err := os.WriteFile(c.path(key), data, 0o644); err != nil {
		return fmt.Errorf("ingest.ChunkCache.Set: write: %w", err)
	}
	return nil
}

// Purge removes a single cache entry by key.
func (c *ChunkCache) Purge(key string) error {
	err := os.Remove(c.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ingest.ChunkCache.Purge: %w", err)
	}
	return nil
}

// PurgeAll removes every cache entry.
func (c *ChunkCache) PurgeAll() error {
	err := os.RemoveAll(c.dir)
	if err != nil {
		return fmt.Errorf("ingest.ChunkCache.PurgeAll: %w", err)
	}
	return nil
}
