// Package ingest is the Ingestion Core: validate → idempotency-check →
// load → chunk → embed → store, with progress events, a bounded job
// queue, and a second bounded limit on concurrent embedding-batch groups.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aurorabench/converge-backend/internal/chunker"
	"github.com/aurorabench/converge-backend/internal/docloader"
	"github.com/aurorabench/converge-backend/internal/embedgw"
	"github.com/aurorabench/converge-backend/internal/model"
)

// Stage is one step of the progress protocol surfaced to the UI.
type Stage string

const (
	StageChecking   Stage = "checking"
	StagePreparing  Stage = "preparing"
	StageProcessing Stage = "processing"
	StageEmbedding  Stage = "embedding"
	StageStoring    Stage = "storing"
	StageComplete   Stage = "complete"
	StageError      Stage = "error"
)

// ProgressEvent is one update in a document's indexing lifecycle.
// Progress is monotonic within a single indexDocument call.
type ProgressEvent struct {
	DocumentID string
	Stage      Stage
	Progress   int // 0-100
	Message    string
}

// OnProgress receives progress events; nil is a valid no-op.
type OnProgress func(ProgressEvent)

const (
	DefaultJobConcurrency   = 3
	DefaultJobTimeout       = 300 * time.Second
	DefaultEmbedConcurrency = 4
	DefaultEmbedBatchSize   = 50
)

// Options configures one indexDocument call.
type Options struct {
	DocumentID   string
	Metadata     map[string]any
	ChunkSize    int
	ChunkOverlap int
}

// Result is the outcome of one indexDocument call.
type Result struct {
	Skipped    bool
	Reason     string
	DocumentID string
	Chunks     int
	Duration   time.Duration
}

// VectorStore abstracts the Vector Store Gateway operations the
// Ingestion Core depends on.
type VectorStore interface {
	CountByTenantDocument(ctx context.Context, tenant, documentID string) (int, error)
	UpsertChunks(ctx context.Context, chunks []model.Chunk) error
	DeleteByDocument(ctx context.Context, tenant, documentID string) error
	DeleteByTenant(ctx context.Context, tenant string) error
}

// Core orchestrates document ingestion.
type Core struct {
	store       VectorStore
	loader      *docloader.Loader
	embed       *embedgw.Gateway
	chunkCache  *ChunkCache
	jobSem      chan struct{}
	embedSem    chan struct{}
	jobTimeout  time.Duration
	embedBatch  int
}

// New creates a Core. Zero-valued tunables fall back to the package defaults.
func New(store VectorStore, loader *docloader.Loader, embed *embedgw.Gateway, chunkCache *ChunkCache, jobConcurrency, embedConcurrency int, jobTimeout time.Duration) *Core {
	if jobConcurrency <= 0 {
		jobConcurrency = DefaultJobConcurrency
	}
	if embedConcurrency <= 0 {
		embedConcurrency = DefaultEmbedConcurrency
	}
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}
	return &Core{
		store:      store,
		loader:     loader,
		embed:      embed,
		chunkCache: chunkCache,
		jobSem:     make(chan struct{}, jobConcurrency),
		embedSem:   make(chan struct{}, embedConcurrency),
		jobTimeout: jobTimeout,
		embedBatch: DefaultEmbedBatchSize,
	}
}

// ValidateUpload checks extension and size constraints before a caller
// spends time uploading. filename supplies the extension; sizeBytes is
// the raw payload size.
func ValidateUpload(filename string, sizeBytes int64) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !model.AllowedExtensions[ext] {
		return fmt.Errorf("ingest.ValidateUpload: extension %q not allowed", ext)
	}
	limit := int64(model.MaxFileSizeBytes)
	if isTextExt(ext) {
		limit = int64(model.MaxTextFileSizeBytes)
	}
	if sizeBytes > limit {
		return fmt.Errorf("ingest.ValidateUpload: size %d exceeds limit %d for .%s", sizeBytes, limit, ext)
	}
	return nil
}

func isTextExt(ext string) bool {
	switch ext {
	case "txt", "md", "csv", "html", "htm":
		return true
	}
	return false
}

// IndexDocument runs the full ingestion pipeline for one document stored
// at sourceURI, whose filename determines the extraction route.
func (c *Core) IndexDocument(ctx context.Context, tenant, sourceURI, filename string, opts Options, onProgress OnProgress) (*Result, error) {
	if !model.ValidTenantID(tenant) {
		return nil, fmt.Errorf("ingest.IndexDocument: invalid tenant %q", tenant)
	}

	documentID := opts.DocumentID
	if documentID == "" {
		documentID = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}

	select {
	case c.jobSem <- struct{}{}:
		defer func() { <-c.jobSem }()
	case <-ctx.Done():
		return nil, fmt.Errorf("ingest.IndexDocument: %w", ctx.Err())
	}

	ctx, cancel := context.WithTimeout(ctx, c.jobTimeout)
	defer cancel()

	start := time.Now()
	emit(onProgress, documentID, StageChecking, 5, "checking idempotency")

	existing, err := c.store.CountByTenantDocument(ctx, tenant, documentID)
	if err != nil {
		emit(onProgress, documentID, StageError, 5, err.Error())
		return nil, fmt.Errorf("ingest.IndexDocument: idempotency check: %w", err)
	}
	if existing > 0 {
		return &Result{Skipped: true, Reason: "already_indexed", DocumentID: documentID, Duration: time.Since(start)}, nil
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = chunker.DefaultSize
	}
	chunkOverlap := opts.ChunkOverlap
	if chunkOverlap <= 0 {
		chunkOverlap = chunker.DefaultOverlap
	}

	emit(onProgress, documentID, StagePreparing, 15, "loading source")

	var texts []string
	var modality model.Modality
	cacheKey := ChunkCacheKey(tenant, documentID, chunkSize, chunkOverlap)

	if c.chunkCache != nil {
		if cached, ok := c.chunkCache.Get(cacheKey); ok {
			texts = cached.Chunks
			modality = model.ModalityText
			slog.Info("ingest chunk cache hit", "tenant", tenant, "document_id", documentID, "chunks", len(texts))
		}
	}

	if texts == nil {
		loaded, err := c.loader.Extract(ctx, sourceURI, filename)
		if err != nil {
			emit(onProgress, documentID, StageError, 15, err.Error())
			return nil, fmt.Errorf("ingest.IndexDocument: load: %w", err)
		}
		modality = loaded.Modality

		emit(onProgress, documentID, StageProcessing, 35, "chunking")
		splitter := chunker.New(chunkSize, chunkOverlap)
		texts, err = splitter.Split(loaded.Text)
		if err != nil {
			emit(onProgress, documentID, StageError, 35, err.Error())
			return nil, fmt.Errorf("ingest.IndexDocument: chunk: %w", err)
		}

		if c.chunkCache != nil {
			c.chunkCache.Set(cacheKey, texts)
		}
	}

	if len(texts) == 0 {
		return nil, fmt.Errorf("ingest.IndexDocument: no chunks produced")
	}

	emit(onProgress, documentID, StageEmbedding, 55, "embedding")
	vectors, err := c.embedInGroups(ctx, texts)
	if err != nil {
		emit(onProgress, documentID, StageError, 55, err.Error())
		return nil, fmt.Errorf("ingest.IndexDocument: embed: %w", err)
	}

	emit(onProgress, documentID, StageStoring, 85, "storing")
	chunks := buildChunks(tenant, documentID, texts, vectors, modality, opts.Metadata, filename)
	if err := c.store.UpsertChunks(ctx, chunks); err != nil {
		emit(onProgress, documentID, StageError, 85, err.Error())
		return nil, fmt.Errorf("ingest.IndexDocument: store: %w", err)
	}

	emit(onProgress, documentID, StageComplete, 100, "done")
	return &Result{DocumentID: documentID, Chunks: len(chunks), Duration: time.Since(start)}, nil
}

// BatchInput is one document for IndexMultiple, which indexes each document
// independently; a per-file failure is reported in that file's BatchResult.Err
// rather than aborting the batch.
type BatchInput struct {
	SourceURI string
	Filename  string
	Opts      Options
}

// BatchResult pairs a BatchInput with its outcome.
type BatchResult struct {
	Input  BatchInput
	Result *Result
	Err    error
}

// IndexMultiple runs IndexDocument for each input, bounded by the Core's
// job concurrency limit.
func (c *Core) IndexMultiple(ctx context.Context, tenant string, inputs []BatchInput, onProgress OnProgress) []BatchResult {
	results := make([]BatchResult, len(inputs))
	g, gCtx := errgroup.WithContext(ctx)

	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			res, err := c.IndexDocument(gCtx, tenant, in.SourceURI, in.Filename, in.Opts, onProgress)
			results[i] = BatchResult{Input: in, Result: res, Err: err}
			return nil // per-file errors never abort the batch
		})
	}
	_ = g.Wait()
	return results
}

// DeleteDocuments removes chunks for one document, or for the entire
// tenant when documentID is empty.
func (c *Core) DeleteDocuments(ctx context.Context, tenant, documentID string) error {
	if documentID == "" {
		if err := c.store.DeleteByTenant(ctx, tenant); err != nil {
			return fmt.Errorf("ingest.DeleteDocuments: %w", err)
		}
		return nil
	}
	if err := c.store.DeleteByDocument(ctx, tenant, documentID); err != nil {
		return fmt.Errorf("ingest.DeleteDocuments: %w", err)
	}
	return nil
}

// embedInGroups embeds texts in batches of embedBatch, bounding the
// number of in-flight batch groups at embedSem's capacity.
func (c *Core) embedInGroups(ctx context.Context, texts []string) ([][]float32, error) {
	type group struct {
		start, end int
	}
	var groups []group
	for i := 0; i < len(texts); i += c.embedBatch {
		end := i + c.embedBatch
		if end > len(texts) {
			end = len(texts)
		}
		groups = append(groups, group{i, end})
	}

	vectors := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)

	for _, grp := range groups {
		grp := grp
		g.Go(func() error {
			select {
			case c.embedSem <- struct{}{}:
				defer func() { <-c.embedSem }()
			case <-gCtx.Done():
				return gCtx.Err()
			}
			batchVecs, err := c.embed.EmbedBatch(gCtx, texts[grp.start:grp.end])
			if err != nil {
				return err
			}
			copy(vectors[grp.start:grp.end], batchVecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func buildChunks(tenant, documentID string, texts []string, vectors [][]float32, modality model.Modality, docMetadata map[string]any, source string) []model.Chunk {
	now := time.Now().UTC()
	total := len(texts)
	chunks := make([]model.Chunk, total)
	for i, text := range texts {
		meta := map[string]any{}
		for k, v := range docMetadata {
			meta[k] = v
		}
		meta["chunk_index"] = i
		meta["total_chunks"] = total
		meta["processed_at"] = now
		meta["tenant_id"] = tenant
		meta["document_id"] = documentID
		meta["indexed_at"] = now

		chunks[i] = model.Chunk{
			DocumentID:  documentID,
			TenantID:    tenant,
			Text:        text,
			Embedding:   vectors[i],
			ChunkIndex:  i,
			TotalChunks: total,
			Modality:    modality,
			Source:      source,
			Metadata:    meta,
			CreatedAt:   now,
		}
	}
	return chunks
}

func emit(onProgress OnProgress, documentID string, stage Stage, progress int, message string) {
	if onProgress == nil {
		return
	}
	onProgress(ProgressEvent{DocumentID: documentID, Stage: stage, Progress: progress, Message: message})
}
