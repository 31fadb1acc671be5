// Package query is the Query Core: classify, retrieve, compose, generate
// or stream, with answer caching and rolling metrics. It never imports
// net/http; callers translate its plain errors at the HTTP boundary.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/aurorabench/converge-backend/internal/cache"
	"github.com/aurorabench/converge-backend/internal/embedgw"
	"github.com/aurorabench/converge-backend/internal/llmgw"
	"github.com/aurorabench/converge-backend/internal/model"
)

// Classification is the outcome of the pure regex router.
type Classification string

const (
	ClassifyGreeting Classification = "greeting"
	ClassifyVector   Classification = "vector"
)

var greetingPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|good (morning|afternoon|evening)|howdy|greetings)[\s!.,]*$`)

const greetingReply = "Hello! How can I help you today?"

const (
	DefaultTopK          = 3
	DefaultQueryTimeout  = 30 * time.Second
	DefaultConcurrency   = 10
	minQuestionLength    = 3
	maxQuestionLength    = 1000
	defaultHistoryWindow = 10
)

// Source is one cited chunk surfaced alongside an answer.
type Source struct {
	ChunkID    string  `json:"chunkId"`
	DocumentID string  `json:"documentId"`
	Excerpt    string  `json:"excerpt"`
	Score      float64 `json:"score"`
}

// Retriever abstracts the Vector Store Gateway's similarity search.
type Retriever interface {
	SimilaritySearch(ctx context.Context, tenant string, queryVec []float32, topK int, threshold float64) ([]model.ScoredChunk, error)
}

// Options configures one query call.
type Options struct {
	Mode              string         `json:"mode"`
	History           []model.Message `json:"-"`
	CollectedEntities map[string]any  `json:"-"`
}

// Result is the shape every caller of Query sees.
type Result struct {
	Text       string      `json:"text"`
	Sources    []Source    `json:"sources"`
	Confidence *float64    `json:"confidence,omitempty"`
	Usage      llmgw.Usage `json:"usage"`
	LatencyMs  int64       `json:"latency_ms"`
	Cached     bool        `json:"cached"`
	// ExtractedEntities lets the Conversation Core surface anything the
	// prompt/response round trip picked up incidentally (currently always empty;
	// reserved for a future structured-extraction response field).
	ExtractedEntities map[string]any `json:"extractedEntities,omitempty"`
}

// StreamDelta is one increment of a streaming query.
type StreamDelta struct {
	Text    string   `json:"delta"`
	Sources []Source `json:"sources,omitempty"`
}

// Core wires retrieval, generation, caching and metrics into the
// classify→retrieve→compose→generate pipeline.
type Core struct {
	embed     *embedgw.Gateway
	retriever Retriever
	llm       *llmgw.Gateway
	cache     *cache.AnswerCache
	semCache  *cache.AnswerCache
	metrics   *Metrics
	sem       chan struct{}
	topK      int
	threshold float64
	timeout   time.Duration
}

// SetSemanticCache attaches a separate cache for SemanticSearch results;
// nil (the default) disables semantic-search caching.
func (c *Core) SetSemanticCache(sc *cache.AnswerCache) {
	c.semCache = sc
}

// New creates a Core. Zero-valued topK/threshold/timeout fall back to the
// package defaults.
func New(embed *embedgw.Gateway, retriever Retriever, llm *llmgw.Gateway, answerCache *cache.AnswerCache, concurrency, topK int, threshold float64, timeout time.Duration) *Core {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Core{
		embed:     embed,
		retriever: retriever,
		llm:       llm,
		cache:     answerCache,
		metrics:   NewMetrics(),
		sem:       make(chan struct{}, concurrency),
		topK:      topK,
		threshold: threshold,
		timeout:   timeout,
	}
}

// Classify routes a question to the canned greeting reply or the vector
// retrieval path via a pure regex check — no model call involved.
func Classify(question string) Classification {
	if greetingPattern.MatchString(question) {
		return ClassifyGreeting
	}
	return ClassifyVector
}

// Metrics returns the Core's rolling metrics snapshot source.
func (c *Core) Metrics() *Metrics { return c.metrics }

// Query runs classify→retrieve→compose→generate for one question,
// consulting the answer cache first and recording metrics on exit.
func (c *Core) Query(ctx context.Context, tenant, question string, opts Options) (*Result, error) {
	question = strings.TrimSpace(question)
	if err := validateQuestion(question); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		c.metrics.RecordError()
		return nil, fmt.Errorf("query.Query: %w", ctx.Err())
	}

	start := time.Now()
	result, err := c.query(ctx, tenant, question, opts)
	latency := time.Since(start)

	if err != nil {
		c.metrics.RecordError()
		return nil, err
	}
	c.metrics.RecordLatency(latency)
	return result, nil
}

func (c *Core) query(ctx context.Context, tenant, question string, opts Options) (*Result, error) {
	if Classify(question) == ClassifyGreeting {
		return &Result{Text: greetingReply, Sources: []Source{}}, nil
	}

	cacheKey, err := cache.Key(tenant, question, opts.Mode)
	if err != nil {
		return nil, fmt.Errorf("query.Query: %w", err)
	}

	if c.cache != nil {
		var cached Result
		hit, err := c.cache.Get(ctx, cacheKey, &cached)
		if err == nil && hit {
			c.metrics.RecordCacheHit()
			cached.Cached = true
			return &cached, nil
		}
		c.metrics.RecordCacheMiss()
	}

	sources, queryVec, err := c.retrieve(ctx, tenant, question)
	if err != nil {
		return nil, fmt.Errorf("query.Query: %w", err)
	}
	_ = queryVec

	systemPrompt := buildSystemPrompt()
	userPrompt := buildUserPrompt(question, sources, opts.History, opts.CollectedEntities, opts.Mode)

	resp, err := c.llm.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("query.Query: generate: %w", err)
	}

	result := &Result{
		Text:       resp.Text,
		Sources:    sources,
		Confidence: confidenceFromSources(sources),
		Usage:      resp.Usage,
		LatencyMs:  resp.LatencyMs,
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, result); err != nil {
			c.metrics.RecordError()
		}
	}

	return result, nil
}

// StreamQuery runs the same pipeline as Query but streams generation
// deltas. Streaming queries bypass the answer cache. The returned
// channels close on completion, error, or ctx cancellation.
func (c *Core) StreamQuery(ctx context.Context, tenant, question string, opts Options) (<-chan StreamDelta, <-chan error) {
	out := make(chan StreamDelta, 64)
	errOut := make(chan error, 1)

	question = strings.TrimSpace(question)
	if err := validateQuestion(question); err != nil {
		close(out)
		errOut <- err
		close(errOut)
		return out, errOut
	}

	go func() {
		defer close(out)
		defer close(errOut)

		select {
		case c.sem <- struct{}{}:
			defer func() { <-c.sem }()
		case <-ctx.Done():
			c.metrics.RecordError()
			errOut <- ctx.Err()
			return
		}

		if Classify(question) == ClassifyGreeting {
			out <- StreamDelta{Text: greetingReply}
			return
		}

		sources, _, err := c.retrieve(ctx, tenant, question)
		if err != nil {
			c.metrics.RecordError()
			errOut <- fmt.Errorf("query.StreamQuery: %w", err)
			return
		}

		systemPrompt := buildSystemPrompt()
		userPrompt := buildUserPrompt(question, sources, opts.History, opts.CollectedEntities, opts.Mode)

		deltaCh, llmErrCh := c.llm.GenerateStream(ctx, systemPrompt, userPrompt)
		first := true
		for delta := range deltaCh {
			sd := StreamDelta{Text: delta.Text}
			if first {
				sd.Sources = sources
				first = false
			}
			select {
			case out <- sd:
			case <-ctx.Done():
				return
			}
		}
		if err, ok := <-llmErrCh; ok && err != nil {
			c.metrics.RecordError()
			errOut <- fmt.Errorf("query.StreamQuery: %w", err)
		}
	}()

	return out, errOut
}

// SemanticSearch returns the raw top-N chunks for a query without
// generation, for UI "related passages" style surfaces.
func (c *Core) SemanticSearch(ctx context.Context, tenant, question string, limit int) ([]Source, error) {
	if limit <= 0 || limit > 50 {
		return nil, fmt.Errorf("query.SemanticSearch: limit must be in [1,50], got %d", limit)
	}
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("query.SemanticSearch: question is empty")
	}

	var cacheKey string
	if c.semCache != nil {
		key, err := cache.Key(tenant, question, limit)
		if err == nil {
			cacheKey = key
			var cached []Source
			if hit, err := c.semCache.Get(ctx, cacheKey, &cached); err == nil && hit {
				return cached, nil
			}
		}
	}

	vec, err := c.embed.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("query.SemanticSearch: embed: %w", err)
	}
	chunks, err := c.retriever.SimilaritySearch(ctx, tenant, vec, limit, c.threshold)
	if err != nil {
		return nil, fmt.Errorf("query.SemanticSearch: %w", err)
	}
	sources := toSources(chunks)
	if c.semCache != nil && cacheKey != "" {
		if err := c.semCache.Set(ctx, cacheKey, sources); err != nil {
			slog.Warn("semantic search cache set failed", "error", err)
		}
	}
	return sources, nil
}

// HybridQuery is an alias of Query: vector retrieval only today, tagged
// mode "hybrid" so a future true hybrid merge is a localized change.
func (c *Core) HybridQuery(ctx context.Context, tenant, question string, opts Options) (*Result, error) {
	opts.Mode = "hybrid"
	return c.Query(ctx, tenant, question, opts)
}

func (c *Core) retrieve(ctx context.Context, tenant, question string) ([]Source, []float32, error) {
	vec, err := c.embed.EmbedQuery(ctx, question)
	if err != nil {
		return nil, nil, fmt.Errorf("embed: %w", err)
	}
	chunks, err := c.retriever.SimilaritySearch(ctx, tenant, vec, c.topK, c.threshold)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieve: %w", err)
	}
	return toSources(chunks), vec, nil
}

func toSources(chunks []model.ScoredChunk) []Source {
	sources := make([]Source, len(chunks))
	for i, c := range chunks {
		sources[i] = Source{
			ChunkID:    c.Chunk.ChunkID,
			DocumentID: c.Chunk.DocumentID,
			Excerpt:    c.Chunk.Text,
			Score:      c.Score,
		}
	}
	return sources
}

func confidenceFromSources(sources []Source) *float64 {
	if len(sources) == 0 {
		return nil
	}
	max := 0.0
	for _, s := range sources {
		if s.Score > max {
			max = s.Score
		}
	}
	v := math.Round(max * 100)
	return &v
}

func validateQuestion(question string) error {
	n := len([]rune(question))
	if n < minQuestionLength || n > maxQuestionLength {
		return fmt.Errorf("query.Query: question length %d outside [%d,%d]", n, minQuestionLength, maxQuestionLength)
	}
	return nil
}
