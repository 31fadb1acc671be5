// Package embedgw is the Embedding Gateway: batch-embed texts for storage,
// single-query embed for retrieval, and a dimension probe the Ingestion
// Core and Query Core both depend on through this package's Client
// interface rather than a concrete provider.
package embedgw

import (
	"context"
	"fmt"
	"math"
)

// Client is the provider-facing contact surface: one call shape for
// document embedding (asymmetric RETRIEVAL_DOCUMENT task type) and one for
// query embedding (RETRIEVAL_QUERY). Implementations: Vertex (vertex.go).
type Client interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	HealthCheck(ctx context.Context) error
}

// Gateway batches, validates, and L2-normalizes embeddings from an
// underlying Client.
type Gateway struct {
	client    Client
	batchSize int
}

// New creates a Gateway. batchSize defaults to 50; providers may tune it.
func New(client Client, batchSize int) *Gateway {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Gateway{client: client, batchSize: batchSize}
}

// EmbedBatch embeds texts in groups of g.batchSize, returning one
// L2-normalized vector per input text in the same order. Boundary test:
// exactly N texts produces ceil(N/batchSize) provider calls.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("embedgw.EmbedBatch: no texts provided")
	}

	out := make([][]float32, 0, len(texts))
	dim := g.client.Dimensions()

	for i := 0; i < len(texts); i += g.batchSize {
		end := i + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := g.client.EmbedDocuments(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embedgw.EmbedBatch: batch %d-%d: %w", i, end, err)
		}
		for j, v := range vectors {
			if dim > 0 && len(v) != dim {
				return nil, fmt.Errorf("embedgw.EmbedBatch: vector %d has %d dimensions, want %d", i+j, len(v), dim)
			}
			vectors[j] = l2Normalize(v)
		}
		out = append(out, vectors...)
	}

	if len(out) != len(texts) {
		return nil, fmt.Errorf("embedgw.EmbedBatch: got %d vectors for %d texts", len(out), len(texts))
	}
	return out, nil
}

// EmbedQuery embeds a single query string for retrieval.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := g.client.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedgw.EmbedQuery: %w", err)
	}
	return l2Normalize(v), nil
}

// Dimensions reports the provider's vector dimensionality.
func (g *Gateway) Dimensions() int { return g.client.Dimensions() }

// HealthCheck verifies the underlying provider is reachable.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	return g.client.HealthCheck(ctx)
}

func l2Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}
	result := make([]float32, len(vec))
	for i, v := range vec {
		result[i] = float32(float64(v) / norm)
	}
	return result
}
