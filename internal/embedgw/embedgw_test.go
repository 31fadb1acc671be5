package embedgw

import (
	"context"
	"fmt"
	"math"
	"testing"
)

type fakeClient struct {
	dim        int
	returnDim  int // if nonzero, overrides the length of vectors EmbedDocuments returns
	docCalls   int
	lastBatch  []string
	queryErr   error
	healthErr  error
}

func (f *fakeClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.docCalls++
	f.lastBatch = texts
	n := f.dim
	if f.returnDim != 0 {
		n = f.returnDim
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, n)
		v[0] = float32(i + 1)
		out[i] = v
	}
	return out, nil
}

func (f *fakeClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	v := make([]float32, f.dim)
	v[0] = 1
	return v, nil
}

func (f *fakeClient) Dimensions() int { return f.dim }

func (f *fakeClient) HealthCheck(ctx context.Context) error { return f.healthErr }

func l2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestEmbedBatch_NormalizesAndPreservesOrder(t *testing.T) {
	client := &fakeClient{dim: 8}
	gw := New(client, 50)

	vectors, err := gw.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vectors))
	}
	for i, v := range vectors {
		if n := l2Norm(v); math.Abs(n-1.0) > 1e-6 {
			t.Errorf("vector %d not unit-normalized: norm=%f", i, n)
		}
	}
}

func TestEmbedBatch_ChunksByBatchSize(t *testing.T) {
	client := &fakeClient{dim: 8}
	gw := New(client, 4)

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%d", i)
	}

	vectors, err := gw.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vectors) != 10 {
		t.Fatalf("expected 10 vectors, got %d", len(vectors))
	}
	wantCalls := 3 // ceil(10/4)
	if client.docCalls != wantCalls {
		t.Errorf("docCalls = %d, want %d", client.docCalls, wantCalls)
	}
}

func TestEmbedBatch_EmptyInputErrors(t *testing.T) {
	gw := New(&fakeClient{dim: 8}, 50)
	if _, err := gw.EmbedBatch(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestEmbedBatch_DimensionMismatchErrors(t *testing.T) {
	client := &fakeClient{dim: 8, returnDim: 4} // provider returns fewer dims than Dimensions() promises
	gw := New(client, 50)

	_, err := gw.EmbedBatch(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestEmbedQuery_PropagatesError(t *testing.T) {
	client := &fakeClient{dim: 8, queryErr: fmt.Errorf("upstream down")}
	gw := New(client, 50)

	if _, err := gw.EmbedQuery(context.Background(), "q"); err == nil {
		t.Fatal("expected error")
	}
}
