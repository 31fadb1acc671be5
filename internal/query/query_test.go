package query

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aurorabench/converge-backend/internal/embedgw"
	"github.com/aurorabench/converge-backend/internal/llmgw"
	"github.com/aurorabench/converge-backend/internal/model"
)

type fakeEmbedClient struct{ dim int }

func (f *fakeEmbedClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func (f *fakeEmbedClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, f.dim)
	v[0] = 1
	return v, nil
}

func (f *fakeEmbedClient) Dimensions() int                          { return f.dim }
func (f *fakeEmbedClient) HealthCheck(ctx context.Context) error    { return nil }

type fakeRetriever struct {
	chunks []model.ScoredChunk
	err    error
}

func (f *fakeRetriever) SimilaritySearch(ctx context.Context, tenant string, queryVec []float32, topK int, threshold float64) ([]model.ScoredChunk, error) {
	return f.chunks, f.err
}

type fakeLLMClient struct {
	text string
	err  error
}

func (f *fakeLLMClient) GenerateContent(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.text, f.err
}

func (f *fakeLLMClient) GenerateContentStream(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error) {
	textCh := make(chan string, 1)
	errCh := make(chan error, 1)
	textCh <- f.text
	close(textCh)
	close(errCh)
	return textCh, errCh
}

func (f *fakeLLMClient) HealthCheck(ctx context.Context) error { return nil }

func newTestCore(chunks []model.ScoredChunk, answer string) *Core {
	embed := embedgw.New(&fakeEmbedClient{dim: 4}, 50)
	retriever := &fakeRetriever{chunks: chunks}
	llm := llmgw.New(&fakeLLMClient{text: answer}, "test-model")
	return New(embed, retriever, llm, nil, 0, 0, 0.3, 0)
}

func TestClassify_Greeting(t *testing.T) {
	if Classify("hello") != ClassifyGreeting {
		t.Error("expected greeting classification")
	}
	if Classify("Hi!") != ClassifyGreeting {
		t.Error("expected greeting classification")
	}
}

func TestClassify_Vector(t *testing.T) {
	if Classify("What is my account balance?") != ClassifyVector {
		t.Error("expected vector classification")
	}
}

func TestQuery_GreetingBypassesRetrieval(t *testing.T) {
	core := newTestCore(nil, "should not be used")
	result, err := core.Query(context.Background(), "tenant-a", "hello", Options{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Text == "" || strings.Contains(result.Text, "should not be used") {
		t.Errorf("expected canned greeting reply, got %q", result.Text)
	}
}

func TestQuery_ValidatesQuestionLength(t *testing.T) {
	core := newTestCore(nil, "answer")
	if _, err := core.Query(context.Background(), "tenant-a", "ab", Options{}); err == nil {
		t.Fatal("expected error for too-short question")
	}
}

func TestQuery_ReturnsAnswerWithSourcesAndConfidence(t *testing.T) {
	chunks := []model.ScoredChunk{
		{Chunk: model.Chunk{ChunkID: "c1", DocumentID: "d1", Text: "refunds take 5 days"}, Score: 0.82},
	}
	core := newTestCore(chunks, "Refunds take 5 business days.")

	result, err := core.Query(context.Background(), "tenant-a", "How long do refunds take?", Options{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(result.Sources))
	}
	if result.Confidence == nil || *result.Confidence != 82 {
		t.Errorf("Confidence = %v, want 82", result.Confidence)
	}
}

func TestQuery_NoSourcesMeansNilConfidence(t *testing.T) {
	core := newTestCore(nil, "I don't have information on that.")
	result, err := core.Query(context.Background(), "tenant-a", "What is the meaning of life?", Options{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Confidence != nil {
		t.Errorf("expected nil confidence, got %v", *result.Confidence)
	}
}

func TestQuery_RetrievalErrorPropagates(t *testing.T) {
	embed := embedgw.New(&fakeEmbedClient{dim: 4}, 50)
	retriever := &fakeRetriever{err: fmt.Errorf("vector store down")}
	llm := llmgw.New(&fakeLLMClient{text: "x"}, "m")
	core := New(embed, retriever, llm, nil, 0, 0, 0.3, 0)

	if _, err := core.Query(context.Background(), "tenant-a", "a real question", Options{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestStreamQuery_DeliversDeltasAndCloses(t *testing.T) {
	chunks := []model.ScoredChunk{{Chunk: model.Chunk{ChunkID: "c1", DocumentID: "d1", Text: "context"}, Score: 0.5}}
	core := newTestCore(chunks, "streamed answer")

	deltaCh, errCh := core.StreamQuery(context.Background(), "tenant-a", "a real question", Options{})

	var got []StreamDelta
	for d := range deltaCh {
		got = append(got, d)
	}
	if len(got) == 0 {
		t.Fatal("expected at least one delta")
	}
	if got[0].Sources == nil {
		t.Error("expected first delta to carry sources")
	}

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("errCh did not close")
	}
}

func TestSemanticSearch_ValidatesLimit(t *testing.T) {
	core := newTestCore(nil, "")
	if _, err := core.SemanticSearch(context.Background(), "tenant-a", "q", 0); err == nil {
		t.Fatal("expected error for limit 0")
	}
	if _, err := core.SemanticSearch(context.Background(), "tenant-a", "q", 51); err == nil {
		t.Fatal("expected error for limit > 50")
	}
}

func TestSemanticSearch_ReturnsSources(t *testing.T) {
	chunks := []model.ScoredChunk{{Chunk: model.Chunk{ChunkID: "c1", DocumentID: "d1", Text: "x"}, Score: 0.9}}
	core := newTestCore(chunks, "")

	sources, err := core.SemanticSearch(context.Background(), "tenant-a", "q", 5)
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(sources))
	}
}

func TestMetrics_TracksTotalsAndAverage(t *testing.T) {
	m := NewMetrics()
	m.RecordCacheMiss()
	m.RecordLatency(100 * time.Millisecond)
	m.RecordLatency(200 * time.Millisecond)
	m.RecordError()

	snap := m.Snapshot()
	if snap.Total != 3 {
		t.Errorf("Total = %d, want 3", snap.Total)
	}
	if snap.Errors != 1 {
		t.Errorf("Errors = %d, want 1", snap.Errors)
	}
	if snap.CacheMisses != 1 {
		t.Errorf("CacheMisses = %d, want 1", snap.CacheMisses)
	}
	if snap.AvgLatencyMs != 150 {
		t.Errorf("AvgLatencyMs = %v, want 150", snap.AvgLatencyMs)
	}
}
