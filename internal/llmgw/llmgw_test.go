package llmgw

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type fakeClient struct {
	text        string
	genErr      error
	streamParts []string
	streamErr   error
	healthErr   error
}

func (f *fakeClient) GenerateContent(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if f.genErr != nil {
		return "", f.genErr
	}
	return f.text, nil
}

func (f *fakeClient) GenerateContentStream(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error) {
	textCh := make(chan string, len(f.streamParts))
	errCh := make(chan error, 1)
	go func() {
		defer close(textCh)
		defer close(errCh)
		for _, p := range f.streamParts {
			textCh <- p
		}
		if f.streamErr != nil {
			errCh <- f.streamErr
		}
	}()
	return textCh, errCh
}

func (f *fakeClient) HealthCheck(ctx context.Context) error { return f.healthErr }

func TestGenerate_ReturnsResponseWithEstimatedUsage(t *testing.T) {
	client := &fakeClient{text: "hello world"}
	gw := New(client, "test-model")

	resp, err := gw.Generate(context.Background(), "system", "user prompt")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "hello world" {
		t.Errorf("Text = %q", resp.Text)
	}
	if !resp.Usage.Estimated {
		t.Error("expected Estimated usage")
	}
	if resp.Usage.TotalTokens != resp.Usage.InputTokens+resp.Usage.OutputTokens {
		t.Error("TotalTokens should be InputTokens + OutputTokens")
	}
	if resp.LatencyMs < 0 {
		t.Error("LatencyMs should be non-negative")
	}
}

func TestGenerate_PropagatesError(t *testing.T) {
	client := &fakeClient{genErr: fmt.Errorf("upstream down")}
	gw := New(client, "test-model")

	if _, err := gw.Generate(context.Background(), "s", "u"); err == nil {
		t.Fatal("expected error")
	}
}

func TestGenerateStream_DeliversAllDeltasThenCloses(t *testing.T) {
	client := &fakeClient{streamParts: []string{"a", "b", "c"}}
	gw := New(client, "test-model")

	deltaCh, errCh := gw.GenerateStream(context.Background(), "s", "u")

	var got []string
	for d := range deltaCh {
		got = append(got, d.Text)
	}
	if len(got) != 3 {
		t.Fatalf("got %d deltas, want 3", len(got))
	}

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	default:
	}
}

func TestGenerateStream_PropagatesTerminalError(t *testing.T) {
	client := &fakeClient{streamParts: []string{"partial"}, streamErr: fmt.Errorf("stream broke")}
	gw := New(client, "test-model")

	deltaCh, errCh := gw.GenerateStream(context.Background(), "s", "u")

	for range deltaCh {
	}

	err, ok := <-errCh
	if !ok || err == nil {
		t.Fatal("expected terminal error")
	}
}

func TestGenerateStream_ContextCancellationStopsDelivery(t *testing.T) {
	client := &fakeClient{streamParts: []string{"a", "b", "c"}}
	gw := New(client, "test-model")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	deltaCh, _ := gw.GenerateStream(ctx, "s", "u")

	select {
	case <-deltaCh:
	case <-time.After(time.Second):
		t.Fatal("expected channel to close promptly after cancellation")
	}
}

func TestHealthCheck_DelegatesToClient(t *testing.T) {
	client := &fakeClient{healthErr: fmt.Errorf("down")}
	gw := New(client, "test-model")

	if err := gw.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestModel_ReturnsConfiguredName(t *testing.T) {
	gw := New(&fakeClient{}, "gemini-test")
	if gw.Model() != "gemini-test" {
		t.Errorf("Model() = %q", gw.Model())
	}
}
