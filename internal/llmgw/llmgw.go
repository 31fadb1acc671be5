// Package llmgw is the LLM Gateway: blocking and streaming generation
// behind one tagged response shape, plus token accounting. Per the design
// notes, internal layers never probe a provider response for
// text|answer|answer.text|response|content — they get one Response.
package llmgw

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Usage is the token accounting for one generation call. The counts are
// always a ceil(len/4) approximation and Estimated is always true;
// provider-reported token counts are not read.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	Estimated    bool
}

// Response is the single shape every caller of Generate sees.
type Response struct {
	Text      string
	Usage     Usage
	LatencyMs int64
}

// StreamDelta is one increment of a streaming generation.
type StreamDelta struct {
	Text string
}

// Client is the provider-facing contact surface.
type Client interface {
	GenerateContent(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	GenerateContentStream(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error)
	HealthCheck(ctx context.Context) error
}

// Gateway wraps a Client with latency measurement and token estimation.
type Gateway struct {
	client Client
	model  string
}

// New creates a Gateway.
func New(client Client, model string) *Gateway {
	return &Gateway{client: client, model: model}
}

// Generate performs a single blocking generation call.
func (g *Gateway) Generate(ctx context.Context, systemPrompt, userPrompt string) (*Response, error) {
	start := time.Now()
	text, err := g.client.GenerateContent(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("llmgw.Generate: %w", err)
	}
	return &Response{
		Text:      text,
		Usage:     estimateUsage(systemPrompt + userPrompt, text),
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// GenerateStream returns a channel of text deltas and a channel that
// receives at most one terminal error. Both channels close when generation
// completes, errors, or ctx is cancelled. The caller must drain deltaCh to
// let the underlying goroutine exit.
func (g *Gateway) GenerateStream(ctx context.Context, systemPrompt, userPrompt string) (<-chan StreamDelta, <-chan error) {
	out := make(chan StreamDelta, 64)
	errOut := make(chan error, 1)

	textCh, errCh := g.client.GenerateContentStream(ctx, systemPrompt, userPrompt)

	go func() {
		defer close(out)
		defer close(errOut)
		for {
			select {
			case <-ctx.Done():
				return
			case text, ok := <-textCh:
				if !ok {
					textCh = nil
					if errCh == nil {
						return
					}
					continue
				}
				select {
				case out <- StreamDelta{Text: text}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-errCh:
				if !ok {
					errCh = nil
					if textCh == nil {
						return
					}
					continue
				}
				if err != nil {
					errOut <- err
					return
				}
			}
		}
	}()

	return out, errOut
}

// HealthCheck verifies the underlying provider is reachable.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	return g.client.HealthCheck(ctx)
}

// Model returns the configured model name, surfaced in query metrics.
func (g *Gateway) Model() string { return g.model }

func estimateUsage(prompt, completion string) Usage {
	return Usage{
		InputTokens:  ceilTokens(prompt),
		OutputTokens: ceilTokens(completion),
		TotalTokens:  ceilTokens(prompt) + ceilTokens(completion),
		Estimated:    true,
	}
}

func ceilTokens(s string) int {
	return int(math.Ceil(float64(len(s)) / 4.0))
}
