package llmgw

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"

	"github.com/aurorabench/converge-backend/internal/retry"
)

// VertexClient implements Client over Vertex AI Gemini. Regional locations
// use the Go SDK; the "global" location uses the REST API directly since
// the SDK does not support it.
type VertexClient struct {
	client      *genai.Client // nil when using the REST path
	httpClient  *http.Client  // used for the REST path
	project     string
	location    string
	model       string
	useREST     bool
	temperature float64
	maxTokens   int
}

// NewVertexClient creates a VertexClient using application default credentials.
// temperature and maxTokens apply to every generation call; zero maxTokens
// leaves the provider default in place.
func NewVertexClient(ctx context.Context, project, location, model string, temperature float64, maxTokens int) (*VertexClient, error) {
	if location == "global" {
		httpClient, err := google.DefaultClient(ctx, "https://www.googleapis.com/auth/cloud-platform")
		if err != nil {
			return nil, fmt.Errorf("llmgw.NewVertexClient: default credentials: %w", err)
		}
		return &VertexClient{httpClient: httpClient, project: project, location: location, model: model, useREST: true, temperature: temperature, maxTokens: maxTokens}, nil
	}

	client, err := genai.NewClient(ctx, project, location)
	if err != nil {
		return nil, fmt.Errorf("llmgw.NewVertexClient: %w", err)
	}
	return &VertexClient{client: client, project: project, location: location, model: model, temperature: temperature, maxTokens: maxTokens}, nil
}

// GenerateContent sends a prompt to Gemini and returns the text response.
func (c *VertexClient) GenerateContent(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return retry.Do(ctx, "llmgw.GenerateContent", retry.DefaultPolicy, func() (string, error) {
		if c.useREST {
			return c.generateContentREST(ctx, systemPrompt, userPrompt)
		}
		return c.generateContentSDK(ctx, systemPrompt, userPrompt)
	})
}

func (c *VertexClient) generativeModel(systemPrompt string) *genai.GenerativeModel {
	model := c.client.GenerativeModel(c.model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	model.SetTemperature(float32(c.temperature))
	if c.maxTokens > 0 {
		model.SetMaxOutputTokens(int32(c.maxTokens))
	}
	return model
}

func (c *VertexClient) generateContentSDK(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	model := c.generativeModel(systemPrompt)

	resp, err := model.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", fmt.Errorf("llmgw.generateContentSDK: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("llmgw.generateContentSDK: empty response from model")
	}

	var parts []string
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			parts = append(parts, string(t))
		}
	}
	return strings.Join(parts, ""), nil
}

type restGenerateRequest struct {
	Contents          []restContent         `json:"contents"`
	SystemInstruction *restContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *restGenerationConfig `json:"generationConfig,omitempty"`
}

type restContent struct {
	Role  string     `json:"role"`
	Parts []restPart `json:"parts"`
}

type restPart struct {
	Text string `json:"text"`
}

type restGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type restGenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *VertexClient) buildRequest(systemPrompt, userPrompt string) restGenerateRequest {
	req := restGenerateRequest{
		Contents: []restContent{{Role: "user", Parts: []restPart{{Text: userPrompt}}}},
	}
	if systemPrompt != "" {
		req.SystemInstruction = &restContent{Role: "user", Parts: []restPart{{Text: systemPrompt}}}
	}
	gc := &restGenerationConfig{Temperature: &c.temperature}
	if c.maxTokens > 0 {
		gc.MaxOutputTokens = &c.maxTokens
	}
	req.GenerationConfig = gc
	return req
}

func (c *VertexClient) generateContentREST(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	url := fmt.Sprintf(
		"https://aiplatform.googleapis.com/v1/projects/%s/locations/global/publishers/google/models/%s:generateContent",
		c.project, c.model,
	)

	body, err := json.Marshal(c.buildRequest(systemPrompt, userPrompt))
	if err != nil {
		return "", fmt.Errorf("llmgw.generateContentREST: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llmgw.generateContentREST: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llmgw.generateContentREST: call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llmgw.generateContentREST: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llmgw.generateContentREST: status %d: %s", resp.StatusCode, respBody)
	}

	var parsed restGenerateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("llmgw.generateContentREST: decode: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llmgw.generateContentREST: API error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("llmgw.generateContentREST: empty response from model")
	}

	var parts []string
	for _, p := range parsed.Candidates[0].Content.Parts {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("llmgw.generateContentREST: no text in response")
	}
	return strings.Join(parts, ""), nil
}

// GenerateContentStream returns a channel of text chunks and a channel of
// at most one terminal error. Both close when generation completes.
func (c *VertexClient) GenerateContentStream(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error) {
	textCh := make(chan string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(textCh)
		defer close(errCh)
		var err error
		if c.useREST {
			err = c.streamContentREST(ctx, systemPrompt, userPrompt, textCh)
		} else {
			err = c.streamContentSDK(ctx, systemPrompt, userPrompt, textCh)
		}
		if err != nil {
			errCh <- err
		}
	}()

	return textCh, errCh
}

func (c *VertexClient) streamContentSDK(ctx context.Context, systemPrompt, userPrompt string, textCh chan<- string) error {
	model := c.generativeModel(systemPrompt)

	iter := model.GenerateContentStream(ctx, genai.Text(userPrompt))
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("llmgw.streamContentSDK: %w", err)
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					select {
					case textCh <- string(t):
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		}
	}
}

func (c *VertexClient) streamContentREST(ctx context.Context, systemPrompt, userPrompt string, textCh chan<- string) error {
	url := fmt.Sprintf(
		"https://aiplatform.googleapis.com/v1/projects/%s/locations/global/publishers/google/models/%s:streamGenerateContent?alt=sse",
		c.project, c.model,
	)

	body, err := json.Marshal(c.buildRequest(systemPrompt, userPrompt))
	if err != nil {
		return fmt.Errorf("llmgw.streamContentREST: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("llmgw.streamContentREST: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llmgw.streamContentREST: call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("llmgw.streamContentREST: status %d: %s", resp.StatusCode, respBody)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk restGenerateResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		for _, cand := range chunk.Candidates {
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					select {
					case textCh <- part.Text:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		}
	}
	return scanner.Err()
}

// HealthCheck validates connectivity with a minimal round-trip.
func (c *VertexClient) HealthCheck(ctx context.Context) error {
	resp, err := c.GenerateContent(ctx, "", "Reply with only: OK")
	if err != nil {
		return fmt.Errorf("llmgw.HealthCheck: model %s location %s: %w", c.model, c.location, err)
	}
	if resp == "" {
		return fmt.Errorf("llmgw.HealthCheck: empty response from model %s", c.model)
	}
	slog.Info("llm gateway health check passed", "model", c.model, "location", c.location)
	return nil
}

// Close releases the underlying SDK client, if any.
func (c *VertexClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
