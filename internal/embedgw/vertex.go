package embedgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2/google"

	"github.com/aurorabench/converge-backend/internal/retry"
)

// VertexClient calls the Vertex AI text-embedding REST API. text-embedding
// models produce different vector spaces for RETRIEVAL_DOCUMENT vs
// RETRIEVAL_QUERY task types, optimized for asymmetric retrieval.
type VertexClient struct {
	project    string
	location   string
	model      string
	dimensions int
	httpClient *http.Client
}

// NewVertexClient creates a VertexClient using application default credentials.
func NewVertexClient(ctx context.Context, project, location, model string, dimensions int) (*VertexClient, error) {
	httpClient, err := google.DefaultClient(ctx, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, fmt.Errorf("embedgw.NewVertexClient: %w", err)
	}
	return &VertexClient{
		project:    project,
		location:   location,
		model:      model,
		dimensions: dimensions,
		httpClient: httpClient,
	}, nil
}

type embeddingRequest struct {
	Instances []embeddingInstance `json:"instances"`
}

type embeddingInstance struct {
	Content  string `json:"content"`
	TaskType string `json:"task_type"`
}

type embeddingResponse struct {
	Predictions []struct {
		Embeddings struct {
			Values []float32 `json:"values"`
		} `json:"embeddings"`
	} `json:"predictions"`
}

// EmbedDocuments embeds texts with RETRIEVAL_DOCUMENT task type.
func (c *VertexClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return retry.Do(ctx, "embedgw.EmbedDocuments", retry.DefaultPolicy, func() ([][]float32, error) {
		return c.embed(ctx, texts, "RETRIEVAL_DOCUMENT")
	})
}

// EmbedQuery embeds a single query with RETRIEVAL_QUERY task type.
func (c *VertexClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := retry.Do(ctx, "embedgw.EmbedQuery", retry.DefaultPolicy, func() ([][]float32, error) {
		return c.embed(ctx, []string{text}, "RETRIEVAL_QUERY")
	})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedgw.EmbedQuery: empty response")
	}
	return vecs[0], nil
}

func (c *VertexClient) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	instances := make([]embeddingInstance, len(texts))
	for i, t := range texts {
		instances[i] = embeddingInstance{Content: t, TaskType: taskType}
	}

	body, err := json.Marshal(embeddingRequest{Instances: instances})
	if err != nil {
		return nil, fmt.Errorf("embedgw.embed marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedgw.embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedgw.embed call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedgw.embed: status %d: %s", resp.StatusCode, respBody)
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("embedgw.embed decode: %w", err)
	}

	out := make([][]float32, len(parsed.Predictions))
	for i, p := range parsed.Predictions {
		out[i] = p.Embeddings.Values
	}
	return out, nil
}

func (c *VertexClient) endpointURL() string {
	if c.location == "global" {
		return fmt.Sprintf(
			"https://aiplatform.googleapis.com/v1/projects/%s/locations/global/publishers/google/models/%s:predict",
			c.project, c.model,
		)
	}
	return fmt.Sprintf(
		"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
		c.location, c.project, c.location, c.model,
	)
}

// Dimensions reports the configured vector dimensionality.
func (c *VertexClient) Dimensions() int { return c.dimensions }

// HealthCheck embeds a canary string to validate connectivity.
func (c *VertexClient) HealthCheck(ctx context.Context) error {
	if _, err := c.EmbedQuery(ctx, "health check"); err != nil {
		return fmt.Errorf("embedgw.HealthCheck: %w", err)
	}
	return nil
}
