package docloader

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// VertexCaptioner captions images and audio clips with the Gemini
// multimodal API so non-text documents can be chunked and embedded like
// any other ingested text.
type VertexCaptioner struct {
	client *genai.Client
	model  string
}

// NewVertexCaptioner creates a VertexCaptioner over a regional Vertex AI client.
func NewVertexCaptioner(client *genai.Client, model string) *VertexCaptioner {
	return &VertexCaptioner{client: client, model: model}
}

const captionPrompt = `Describe the content of this file in detail, transcribing any
visible or spoken text verbatim. Write the description as plain prose
suitable for full-text search; do not use markdown formatting.`

// Caption produces a textual description of the given image or audio bytes.
func (c *VertexCaptioner) Caption(ctx context.Context, data []byte, mimeType string) (string, error) {
	model := c.client.GenerativeModel(c.model)
	resp, err := model.GenerateContent(ctx, genai.Blob{MIMEType: mimeType, Data: data}, genai.Text(captionPrompt))
	if err != nil {
		return "", fmt.Errorf("docloader.Caption: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("docloader.Caption: empty response")
	}

	var text string
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			text += string(t)
		}
	}
	if text == "" {
		return "", fmt.Errorf("docloader.Caption: no text in response")
	}
	return text, nil
}
