package docloader

import (
	"context"
	"fmt"
	"log/slog"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// DocumentAIAdapter implements OCRClient using the Document AI API.
type DocumentAIAdapter struct {
	client   *documentai.DocumentProcessorClient
	project  string
	location string
}

// NewDocumentAIAdapter creates a Document AI client. location is typically
// "us" or "eu" (Document AI's multi-region values).
func NewDocumentAIAdapter(ctx context.Context, project, location string) (*DocumentAIAdapter, error) {
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)
	client, err := documentai.NewDocumentProcessorClient(ctx, option.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("docloader.NewDocumentAIAdapter: %w", err)
	}
	return &DocumentAIAdapter{client: client, project: project, location: location}, nil
}

// ProcessDocument sends a GCS document to Document AI for text extraction.
// processor is the full resource name: projects/{p}/locations/{l}/processors/{id}
func (a *DocumentAIAdapter) ProcessDocument(ctx context.Context, processor, gcsURI, mimeType string) (*OCRResponse, error) {
	req := &documentaipb.ProcessRequest{
		Name: processor,
		Source: &documentaipb.ProcessRequest_GcsDocument{
			GcsDocument: &documentaipb.GcsDocument{GcsUri: gcsURI, MimeType: mimeType},
		},
	}

	resp, err := a.client.ProcessDocument(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("docloader.ProcessDocument: %w", err)
	}
	if resp.Document == nil {
		return nil, fmt.Errorf("docloader.ProcessDocument: nil document in response")
	}

	pageCount := len(resp.Document.Pages)
	slog.Info("document ai extracted document", "pages", pageCount, "chars", len(resp.Document.Text))

	return &OCRResponse{Text: resp.Document.Text, Pages: pageCount}, nil
}

// HealthCheck verifies the Document AI connection by listing processors.
func (a *DocumentAIAdapter) HealthCheck(ctx context.Context) error {
	parent := fmt.Sprintf("projects/%s/locations/%s", a.project, a.location)
	iter := a.client.ListProcessors(ctx, &documentaipb.ListProcessorsRequest{Parent: parent})
	_, err := iter.Next()
	if err != nil && err != iterator.Done {
		return fmt.Errorf("docloader.DocumentAI.HealthCheck: %w", err)
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (a *DocumentAIAdapter) Close() {
	a.client.Close()
}
