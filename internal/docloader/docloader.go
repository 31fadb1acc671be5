// Package docloader is the Document Loader: format-dispatched extraction of
// raw text from an uploaded blob, with native handling for .docx, direct
// reads for plain-text formats, Document AI OCR for PDFs and scanned
// images, and multimodal captioning for image/audio files that carry no
// extractable text of their own.
package docloader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/aurorabench/converge-backend/internal/model"
)

// Result holds the extracted text and page count for one loaded document.
type Result struct {
	Text     string
	Pages    int
	Modality model.Modality
}

// ObjectStore abstracts blob storage for the source bytes of an upload.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, object string, data []byte, contentType string) error
	Download(ctx context.Context, bucket, object string) ([]byte, error)
}

// OCRClient abstracts Document AI style text extraction for formats the
// loader cannot parse natively (PDF, scanned images).
type OCRClient interface {
	ProcessDocument(ctx context.Context, processor, sourceURI, mimeType string) (*OCRResponse, error)
}

// OCRResponse is the parsed result from an OCR backend.
type OCRResponse struct {
	Text  string
	Pages int
}

// Captioner abstracts multimodal captioning for image/audio content that
// has no text layer.
type Captioner interface {
	Caption(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Loader extracts text from a document stored in ObjectStore, routing by
// file extension: .docx → native ZIP+XML, plain-text formats → direct
// download, images/audio → multimodal captioning, everything else → OCR
// with a direct-download fallback for UTF-8-ish payloads.
type Loader struct {
	store     ObjectStore
	ocr       OCRClient
	caption   Captioner
	processor string
	bucket    string
}

// New creates a Loader. processor is the OCR backend's fully-qualified
// processor name; ocr and caption may be nil to disable those paths.
func New(store ObjectStore, ocr OCRClient, caption Captioner, processor, bucket string) *Loader {
	return &Loader{store: store, ocr: ocr, caption: caption, processor: processor, bucket: bucket}
}

// Upload stores raw bytes for a document under its tenant-scoped key.
func (l *Loader) Upload(ctx context.Context, tenant, documentID string, data []byte, contentType string) (string, error) {
	object := objectKey(tenant, documentID)
	if err := l.store.Upload(ctx, l.bucket, object, data, contentType); err != nil {
		return "", fmt.Errorf("docloader.Upload: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", l.bucket, object), nil
}

// Extract loads and extracts text for the document at sourceURI, whose
// filename (not necessarily the storage key) determines the extraction
// route.
func (l *Loader) Extract(ctx context.Context, sourceURI, filename string) (*Result, error) {
	if sourceURI == "" {
		return nil, fmt.Errorf("docloader.Extract: sourceURI is empty")
	}

	ext := strings.ToLower(filepath.Ext(filename))
	modality := modalityFor(ext)

	switch {
	case ext == ".docx":
		return l.extractDocx(ctx, sourceURI)
	case isTextBasedFormat(ext):
		return l.extractText(ctx, sourceURI)
	case modality == model.ModalityImage || modality == model.ModalityAudio:
		return l.extractMultimodal(ctx, sourceURI, detectMimeType(ext), modality)
	default:
		return l.extractOCR(ctx, sourceURI, detectMimeType(ext))
	}
}

func (l *Loader) extractText(ctx context.Context, sourceURI string) (*Result, error) {
	bucket, object, err := parseURI(sourceURI)
	if err != nil {
		return nil, fmt.Errorf("docloader.extractText: %w", err)
	}
	data, err := l.store.Download(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("docloader.extractText: download: %w", err)
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("docloader.extractText: file is empty")
	}
	return &Result{Text: text, Pages: 1, Modality: model.ModalityText}, nil
}

func (l *Loader) extractDocx(ctx context.Context, sourceURI string) (*Result, error) {
	bucket, object, err := parseURI(sourceURI)
	if err != nil {
		return nil, fmt.Errorf("docloader.extractDocx: %w", err)
	}
	data, err := l.store.Download(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("docloader.extractDocx: download: %w", err)
	}
	text, err := extractDocxText(data)
	if err != nil {
		return nil, fmt.Errorf("docloader.extractDocx: %w", err)
	}
	return &Result{Text: text, Pages: 1, Modality: model.ModalityText}, nil
}

func (l *Loader) extractOCR(ctx context.Context, sourceURI, mimeType string) (*Result, error) {
	if l.ocr == nil {
		return l.extractFallback(ctx, sourceURI, fmt.Errorf("no OCR backend configured"))
	}

	resp, err := l.ocr.ProcessDocument(ctx, l.processor, sourceURI, mimeType)
	if err != nil {
		return l.extractFallback(ctx, sourceURI, err)
	}
	if resp.Text == "" {
		return l.extractFallback(ctx, sourceURI, fmt.Errorf("OCR returned empty text"))
	}
	return &Result{Text: resp.Text, Pages: resp.Pages, Modality: model.ModalityText}, nil
}

func (l *Loader) extractFallback(ctx context.Context, sourceURI string, origErr error) (*Result, error) {
	bucket, object, err := parseURI(sourceURI)
	if err != nil {
		return nil, fmt.Errorf("docloader.Extract: %w", origErr)
	}
	data, err := l.store.Download(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("docloader.Extract: OCR failed and fallback download failed: %w", origErr)
	}
	text := string(data)
	if !isLikelyText(text) {
		return nil, fmt.Errorf("docloader.Extract: OCR failed for binary file: %w", origErr)
	}
	return &Result{Text: text, Pages: 1, Modality: model.ModalityText}, nil
}

// extractMultimodal captions an image or audio file that carries no text
// layer, producing a textual description that can be chunked and embedded
// like any other document.
func (l *Loader) extractMultimodal(ctx context.Context, sourceURI, mimeType string, modality model.Modality) (*Result, error) {
	if l.caption == nil {
		return nil, fmt.Errorf("docloader.extractMultimodal: no captioner configured for %s", mimeType)
	}
	bucket, object, err := parseURI(sourceURI)
	if err != nil {
		return nil, fmt.Errorf("docloader.extractMultimodal: %w", err)
	}
	data, err := l.store.Download(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("docloader.extractMultimodal: download: %w", err)
	}
	caption, err := l.caption.Caption(ctx, data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("docloader.extractMultimodal: %w", err)
	}
	if strings.TrimSpace(caption) == "" {
		return nil, fmt.Errorf("docloader.extractMultimodal: empty caption")
	}
	return &Result{Text: caption, Pages: 1, Modality: modality}, nil
}

func isTextBasedFormat(ext string) bool {
	switch ext {
	case ".txt", ".md", ".csv", ".json", ".log", ".xml", ".yaml", ".yml", ".html", ".htm":
		return true
	}
	return false
}

func modalityFor(ext string) model.Modality {
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return model.ModalityImage
	case ".mp3", ".wav":
		return model.ModalityAudio
	default:
		return model.ModalityText
	}
}

func detectMimeType(ext string) string {
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".doc":
		return "application/msword"
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	case ".html", ".htm":
		return "text/html"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

func isLikelyText(s string) bool {
	if len(s) == 0 {
		return false
	}
	sample := s
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	if !utf8.ValidString(sample) {
		return false
	}
	nonPrintable, total := 0, 0
	for _, r := range sample {
		total++
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			nonPrintable++
		}
	}
	if total == 0 {
		return false
	}
	return float64(nonPrintable)/float64(total) < 0.05
}

func objectKey(tenant, documentID string) string {
	return fmt.Sprintf("%s/%s", tenant, documentID)
}

func parseURI(uri string) (bucket, object string, err error) {
	if uri == "" {
		return "", "", fmt.Errorf("empty source URI")
	}
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid source URI %q: must start with gs://", uri)
	}
	trimmed := strings.TrimPrefix(uri, "gs://")
	idx := strings.Index(trimmed, "/")
	if idx <= 0 {
		return "", "", fmt.Errorf("invalid source URI %q: missing object path", uri)
	}
	return trimmed[:idx], trimmed[idx+1:], nil
}
