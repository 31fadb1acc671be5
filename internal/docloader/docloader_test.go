package docloader

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"testing"
)

type fakeStore struct {
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Upload(ctx context.Context, bucket, object string, data []byte, contentType string) error {
	f.objects[bucket+"/"+object] = data
	return nil
}

func (f *fakeStore) Download(ctx context.Context, bucket, object string) ([]byte, error) {
	data, ok := f.objects[bucket+"/"+object]
	if !ok {
		return nil, fmt.Errorf("object not found: %s/%s", bucket, object)
	}
	return data, nil
}

type fakeOCR struct {
	resp *OCRResponse
	err  error
}

func (f *fakeOCR) ProcessDocument(ctx context.Context, processor, sourceURI, mimeType string) (*OCRResponse, error) {
	return f.resp, f.err
}

type fakeCaptioner struct {
	caption string
	err     error
}

func (f *fakeCaptioner) Caption(ctx context.Context, data []byte, mimeType string) (string, error) {
	return f.caption, f.err
}

func buildDocxBytes(t *testing.T, paragraphs ...string) []byte {
	t.Helper()
	var body bytes.Buffer
	body.WriteString(`<?xml version="1.0"?><w:document xmlns:w="ns"><w:body>`)
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	body.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestExtract_PlainTextDirectDownload(t *testing.T) {
	store := newFakeStore()
	store.objects["bucket/t1/doc1"] = []byte("hello world")
	loader := New(store, nil, nil, "", "bucket")

	res, err := loader.Extract(context.Background(), "gs://bucket/t1/doc1", "notes.txt")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestExtract_DocxNativeParsing(t *testing.T) {
	store := newFakeStore()
	store.objects["bucket/t1/doc1"] = buildDocxBytes(t, "First paragraph.", "Second paragraph.")
	loader := New(store, nil, nil, "", "bucket")

	res, err := loader.Extract(context.Background(), "gs://bucket/t1/doc1", "report.docx")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text == "" {
		t.Fatal("expected non-empty text")
	}
}

func TestExtract_PDFRoutesThroughOCR(t *testing.T) {
	store := newFakeStore()
	store.objects["bucket/t1/doc1"] = []byte("%PDF-1.4 binary junk")
	ocr := &fakeOCR{resp: &OCRResponse{Text: "extracted pdf text", Pages: 3}}
	loader := New(store, ocr, nil, "projects/p/locations/us/processors/1", "bucket")

	res, err := loader.Extract(context.Background(), "gs://bucket/t1/doc1", "report.pdf")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "extracted pdf text" || res.Pages != 3 {
		t.Errorf("got %+v", res)
	}
}

func TestExtract_OCRFailureFallsBackToTextIfReadable(t *testing.T) {
	store := newFakeStore()
	store.objects["bucket/t1/doc1"] = []byte("this is actually plain readable text")
	ocr := &fakeOCR{err: fmt.Errorf("ocr unavailable")}
	loader := New(store, ocr, nil, "proc", "bucket")

	res, err := loader.Extract(context.Background(), "gs://bucket/t1/doc1", "scan.pdf")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text == "" {
		t.Fatal("expected fallback text")
	}
}

func TestExtract_OCRFailureRejectsBinaryFallback(t *testing.T) {
	store := newFakeStore()
	store.objects["bucket/t1/doc1"] = []byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0x00, 0x00, 0x00}
	ocr := &fakeOCR{err: fmt.Errorf("ocr unavailable")}
	loader := New(store, ocr, nil, "proc", "bucket")

	if _, err := loader.Extract(context.Background(), "gs://bucket/t1/doc1", "scan.pdf"); err == nil {
		t.Fatal("expected error for unparseable binary fallback")
	}
}

func TestExtract_ImageRoutesThroughCaptioner(t *testing.T) {
	store := newFakeStore()
	store.objects["bucket/t1/doc1"] = []byte{0x89, 'P', 'N', 'G'}
	caption := &fakeCaptioner{caption: "a photo of a whiteboard with a diagram"}
	loader := New(store, nil, caption, "", "bucket")

	res, err := loader.Extract(context.Background(), "gs://bucket/t1/doc1", "diagram.png")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "a photo of a whiteboard with a diagram" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Modality != "image" {
		t.Errorf("Modality = %q", res.Modality)
	}
}

func TestExtract_ImageWithoutCaptionerErrors(t *testing.T) {
	store := newFakeStore()
	store.objects["bucket/t1/doc1"] = []byte{0x89, 'P', 'N', 'G'}
	loader := New(store, nil, nil, "", "bucket")

	if _, err := loader.Extract(context.Background(), "gs://bucket/t1/doc1", "diagram.png"); err == nil {
		t.Fatal("expected error without captioner configured")
	}
}

func TestUpload_ReturnsGCSURI(t *testing.T) {
	store := newFakeStore()
	loader := New(store, nil, nil, "", "bucket")

	uri, err := loader.Upload(context.Background(), "tenant-a", "doc-1", []byte("data"), "text/plain")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if uri != "gs://bucket/tenant-a/doc-1" {
		t.Errorf("uri = %q", uri)
	}
}
