package model

import "time"

// Modality classifies the source material a chunk's text was derived from.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
)

// Document is a single ingested source, identified within a tenant by
// DocumentID. A document is considered indexed iff at least one chunk with
// its (TenantID, DocumentID) exists in the vector store.
type Document struct {
	DocumentID string            `json:"documentId"`
	TenantID   string            `json:"tenantId"`
	SourceURI  string            `json:"sourceUri"`
	ContentHash string           `json:"contentHash"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	IndexedAt  *time.Time        `json:"indexedAt,omitempty"`
}

// Chunk is the atomic unit of retrieval: a bounded text span with its
// embedding vector and the metadata the vector store payload carries.
type Chunk struct {
	ChunkID    string         `json:"chunkId"`
	DocumentID string         `json:"documentId"`
	TenantID   string         `json:"tenantId"`
	Text       string         `json:"text"`
	Embedding  []float32      `json:"-"`
	ChunkIndex int            `json:"chunkIndex"`
	TotalChunks int           `json:"totalChunks"`
	Modality   Modality       `json:"modality"`
	Source     string         `json:"source"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// ScoredChunk pairs a retrieved chunk with its similarity score in [0,1].
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// AllowedExtensions lists the source file extensions the Ingestion Core
// accepts, keyed without the leading dot.
var AllowedExtensions = map[string]bool{
	"pdf": true, "txt": true, "md": true, "docx": true, "doc": true,
	"html": true, "htm": true, "csv": true,
	"png": true, "jpg": true, "jpeg": true,
	"mp3": true, "wav": true,
}

// MaxFileSizeBytes is the maximum accepted upload size for binary sources.
const MaxFileSizeBytes = 50 * 1024 * 1024

// MaxTextFileSizeBytes is the maximum accepted size for plain-text sources.
const MaxTextFileSizeBytes = 10 * 1024 * 1024
