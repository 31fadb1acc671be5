package handler

import (
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aurorabench/converge-backend/internal/admin"
	"github.com/aurorabench/converge-backend/internal/apperr"
	"github.com/aurorabench/converge-backend/internal/docloader"
	"github.com/aurorabench/converge-backend/internal/ingest"
	"github.com/aurorabench/converge-backend/internal/model"
)

const maxUploadMemory = 32 << 20 // 32MiB held in memory before spilling to disk

// DocumentDeps bundles the Documents handler's dependencies. ChunkSize and
// ChunkOverlap are the configured defaults applied to every upload.
type DocumentDeps struct {
	Ingest       *ingest.Core
	Loader       *docloader.Loader
	Admin        *admin.Service
	ChunkSize    int
	ChunkOverlap int
}

// UploadDocument handles POST /documents/upload: one multipart file,
// validated, uploaded to object storage, then indexed synchronously.
func UploadDocument(deps DocumentDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := r.FormValue("tenant_id")
		if !model.ValidTenantID(tenant) {
			respondError(w, apperr.InvalidField("tenant_id", "tenant_id is required"))
			return
		}
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			respondError(w, apperr.Wrap(apperr.InvalidInput, err, "could not parse multipart form"))
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			respondError(w, apperr.Wrap(apperr.InvalidInput, err, "file field is required"))
			return
		}
		defer file.Close()

		documentID := r.FormValue("document_id")
		if documentID == "" {
			documentID = uuid.NewString()
		}

		result, err := indexUploadedFile(r, deps, tenant, documentID, header, file)
		if err != nil {
			respondError(w, err)
			return
		}
		respondOK(w, result)
	}
}

func indexUploadedFile(r *http.Request, deps DocumentDeps, tenant, documentID string, header *multipart.FileHeader, file multipart.File) (*ingest.Result, error) {
	if err := ingest.ValidateUpload(header.Filename, header.Size); err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, err, "upload rejected")
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "could not read upload")
	}

	contentType := header.Header.Get("Content-Type")
	sourceURI, err := deps.Loader.Upload(r.Context(), tenant, documentID, data, contentType)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamUnavailable, err, "could not store upload")
	}

	opts := ingest.Options{DocumentID: documentID, ChunkSize: deps.ChunkSize, ChunkOverlap: deps.ChunkOverlap}
	result, err := deps.Ingest.IndexDocument(r.Context(), tenant, sourceURI, header.Filename, opts, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "indexing failed")
	}
	return result, nil
}

type batchUploadResult struct {
	Filename string         `json:"filename"`
	Success  bool           `json:"success"`
	Error    string         `json:"error,omitempty"`
	Result   *ingest.Result `json:"result,omitempty"`
}

// BatchUploadDocuments handles POST /documents/batch-upload: multiple
// multipart files, each uploaded and indexed independently so one bad file
// doesn't fail the whole batch.
func BatchUploadDocuments(deps DocumentDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := r.FormValue("tenant_id")
		if !model.ValidTenantID(tenant) {
			respondError(w, apperr.InvalidField("tenant_id", "tenant_id is required"))
			return
		}
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			respondError(w, apperr.Wrap(apperr.InvalidInput, err, "could not parse multipart form"))
			return
		}
		headers := r.MultipartForm.File["files"]
		if len(headers) == 0 {
			respondError(w, apperr.InvalidField("files", "at least one file is required"))
			return
		}

		results := make([]batchUploadResult, len(headers))
		for i, header := range headers {
			results[i] = indexOneUpload(r, deps, tenant, header)
		}
		respondOK(w, map[string]any{"results": results})
	}
}

func indexOneUpload(r *http.Request, deps DocumentDeps, tenant string, header *multipart.FileHeader) batchUploadResult {
	out := batchUploadResult{Filename: header.Filename}

	file, err := header.Open()
	if err != nil {
		out.Error = err.Error()
		return out
	}
	defer file.Close()

	documentID := uuid.NewString()
	result, err := indexUploadedFile(r, deps, tenant, documentID, header, file)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Success = true
	out.Result = result
	return out
}

// DeleteTenantDocuments handles DELETE /documents/:tenant_id?document_id=:
// removes the chunks of one document, or every indexed chunk for the tenant
// when document_id is omitted.
func DeleteTenantDocuments(deps DocumentDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := chi.URLParam(r, "tenant_id")
		if !model.ValidTenantID(tenant) {
			respondError(w, apperr.InvalidField("tenant_id", "tenant_id is required"))
			return
		}
		documentID := r.URL.Query().Get("document_id")
		if err := deps.Ingest.DeleteDocuments(r.Context(), tenant, documentID); err != nil {
			respondError(w, apperr.Wrap(apperr.UpstreamUnavailable, err, "could not delete documents"))
			return
		}
		respondOK(w, map[string]any{"deleted": true, "document_id": documentID})
	}
}

// DocumentStats handles GET /documents/stats/:tenant_id.
func DocumentStats(deps DocumentDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := chi.URLParam(r, "tenant_id")
		if !model.ValidTenantID(tenant) {
			respondError(w, apperr.InvalidField("tenant_id", "tenant_id is required"))
			return
		}
		stats, err := deps.Admin.GetStats(r.Context(), tenant)
		if err != nil {
			respondError(w, apperr.Wrap(apperr.UpstreamUnavailable, err, "could not read stats"))
			return
		}
		respondOK(w, stats)
	}
}
