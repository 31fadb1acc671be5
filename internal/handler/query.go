package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aurorabench/converge-backend/internal/apperr"
	"github.com/aurorabench/converge-backend/internal/model"
	"github.com/aurorabench/converge-backend/internal/query"
)

// QueryDeps bundles the Query handler's dependencies.
type QueryDeps struct {
	Query *query.Core
}

type queryRequest struct {
	TenantID string `json:"tenant_id"`
	Question string `json:"question"`
	Mode     string `json:"mode"`
	TopK     int    `json:"top_k"`
}

// Query handles POST /query: a single non-streaming retrieval-augmented
// answer.
func Query(deps QueryDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, apperr.InvalidField("body", "invalid JSON body"))
			return
		}
		if !model.ValidTenantID(req.TenantID) {
			respondError(w, apperr.InvalidField("tenant_id", "tenant_id is required"))
			return
		}

		result, err := deps.Query.Query(r.Context(), req.TenantID, req.Question, query.Options{Mode: req.Mode})
		if err != nil {
			respondError(w, apperr.Wrap(apperr.Internal, err, "query failed"))
			return
		}
		respondOK(w, result)
	}
}

// sseEvent is one `data: {...}` line's payload for /query/stream.
type sseEvent struct {
	Type    string        `json:"type"`
	Delta   string        `json:"delta,omitempty"`
	Sources []query.Source `json:"sources,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// QueryStream handles POST /query/stream: server-sent events carrying
// token|done|error frames.
func QueryStream(deps QueryDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, apperr.InvalidField("body", "invalid JSON body"))
			return
		}
		if !model.ValidTenantID(req.TenantID) {
			respondError(w, apperr.InvalidField("tenant_id", "tenant_id is required"))
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			respondError(w, apperr.New(apperr.Internal, "streaming unsupported"))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		deltas, errs := deps.Query.StreamQuery(r.Context(), req.TenantID, req.Question, query.Options{Mode: req.Mode})
		for {
			select {
			case d, open := <-deltas:
				if !open {
					deltas = nil
					continue
				}
				writeSSE(w, sseEvent{Type: "token", Delta: d.Text, Sources: d.Sources})
				flusher.Flush()
			case err, open := <-errs:
				if !open {
					errs = nil
					continue
				}
				if err != nil {
					writeSSE(w, sseEvent{Type: "error", Error: err.Error()})
					flusher.Flush()
					return
				}
			}
			if deltas == nil && errs == nil {
				writeSSE(w, sseEvent{Type: "done"})
				flusher.Flush()
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, ev sseEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
}

type semanticSearchRequest struct {
	TenantID string `json:"tenant_id"`
	Question string `json:"question"`
	Limit    int    `json:"limit"`
}

// SemanticSearch handles POST /query/semantic-search: retrieval without
// generation.
func SemanticSearch(deps QueryDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req semanticSearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, apperr.InvalidField("body", "invalid JSON body"))
			return
		}
		if !model.ValidTenantID(req.TenantID) {
			respondError(w, apperr.InvalidField("tenant_id", "tenant_id is required"))
			return
		}
		limit := req.Limit
		if limit <= 0 {
			limit = query.DefaultTopK
		}

		sources, err := deps.Query.SemanticSearch(r.Context(), req.TenantID, req.Question, limit)
		if err != nil {
			respondError(w, apperr.Wrap(apperr.Internal, err, "semantic search failed"))
			return
		}
		respondOK(w, map[string]any{"sources": sources})
	}
}

// HybridQuery handles POST /query/hybrid.
func HybridQuery(deps QueryDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, apperr.InvalidField("body", "invalid JSON body"))
			return
		}
		if !model.ValidTenantID(req.TenantID) {
			respondError(w, apperr.InvalidField("tenant_id", "tenant_id is required"))
			return
		}

		result, err := deps.Query.HybridQuery(r.Context(), req.TenantID, req.Question, query.Options{Mode: req.Mode})
		if err != nil {
			respondError(w, apperr.Wrap(apperr.Internal, err, "hybrid query failed"))
			return
		}
		respondOK(w, result)
	}
}
