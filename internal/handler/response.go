// Package handler is the HTTP surface: thin adapters translating JSON
// requests into calls against the Conversation Core, Query Core, Ingestion
// Core, Agent Directory, Tenant Admin and Real-time Fan-out, and their
// results back into the JSON success envelope.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/aurorabench/converge-backend/internal/apperr"
)

// envelope is the JSON shape every response shares: `{success, ...}` on
// success, `{success:false, error, field?}` on failure.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Field   string `json:"field,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// respondOK writes data merged into a {success:true, ...} envelope.
func respondOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	merged := map[string]any{"success": true}
	if b, err := json.Marshal(data); err == nil {
		var fields map[string]any
		if json.Unmarshal(b, &fields) == nil {
			for k, v := range fields {
				merged[k] = v
			}
		}
	}
	json.NewEncoder(w).Encode(merged)
}

// respondError maps err through apperr's status table and writes the
// failure envelope.
func respondError(w http.ResponseWriter, err error) {
	status := apperr.StatusCode(err)
	e := envelope{Success: false, Error: err.Error()}
	if ae, ok := apperr.As(err); ok {
		e.Error = ae.Message
		e.Field = ae.Field
	}
	respondJSON(w, status, e)
}
