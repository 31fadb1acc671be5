// Package extraction is the Extraction Helper: LLM-based identity/entity
// extraction from a customer message, with a regex fallback for the fields
// the handover pipeline depends on (email, phone) so identity collection
// never blocks entirely on a model call.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/aurorabench/converge-backend/internal/llmgw"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\-. ()]{7,}\d`)
	namePattern  = regexp.MustCompile(`(?i)\b(?:my name is|i'?m|this is)\s+([A-Z][a-zA-Z'\-]+(?:\s+[A-Z][a-zA-Z'\-]+){0,2})`)
)

const extractionSystemPrompt = `Extract structured identity and contact entities from the customer's message.
Respond with ONLY a JSON object whose keys are a subset of: email, name, phone, orderNumber, accountId.
Omit keys you cannot confidently extract. Never invent values. Example: {"email":"jane@x.co","name":"Jane Doe"}`

// Helper runs the extraction pipeline: LLM first, regex fallback merged in
// for any of email/name/phone the LLM missed.
type Helper struct {
	llm *llmgw.Gateway
}

// New creates a Helper. llm may be nil, in which case Extract runs the
// regex-only fallback.
func New(llm *llmgw.Gateway) *Helper {
	return &Helper{llm: llm}
}

// Extract returns the entities found in message. Keys are a subset of
// {email, name, phone, orderNumber, accountId}. Never returns an error for
// "nothing found" — an empty map is a valid result.
func (h *Helper) Extract(ctx context.Context, message string) (map[string]any, error) {
	out := regexExtract(message)

	if h.llm == nil {
		return out, nil
	}

	resp, err := h.llm.Generate(ctx, extractionSystemPrompt, message)
	if err != nil {
		// Extraction is best-effort inside a conversation turn; the regex
		// fallback already ran, so degrade rather than fail the turn.
		return out, nil
	}

	llmEntities, err := parseEntityJSON(resp.Text)
	if err != nil {
		return out, nil
	}
	for k, v := range llmEntities {
		out[k] = v
	}
	return out, nil
}

func regexExtract(message string) map[string]any {
	out := map[string]any{}
	if m := emailPattern.FindString(message); m != "" {
		out["email"] = strings.ToLower(m)
	}
	if m := phonePattern.FindString(message); m != "" {
		out["phone"] = strings.TrimSpace(m)
	}
	if m := namePattern.FindStringSubmatch(message); len(m) == 2 {
		out["name"] = strings.TrimSpace(m[1])
	}
	return out
}

// parseEntityJSON extracts the first {...} object from the model's reply,
// tolerant of surrounding prose a provider might add despite instructions.
func parseEntityJSON(text string) (map[string]any, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("extraction.parseEntityJSON: no JSON object found")
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &m); err != nil {
		return nil, fmt.Errorf("extraction.parseEntityJSON: %w", err)
	}
	cleaned := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			v = s
		}
		cleaned[k] = v
	}
	return cleaned, nil
}
