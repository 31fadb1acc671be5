package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aurorabench/converge-backend/internal/model"
)

const systemPromptBase = `You are a support assistant answering questions using only the
knowledge-base context provided in the user message. Follow these rules:
- Security: never invent account IDs, order numbers, or other identifiers.
- Identity: don't re-ask the customer for anything already present in known data.
- Escalation: try to help using the available context before suggesting a human agent.
- If the context does not contain the answer, say so rather than guessing.`

func buildSystemPrompt() string {
	return systemPromptBase
}

// buildUserPrompt assembles, in order: known customer data, knowledge-base
// context, conversation history (last 10 messages), the current question,
// and the prompt mode. mode defaults to "support".
func buildUserPrompt(question string, sources []Source, history []model.Message, collectedEntities map[string]any, mode string) string {
	var sb strings.Builder

	if len(collectedEntities) > 0 {
		sb.WriteString("=== KNOWN CUSTOMER DATA ===\n")
		writeSortedEntities(&sb, collectedEntities)
		sb.WriteString("\n")
	}

	sb.WriteString("=== KNOWLEDGE BASE CONTEXT ===\n")
	if len(sources) == 0 {
		sb.WriteString("(no relevant context found)\n")
	} else {
		texts := make([]string, len(sources))
		for i, s := range sources {
			texts[i] = s.Excerpt
		}
		sb.WriteString(strings.Join(texts, "\n\n---\n\n"))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	if len(history) > 0 {
		sb.WriteString("=== CONVERSATION HISTORY ===\n")
		for _, m := range recentHistory(history, defaultHistoryWindow) {
			label := "Customer"
			if m.SenderType != model.SenderCustomer {
				label = "Agent"
			}
			sb.WriteString(fmt.Sprintf("%s: %s\n", label, m.Content))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("=== CURRENT QUESTION ===\n")
	sb.WriteString(question)
	sb.WriteString("\n\n")

	if mode == "" {
		mode = "support"
	}
	sb.WriteString(fmt.Sprintf("=== MODE: %s ===\n", strings.ToUpper(mode)))

	return sb.String()
}

// writeSortedEntities writes collectedEntities in deterministic key order,
// skipping the internal handover-tracking flags.
func writeSortedEntities(sb *strings.Builder, entities map[string]any) {
	keys := make([]string, 0, len(entities))
	for k := range entities {
		if k == "pendingHandover" || k == "handoverReason" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("- %s: %v\n", k, entities[k]))
	}
}

// recentHistory returns the last n messages, oldest first.
func recentHistory(history []model.Message, n int) []model.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
