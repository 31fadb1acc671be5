// Package handover is the Handover Detector: a pure function from a
// customer message, its recent history and collected entities to a
// verdict. It performs no I/O and is deterministic on a fixed input.
package handover

import (
	"regexp"
	"strings"

	"github.com/aurorabench/converge-backend/internal/model"
)

// Reason names why a handover verdict fired.
type Reason string

const (
	ReasonExplicitRequest Reason = "explicit_request"
	ReasonAccountIssue    Reason = "account_issue"
	ReasonFrustration     Reason = "frustration"
	ReasonRepetitive      Reason = "repetitive_questions"
	ReasonProlonged       Reason = "prolonged_back_and_forth"
	ReasonLowConfidence   Reason = "low_ai_confidence"
)

// Verdict is the detector's output. A nil *Verdict means no handover signal.
type Verdict struct {
	ShouldHandover bool
	Immediate      bool
	Reason         Reason
	Confidence     float64
	Message        string
}

// Options carries the inputs the detector needs beyond the current message.
type Options struct {
	CollectedEntities map[string]any
}

// Detection thresholds.
const (
	MaxSimilarQuestions  = 3
	MaxBackAndForth      = 6
	SimilarityThreshold  = 0.7
	ShortResponseChars   = 120
	MinShortResponses    = 3
	LowConfidenceThresh  = 0.35
	HistoryTailMessages  = 5
)

var (
	immediatePatterns = regexp.MustCompile(`(?i)\b(speak (to|with) (a |an )?(human|agent|person|representative)|talk to (a |an )?(human|agent|person)|real person|human agent|manager|supervisor|escalate (this|me)|legal action|lawyer|attorney|sue (you|us)|emergency)\b`)

	assistedPatterns = regexp.MustCompile(`(?i)\b(billing|refund|invoice|charge(d)?|account (is )?locked|locked out|payment (failed|issue|declined)|can'?t log ?in|login (issue|problem|failed)|password (reset|issue|problem)|subscription (issue|problem|cancel))\b`)

	frustrationPatterns = regexp.MustCompile(`(?i)\b(this is (ridiculous|useless|terrible|awful)|i'?m (so |really )?(frustrated|annoyed|angry|upset)|fed up|sick of this|waste of (my )?time|not helpful|still (not|doesn'?t) work(ing)?|worst (service|support))\b`)
)

// Detector evaluates the priority-ordered rule chain; first match wins.
type Detector struct{}

// New creates a Detector.
func New() *Detector { return &Detector{} }

// Evaluate runs the priority-ordered rule chain against one customer
// message, given the room's recent history (oldest first) and current
// collected entities. A nil result means no handover signal fired.
func (d *Detector) Evaluate(message string, history []model.Message, opts Options) *Verdict {
	identityKnown := hasIdentity(opts.CollectedEntities)

	if immediatePatterns.MatchString(message) {
		return &Verdict{
			ShouldHandover: true,
			Immediate:      true,
			Reason:         ReasonExplicitRequest,
			Confidence:     1.0,
			Message:        "Customer explicitly requested a human agent.",
		}
	}

	if assistedPatterns.MatchString(message) {
		return &Verdict{
			ShouldHandover: true,
			Immediate:      identityKnown,
			Reason:         ReasonAccountIssue,
			Confidence:     0.85,
			Message:        "Customer message matches a billing/account/technical pattern.",
		}
	}

	if frustrationPatterns.MatchString(message) {
		return &Verdict{
			ShouldHandover: true,
			Immediate:      identityKnown,
			Reason:         ReasonFrustration,
			Confidence:     0.9,
			Message:        "Customer message indicates frustration.",
		}
	}

	if v := d.detectRepetitive(message, history); v != nil {
		return v
	}

	if v := detectProlonged(history); v != nil {
		return v
	}

	if v := detectLowConfidence(history); v != nil {
		return v
	}

	return nil
}

// detectRepetitive counts, over the last HistoryTailMessages customer
// messages, how many pairs against the newest message reach the Jaccard
// similarity threshold, and fires at MaxSimilarQuestions.
func (d *Detector) detectRepetitive(message string, history []model.Message) *Verdict {
	customer := lastCustomerMessages(history, HistoryTailMessages)
	similar := 0
	for _, m := range customer {
		if jaccard(message, m.Content) >= SimilarityThreshold {
			similar++
		}
	}
	if similar >= MaxSimilarQuestions {
		return &Verdict{
			ShouldHandover: true,
			Immediate:      false,
			Reason:         ReasonRepetitive,
			Confidence:     0.8,
			Message:        "Customer has repeated similar questions without resolution.",
		}
	}
	return nil
}

// detectProlonged fires when the tail of the conversation shows both a long
// back-and-forth and several terse AI responses, a sign the assistant is
// stalling.
func detectProlonged(history []model.Message) *Verdict {
	if len(history) < MaxBackAndForth {
		return nil
	}
	tail := history
	if len(tail) > MaxBackAndForth {
		tail = tail[len(tail)-MaxBackAndForth:]
	}
	shortAI := 0
	for _, m := range tail {
		if m.SenderType == model.SenderAI && len(m.Content) < ShortResponseChars {
			shortAI++
		}
	}
	if shortAI >= MinShortResponses {
		return &Verdict{
			ShouldHandover: true,
			Immediate:      false,
			Reason:         ReasonProlonged,
			Confidence:     0.75,
			Message:        "Conversation has gone back and forth without a substantive resolution.",
		}
	}
	return nil
}

// detectLowConfidence fires on two consecutive low-confidence AI answers at
// the tail of the history.
func detectLowConfidence(history []model.Message) *Verdict {
	var lastTwoAI []model.Message
	for i := len(history) - 1; i >= 0 && len(lastTwoAI) < 2; i-- {
		if history[i].SenderType == model.SenderAI {
			lastTwoAI = append(lastTwoAI, history[i])
		}
	}
	if len(lastTwoAI) < 2 {
		return nil
	}
	for _, m := range lastTwoAI {
		if m.Metadata == nil || m.Metadata.Confidence == nil || *m.Metadata.Confidence >= LowConfidenceThresh {
			return nil
		}
	}
	return &Verdict{
		ShouldHandover: true,
		Immediate:      false,
		Reason:         ReasonLowConfidence,
		Confidence:     0.7,
		Message:        "Recent AI answers have been low-confidence.",
	}
}

func hasIdentity(entities map[string]any) bool {
	for _, k := range []string{"email", "name", "phone"} {
		if v, ok := entities[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return true
			}
		}
	}
	return false
}

func lastCustomerMessages(history []model.Message, n int) []model.Message {
	var out []model.Message
	for i := len(history) - 1; i >= 0 && len(out) < n; i-- {
		if history[i].SenderType == model.SenderCustomer {
			out = append(out, history[i])
		}
	}
	return out
}

// jaccard computes word-set Jaccard similarity between two strings.
func jaccard(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'")
		if w != "" {
			set[w] = true
		}
	}
	return set
}
