package handover

import (
	"testing"

	"github.com/aurorabench/converge-backend/internal/model"
)

func TestEvaluate_ImmediateExplicitRequest(t *testing.T) {
	d := New()
	v := d.Evaluate("I want to speak to a human agent", nil, Options{})
	if v == nil {
		t.Fatal("expected a verdict")
	}
	if !v.Immediate || v.Reason != ReasonExplicitRequest || v.Confidence != 1.0 {
		t.Errorf("got %+v", v)
	}
}

func TestEvaluate_AssistedNotImmediateWithoutIdentity(t *testing.T) {
	d := New()
	v := d.Evaluate("My payment failed and I can't log in", nil, Options{})
	if v == nil {
		t.Fatal("expected a verdict")
	}
	if v.Immediate {
		t.Error("expected assisted (non-immediate) without known identity")
	}
	if v.Reason != ReasonAccountIssue {
		t.Errorf("reason = %s, want %s", v.Reason, ReasonAccountIssue)
	}
}

func TestEvaluate_AssistedPromotedToImmediateWithIdentity(t *testing.T) {
	d := New()
	opts := Options{CollectedEntities: map[string]any{"email": "jane@x.co"}}
	v := d.Evaluate("My payment failed", nil, opts)
	if v == nil || !v.Immediate {
		t.Fatalf("expected promotion to immediate, got %+v", v)
	}
}

func TestEvaluate_NoSignal(t *testing.T) {
	d := New()
	v := d.Evaluate("What are your opening hours?", nil, Options{})
	if v != nil {
		t.Errorf("expected no verdict, got %+v", v)
	}
}

func TestEvaluate_RepetitiveQuestions(t *testing.T) {
	d := New()
	history := []model.Message{
		{SenderType: model.SenderCustomer, Content: "how do I reset my password please"},
		{SenderType: model.SenderAI, Content: "Here is how to reset your password."},
		{SenderType: model.SenderCustomer, Content: "how do I reset my password now"},
		{SenderType: model.SenderAI, Content: "Here is how to reset your password again."},
		{SenderType: model.SenderCustomer, Content: "how do I reset my password today"},
	}
	v := d.Evaluate("how do I reset my password", history, Options{})
	if v == nil {
		t.Fatal("expected a verdict")
	}
	if v.Reason != ReasonRepetitive {
		t.Errorf("reason = %s, want %s", v.Reason, ReasonRepetitive)
	}
	if v.Immediate {
		t.Error("repetitive questions should not be immediate")
	}
}

func TestEvaluate_ProlongedBackAndForth(t *testing.T) {
	d := New()
	var history []model.Message
	for i := 0; i < 6; i++ {
		history = append(history,
			model.Message{SenderType: model.SenderCustomer, Content: "still not working"},
			model.Message{SenderType: model.SenderAI, Content: "Try again."},
		)
	}
	v := d.Evaluate("anything else?", history, Options{})
	if v == nil {
		t.Fatal("expected a verdict")
	}
	if v.Reason != ReasonProlonged {
		t.Errorf("reason = %s, want %s", v.Reason, ReasonProlonged)
	}
}

func TestEvaluate_LowAIConfidence(t *testing.T) {
	d := New()
	low := 0.2
	history := []model.Message{
		{SenderType: model.SenderCustomer, Content: "hmm"},
		{SenderType: model.SenderAI, Content: "Not sure.", Metadata: &model.MessageMetadata{Confidence: &low}},
		{SenderType: model.SenderCustomer, Content: "ok"},
		{SenderType: model.SenderAI, Content: "Still not sure.", Metadata: &model.MessageMetadata{Confidence: &low}},
	}
	v := d.Evaluate("what now", history, Options{})
	if v == nil {
		t.Fatal("expected a verdict")
	}
	if v.Reason != ReasonLowConfidence {
		t.Errorf("reason = %s, want %s", v.Reason, ReasonLowConfidence)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	d := New()
	history := []model.Message{
		{SenderType: model.SenderCustomer, Content: "this is ridiculous"},
	}
	first := d.Evaluate("this is ridiculous and useless", history, Options{})
	second := d.Evaluate("this is ridiculous and useless", history, Options{})
	if first == nil || second == nil {
		t.Fatal("expected a verdict both times")
	}
	if *first != *second {
		t.Errorf("detector is not deterministic: %+v vs %+v", first, second)
	}
}
