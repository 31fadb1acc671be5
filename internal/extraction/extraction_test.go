package extraction

import (
	"context"
	"testing"
)

func TestExtract_RegexOnly_Email(t *testing.T) {
	h := New(nil)
	got, err := h.Extract(context.Background(), "you can reach me at foo@bar.com")
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if got["email"] != "foo@bar.com" {
		t.Errorf("email = %v, want foo@bar.com", got["email"])
	}
}

func TestExtract_RegexOnly_NameAndPhone(t *testing.T) {
	h := New(nil)
	got, err := h.Extract(context.Background(), "Hi, I'm Jane Doe, call me at 555-123-4567")
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if got["name"] != "Jane Doe" {
		t.Errorf("name = %v, want Jane Doe", got["name"])
	}
	if got["phone"] == nil {
		t.Error("expected a phone number to be extracted")
	}
}

func TestExtract_NothingFound_ReturnsEmptyMap(t *testing.T) {
	h := New(nil)
	got, err := h.Extract(context.Background(), "what is your refund window?")
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty map", got)
	}
}

func TestExtract_EmailIsLowercased(t *testing.T) {
	h := New(nil)
	got, err := h.Extract(context.Background(), "Email: Jane.Doe@Example.COM")
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if got["email"] != "jane.doe@example.com" {
		t.Errorf("email = %v, want lowercased", got["email"])
	}
}
