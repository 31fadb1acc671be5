package chunker

import (
	"strings"
	"testing"
)

func TestSplit_ShortTextReturnsSingleChunk(t *testing.T) {
	s := New(DefaultSize, DefaultOverlap)
	chunks, err := s.Split("A short paragraph that fits in one chunk.")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
}

func TestSplit_EmptyTextErrors(t *testing.T) {
	s := New(DefaultSize, DefaultOverlap)
	if _, err := s.Split("   "); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestSplit_LongTextProducesMultipleChunksWithinSize(t *testing.T) {
	s := New(100, 20)
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("This is sentence number ")
		sb.WriteString(strings.Repeat("x", 5))
		sb.WriteString(". ")
	}

	chunks, err := s.Split(sb.String())
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 150 { // chunkSize + overlap slack
			t.Errorf("chunk %d too long: %d chars", i, len(c))
		}
	}
}

func TestSplit_AdjacentChunksShareOverlap(t *testing.T) {
	s := New(50, 15)
	text := strings.Repeat("word ", 100)

	chunks, err := s.Split(text)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatal("expected multiple chunks to verify overlap")
	}
	// the start of chunk[1] should reuse trailing characters of chunk[0]
	tail := chunks[0]
	if len(tail) > 15 {
		tail = tail[len(tail)-15:]
	}
	if !strings.HasPrefix(chunks[1], tail) {
		t.Errorf("chunk 1 does not start with overlap from chunk 0")
	}
}

func TestSplit_SingleHugeWordStillTerminates(t *testing.T) {
	s := New(10, 2)
	text := strings.Repeat("a", 1000)

	chunks, err := s.Split(text)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
}

func TestNew_InvalidParamsFallBackToDefaults(t *testing.T) {
	s := New(-5, -1)
	if s.chunkSize != DefaultSize {
		t.Errorf("chunkSize = %d, want default", s.chunkSize)
	}
	if s.chunkOverlap != DefaultOverlap {
		t.Errorf("chunkOverlap = %d, want default", s.chunkOverlap)
	}
}
