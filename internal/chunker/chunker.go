// Package chunker splits document text into overlapping chunks using a
// recursive separator strategy: try to split on paragraph boundaries
// first, falling back to progressively finer separators only for
// segments that are still too large.
package chunker

import (
	"fmt"
	"strings"
)

// DefaultSize and DefaultOverlap are the character-count defaults used
// when a tenant does not override chunking parameters.
const (
	DefaultSize    = 1000
	DefaultOverlap = 100
)

// separators are tried in order, coarsest first. The empty string as a
// final separator means "split on individual characters" — it always
// succeeds, guaranteeing termination.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter splits text into overlapping chunks bounded by chunkSize
// characters, with chunkOverlap characters duplicated between adjacent
// chunks for retrieval continuity.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
}

// New creates a Splitter. A non-positive size falls back to DefaultSize;
// a negative overlap, or one that is not smaller than the chunk size,
// falls back to DefaultOverlap.
func New(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = DefaultOverlap
	}
	return &Splitter{chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

// Split splits text into ordered chunks, each at most chunkSize
// characters before overlap is added (except where a single atomic unit
// cannot be split further); every chunk after the first is then prefixed
// with chunkOverlap characters of trailing context from the previous one.
func (s *Splitter) Split(text string) ([]string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("chunker.Split: text is empty")
	}

	pieces := s.recursiveSplit(trimmed, separators)
	merged := s.mergeSmallPieces(pieces)
	return s.applyOverlap(merged), nil
}

// recursiveSplit splits text on the first separator that actually divides
// it into pieces no larger than chunkSize, recursing into any oversized
// piece with the remaining, finer separators.
func (s *Splitter) recursiveSplit(text string, seps []string) []string {
	if len(text) <= s.chunkSize {
		return []string{text}
	}
	if len(seps) == 0 {
		return []string{text}
	}

	sep, rest := seps[0], seps[1:]

	var parts []string
	if sep == "" {
		parts = splitChars(text, s.chunkSize)
	} else {
		parts = strings.Split(text, sep)
	}

	var out []string
	for i, p := range parts {
		if p == "" {
			continue
		}
		if sep != "" && i < len(parts)-1 {
			p += sep
		}
		if len(p) > s.chunkSize {
			out = append(out, s.recursiveSplit(p, rest)...)
		} else {
			out = append(out, p)
		}
	}
	return out
}

// splitChars breaks text into fixed-size runs as the separator of last resort.
func splitChars(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// mergeSmallPieces greedily combines consecutive pieces so each resulting
// chunk is as close to chunkSize as possible without exceeding it.
func (s *Splitter) mergeSmallPieces(pieces []string) []string {
	var out []string
	var current strings.Builder

	for _, p := range pieces {
		if current.Len() > 0 && current.Len()+len(p) > s.chunkSize {
			out = append(out, strings.TrimSpace(current.String()))
			current.Reset()
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		out = append(out, strings.TrimSpace(current.String()))
	}

	filtered := out[:0]
	for _, c := range out {
		if c != "" {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// applyOverlap prepends the trailing chunkOverlap characters of each
// chunk to the following chunk.
func (s *Splitter) applyOverlap(chunks []string) []string {
	if len(chunks) <= 1 || s.chunkOverlap <= 0 {
		return chunks
	}

	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		n := s.chunkOverlap
		if n > len(prev) {
			n = len(prev)
		}
		tail := string(prev[len(prev)-n:])
		out[i] = tail + chunks[i]
	}
	return out
}
