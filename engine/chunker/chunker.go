// Package chunker splits documents into ordered, overlapping windows of
// whitespace-delimited tokens.
package chunker

import (
	"fmt"
	"strings"

	"github.com/WessleyAI/docqa/engine/domain"
)

const (
	// DefaultSize is the number of tokens per segment.
	DefaultSize = 200
	// DefaultOverlap is the number of tokens shared by consecutive segments.
	DefaultOverlap = 75
)

// Chunker holds a validated window configuration.
type Chunker struct {
	size    int
	overlap int
}

// New returns a Chunker. size must be positive and overlap must be in [0, size).
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunker: size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunker: overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the window size in tokens.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the overlap in tokens.
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the window texts of text. Windows start every size-overlap
// tokens and the last window is the first one that reaches the final token.
func (c *Chunker) Split(text string) []string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}
	stride := c.size - c.overlap
	var out []string
	for start := 0; ; start += stride {
		end := min(start+c.size, len(tokens))
		out = append(out, strings.Join(tokens[start:end], " "))
		if end == len(tokens) {
			break
		}
	}
	return out
}

// Chunk splits a document into segments numbered from 1.
func (c *Chunker) Chunk(doc domain.Document) []domain.Segment {
	windows := c.Split(doc.Text())
	segs := make([]domain.Segment, len(windows))
	for i, w := range windows {
		segs[i] = domain.Segment{
			ID:   domain.SegmentID{Document: doc.Name, Position: i + 1},
			Text: w,
		}
	}
	return segs
}
