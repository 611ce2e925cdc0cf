// Package domain defines the core types shared by every pipeline stage:
// documents, segments, embeddings, retrieval results and answers, plus the
// error taxonomy the stages report with.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// TextBlock is one unit of extracted text, typically a page.
type TextBlock struct {
	Text string            `json:"text"`
	Meta map[string]string `json:"meta,omitempty"`
}

// Document is a source file reduced to ordered text blocks.
type Document struct {
	Name   string      `json:"name"`
	Source string      `json:"source"`
	Blocks []TextBlock `json:"blocks"`
}

// Text joins all blocks with single spaces.
func (d Document) Text() string {
	parts := make([]string, 0, len(d.Blocks))
	for _, b := range d.Blocks {
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, " ")
}

// SegmentID identifies a segment by its document and 1-based position.
type SegmentID struct {
	Document string `json:"document"`
	Position int    `json:"position"`
}

func (id SegmentID) String() string { return fmt.Sprintf("%s#%d", id.Document, id.Position) }

// Label is the key used for the segment in the chunk artifact.
func (id SegmentID) Label() string { return fmt.Sprintf("chunk_%d", id.Position) }

// Segment is a contiguous window of a document's text.
type Segment struct {
	ID   SegmentID `json:"id"`
	Text string    `json:"text"`
}

// Embedding is a vector tied to the segment it was computed from.
type Embedding struct {
	ID     SegmentID `json:"id"`
	Vector []float32 `json:"vector"`
}

// Metric selects the distance function of an index.
type Metric string

const (
	MetricL2     Metric = "l2"
	MetricCosine Metric = "cosine"
)

// ParseMetric accepts "l2" and "cosine" (case-insensitive); empty means l2.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "l2", "euclidean":
		return MetricL2, nil
	case "cosine":
		return MetricCosine, nil
	}
	return "", fmt.Errorf("domain: unknown metric %q", s)
}

// Hit is one retrieved segment.
type Hit struct {
	ID       SegmentID `json:"id"`
	Text     string    `json:"text"`
	Distance float32   `json:"distance"`
	Rank     int       `json:"rank"`
}

// RetrievalResult is the ranked answer to a similarity query.
type RetrievalResult struct {
	Query string `json:"query"`
	Hits  []Hit  `json:"hits"`
}

// Texts returns hit texts in rank order.
func (r RetrievalResult) Texts() []string {
	out := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		out[i] = h.Text
	}
	return out
}

// Answer is the synthesized response with the segments it was grounded on.
type Answer struct {
	Query     string        `json:"query"`
	Text      string        `json:"text"`
	Sources   []Hit         `json:"sources"`
	Model     string        `json:"model"`
	TimeTaken time.Duration `json:"time_taken"`
}

// GenerationParams are the decoding parameters sent with every prompt.
type GenerationParams struct {
	Temperature  float64 `json:"temperature"`
	MaxNewTokens int     `json:"max_new_tokens"`
}
