package domain

import (
	"fmt"
	"strings"
)

// ValidateQuery rejects queries that are empty after trimming.
func ValidateQuery(q string) error {
	if strings.TrimSpace(q) == "" {
		return NewValidationError("query", q, ErrEmptyQuery)
	}
	return nil
}

// ValidateDocumentName rejects names that cannot be used as artifact names.
func ValidateDocumentName(name string) error {
	if strings.TrimSpace(name) == "" {
		return NewValidationError("name", name, ErrInvalidDocument)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return NewValidationError("name", name, ErrInvalidDocument)
	}
	return nil
}

// ValidateSegments checks that segments belong to doc and are numbered 1..n
// in order.
func ValidateSegments(doc string, segs []Segment) error {
	for i, s := range segs {
		if s.ID.Document != doc {
			return fmt.Errorf("segment %d: belongs to %q, want %q", i+1, s.ID.Document, doc)
		}
		if s.ID.Position != i+1 {
			return fmt.Errorf("segment %d: position %d out of order", i+1, s.ID.Position)
		}
	}
	return nil
}
