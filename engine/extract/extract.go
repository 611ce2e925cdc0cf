// Package extract turns source files into ordered text blocks. Plain files
// are read as UTF-8 text and PDFs are read page by page with pdfcpu.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/WessleyAI/docqa/engine/domain"
)

// Extractor returns the text blocks of the file at path.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]domain.TextBlock, error)
}

// Router dispatches on file extension. Unknown extensions use the fallback.
type Router struct {
	byExt    map[string]Extractor
	fallback Extractor
	logger   *slog.Logger
}

// NewRouter returns a Router that reads ".pdf" with PDF and everything else as text.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		byExt:    map[string]Extractor{".pdf": NewPDF(logger)},
		fallback: Text{},
		logger:   logger,
	}
}

// Extract implements Extractor. Failures are returned as *domain.ExtractionError.
func (r *Router) Extract(ctx context.Context, path string) ([]domain.TextBlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		e = r.fallback
	}
	blocks, err := e.Extract(ctx, path)
	if err != nil {
		var xe *domain.ExtractionError
		if errors.As(err, &xe) {
			return nil, err
		}
		return nil, &domain.ExtractionError{Document: domain.DocumentName(path), Err: err}
	}
	r.logger.Debug("extract: done", "path", path, "blocks", len(blocks))
	return blocks, nil
}

// Load extracts path into a Document.
func Load(ctx context.Context, e Extractor, path string) (domain.Document, error) {
	blocks, err := e.Extract(ctx, path)
	if err != nil {
		return domain.Document{}, err
	}
	return domain.Document{Name: domain.DocumentName(path), Source: path, Blocks: blocks}, nil
}

// Text reads a file as UTF-8 text.
type Text struct{}

func (Text) Extract(_ context.Context, path string) ([]domain.TextBlock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, errors.New("not valid UTF-8 text")
	}
	return []domain.TextBlock{{Text: string(data), Meta: map[string]string{"source": path}}}, nil
}
