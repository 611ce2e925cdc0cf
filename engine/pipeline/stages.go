package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/WessleyAI/docqa/engine/chunker"
	"github.com/WessleyAI/docqa/engine/chunkstore"
	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/engine/extract"
	"github.com/WessleyAI/docqa/pkg/fn"
)

// ChunkedDoc is a document after chunking.
type ChunkedDoc struct {
	Doc      domain.Document
	Segments []domain.Segment
}

// LoggedTap returns a stage that logs entry/exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Debug("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Debug("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

// NewExtract loads a file path into a Document.
func NewExtract(e extract.Extractor) fn.Stage[string, domain.Document] {
	return func(ctx context.Context, path string) fn.Result[domain.Document] {
		doc, err := extract.Load(ctx, e, path)
		if err != nil {
			return fn.Err[domain.Document](err)
		}
		if err := domain.ValidateDocumentName(doc.Name); err != nil {
			return fn.Err[domain.Document](&domain.ExtractionError{Document: doc.Name, Err: err})
		}
		return fn.Ok(doc)
	}
}

// NewChunk splits a Document into segments.
func NewChunk(c *chunker.Chunker) fn.Stage[domain.Document, ChunkedDoc] {
	return fn.MapStage(func(doc domain.Document) ChunkedDoc {
		return ChunkedDoc{Doc: doc, Segments: c.Chunk(doc)}
	})
}

// NewSave persists a chunked document and returns its manifest entry.
func NewSave(store *chunkstore.Store) fn.Stage[ChunkedDoc, chunkstore.ManifestEntry] {
	return func(_ context.Context, cd ChunkedDoc) fn.Result[chunkstore.ManifestEntry] {
		if err := store.Save(cd.Doc.Name, cd.Segments); err != nil {
			return fn.Err[chunkstore.ManifestEntry](err)
		}
		return fn.Ok(chunkstore.ManifestEntry{
			Document: cd.Doc.Name,
			Artifact: chunkstore.ArtifactName(cd.Doc.Name),
			Source:   cd.Doc.Source,
			Segments: len(cd.Segments),
		})
	}
}

// NewDocumentPipeline composes extract → chunk → save with logging taps
// between stages and a span around the whole chain.
func NewDocumentPipeline(e extract.Extractor, c *chunker.Chunker, store *chunkstore.Store, log *slog.Logger) fn.Stage[string, chunkstore.ManifestEntry] {
	extracted := fn.Then(LoggedTap[string]("extract", log), NewExtract(e))
	chunked := fn.Then(extracted, fn.Then(LoggedTap[domain.Document]("chunk", log), NewChunk(c)))
	saved := fn.Then(chunked, fn.Then(LoggedTap[ChunkedDoc]("save", log), NewSave(store)))
	return fn.TracedStage("pipeline.document", saved)
}
