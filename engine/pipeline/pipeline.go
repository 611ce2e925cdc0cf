// Package pipeline runs the document-to-answer stages in order. Every stage
// reads its input back from the artifact the previous stage wrote, so each
// one can be re-run on its own.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/WessleyAI/docqa/engine/chunker"
	"github.com/WessleyAI/docqa/engine/chunkstore"
	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/engine/embedder"
	"github.com/WessleyAI/docqa/engine/extract"
	"github.com/WessleyAI/docqa/engine/index"
	"github.com/WessleyAI/docqa/engine/rag"
	"github.com/WessleyAI/docqa/engine/semantic"
	"github.com/WessleyAI/docqa/pkg/metrics"
)

// Stage names used in events, metrics and logs.
const (
	StageChunk = "chunk"
	StageEmbed = "embed"
	StageIndex = "index"
	StageAsk   = "ask"
)

// Paths locates every artifact.
type Paths struct {
	DocumentsDir   string
	ChunksDir      string
	EmbeddingsPath string
	IndexPath      string
	// CachePath, when set, receives the retrieval result of every Ask.
	CachePath string
}

// Mirror is an optional external copy of the index. Each build replaces it.
type Mirror interface {
	Metric() domain.Metric
	DeleteCollection(ctx context.Context) error
	EnsureCollection(ctx context.Context, dims int) error
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
	rag.Searcher
}

// Deps are the collaborators a Runner drives. Answerer is only needed by
// Ask; Mirror, Notifier and Metrics are optional.
type Deps struct {
	Extractor extract.Extractor
	Chunker   *chunker.Chunker
	Embedder  *embedder.Embedder
	Answerer  *rag.Answerer
	Mirror    Mirror
	Notifier  Notifier
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Options tunes the stages.
type Options struct {
	TopK   int
	Metric domain.Metric
	// SearchMirror answers queries from the mirror instead of the local index
	// when both use the same metric.
	SearchMirror bool
}

// Failure is a document that could not be chunked.
type Failure struct {
	Document string `json:"document"`
	Source   string `json:"source"`
	Err      string `json:"error"`
}

// ChunkSummary reports the outcome of the chunk stage.
type ChunkSummary struct {
	Documents int
	Segments  int
	Failures  []Failure
	Manifest  chunkstore.Manifest
}

// Runner executes the stages.
type Runner struct {
	paths Paths
	deps  Deps
	opts  Options
	store *chunkstore.Store
	log   *slog.Logger
}

// New creates a Runner.
func New(paths Paths, deps Deps, opts Options) *Runner {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.NewRouter(log)
	}
	return &Runner{
		paths: paths,
		deps:  deps,
		opts:  opts,
		store: chunkstore.New(paths.ChunksDir, log),
		log:   log,
	}
}

// track logs, measures and announces one stage run.
func (r *Runner) track(ctx context.Context, stage string, run func() (int, error)) error {
	r.log.Info("stage.enter", "stage", stage)
	start := time.Now()
	items, err := run()
	d := time.Since(start)

	r.deps.Metrics.ObserveStage(stage, items, d, err)
	if err != nil {
		r.log.Error("stage.failed", "stage", stage, "duration", d, "error", err)
	} else {
		r.log.Info("stage.exit", "stage", stage, "items", items, "duration", d)
	}
	if r.deps.Notifier != nil {
		ev := StageEvent{Stage: stage, Items: items, Duration: d, At: time.Now().UTC()}
		if err != nil {
			ev.Err = err.Error()
		}
		if nerr := r.deps.Notifier.Notify(context.WithoutCancel(ctx), ev); nerr != nil {
			r.log.Warn("pipeline: notify failed", "stage", stage, "error", nerr)
		}
	}
	return err
}

// Chunk extracts, chunks and saves every document in the documents
// directory, in name order. Extraction failures are collected and the batch
// continues; storage failures abort. The manifest is written last.
func (r *Runner) Chunk(ctx context.Context) (ChunkSummary, error) {
	var sum ChunkSummary
	err := r.track(ctx, StageChunk, func() (int, error) {
		if r.deps.Chunker == nil {
			return 0, errors.New("pipeline: chunk: no chunker configured")
		}
		files, err := listDocuments(r.paths.DocumentsDir)
		if err != nil {
			return 0, err
		}
		process := NewDocumentPipeline(r.deps.Extractor, r.deps.Chunker, r.store, r.log)

		seen := map[string]string{}
		var entries []chunkstore.ManifestEntry
		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return sum.Segments, fmt.Errorf("pipeline: chunk: %w", err)
			}
			name := domain.DocumentName(path)
			if prev, ok := seen[name]; ok {
				sum.Failures = append(sum.Failures, Failure{Document: name, Source: path,
					Err: fmt.Sprintf("document name already used by %s", prev)})
				continue
			}
			seen[name] = path

			entry, err := process(ctx, path).Unwrap()
			if err != nil {
				if errors.Is(err, domain.ErrExtraction) {
					r.log.Warn("pipeline: skipping document", "path", path, "error", err)
					sum.Failures = append(sum.Failures, Failure{Document: name, Source: path, Err: err.Error()})
					continue
				}
				return sum.Segments, fmt.Errorf("pipeline: chunk %s: %w", path, err)
			}
			entries = append(entries, entry)
			sum.Documents++
			sum.Segments += entry.Segments
		}

		m := chunkstore.Manifest{
			CreatedAt: time.Now().UTC(),
			ChunkSize: r.deps.Chunker.Size(),
			Overlap:   r.deps.Chunker.Overlap(),
			Documents: entries,
		}
		if err := r.store.SaveManifest(m); err != nil {
			return sum.Segments, fmt.Errorf("pipeline: chunk: %w", err)
		}
		sum.Manifest = m
		return sum.Segments, nil
	})
	return sum, err
}

func listDocuments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &domain.StorageError{Op: "list documents", Path: dir, Err: err}
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// Embed embeds the corpus listed in the manifest and writes the checkpoint.
func (r *Runner) Embed(ctx context.Context) (embedder.Checkpoint, error) {
	var cp embedder.Checkpoint
	err := r.track(ctx, StageEmbed, func() (int, error) {
		if r.deps.Embedder == nil {
			return 0, errors.New("pipeline: embed: no embedder configured")
		}
		corpus, _, err := r.store.Corpus()
		if err != nil {
			return 0, fmt.Errorf("pipeline: embed: %w", err)
		}
		embs, err := r.deps.Embedder.EmbedCorpus(ctx, corpus)
		if err != nil {
			return 0, fmt.Errorf("pipeline: embed: %w", err)
		}
		cp = embedder.NewCheckpoint(r.deps.Embedder.Model(), embs)
		if err := embedder.SaveCheckpoint(r.paths.EmbeddingsPath, cp); err != nil {
			return 0, fmt.Errorf("pipeline: embed: %w", err)
		}
		return len(embs), nil
	})
	return cp, err
}

// BuildIndex joins the corpus with the embedding checkpoint, saves the
// index and, when configured, mirrors it.
func (r *Runner) BuildIndex(ctx context.Context) (*index.Index, error) {
	var ix *index.Index
	err := r.track(ctx, StageIndex, func() (int, error) {
		corpus, _, err := r.store.Corpus()
		if err != nil {
			return 0, fmt.Errorf("pipeline: index: %w", err)
		}
		cp, err := embedder.LoadCheckpoint(r.paths.EmbeddingsPath)
		if err != nil {
			return 0, fmt.Errorf("pipeline: index: %w", err)
		}
		built, err := index.Build(corpus, cp.Embeddings, index.Options{Model: cp.Model, Metric: r.opts.Metric})
		if err != nil {
			return 0, fmt.Errorf("pipeline: index: %w", err)
		}
		if err := built.Save(r.paths.IndexPath); err != nil {
			return 0, fmt.Errorf("pipeline: index: %w", err)
		}
		if r.deps.Mirror != nil {
			if err := r.mirror(ctx, built); err != nil {
				return 0, fmt.Errorf("pipeline: index: %w", err)
			}
		}
		ix = built
		return built.Len(), nil
	})
	return ix, err
}

func (r *Runner) mirror(ctx context.Context, ix *index.Index) error {
	if m := r.deps.Mirror.Metric(); m != ix.Metric() {
		return fmt.Errorf("mirror uses %s, index uses %s", m, ix.Metric())
	}
	if err := r.deps.Mirror.DeleteCollection(ctx); err != nil {
		return err
	}
	if err := r.deps.Mirror.EnsureCollection(ctx, ix.Dimension()); err != nil {
		return err
	}
	entries := ix.Entries()
	records := make([]semantic.VectorRecord, len(entries))
	for i, e := range entries {
		records[i] = semantic.VectorRecord{ID: e.ID, Text: e.Text, Vector: e.Vector, Ordinal: i}
	}
	if err := r.deps.Mirror.Upsert(ctx, records); err != nil {
		return err
	}
	r.log.Info("pipeline: index mirrored", "points", len(records))
	return nil
}

func (r *Runner) service(retriever *rag.Retriever) (*rag.Service, error) {
	if r.deps.Answerer == nil {
		return nil, errors.New("pipeline: ask: no answerer configured")
	}
	return rag.New(retriever, r.deps.Answerer, rag.Options{TopK: r.opts.TopK, CachePath: r.paths.CachePath, Logger: r.log}), nil
}

// Ask loads the index and answers query from it.
func (r *Runner) Ask(ctx context.Context, query string) (domain.Answer, error) {
	var ans domain.Answer
	err := r.track(ctx, StageAsk, func() (int, error) {
		if r.deps.Embedder == nil {
			return 0, errors.New("pipeline: ask: no embedder configured")
		}
		ix, err := index.Load(r.paths.IndexPath)
		if err != nil {
			return 0, err
		}
		var searcher rag.Searcher = ix
		source := "index"
		if r.opts.SearchMirror && r.deps.Mirror != nil {
			if m := r.deps.Mirror.Metric(); m != ix.Metric() {
				r.log.Warn("pipeline: mirror metric differs from index, searching index", "mirror", m, "index", ix.Metric())
			} else {
				searcher, source = r.deps.Mirror, "mirror"
			}
		}
		r.log.Info("pipeline: searching", "searcher", source, "metric", ix.Metric(), "entries", ix.Len())
		retriever := rag.NewRetriever(r.deps.Embedder, searcher, rag.IndexInfo{Model: ix.Model(), Dimension: ix.Dimension()}, r.log)
		svc, err := r.service(retriever)
		if err != nil {
			return 0, err
		}
		ans, err = svc.Ask(ctx, query)
		if err != nil {
			return 0, err
		}
		return len(ans.Sources), nil
	})
	return ans, err
}

// Replay answers the cached retrieval at CachePath without embedding.
func (r *Runner) Replay(ctx context.Context) (domain.Answer, error) {
	var ans domain.Answer
	err := r.track(ctx, StageAsk, func() (int, error) {
		if r.paths.CachePath == "" {
			return 0, errors.New("pipeline: replay: no cache path configured")
		}
		svc, err := r.service(nil)
		if err != nil {
			return 0, err
		}
		ans, err = svc.Replay(ctx, r.paths.CachePath)
		if err != nil {
			return 0, err
		}
		return len(ans.Sources), nil
	})
	return ans, err
}

// All runs chunk, embed, index and ask in order, stopping at the first
// failing stage.
func (r *Runner) All(ctx context.Context, query string) (domain.Answer, ChunkSummary, error) {
	sum, err := r.Chunk(ctx)
	if err != nil {
		return domain.Answer{}, sum, err
	}
	if _, err := r.Embed(ctx); err != nil {
		return domain.Answer{}, sum, err
	}
	if _, err := r.BuildIndex(ctx); err != nil {
		return domain.Answer{}, sum, err
	}
	ans, err := r.Ask(ctx, query)
	return ans, sum, err
}
