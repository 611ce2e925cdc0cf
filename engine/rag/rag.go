// Package rag answers a question from the indexed corpus: it embeds the
// query, retrieves the nearest segments and asks a generation service to
// answer from them.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/docqa/engine/domain"
)

// DefaultTopK is the number of segments retrieved per query.
const DefaultTopK = 4

// Searcher finds the k nearest indexed segments to a vector. Both the local
// index and the Qdrant mirror satisfy it.
type Searcher interface {
	Search(ctx context.Context, vec []float32, k int) ([]domain.Hit, error)
}

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// IndexInfo is what the index recorded about the vectors it holds.
type IndexInfo struct {
	Model     string
	Dimension int
}

// Retriever embeds queries and searches the index.
type Retriever struct {
	embed  QueryEmbedder
	search Searcher
	info   IndexInfo
	logger *slog.Logger
}

// NewRetriever creates a Retriever. info must describe the index behind s.
func NewRetriever(e QueryEmbedder, s Searcher, info IndexInfo, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embed: e, search: s, info: info, logger: logger}
}

// Retrieve returns the k segments nearest to query, DefaultTopK when k <= 0.
// An embedder whose model or dimension differs from the index's is refused,
// since its vectors live in a different space.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) (domain.RetrievalResult, error) {
	if err := domain.ValidateQuery(query); err != nil {
		return domain.RetrievalResult{}, fmt.Errorf("rag: retrieve: %w", err)
	}
	if k <= 0 {
		k = DefaultTopK
	}
	if r.info.Model != "" && r.embed.Model() != r.info.Model {
		return domain.RetrievalResult{}, &domain.RetrievalError{
			Err: fmt.Errorf("index built with model %q, query embedder uses %q", r.info.Model, r.embed.Model()),
		}
	}

	vec, err := r.embed.EmbedQuery(ctx, query)
	if err != nil {
		return domain.RetrievalResult{}, fmt.Errorf("rag: retrieve: %w", err)
	}
	if r.info.Dimension > 0 && len(vec) != r.info.Dimension {
		return domain.RetrievalResult{}, &domain.RetrievalError{
			Err: fmt.Errorf("query vector dimension %d, index dimension %d", len(vec), r.info.Dimension),
		}
	}

	hits, err := r.search.Search(ctx, vec, k)
	if err != nil {
		return domain.RetrievalResult{}, &domain.RetrievalError{Err: fmt.Errorf("search: %w", err)}
	}
	r.logger.Info("rag: retrieved", "k", k, "hits", len(hits))
	return domain.RetrievalResult{Query: query, Hits: hits}, nil
}

// Options configures a Service.
type Options struct {
	TopK int
	// CachePath, when set, receives every retrieval result before answering.
	CachePath string
	Logger    *slog.Logger
}

// Service runs retrieve → optional cache → answer.
type Service struct {
	retriever *Retriever
	answerer  *Answerer
	opts      Options
	logger    *slog.Logger
}

// New creates a Service.
func New(r *Retriever, a *Answerer, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{retriever: r, answerer: a, opts: opts, logger: logger}
}

// Ask answers query from the index.
func (s *Service) Ask(ctx context.Context, query string) (domain.Answer, error) {
	start := time.Now()
	s.logger.Info("rag query start", "query_len", len(query))

	res, err := s.retriever.Retrieve(ctx, query, s.opts.TopK)
	if err != nil {
		return domain.Answer{}, err
	}
	if s.opts.CachePath != "" {
		if err := SaveCache(s.opts.CachePath, res); err != nil {
			return domain.Answer{}, fmt.Errorf("rag: ask: %w", err)
		}
		s.logger.Info("rag: retrieval cached", "path", s.opts.CachePath)
	}

	ans, err := s.answerer.Answer(ctx, res.Query, res.Hits)
	if err != nil {
		return domain.Answer{}, err
	}
	ans.TimeTaken = time.Since(start)
	return ans, nil
}

// Replay answers from a cached retrieval without embedding the query again.
func (s *Service) Replay(ctx context.Context, path string) (domain.Answer, error) {
	start := time.Now()
	res, err := LoadCache(path)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("rag: replay: %w", err)
	}
	s.logger.Info("rag: replaying cached retrieval", "path", path, "hits", len(res.Hits))
	ans, err := s.answerer.Answer(ctx, res.Query, res.Hits)
	if err != nil {
		return domain.Answer{}, err
	}
	ans.TimeTaken = time.Since(start)
	return ans, nil
}
