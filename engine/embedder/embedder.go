// Package embedder turns the ordered corpus into identified vectors by
// calling a remote embedding service in bounded, order-preserving batches.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/pkg/fn"
	"github.com/WessleyAI/docqa/pkg/metrics"
	"github.com/WessleyAI/docqa/pkg/resilience"
)

// Service is the embedding provider boundary. Implementations must return
// one vector per input, in input order.
type Service interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Options configures an Embedder.
type Options struct {
	BatchSize   int
	Concurrency int
	// Timeout bounds each service call. Zero disables it.
	Timeout time.Duration
	Retry   fn.RetryOpts
	// RateLimit caps service calls per second. Zero disables it.
	RateLimit float64
	Breaker   resilience.BreakerOpts
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		BatchSize:   32,
		Concurrency: 4,
		Timeout:     60 * time.Second,
		Retry:       fn.DefaultRetry,
		Breaker:     resilience.DefaultBreakerOpts,
	}
}

// Embedder wraps a Service with batching, retry and circuit breaking.
type Embedder struct {
	svc     Service
	opts    Options
	limiter *rate.Limiter
	breaker *resilience.Breaker
	log     *slog.Logger
}

// New returns an Embedder around svc.
func New(svc Service, opts Options) *Embedder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	e := &Embedder{svc: svc, opts: opts, log: log}
	if opts.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Concurrency)
	}

	bopts := opts.Breaker
	bopts.Counts = domain.IsRetryable
	bopts.OnStateChange = func(from, to resilience.State) {
		opts.Metrics.SetBreakerState(domain.ServiceEmbedding, int(to))
		log.Warn("embedder: circuit breaker", "from", from.String(), "to", to.String())
	}
	e.breaker = resilience.NewBreaker(bopts)
	return e
}

// Model returns the service's model identifier.
func (e *Embedder) Model() string { return e.svc.Model() }

// EmbedCorpus embeds segments in order. The returned embeddings carry the
// segment IDs and share one dimension. Nothing is returned on failure.
func (e *Embedder) EmbedCorpus(ctx context.Context, segs []domain.Segment) ([]domain.Embedding, error) {
	if len(segs) == 0 {
		return []domain.Embedding{}, nil
	}
	batches := fn.Batches(segs, e.opts.BatchSize)
	total := len(batches)
	var done atomic.Int32

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	results := fn.ParMapResult(runCtx, batches, e.opts.Concurrency, func(ctx context.Context, b fn.Batch[domain.Segment]) fn.Result[[][]float32] {
		texts := make([]string, len(b.Items))
		for i, s := range b.Items {
			texts[i] = s.Text
		}
		r := e.call(ctx, texts)
		if r.IsErr() {
			cancel(r.Error())
			return r
		}
		e.log.Debug("embedder: batch done", "done", done.Add(1), "batches", total, "offset", b.Offset)
		return r
	})
	if err := context.Cause(runCtx); err != nil {
		return nil, fmt.Errorf("embedder: embed corpus: %w", err)
	}
	vecs, err := fn.Collect(results).Unwrap()
	if err != nil {
		return nil, fmt.Errorf("embedder: embed corpus: %w", err)
	}

	// Each batch fills its own slots, so corpus order holds regardless of
	// which batch finished first.
	out := make([]domain.Embedding, len(segs))
	dim := len(vecs[0][0])
	for bi, b := range batches {
		for i, seg := range b.Items {
			v := vecs[bi][i]
			if len(v) == 0 || len(v) != dim {
				return nil, &domain.ServiceError{
					Service: domain.ServiceEmbedding,
					Kind:    domain.KindTerminal,
					Detail:  fmt.Sprintf("segment %s: vector dimension %d, expected %d", seg.ID, len(v), dim),
				}
			}
			out[b.Offset+i] = domain.Embedding{ID: seg.ID, Vector: v}
		}
	}
	e.log.Info("embedder: corpus embedded", "segments", len(out), "batches", total, "dimension", dim, "model", e.Model())
	return out, nil
}

// EmbedQuery embeds a single string with the same retry policy.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.call(ctx, []string{text}).Unwrap()
	if err != nil {
		return nil, fmt.Errorf("embedder: embed query: %w", err)
	}
	if len(vecs[0]) == 0 {
		return nil, &domain.ServiceError{Service: domain.ServiceEmbedding, Kind: domain.KindTerminal, Detail: "empty query vector"}
	}
	return vecs[0], nil
}

// call issues one batch with rate limiting, timeout and retry. The breaker
// sits outside the retry loop, so it only sees calls whose attempts are all
// spent.
func (e *Embedder) call(ctx context.Context, texts []string) fn.Result[[][]float32] {
	ropts := e.opts.Retry
	ropts.ShouldRetry = domain.IsRetryable
	ropts.OnRetry = func(attempt int, err error, wait time.Duration) {
		e.opts.Metrics.IncRetry(domain.ServiceEmbedding)
		e.log.Warn("embedder: retrying", "attempt", attempt, "wait", wait, "error", err)
	}

	r := resilience.CallResult(e.breaker, ctx, func(ctx context.Context) fn.Result[[][]float32] {
		return fn.Retry(ctx, ropts, func(ctx context.Context) fn.Result[[][]float32] {
			if e.limiter != nil {
				if err := e.limiter.Wait(ctx); err != nil {
					return fn.Err[[][]float32](err)
				}
			}
			return e.once(ctx, texts)
		})
	})
	if err := r.Error(); errors.Is(err, resilience.ErrCircuitOpen) {
		return fn.Err[[][]float32](&domain.ServiceError{
			Service: domain.ServiceEmbedding, Kind: domain.KindTerminal, Detail: "provider keeps failing", Err: err,
		})
	}
	return r
}

func (e *Embedder) once(ctx context.Context, texts []string) fn.Result[[][]float32] {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}
	start := time.Now()
	vecs, err := e.svc.EmbedBatch(ctx, texts)
	e.opts.Metrics.ObserveCall(domain.ServiceEmbedding, time.Since(start), err)
	if err != nil {
		return fn.Err[[][]float32](classify(err))
	}
	if len(vecs) != len(texts) {
		return fn.Err[[][]float32](&domain.ServiceError{
			Service: domain.ServiceEmbedding,
			Kind:    domain.KindTerminal,
			Detail:  fmt.Sprintf("got %d vectors for %d inputs", len(vecs), len(texts)),
		})
	}
	return fn.Ok(vecs)
}

func classify(err error) error {
	var se *domain.ServiceError
	if errors.As(err, &se) {
		return err
	}
	return domain.NewTransportError(domain.ServiceEmbedding, err)
}
