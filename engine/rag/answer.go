package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/pkg/fn"
	"github.com/WessleyAI/docqa/pkg/metrics"
	"github.com/WessleyAI/docqa/pkg/resilience"
)

// GenerationParams are the decoding parameters sent with every prompt.
type GenerationParams = domain.GenerationParams

// DefaultGenerationParams keeps answers short and close to the context.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{Temperature: 0.1, MaxNewTokens: 300}
}

// Generator is the text generation provider boundary.
type Generator interface {
	Generate(ctx context.Context, prompt string, p GenerationParams) (string, error)
	Model() string
}

const promptTemplate = `Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

%s

Question: %s
Helpful Answer:`

// BuildPrompt stuffs every context text into a single prompt.
func BuildPrompt(query string, texts []string) string {
	return fmt.Sprintf(promptTemplate, strings.Join(texts, "\n\n"), query)
}

// AnswerOptions configures an Answerer.
type AnswerOptions struct {
	Params GenerationParams
	Retry  fn.RetryOpts
	// Breaker guards the provider across Answer calls. A zero value uses
	// resilience.DefaultBreakerOpts.
	Breaker resilience.BreakerOpts
	// Timeout bounds each generation call. Zero disables it.
	Timeout time.Duration
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Answerer synthesizes an answer from retrieved hits.
type Answerer struct {
	gen    Generator
	opts   AnswerOptions
	logger *slog.Logger
	stage  fn.Stage[string, string]
}

// NewAnswerer creates an Answerer. Zero params fall back to the defaults.
func NewAnswerer(gen Generator, opts AnswerOptions) *Answerer {
	if opts.Params == (GenerationParams{}) {
		opts.Params = DefaultGenerationParams()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Answerer{gen: gen, opts: opts, logger: logger}

	ropts := opts.Retry
	ropts.ShouldRetry = domain.IsRetryable
	ropts.OnRetry = func(attempt int, err error, wait time.Duration) {
		opts.Metrics.IncRetry(domain.ServiceGeneration)
		logger.Warn("rag: retrying generation", "attempt", attempt, "wait", wait, "error", err)
	}
	bopts := opts.Breaker
	bopts.Counts = domain.IsRetryable
	bopts.OnStateChange = func(from, to resilience.State) {
		opts.Metrics.SetBreakerState(domain.ServiceGeneration, int(to))
		logger.Warn("rag: circuit breaker", "from", from.String(), "to", to.String())
	}
	// The breaker wraps the whole retry loop so it only counts prompts whose
	// attempts were all spent.
	a.stage = resilience.BreakerStage(resilience.NewBreaker(bopts), fn.RetryStage(ropts, fn.FuncStage(a.generate)))
	return a
}

// Answer returns the generated text verbatim together with its sources.
func (a *Answerer) Answer(ctx context.Context, query string, hits []domain.Hit) (domain.Answer, error) {
	if err := domain.ValidateQuery(query); err != nil {
		return domain.Answer{}, fmt.Errorf("rag: answer: %w", err)
	}
	prompt := BuildPrompt(query, domain.RetrievalResult{Query: query, Hits: hits}.Texts())

	text, err := a.stage(ctx, prompt).Unwrap()
	if errors.Is(err, resilience.ErrCircuitOpen) {
		err = &domain.ServiceError{Service: domain.ServiceGeneration, Kind: domain.KindTerminal, Detail: "provider keeps failing", Err: err}
	}
	if err != nil {
		return domain.Answer{}, fmt.Errorf("rag: answer: %w", err)
	}

	a.logger.Info("rag: answered", "sources", len(hits), "model", a.gen.Model(), "answer_len", len(text))
	return domain.Answer{Query: query, Text: text, Sources: hits, Model: a.gen.Model()}, nil
}

func (a *Answerer) generate(ctx context.Context, prompt string) (string, error) {
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}
	start := time.Now()
	text, err := a.gen.Generate(ctx, prompt, a.opts.Params)
	a.opts.Metrics.ObserveCall(domain.ServiceGeneration, time.Since(start), err)
	if err != nil {
		var se *domain.ServiceError
		if errors.As(err, &se) {
			return "", err
		}
		return "", domain.NewTransportError(domain.ServiceGeneration, err)
	}
	return text, nil
}
