// Package bootstrap wires configuration, logging, metrics, providers and the
// pipeline runner for the stage binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/docqa/engine/chunker"
	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/engine/embedder"
	"github.com/WessleyAI/docqa/engine/extract"
	"github.com/WessleyAI/docqa/engine/pipeline"
	"github.com/WessleyAI/docqa/engine/rag"
	"github.com/WessleyAI/docqa/engine/semantic"
	"github.com/WessleyAI/docqa/pkg/config"
	"github.com/WessleyAI/docqa/pkg/fn"
	"github.com/WessleyAI/docqa/pkg/hfhub"
	"github.com/WessleyAI/docqa/pkg/metrics"
	"github.com/WessleyAI/docqa/pkg/natsutil"
	"github.com/WessleyAI/docqa/pkg/ollama"
	"github.com/WessleyAI/docqa/pkg/openaiapi"
)

// Default Ollama models.
const (
	OllamaEmbedModel = "nomic-embed-text"
	OllamaGenModel   = "llama3.1:8b"
)

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// EmbedService returns the configured embedding provider.
func EmbedService(cfg config.Config) (embedder.Service, error) {
	switch cfg.EmbedProvider {
	case config.ProviderHF:
		return hfhub.NewEmbedClient(cfg.HFBaseURL, cfg.HFToken, cfg.EmbedModel), nil
	case config.ProviderOllama:
		model := cfg.EmbedModel
		if model == "" {
			model = OllamaEmbedModel
		}
		return ollama.NewEmbedClient(cfg.OllamaURL, model), nil
	case config.ProviderOpenAI:
		return openaiapi.NewEmbedClient(openaiapi.Config{APIKey: cfg.OpenAIKey, BaseURL: cfg.OpenAIBaseURL}, cfg.EmbedModel), nil
	}
	return nil, fmt.Errorf("bootstrap: unknown embed provider %q", cfg.EmbedProvider)
}

// Generator returns the configured generation provider.
func Generator(cfg config.Config) (rag.Generator, error) {
	switch cfg.GenProvider {
	case config.ProviderHF:
		if cfg.GenModel == "" {
			return nil, errors.New("bootstrap: HUGGINGFACE_REPO_ID or GEN_MODEL must name a text generation model")
		}
		return hfhub.NewGenerateClient(cfg.HFBaseURL, cfg.HFToken, cfg.GenModel), nil
	case config.ProviderOllama:
		model := cfg.GenModel
		if model == "" {
			model = OllamaGenModel
		}
		return ollama.NewGenerateClient(cfg.OllamaURL, model), nil
	case config.ProviderOpenAI:
		return openaiapi.NewChatClient(openaiapi.Config{APIKey: cfg.OpenAIKey, BaseURL: cfg.OpenAIBaseURL}, cfg.GenModel), nil
	}
	return nil, fmt.Errorf("bootstrap: unknown generation provider %q", cfg.GenProvider)
}

// App holds everything a stage binary needs.
type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Runner  *pipeline.Runner

	genErr  error
	closers []func()
}

// New wires an App from cfg. Optional backends (Qdrant, NATS) are only
// dialled when configured.
func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}

	metric, err := domain.ParseMetric(cfg.IndexMetric)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	retry := fn.DefaultRetry
	retry.MaxAttempts = cfg.RetryMaxAttempts

	svc, err := EmbedService(cfg)
	if err != nil {
		return nil, err
	}
	eopts := embedder.DefaultOptions()
	eopts.BatchSize = cfg.EmbedBatchSize
	eopts.Concurrency = cfg.EmbedConcurrency
	eopts.RateLimit = cfg.EmbedRateLimit
	eopts.Timeout = cfg.ServiceTimeout
	eopts.Retry = retry
	eopts.Metrics = app.Metrics
	eopts.Logger = logger

	deps := pipeline.Deps{
		Extractor: extract.NewRouter(logger),
		Chunker:   ch,
		Embedder:  embedder.New(svc, eopts),
		Metrics:   app.Metrics,
		Logger:    logger,
	}

	if gen, err := Generator(cfg); err != nil {
		app.genErr = err
	} else {
		deps.Answerer = rag.NewAnswerer(gen, rag.AnswerOptions{
			Params:  domain.GenerationParams{Temperature: cfg.Temperature, MaxNewTokens: cfg.MaxNewTokens},
			Retry:   retry,
			Timeout: cfg.ServiceTimeout,
			Metrics: app.Metrics,
			Logger:  logger,
		})
	}

	if cfg.QdrantURL != "" {
		vs, err := semantic.New(cfg.QdrantURL, cfg.QdrantCollection, metric)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, func() { vs.Close() })
		deps.Mirror = vs
		logger.Info("qdrant mirror enabled", "addr", cfg.QdrantURL, "collection", cfg.QdrantCollection)
	}
	if cfg.NATSURL != "" {
		nc, err := natsutil.Connect(cfg.NATSURL, "docqa", logger)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, func() { drain(nc) })
		deps.Notifier = pipeline.NewNATSNotifier(nc, cfg.NATSSubject)
		logger.Info("stage events enabled", "url", cfg.NATSURL, "subject", cfg.NATSSubject)
	}

	app.Runner = pipeline.New(pipeline.Paths{
		DocumentsDir:   cfg.DocumentsDir,
		ChunksDir:      cfg.ChunksDir,
		EmbeddingsPath: cfg.EmbeddingsPath(),
		IndexPath:      cfg.IndexPath(),
		CachePath:      cfg.CachePath(),
	}, deps, runnerOptions(cfg, metric, logger))
	return app, nil
}

// runnerOptions enables mirror search only when asked to. The mirror is
// rebuilt with the index, so a local index is never older than it.
func runnerOptions(cfg config.Config, metric domain.Metric, logger *slog.Logger) pipeline.Options {
	opts := pipeline.Options{TopK: cfg.TopK, Metric: metric, SearchMirror: cfg.QdrantURL != "" && cfg.QdrantSearch}
	searcher := "index"
	if opts.SearchMirror {
		searcher = "qdrant"
	}
	logger.Info("query searcher", "searcher", searcher, "metric", metric)
	return opts
}

func drain(nc *nats.Conn) {
	if err := nc.Drain(); err != nil {
		nc.Close()
	}
}

// RequireGeneration reports why no generation provider could be built.
func (a *App) RequireGeneration() error { return a.genErr }

// Close releases backend connections in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Main loads configuration, wires an App, runs fn until it returns or a
// signal arrives, and exits non-zero on failure.
func Main(name string, run func(ctx context.Context, app *App) error) {
	boot := NewLogger(os.Stdout, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	cfg, err := config.Load()
	if err != nil {
		boot.Error("config", "cmd", name, "err", err)
		os.Exit(1)
	}
	logger := NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat).With("cmd", name)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsDone := make(chan struct{})
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	if cfg.MetricsAddr != "" {
		go func() {
			defer close(metricsDone)
			if err := metrics.Serve(metricsCtx, cfg.MetricsAddr, app.Metrics, logger); err != nil {
				logger.Error("metrics server", "err", err)
			}
		}()
	} else {
		close(metricsDone)
	}

	start := time.Now()
	err = run(ctx, app)
	stopMetrics()
	<-metricsDone

	if err != nil {
		logger.Error("failed", "err", err, "duration", time.Since(start))
		app.Close()
		os.Exit(1)
	}
	logger.Info("done", "duration", time.Since(start))
}
