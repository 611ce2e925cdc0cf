// Package config resolves the process configuration once at start-up:
// defaults, then an optional YAML file named by DOCQA_CONFIG, then a .env
// file, then the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileEnv names the optional YAML config file.
const FileEnv = "DOCQA_CONFIG"

// Provider names.
const (
	ProviderHF     = "hfhub"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config is the resolved configuration.
type Config struct {
	DocumentsDir   string `yaml:"documents_dir"`
	ChunksDir      string `yaml:"chunks_dir"`
	EmbeddingsDir  string `yaml:"embeddings_dir"`
	EmbeddingsFile string `yaml:"embeddings_file"`
	IndexDir       string `yaml:"index_dir"`
	IndexFile      string `yaml:"index_file"`
	CacheDir       string `yaml:"cache_dir"`
	CacheFile      string `yaml:"cache_file"`

	Query        string `yaml:"query"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	TopK         int    `yaml:"top_k"`
	IndexMetric  string `yaml:"index_metric"`

	EmbedProvider    string        `yaml:"embed_provider"`
	EmbedModel       string        `yaml:"embed_model"`
	EmbedBatchSize   int           `yaml:"embed_batch_size"`
	EmbedConcurrency int           `yaml:"embed_concurrency"`
	EmbedRateLimit   float64       `yaml:"embed_rate_limit"`
	GenProvider      string        `yaml:"gen_provider"`
	GenModel         string        `yaml:"gen_model"`
	Temperature      float64       `yaml:"temperature"`
	MaxNewTokens     int           `yaml:"max_new_tokens"`
	ServiceTimeout   time.Duration `yaml:"service_timeout"`
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`

	HFToken       string `yaml:"-"`
	HFBaseURL     string `yaml:"hf_base_url"`
	OllamaURL     string `yaml:"ollama_url"`
	OpenAIKey     string `yaml:"-"`
	OpenAIBaseURL string `yaml:"openai_base_url"`

	QdrantURL        string `yaml:"qdrant_url"`
	QdrantCollection string `yaml:"qdrant_collection"`
	QdrantSearch     bool   `yaml:"qdrant_search"`
	NATSURL          string `yaml:"nats_url"`
	NATSSubject      string `yaml:"nats_subject"`
	MetricsAddr      string `yaml:"metrics_addr"`
	LogLevel         string `yaml:"log_level"`
	LogFormat        string `yaml:"log_format"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		DocumentsDir:     "data/documents",
		ChunksDir:        "data/chunks",
		EmbeddingsDir:    "data/embeddings",
		EmbeddingsFile:   "embeddings",
		IndexDir:         "data/index",
		IndexFile:        "index",
		CacheFile:        "similarity_search_docs",
		ChunkSize:        200,
		ChunkOverlap:     75,
		TopK:             4,
		IndexMetric:      "l2",
		EmbedProvider:    ProviderHF,
		EmbedBatchSize:   32,
		EmbedConcurrency: 4,
		GenProvider:      ProviderHF,
		Temperature:      0.1,
		MaxNewTokens:     300,
		ServiceTimeout:   60 * time.Second,
		RetryMaxAttempts: 4,
		QdrantCollection: "docqa",
		NATSSubject:      "docqa.stage",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load resolves the configuration. A missing .env file is not an error.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides fields from the environment. The DIRECTORY_*, SAVING_*
// and HUGGINGFACE* keys are the legacy script names.
func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("DIRECTORY_DOCUMENTS_TO_LOAD", &c.DocumentsDir)
	str("DIRECTORY_FOR_DOCUMENTS_JSON_CHUNKS", &c.ChunksDir)
	str("SAVING_EMBEDDINGS_DIRECTORY", &c.EmbeddingsDir)
	str("SAVING_EMBEDDINGS_FILE_NAME", &c.EmbeddingsFile)
	str("SAVING_VECTORSTORE_DIRECTORY", &c.IndexDir)
	str("SAVING_VECTORSTORE_FILE_NAME", &c.IndexFile)
	str("SAVING_SIMILARITY_SEARCH_DOCS_DIRECTORY", &c.CacheDir)
	str("SAVING_SIMILARITY_SEARCH_DOCS_FILE_NAME", &c.CacheFile)
	str("HUGGINGFACEHUB_API_TOKEN", &c.HFToken)
	str("HUGGINGFACE_REPO_ID", &c.GenModel)
	str("HUGGINGFACE_BASE_URL", &c.HFBaseURL)

	str("QUERY", &c.Query)
	num("CHUNK_SIZE", &c.ChunkSize)
	num("CHUNK_OVERLAP", &c.ChunkOverlap)
	num("TOP_K", &c.TopK)
	str("INDEX_METRIC", &c.IndexMetric)

	str("EMBED_PROVIDER", &c.EmbedProvider)
	str("EMBED_MODEL", &c.EmbedModel)
	num("EMBED_BATCH_SIZE", &c.EmbedBatchSize)
	num("EMBED_CONCURRENCY", &c.EmbedConcurrency)
	float("EMBED_RATE_LIMIT", &c.EmbedRateLimit)
	str("GEN_PROVIDER", &c.GenProvider)
	str("GEN_MODEL", &c.GenModel)
	float("TEMPERATURE", &c.Temperature)
	num("MAX_NEW_TOKENS", &c.MaxNewTokens)
	dur("SERVICE_TIMEOUT", &c.ServiceTimeout)
	num("RETRY_MAX_ATTEMPTS", &c.RetryMaxAttempts)

	str("OLLAMA_URL", &c.OllamaURL)
	str("OPENAI_API_KEY", &c.OpenAIKey)
	str("OPENAI_BASE_URL", &c.OpenAIBaseURL)
	str("QDRANT_URL", &c.QdrantURL)
	str("QDRANT_COLLECTION", &c.QdrantCollection)
	boolean("QDRANT_SEARCH", &c.QdrantSearch)
	str("NATS_URL", &c.NATSURL)
	str("NATS_SUBJECT", &c.NATSSubject)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Validate rejects values no stage could run with.
func (c Config) Validate() error {
	var errs []error
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.ChunkSize, c.ChunkOverlap))
	}
	if c.TopK <= 0 {
		errs = append(errs, fmt.Errorf("top k must be positive, got %d", c.TopK))
	}
	if c.EmbedBatchSize <= 0 || c.EmbedConcurrency <= 0 {
		errs = append(errs, errors.New("embed batch size and concurrency must be positive"))
	}
	if c.EmbedRateLimit < 0 {
		errs = append(errs, errors.New("embed rate limit must not be negative"))
	}
	if c.Temperature < 0 || c.MaxNewTokens <= 0 {
		errs = append(errs, errors.New("temperature must be >= 0 and max new tokens positive"))
	}
	if c.RetryMaxAttempts <= 0 {
		errs = append(errs, errors.New("retry max attempts must be positive"))
	}
	switch strings.ToLower(c.IndexMetric) {
	case "l2", "euclidean", "cosine":
	default:
		errs = append(errs, fmt.Errorf("unknown index metric %q", c.IndexMetric))
	}
	for _, p := range []string{c.EmbedProvider, c.GenProvider} {
		switch p {
		case ProviderHF, ProviderOllama, ProviderOpenAI:
		default:
			errs = append(errs, fmt.Errorf("unknown provider %q", p))
		}
	}
	for name, v := range map[string]string{
		"documents dir": c.DocumentsDir, "chunks dir": c.ChunksDir,
		"embeddings dir": c.EmbeddingsDir, "embeddings file": c.EmbeddingsFile,
		"index dir": c.IndexDir, "index file": c.IndexFile,
	} {
		if v == "" {
			errs = append(errs, fmt.Errorf("%s must be set", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}

// EmbeddingsPath is where the embedding checkpoint lives.
func (c Config) EmbeddingsPath() string {
	return filepath.Join(c.EmbeddingsDir, c.EmbeddingsFile+".gob")
}

// IndexPath is where the index artifact lives.
func (c Config) IndexPath() string {
	return filepath.Join(c.IndexDir, c.IndexFile+".index")
}

// CachePath is where retrieval results are cached, empty when caching is off.
func (c Config) CachePath() string {
	if c.CacheDir == "" || c.CacheFile == "" {
		return ""
	}
	return filepath.Join(c.CacheDir, c.CacheFile+".json")
}
