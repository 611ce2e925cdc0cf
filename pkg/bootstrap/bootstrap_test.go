package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/pkg/config"
	"github.com/WessleyAI/docqa/pkg/hfhub"
	"github.com/WessleyAI/docqa/pkg/ollama"
	"github.com/WessleyAI/docqa/pkg/openaiapi"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, "warn", "json")
	log.Info("hidden")
	log.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered at warn: %q", out)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &rec); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", out, err)
	}
	if rec["msg"] != "shown" || rec["k"] != "v" {
		t.Fatalf("unexpected record %v", rec)
	}

	buf.Reset()
	NewLogger(&buf, "bogus", "").Debug("dropped")
	NewLogger(&buf, "bogus", "").Info("kept")
	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "msg=kept") {
		t.Fatalf("unknown level should fall back to info text output, got %q", buf.String())
	}
}

func TestEmbedServiceProviders(t *testing.T) {
	cfg := config.Default()

	svc, err := EmbedService(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := svc.(*hfhub.EmbedClient); !ok {
		t.Fatalf("default provider: got %T", svc)
	}

	cfg.EmbedProvider, cfg.EmbedModel = config.ProviderOllama, ""
	svc, err = EmbedService(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := svc.(*ollama.EmbedClient); !ok || svc.Model() != OllamaEmbedModel {
		t.Fatalf("ollama: got %T model %q", svc, svc.Model())
	}

	cfg.EmbedProvider = config.ProviderOpenAI
	svc, err = EmbedService(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := svc.(*openaiapi.EmbedClient); !ok {
		t.Fatalf("openai: got %T", svc)
	}

	cfg.EmbedProvider = "carrier-pigeon"
	if _, err := EmbedService(cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestGeneratorProviders(t *testing.T) {
	cfg := config.Default()
	cfg.GenModel = ""
	if _, err := Generator(cfg); err == nil || !strings.Contains(err.Error(), "HUGGINGFACE_REPO_ID") {
		t.Fatalf("hfhub without a model should name the variable, got %v", err)
	}

	cfg.GenModel = "google/flan-t5-large"
	gen, err := Generator(cfg)
	if err != nil || gen.Model() != "google/flan-t5-large" {
		t.Fatalf("hfhub: %v %v", gen, err)
	}

	cfg.GenProvider, cfg.GenModel = config.ProviderOllama, ""
	gen, err = Generator(cfg)
	if err != nil || gen.Model() != OllamaGenModel {
		t.Fatalf("ollama: %v %v", gen, err)
	}

	cfg.GenProvider = "nope"
	if _, err := Generator(cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewWiresRunner(t *testing.T) {
	cfg := config.Default()
	cfg.GenModel = ""
	dir := t.TempDir()
	cfg.DocumentsDir = dir + "/docs"
	cfg.ChunksDir = dir + "/chunks"

	app, err := New(cfg, discard())
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()
	if app.Runner == nil || app.Metrics == nil {
		t.Fatal("runner and metrics should be wired")
	}
	if app.RequireGeneration() == nil {
		t.Fatal("missing generation model should be reported")
	}
}

func TestNewRejectsBadSettings(t *testing.T) {
	cfg := config.Default()
	cfg.IndexMetric = "manhattan"
	if _, err := New(cfg, discard()); err == nil {
		t.Fatal("expected metric error")
	}

	cfg = config.Default()
	cfg.ChunkOverlap = cfg.ChunkSize
	if _, err := New(cfg, discard()); err == nil {
		t.Fatal("expected chunker error")
	}
}

func TestMirrorSearchIsOptIn(t *testing.T) {
	cfg := config.Default()
	if runnerOptions(cfg, domain.MetricL2, discard()).SearchMirror {
		t.Fatal("no mirror configured")
	}
	cfg.QdrantURL = "localhost:6334"
	if runnerOptions(cfg, domain.MetricL2, discard()).SearchMirror {
		t.Fatal("a configured mirror must not be searched unless QdrantSearch is set")
	}
	cfg.QdrantSearch = true
	opts := runnerOptions(cfg, domain.MetricCosine, discard())
	if !opts.SearchMirror || opts.Metric != domain.MetricCosine || opts.TopK != cfg.TopK {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestNewNATSUnreachable(t *testing.T) {
	cfg := config.Default()
	cfg.NATSURL = "nats://127.0.0.1:1"
	if _, err := New(cfg, discard()); err == nil {
		t.Fatal("expected connect error")
	}
}

func TestWiredEmbedderTalksToProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		out := make([][]float32, len(req.Input))
		for i := range out {
			out[i] = []float32{1, 0}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.EmbedProvider, cfg.OllamaURL, cfg.EmbedModel = config.ProviderOllama, srv.URL, "tiny"
	svc, err := EmbedService(cfg)
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := svc.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil || len(vecs) != 2 {
		t.Fatalf("EmbedBatch = %v, %v", vecs, err)
	}
}
