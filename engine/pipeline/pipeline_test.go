package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"github.com/WessleyAI/docqa/engine/chunker"
	"github.com/WessleyAI/docqa/engine/chunkstore"
	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/engine/embedder"
	"github.com/WessleyAI/docqa/engine/rag"
	"github.com/WessleyAI/docqa/engine/semantic"
	"github.com/WessleyAI/docqa/pkg/fn"
)

// bagOfChars embeds text as letter counts, so equal texts are at distance 0.
type bagOfChars struct{}

func (bagOfChars) Model() string { return "bag-of-chars" }

func (bagOfChars) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 26)
		for _, r := range strings.ToLower(t) {
			if r >= 'a' && r <= 'z' {
				v[r-'a']++
			} else if unicode.IsLetter(r) {
				v[0]++
			}
		}
		out[i] = v
	}
	return out, nil
}

type echoGenerator struct{ prompts []string }

func (g *echoGenerator) Model() string { return "echo" }

func (g *echoGenerator) Generate(_ context.Context, prompt string, _ domain.GenerationParams) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return "generated", nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []StageEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev StageEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

type fakeMirror struct {
	metric  domain.Metric
	resets  int
	dims    int
	records []semantic.VectorRecord
	hits    []domain.Hit
}

func (m *fakeMirror) Metric() domain.Metric {
	if m.metric == "" {
		return domain.MetricL2
	}
	return m.metric
}

func (m *fakeMirror) DeleteCollection(context.Context) error {
	m.resets++
	m.records = nil
	return nil
}

func (m *fakeMirror) EnsureCollection(_ context.Context, dims int) error {
	m.dims = dims
	return nil
}

func (m *fakeMirror) Upsert(_ context.Context, records []semantic.VectorRecord) error {
	m.records = append(m.records, records...)
	return nil
}

func (m *fakeMirror) Search(_ context.Context, _ []float32, _ int) ([]domain.Hit, error) {
	return m.hits, nil
}

var docs = map[string]string{
	"alpha.txt": "The quick brown fox jumps over the lazy dog.",
	"beta.txt":  "Pack my box with five dozen liquor jugs.",
	"gamma.txt": "Sphinx of black quartz, judge my vow.",
}

type fixture struct {
	runner   *Runner
	paths    Paths
	gen      *echoGenerator
	notifier *recordingNotifier
	mirror   *fakeMirror
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	root := t.TempDir()
	paths := Paths{
		DocumentsDir:   filepath.Join(root, "docs"),
		ChunksDir:      filepath.Join(root, "chunks"),
		EmbeddingsPath: filepath.Join(root, "emb", "embeddings.gob"),
		IndexPath:      filepath.Join(root, "index", "index.index"),
		CachePath:      filepath.Join(root, "cache", "docs.json"),
	}
	if err := os.MkdirAll(paths.DocumentsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(paths.DocumentsDir, name), []byte(body+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	ch, err := chunker.New(chunker.DefaultSize, chunker.DefaultOverlap)
	if err != nil {
		t.Fatal(err)
	}
	eopts := embedder.DefaultOptions()
	eopts.BatchSize = 2
	eopts.Retry = fn.RetryOpts{MaxAttempts: 1}
	gen := &echoGenerator{}
	f := &fixture{paths: paths, gen: gen, notifier: &recordingNotifier{}, mirror: &fakeMirror{}}
	f.runner = New(paths, Deps{
		Chunker:  ch,
		Embedder: embedder.New(bagOfChars{}, eopts),
		Answerer: rag.NewAnswerer(gen, rag.AnswerOptions{}),
		Mirror:   f.mirror,
		Notifier: f.notifier,
	}, Options{TopK: 3})
	return f
}

func TestEndToEndExactDocumentAtDistanceZero(t *testing.T) {
	f := newFixture(t, docs)
	ctx := context.Background()

	ans, sum, err := f.runner.All(ctx, docs["beta.txt"])
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if sum.Documents != 3 || sum.Segments != 3 || len(sum.Failures) != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if ans.Text != "generated" || ans.Model != "echo" {
		t.Fatalf("unexpected answer %+v", ans)
	}
	if len(ans.Sources) != 3 {
		t.Fatalf("expected 3 sources, got %d", len(ans.Sources))
	}
	top := ans.Sources[0]
	if top.ID != (domain.SegmentID{Document: "beta", Position: 1}) || top.Distance != 0 || top.Rank != 1 {
		t.Fatalf("expected beta#1 at distance 0, got %+v", top)
	}
	if !strings.Contains(f.gen.prompts[0], docs["beta.txt"]) {
		t.Error("prompt should carry the retrieved text")
	}

	// Artifacts from every stage exist.
	for _, p := range []string{
		filepath.Join(f.paths.ChunksDir, "beta Chunks.json"),
		filepath.Join(f.paths.ChunksDir, chunkstore.ManifestFile),
		f.paths.EmbeddingsPath, f.paths.IndexPath, f.paths.CachePath,
	} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing artifact %s: %v", p, err)
		}
	}

	// Manifest order is by name.
	m, err := chunkstore.New(f.paths.ChunksDir, nil).LoadManifest()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, d := range m.Documents {
		names = append(names, d.Document)
	}
	if strings.Join(names, ",") != "alpha,beta,gamma" {
		t.Errorf("manifest order %v", names)
	}

	// The mirror received every entry with its insertion ordinal.
	if f.mirror.dims != 26 || len(f.mirror.records) != 3 || f.mirror.records[2].Ordinal != 2 {
		t.Errorf("unexpected mirror state dims=%d records=%d", f.mirror.dims, len(f.mirror.records))
	}

	stages := map[string]bool{}
	for _, ev := range f.notifier.events {
		if ev.Err != "" {
			t.Errorf("stage %s reported %s", ev.Stage, ev.Err)
		}
		stages[ev.Stage] = true
	}
	for _, s := range []string{StageChunk, StageEmbed, StageIndex, StageAsk} {
		if !stages[s] {
			t.Errorf("no event for stage %s", s)
		}
	}
}

func TestStagesAreIndependentlyRerunnable(t *testing.T) {
	f := newFixture(t, docs)
	ctx := context.Background()
	if _, err := f.runner.Chunk(ctx); err != nil {
		t.Fatal(err)
	}
	first, err := f.runner.Embed(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// A fresh runner over the same paths reads the previous artifacts.
	again := New(f.paths, f.runner.deps, f.runner.opts)
	second, err := again.Embed(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Embeddings) != len(second.Embeddings) {
		t.Fatal("re-embedding changed the corpus")
	}
	for i := range first.Embeddings {
		if first.Embeddings[i].ID != second.Embeddings[i].ID {
			t.Fatalf("order changed at %d", i)
		}
	}
	ix, err := again.BuildIndex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ix.Model() != "bag-of-chars" || ix.Len() != 3 {
		t.Fatalf("unexpected index model=%s len=%d", ix.Model(), ix.Len())
	}
	if _, err := again.BuildIndex(ctx); err != nil {
		t.Fatal(err)
	}
	if f.mirror.resets != 2 || len(f.mirror.records) != 3 {
		t.Errorf("rebuild should replace the mirror, resets=%d records=%d", f.mirror.resets, len(f.mirror.records))
	}
}

func TestChunkCollectsExtractionFailures(t *testing.T) {
	files := map[string]string{"good.txt": "some words here"}
	f := newFixture(t, files)
	f.addDocument(t, "bad.bin", []byte{0xff, 0xfe, 0x00})
	f.addDocument(t, "good.md", []byte("same name"))
	f.addDocument(t, ".hidden", []byte("skip"))

	sum, err := f.runner.Chunk(context.Background())
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if sum.Documents != 1 || len(sum.Manifest.Documents) != 1 {
		t.Fatalf("expected one chunked document, got %+v", sum)
	}
	if len(sum.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %+v", sum.Failures)
	}
	if sum.Failures[0].Document != "bad" {
		t.Errorf("first failure %+v", sum.Failures[0])
	}
	if sum.Failures[1].Document != "good" || !strings.Contains(sum.Failures[1].Err, "already used") {
		t.Errorf("second failure %+v", sum.Failures[1])
	}
}

func TestChunkMissingDirectory(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.paths.DocumentsDir = filepath.Join(t.TempDir(), "nope")
	_, err := f.runner.Chunk(context.Background())
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	ev := f.notifier.events[len(f.notifier.events)-1]
	if ev.Stage != StageChunk || ev.Err == "" {
		t.Errorf("failure should be announced, got %+v", ev)
	}
}

func TestChunkCancelled(t *testing.T) {
	f := newFixture(t, docs)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.runner.Chunk(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.paths.ChunksDir, chunkstore.ManifestFile)); !os.IsNotExist(err) {
		t.Error("no manifest should be written on cancellation")
	}
}

func TestEmbedWithoutManifest(t *testing.T) {
	f := newFixture(t, docs)
	if _, err := f.runner.Embed(context.Background()); !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

func TestIndexRejectsStaleCheckpoint(t *testing.T) {
	f := newFixture(t, docs)
	ctx := context.Background()
	if _, err := f.runner.Chunk(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := f.runner.Embed(ctx); err != nil {
		t.Fatal(err)
	}
	// Add a document and re-chunk without re-embedding.
	f.addDocument(t, "delta.txt", []byte("New text arrives."))
	if _, err := f.runner.Chunk(ctx); err != nil {
		t.Fatal(err)
	}
	_, err := f.runner.BuildIndex(ctx)
	if !errors.Is(err, domain.ErrCorpusMismatch) {
		t.Fatalf("expected ErrCorpusMismatch, got %v", err)
	}
	if _, err := os.Stat(f.paths.IndexPath); !os.IsNotExist(err) {
		t.Error("no index should be written after a mismatch")
	}
}

func TestAskWithoutIndex(t *testing.T) {
	f := newFixture(t, docs)
	if _, err := f.runner.Ask(context.Background(), "anything"); !errors.Is(err, domain.ErrRetrieval) {
		t.Fatalf("expected ErrRetrieval, got %v", err)
	}
}

func TestAskFromMirrorAndReplay(t *testing.T) {
	f := newFixture(t, docs)
	ctx := context.Background()
	if _, _, err := f.runner.All(ctx, docs["alpha.txt"]); err != nil {
		t.Fatal(err)
	}

	f.mirror.hits = []domain.Hit{{ID: domain.SegmentID{Document: "gamma", Position: 1}, Text: "from mirror", Rank: 1}}
	f.runner.opts.SearchMirror = true
	ans, err := f.runner.Ask(ctx, "question")
	if err != nil {
		t.Fatal(err)
	}
	if len(ans.Sources) != 1 || ans.Sources[0].Text != "from mirror" {
		t.Fatalf("expected mirror hits, got %+v", ans.Sources)
	}

	replayed, err := f.runner.Replay(ctx)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed.Query != "question" || replayed.Sources[0].Text != "from mirror" {
		t.Fatalf("replay should use the last cached retrieval, got %+v", replayed)
	}
}

func TestAskIgnoresMirrorWithOtherMetric(t *testing.T) {
	f := newFixture(t, docs)
	ctx := context.Background()
	if _, _, err := f.runner.All(ctx, docs["alpha.txt"]); err != nil {
		t.Fatal(err)
	}

	f.mirror.metric = domain.MetricCosine
	f.mirror.hits = []domain.Hit{{ID: domain.SegmentID{Document: "gamma", Position: 1}, Text: "from mirror", Rank: 1}}
	f.runner.opts.SearchMirror = true
	ans, err := f.runner.Ask(ctx, docs["alpha.txt"])
	if err != nil {
		t.Fatal(err)
	}
	if len(ans.Sources) == 0 || ans.Sources[0].ID.Document != "alpha" || ans.Sources[0].Distance != 0 {
		t.Fatalf("expected local index hits, got %+v", ans.Sources)
	}

	if _, err := f.runner.BuildIndex(ctx); err == nil || !strings.Contains(err.Error(), "mirror uses cosine") {
		t.Fatalf("expected metric mismatch error, got %v", err)
	}
}

func TestAskSearchesIndexByDefault(t *testing.T) {
	f := newFixture(t, docs)
	ctx := context.Background()
	f.mirror.hits = []domain.Hit{{ID: domain.SegmentID{Document: "gamma", Position: 1}, Text: "from mirror", Rank: 1}}
	ans, _, err := f.runner.All(ctx, docs["beta.txt"])
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range ans.Sources {
		if h.Text == "from mirror" {
			t.Fatalf("mirror searched without opting in: %+v", ans.Sources)
		}
	}
}

func TestLoggedTapPassesThrough(t *testing.T) {
	stage := LoggedTap[int]("test", discardLogger())
	v, err := stage(context.Background(), 7).Unwrap()
	if err != nil || v != 7 {
		t.Fatalf("got %d, %v", v, err)
	}
}

func TestTrackRecordsDuration(t *testing.T) {
	f := newFixture(t, nil)
	err := f.runner.track(context.Background(), "custom", func() (int, error) {
		time.Sleep(2 * time.Millisecond)
		return 5, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	ev := f.notifier.events[0]
	if ev.Stage != "custom" || ev.Items != 5 || ev.Duration < 2*time.Millisecond {
		t.Fatalf("unexpected event %+v", ev)
	}
}
