package index

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/WessleyAI/docqa/engine/domain"
)

func fixture(vecs ...[]float32) ([]domain.Segment, []domain.Embedding) {
	segs := make([]domain.Segment, len(vecs))
	embs := make([]domain.Embedding, len(vecs))
	for i, v := range vecs {
		id := domain.SegmentID{Document: "d", Position: i + 1}
		segs[i] = domain.Segment{ID: id, Text: id.String()}
		embs[i] = domain.Embedding{ID: id, Vector: v}
	}
	return segs, embs
}

func TestBuildCountMismatch(t *testing.T) {
	vecs := make([][]float32, 10)
	for i := range vecs {
		vecs[i] = []float32{float32(i)}
	}
	segs, embs := fixture(vecs...)
	ix, err := Build(segs, embs[:9], Options{})
	if ix != nil {
		t.Fatal("index built despite mismatch")
	}
	var cm *domain.CorpusMismatchError
	if !errors.As(err, &cm) || cm.Texts != 10 || cm.Vectors != 9 {
		t.Fatalf("expected 10 vs 9 mismatch, got %v", err)
	}
}

func TestBuildIdentityMismatch(t *testing.T) {
	segs, embs := fixture([]float32{1}, []float32{2}, []float32{3})
	embs[1], embs[2] = embs[2], embs[1]
	_, err := Build(segs, embs, Options{})
	var cm *domain.CorpusMismatchError
	if !errors.As(err, &cm) || cm.Position != 1 {
		t.Fatalf("expected mismatch at position 1, got %v", err)
	}
}

func TestBuildDimensionChecks(t *testing.T) {
	segs, embs := fixture([]float32{1, 2}, []float32{1})
	if _, err := Build(segs, embs, Options{}); !errors.Is(err, domain.ErrCorpusMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	segs, embs = fixture([]float32{})
	if _, err := Build(segs, embs, Options{}); !errors.Is(err, domain.ErrCorpusMismatch) {
		t.Fatalf("expected zero-dimension mismatch, got %v", err)
	}
	if _, err := Build(nil, nil, Options{}); !errors.Is(err, domain.ErrCorpusMismatch) {
		t.Fatalf("expected empty corpus error, got %v", err)
	}
	segs, embs = fixture([]float32{1})
	if _, err := Build(segs, embs, Options{Metric: "manhattan"}); err == nil {
		t.Fatal("expected unknown metric error")
	}
}

func TestSearchRanksAndBreaksTies(t *testing.T) {
	segs, embs := fixture(
		[]float32{5, 0}, // d#1
		[]float32{1, 0}, // d#2 tie with d#3
		[]float32{-1, 0},
		[]float32{0, 0}, // d#4 exact
	)
	ix, err := Build(segs, embs, Options{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	hits, err := ix.Search(context.Background(), []float32{0, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, h := range hits {
		got = append(got, h.ID.String())
	}
	want := []string{"d#4", "d#2", "d#3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranking %v, want %v", got, want)
	}
	if hits[0].Distance != 0 || hits[0].Rank != 1 || hits[2].Rank != 3 {
		t.Fatalf("unexpected hit metadata %+v", hits)
	}

	again, _ := ix.Search(context.Background(), []float32{0, 0}, 3)
	if !reflect.DeepEqual(hits, again) {
		t.Fatal("search is not deterministic")
	}
}

func TestSearchBounds(t *testing.T) {
	segs, embs := fixture([]float32{1}, []float32{2})
	ix, _ := Build(segs, embs, Options{})
	ctx := context.Background()

	if hits, err := ix.Search(ctx, []float32{0}, 0); err != nil || len(hits) != 0 {
		t.Fatalf("k=0: %v %v", hits, err)
	}
	if hits, err := ix.Search(ctx, []float32{0}, 10); err != nil || len(hits) != 2 {
		t.Fatalf("k>n: %v %v", hits, err)
	}
	if _, err := ix.Search(ctx, []float32{0, 1}, 1); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestCosineDistance(t *testing.T) {
	if d := Distance(domain.MetricCosine, []float32{1, 0}, []float32{2, 0}); math.Abs(d) > 1e-9 {
		t.Errorf("parallel vectors: %v", d)
	}
	if d := Distance(domain.MetricCosine, []float32{1, 0}, []float32{0, 1}); math.Abs(d-1) > 1e-9 {
		t.Errorf("orthogonal vectors: %v", d)
	}
	if d := Distance(domain.MetricCosine, []float32{0, 0}, []float32{0, 1}); d != 1 {
		t.Errorf("zero vector: %v", d)
	}
	if d := Distance(domain.MetricL2, []float32{0, 0}, []float32{3, 4}); d != 5 {
		t.Errorf("l2: %v", d)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	segs, embs := fixture([]float32{1, 0}, []float32{0, 1})
	ix, err := Build(segs, embs, Options{Model: "mini", Metric: domain.MetricCosine})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "vs", "store.index")
	if err := ix.Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Model() != "mini" || got.Dimension() != 2 || got.Metric() != domain.MetricCosine || got.Len() != 2 {
		t.Fatalf("metadata lost: %s %d %s %d", got.Model(), got.Dimension(), got.Metric(), got.Len())
	}
	if !reflect.DeepEqual(got.Entries(), ix.Entries()) {
		t.Fatal("entries differ after reload")
	}
	if !got.CreatedAt().Equal(ix.CreatedAt()) {
		t.Fatal("created at differs after reload")
	}
}

func TestLoadFailures(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.index")); !errors.Is(err, domain.ErrRetrieval) {
		t.Fatalf("missing: expected RetrievalError, got %v", err)
	}
	corrupt := filepath.Join(dir, "corrupt.index")
	if err := os.WriteFile(corrupt, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(corrupt); !errors.Is(err, domain.ErrRetrieval) {
		t.Fatalf("corrupt: expected RetrievalError, got %v", err)
	}
}
