// Package index joins segment texts with their embeddings into an exact
// k-nearest-neighbour index that can be saved and loaded as one artifact.
package index

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"

	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/pkg/atomicfile"
)

// Entry is one indexed segment.
type Entry struct {
	ID     domain.SegmentID
	Text   string
	Vector []float32
}

// Options configures Build.
type Options struct {
	Model  string
	Metric domain.Metric
}

// Index is immutable after Build or Load.
type Index struct {
	model     string
	dimension int
	metric    domain.Metric
	entries   []Entry
	createdAt time.Time
}

// Build joins segments and embeddings position by position. Any count,
// identity or dimension disagreement is a *domain.CorpusMismatchError and
// nothing is built.
func Build(segs []domain.Segment, embs []domain.Embedding, opts Options) (*Index, error) {
	if len(segs) != len(embs) {
		return nil, &domain.CorpusMismatchError{Texts: len(segs), Vectors: len(embs), Position: -1}
	}
	if len(segs) == 0 {
		return nil, &domain.CorpusMismatchError{Position: -1, Reason: "empty corpus"}
	}
	metric := opts.Metric
	if metric == "" {
		metric = domain.MetricL2
	}
	if metric != domain.MetricL2 && metric != domain.MetricCosine {
		return nil, fmt.Errorf("index: build: unknown metric %q", metric)
	}

	dim := len(embs[0].Vector)
	entries := make([]Entry, len(segs))
	for i := range segs {
		mismatch := func(reason string) error {
			return &domain.CorpusMismatchError{Texts: len(segs), Vectors: len(embs), Position: i, Reason: reason}
		}
		if segs[i].ID != embs[i].ID {
			return nil, mismatch(fmt.Sprintf("segment %s paired with embedding %s", segs[i].ID, embs[i].ID))
		}
		if len(embs[i].Vector) == 0 {
			return nil, mismatch("zero-length vector")
		}
		if len(embs[i].Vector) != dim {
			return nil, mismatch(fmt.Sprintf("vector dimension %d, expected %d", len(embs[i].Vector), dim))
		}
		entries[i] = Entry{ID: segs[i].ID, Text: segs[i].Text, Vector: embs[i].Vector}
	}
	return &Index{
		model:     opts.Model,
		dimension: dim,
		metric:    metric,
		entries:   entries,
		createdAt: time.Now().UTC(),
	}, nil
}

func (ix *Index) Model() string { return ix.model }
func (ix *Index) Dimension() int { return ix.dimension }
func (ix *Index) Metric() domain.Metric { return ix.metric }
func (ix *Index) Len() int { return len(ix.entries) }
func (ix *Index) CreatedAt() time.Time { return ix.createdAt }
func (ix *Index) Entries() []Entry { return ix.entries }

// Search returns the k entries nearest to vec by ascending distance. Ties
// keep insertion order.
func (ix *Index) Search(ctx context.Context, vec []float32, k int) ([]domain.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vec) != ix.dimension {
		return nil, fmt.Errorf("index: search: query dimension %d, index dimension %d", len(vec), ix.dimension)
	}
	if k <= 0 {
		return []domain.Hit{}, nil
	}

	type scored struct {
		pos  int
		dist float64
	}
	all := make([]scored, len(ix.entries))
	for i, e := range ix.entries {
		all[i] = scored{pos: i, dist: Distance(ix.metric, vec, e.Vector)}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].dist < all[j].dist })

	k = min(k, len(all))
	hits := make([]domain.Hit, k)
	for r := 0; r < k; r++ {
		e := ix.entries[all[r].pos]
		hits[r] = domain.Hit{ID: e.ID, Text: e.Text, Distance: float32(all[r].dist), Rank: r + 1}
	}
	return hits, nil
}

// Distance computes the metric's distance between equal-length vectors.
func Distance(metric domain.Metric, a, b []float32) float64 {
	switch metric {
	case domain.MetricCosine:
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 1
		}
		return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	default:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return math.Sqrt(sum)
	}
}

// file is the on-disk form of an Index.
type file struct {
	Model     string
	Dimension int
	Metric    string
	Entries   []Entry
	CreatedAt time.Time
}

// Save writes the index atomically, creating the directory if needed.
func (ix *Index) Save(path string) error {
	f := file{
		Model:     ix.model,
		Dimension: ix.dimension,
		Metric:    string(ix.metric),
		Entries:   ix.entries,
		CreatedAt: ix.createdAt,
	}
	err := atomicfile.Write(path, func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(f)
	})
	if err != nil {
		return &domain.StorageError{Op: "save index", Path: path, Err: err}
	}
	return nil
}

// Load reads an index written by Save. A missing or corrupt artifact is a
// *domain.RetrievalError.
func Load(path string) (*Index, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, &domain.RetrievalError{Path: path, Err: err}
	}
	defer fh.Close()

	var f file
	if err := gob.NewDecoder(fh).Decode(&f); err != nil {
		return nil, &domain.RetrievalError{Path: path, Err: fmt.Errorf("decode index: %w", err)}
	}
	metric, err := domain.ParseMetric(f.Metric)
	if err != nil {
		return nil, &domain.RetrievalError{Path: path, Err: err}
	}
	if f.Dimension <= 0 || len(f.Entries) == 0 {
		return nil, &domain.RetrievalError{Path: path, Err: fmt.Errorf("index is empty")}
	}
	for i, e := range f.Entries {
		if len(e.Vector) != f.Dimension {
			return nil, &domain.RetrievalError{Path: path, Err: fmt.Errorf("entry %d: dimension %d, expected %d", i, len(e.Vector), f.Dimension)}
		}
	}
	return &Index{
		model:     f.Model,
		dimension: f.Dimension,
		metric:    metric,
		entries:   f.Entries,
		createdAt: f.CreatedAt,
	}, nil
}
