// Package chunkstore persists each document's segments as
// "<dir>/<name> Chunks.json", an ordered JSON list of {"chunk_<n>": text}
// objects, and records the canonical corpus order in manifest.json.
package chunkstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/pkg/atomicfile"
)

const (
	artifactSuffix = " Chunks"
	// ManifestFile is the name of the corpus manifest inside the store directory.
	ManifestFile = "manifest.json"
)

// ArtifactName returns the artifact name of a document's chunk list.
func ArtifactName(doc string) string { return doc + artifactSuffix }

// Store reads and writes chunk artifacts under one directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New returns a Store rooted at dir. The directory is created on first write.
func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the artifact path for doc.
func (s *Store) Path(doc string) string {
	return filepath.Join(s.dir, ArtifactName(doc)+".json")
}

// Save atomically writes the segments of doc, replacing any previous artifact.
func (s *Store) Save(doc string, segs []domain.Segment) error {
	path := s.Path(doc)
	if err := domain.ValidateDocumentName(doc); err != nil {
		return &domain.StorageError{Op: "save", Path: path, Err: err}
	}
	if err := domain.ValidateSegments(doc, segs); err != nil {
		return &domain.StorageError{Op: "save", Path: path, Err: err}
	}

	entries := make([]map[string]string, len(segs))
	for i, seg := range segs {
		entries[i] = map[string]string{seg.ID.Label(): seg.Text}
	}
	err := atomicfile.Write(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		return enc.Encode(entries)
	})
	if err != nil {
		return &domain.StorageError{Op: "save", Path: path, Err: err}
	}
	s.logger.Debug("chunkstore: saved", "document", doc, "segments", len(segs))
	return nil
}

// Load reads the segments of doc. Labels must run chunk_1..chunk_n in order.
func (s *Store) Load(doc string) ([]domain.Segment, error) {
	path := s.Path(doc)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.StorageError{Op: "load", Path: path, Err: err}
	}
	var entries []map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &domain.StorageError{Op: "load", Path: path, Err: err}
	}

	segs := make([]domain.Segment, 0, len(entries))
	for i, entry := range entries {
		if len(entry) != 1 {
			return nil, &domain.StorageError{Op: "load", Path: path,
				Err: fmt.Errorf("entry %d: expected one key, got %d", i, len(entry))}
		}
		for label, text := range entry {
			pos, err := parseLabel(label)
			if err != nil {
				return nil, &domain.StorageError{Op: "load", Path: path, Err: fmt.Errorf("entry %d: %w", i, err)}
			}
			if pos != i+1 {
				return nil, &domain.StorageError{Op: "load", Path: path,
					Err: fmt.Errorf("entry %d: label %q out of order", i, label)}
			}
			segs = append(segs, domain.Segment{
				ID:   domain.SegmentID{Document: doc, Position: pos},
				Text: text,
			})
		}
	}
	return segs, nil
}

func parseLabel(label string) (int, error) {
	rest, ok := strings.CutPrefix(label, "chunk_")
	if !ok {
		return 0, fmt.Errorf("bad label %q", label)
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("bad label %q", label)
	}
	return n, nil
}

// ManifestEntry describes one chunked document.
type ManifestEntry struct {
	Document string `json:"document"`
	Artifact string `json:"artifact"`
	Source   string `json:"source,omitempty"`
	Segments int    `json:"segments"`
}

// Manifest is the canonical corpus order.
type Manifest struct {
	CreatedAt time.Time       `json:"created_at"`
	ChunkSize int             `json:"chunk_size"`
	Overlap   int             `json:"overlap"`
	Documents []ManifestEntry `json:"documents"`
}

// TotalSegments returns the number of segments across all documents.
func (m Manifest) TotalSegments() int {
	n := 0
	for _, d := range m.Documents {
		n += d.Segments
	}
	return n
}

// SaveManifest sorts the documents by name and writes manifest.json.
func (s *Store) SaveManifest(m Manifest) error {
	path := filepath.Join(s.dir, ManifestFile)
	docs := append([]ManifestEntry(nil), m.Documents...)
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Document < docs[j].Document })
	for i := 1; i < len(docs); i++ {
		if docs[i].Document == docs[i-1].Document {
			return &domain.StorageError{Op: "save manifest", Path: path,
				Err: fmt.Errorf("duplicate document %q", docs[i].Document)}
		}
	}
	m.Documents = docs

	err := atomicfile.Write(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	})
	if err != nil {
		return &domain.StorageError{Op: "save manifest", Path: path, Err: err}
	}
	return nil
}

// LoadManifest reads manifest.json.
func (s *Store) LoadManifest() (Manifest, error) {
	path := filepath.Join(s.dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("no manifest, run the chunk stage first: %w", err)
		}
		return Manifest{}, &domain.StorageError{Op: "load manifest", Path: path, Err: err}
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, &domain.StorageError{Op: "load manifest", Path: path, Err: err}
	}
	return m, nil
}

// Corpus loads every document in manifest order and returns the flat,
// ordered segment list. Segment counts must match the manifest.
func (s *Store) Corpus() ([]domain.Segment, Manifest, error) {
	m, err := s.LoadManifest()
	if err != nil {
		return nil, Manifest{}, err
	}
	corpus := make([]domain.Segment, 0, m.TotalSegments())
	for _, entry := range m.Documents {
		segs, err := s.Load(entry.Document)
		if err != nil {
			return nil, Manifest{}, err
		}
		if len(segs) != entry.Segments {
			return nil, Manifest{}, &domain.StorageError{Op: "load corpus", Path: s.Path(entry.Document),
				Err: fmt.Errorf("manifest lists %d segments, artifact has %d", entry.Segments, len(segs))}
		}
		corpus = append(corpus, segs...)
	}
	s.logger.Debug("chunkstore: corpus loaded", "documents", len(m.Documents), "segments", len(corpus))
	return corpus, m, nil
}
