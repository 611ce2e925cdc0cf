package embedder

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/pkg/atomicfile"
)

// Checkpoint is the persisted output of the embed stage.
type Checkpoint struct {
	Model      string
	Dimension  int
	Embeddings []domain.Embedding
	CreatedAt  time.Time
}

// SaveCheckpoint gob-encodes cp to path atomically.
func SaveCheckpoint(path string, cp Checkpoint) error {
	err := atomicfile.Write(path, func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(cp)
	})
	if err != nil {
		return &domain.StorageError{Op: "save embeddings", Path: path, Err: err}
	}
	return nil
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint.
func LoadCheckpoint(path string) (Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Checkpoint{}, &domain.StorageError{Op: "load embeddings", Path: path, Err: err}
	}
	defer f.Close()

	var cp Checkpoint
	if err := gob.NewDecoder(f).Decode(&cp); err != nil {
		return Checkpoint{}, &domain.StorageError{Op: "load embeddings", Path: path, Err: fmt.Errorf("decode: %w", err)}
	}
	return cp, nil
}

// NewCheckpoint builds a checkpoint for embeddings produced by model.
func NewCheckpoint(model string, embs []domain.Embedding) Checkpoint {
	dim := 0
	if len(embs) > 0 {
		dim = len(embs[0].Vector)
	}
	return Checkpoint{Model: model, Dimension: dim, Embeddings: embs, CreatedAt: time.Now().UTC()}
}
