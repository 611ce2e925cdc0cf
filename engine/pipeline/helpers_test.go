package pipeline

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// addDocument drops a file into the fixture's documents directory.
func (f *fixture) addDocument(t *testing.T, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.paths.DocumentsDir, name), data, 0o644); err != nil {
		t.Fatal(err)
	}
}
