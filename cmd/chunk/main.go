// Command chunk splits every document in DOCUMENTS_DIR into overlapping
// segments and writes one chunk artifact per document plus a manifest.
package main

import (
	"context"

	"github.com/WessleyAI/docqa/pkg/bootstrap"
)

func main() {
	bootstrap.Main("chunk", func(ctx context.Context, app *bootstrap.App) error {
		sum, err := app.Runner.Chunk(ctx)
		if err != nil {
			return err
		}
		for _, f := range sum.Failures {
			app.Logger.Warn("document skipped", "document", f.Document, "source", f.Source, "err", f.Err)
		}
		app.Logger.Info("chunked",
			"documents", sum.Documents,
			"segments", sum.Segments,
			"failures", len(sum.Failures),
			"dir", app.Config.ChunksDir,
		)
		return nil
	})
}
