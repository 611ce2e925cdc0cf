// Command index joins chunks with their embeddings and persists the
// similarity index. When QDRANT_URL is set the vectors are mirrored there too.
package main

import (
	"context"

	"github.com/WessleyAI/docqa/pkg/bootstrap"
)

func main() {
	bootstrap.Main("index", func(ctx context.Context, app *bootstrap.App) error {
		ix, err := app.Runner.BuildIndex(ctx)
		if err != nil {
			return err
		}
		app.Logger.Info("indexed",
			"entries", ix.Len(),
			"metric", ix.Metric(),
			"path", app.Config.IndexPath(),
		)
		return nil
	})
}
