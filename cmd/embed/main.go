// Command embed embeds the chunked corpus and writes the embeddings checkpoint.
package main

import (
	"context"

	"github.com/WessleyAI/docqa/pkg/bootstrap"
)

func main() {
	bootstrap.Main("embed", func(ctx context.Context, app *bootstrap.App) error {
		cp, err := app.Runner.Embed(ctx)
		if err != nil {
			return err
		}
		app.Logger.Info("embedded",
			"segments", len(cp.Embeddings),
			"model", cp.Model,
			"dimension", cp.Dimension,
			"path", app.Config.EmbeddingsPath(),
		)
		return nil
	})
}
