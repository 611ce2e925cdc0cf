// Command pipeline runs chunk, embed, index and ask in sequence.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/pkg/bootstrap"
)

func main() {
	bootstrap.Main("pipeline", func(ctx context.Context, app *bootstrap.App) error {
		if err := app.RequireGeneration(); err != nil {
			return err
		}
		if err := domain.ValidateQuery(app.Config.Query); err != nil {
			return fmt.Errorf("pipeline: QUERY: %w", err)
		}
		ans, sum, err := app.Runner.All(ctx, app.Config.Query)
		if err != nil {
			return err
		}
		app.Logger.Info("pipeline complete",
			"documents", sum.Documents,
			"segments", sum.Segments,
			"failures", len(sum.Failures),
			"sources", len(ans.Sources),
			"took", ans.TimeTaken,
		)
		fmt.Fprintln(os.Stdout, ans.Text)
		return nil
	})
}
