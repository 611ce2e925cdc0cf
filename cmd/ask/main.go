// Command ask answers QUERY from the persisted index. With no QUERY and a
// cache configured it replays the cached retrieval instead.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/WessleyAI/docqa/engine/domain"
	"github.com/WessleyAI/docqa/pkg/bootstrap"
)

func main() {
	bootstrap.Main("ask", func(ctx context.Context, app *bootstrap.App) error {
		if err := app.RequireGeneration(); err != nil {
			return err
		}

		var (
			ans domain.Answer
			err error
		)
		switch {
		case app.Config.Query != "":
			ans, err = app.Runner.Ask(ctx, app.Config.Query)
		case app.Config.CachePath() != "":
			app.Logger.Info("no query given, replaying cache", "path", app.Config.CachePath())
			ans, err = app.Runner.Replay(ctx)
		default:
			return errors.New("ask: QUERY is not set")
		}
		if err != nil {
			return err
		}

		for _, s := range ans.Sources {
			app.Logger.Info("source", "rank", s.Rank, "segment", s.ID.String(), "distance", s.Distance)
		}
		app.Logger.Info("answered", "model", ans.Model, "took", ans.TimeTaken)
		fmt.Fprintln(os.Stdout, ans.Text)
		return nil
	})
}
