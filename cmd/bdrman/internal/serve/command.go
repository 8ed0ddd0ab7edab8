package serve

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bdrman/bdrman/cmd/bdrman/internal"
	"github.com/bdrman/bdrman/pkg/logger"
)

func NewServeCommand(opts *internal.Options) *cobra.Command {
	var noWeb bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the web dashboard together",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			app, err := internal.Start(opts)
			if err != nil {
				return err
			}
			defer app.Close()

			webEnabled := !noWeb
			if webEnabled {
				if err := app.Config.ValidateWeb(); err != nil {
					logger.WarnCF("bdrman", "Web dashboard disabled", map[string]any{"error": err.Error()})
					webEnabled = false
				}
			}

			ctx, stop := internal.SignalContext()
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return app.RunBot(ctx) })
			if webEnabled {
				g.Go(func() error { return app.RunWeb(ctx) })
			}
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&noWeb, "no-web", false, "Run only the bot")

	return cmd
}
