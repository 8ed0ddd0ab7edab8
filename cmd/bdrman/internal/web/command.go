package web

import (
	"github.com/spf13/cobra"

	"github.com/bdrman/bdrman/cmd/bdrman/internal"
)

func NewWebCommand(opts *internal.Options) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:     "web",
		Aliases: []string{"w"},
		Short:   "Run the web dashboard",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			app, err := internal.Start(opts)
			if err != nil {
				return err
			}
			defer app.Close()
			if listen != "" {
				app.Config.WebListen = listen
			}

			ctx, stop := internal.SignalContext()
			defer stop()
			return app.RunWeb(ctx)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Override WEB_LISTEN (host:port)")

	return cmd
}
