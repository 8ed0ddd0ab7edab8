package bot

import (
	"github.com/spf13/cobra"

	"github.com/bdrman/bdrman/cmd/bdrman/internal"
)

func NewBotCommand(opts *internal.Options) *cobra.Command {
	return &cobra.Command{
		Use:     "bot",
		Aliases: []string{"b"},
		Short:   "Run the Telegram bot",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			app, err := internal.Start(opts)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := internal.SignalContext()
			defer stop()
			return app.RunBot(ctx)
		},
	}
}
