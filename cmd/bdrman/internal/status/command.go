package status

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdrman/bdrman/cmd/bdrman/internal"
	"github.com/bdrman/bdrman/pkg/ops"
)

func NewStatusCommand(opts *internal.Options) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"s"},
		Short:   "Show host status",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := internal.LoadConfig(opts)
			if err != nil {
				return err
			}

			stats, err := ops.New(ops.Options{BdrmanBin: cfg.BdrmanBin}).Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("collecting host stats: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ops.FormatStatus(cfg.ServerName, stats))
			return nil
		},
	}
}
