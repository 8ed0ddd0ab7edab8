package servicecmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bdrman/bdrman/cmd/bdrman/internal"
	"github.com/bdrman/bdrman/pkg/service"
)

func NewServiceCommand(opts *internal.Options) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the bdrman-bot systemd unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&mode, "mode", "serve", "Subcommand the unit runs (serve, bot or web)")

	newManager := func() (*service.Manager, error) {
		exePath, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
		return service.NewManager(service.Options{
			ExePath:    exePath,
			ConfigPath: opts.ConfigPath,
			Mode:       mode,
		})
	}

	action := func(use, short, done string, fn func(*service.Manager, context.Context) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := newManager()
				if err != nil {
					return err
				}
				if err := fn(m, cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), done)
				return nil
			},
		}
	}

	cmd.AddCommand(
		action("install", "Install and enable the unit", "✓ Service installed", (*service.Manager).Install),
		action("uninstall", "Disable and remove the unit", "✓ Service removed", (*service.Manager).Uninstall),
		action("start", "Start the unit", "✓ Service started", (*service.Manager).Start),
		action("stop", "Stop the unit", "✓ Service stopped", (*service.Manager).Stop),
		action("restart", "Restart the unit", "✓ Service restarted", (*service.Manager).Restart),
		&cobra.Command{
			Use:   "status",
			Short: "Show the unit status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := newManager()
				if err != nil {
					return err
				}
				st, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}
				printStatus(cmd, m.UnitPath(), st)
				return nil
			},
		},
	)

	return cmd
}

func printStatus(cmd *cobra.Command, unitPath string, st service.Status) {
	out := cmd.OutOrStdout()
	mark := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "✗"
	}
	fmt.Fprintf(out, "Unit:      %s\n", unitPath)
	fmt.Fprintf(out, "Installed: %s\n", mark(st.Installed))
	fmt.Fprintf(out, "Enabled:   %s\n", mark(st.Enabled))
	fmt.Fprintf(out, "Running:   %s\n", mark(st.Running))
	if st.Detail != "" {
		fmt.Fprintf(out, "Detail:    %s\n", st.Detail)
	}
}
