// bdrman-bot - remote administration for a single server over Telegram and a
// password-protected web dashboard.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bdrman/bdrman/cmd/bdrman/internal"
	"github.com/bdrman/bdrman/cmd/bdrman/internal/auditcmd"
	"github.com/bdrman/bdrman/cmd/bdrman/internal/bot"
	"github.com/bdrman/bdrman/cmd/bdrman/internal/serve"
	"github.com/bdrman/bdrman/cmd/bdrman/internal/servicecmd"
	"github.com/bdrman/bdrman/cmd/bdrman/internal/status"
	"github.com/bdrman/bdrman/cmd/bdrman/internal/version"
	"github.com/bdrman/bdrman/cmd/bdrman/internal/web"
	"github.com/bdrman/bdrman/pkg/config"
)

func NewBdrmanCommand() *cobra.Command {
	opts := &internal.Options{}
	short := fmt.Sprintf("%s bdrman-bot - server administration over Telegram and the web v%s",
		internal.Logo, internal.FormatVersion())

	cmd := &cobra.Command{
		Use:           "bdrman-bot",
		Short:         short,
		Example:       "bdrman-bot serve --config /etc/bdrman/telegram.conf",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", config.DefaultPath, "Path to the settings file")
	cmd.PersistentFlags().BoolVarP(&opts.Debug, "debug", "d", false, "Enable debug logging")

	cmd.AddCommand(
		bot.NewBotCommand(opts),
		web.NewWebCommand(opts),
		serve.NewServeCommand(opts),
		status.NewStatusCommand(opts),
		auditcmd.NewAuditCommand(opts),
		servicecmd.NewServiceCommand(opts),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewBdrmanCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
