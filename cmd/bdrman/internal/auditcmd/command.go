package auditcmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/bdrman/bdrman/cmd/bdrman/internal"
	"github.com/bdrman/bdrman/pkg/audit"
)

var errAuditDisabled = errors.New("audit trail disabled (AUDIT_DB is empty)")

func NewAuditCommand(opts *internal.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(
		newVerifyCommand(opts),
		newTailCommand(opts),
	)

	return cmd
}

func newVerifyCommand(opts *internal.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the audit hash chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(opts)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Verify(cmd.Context())
			if err != nil {
				return fmt.Errorf("audit chain broken after %d events: %w", n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %d events verified\n", n)
			return nil
		},
	}
}

func newTailCommand(opts *internal.Options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent audit events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(opts)
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of events to show")

	return cmd
}

func openStore(opts *internal.Options) (*audit.SQLiteStore, error) {
	cfg, err := internal.LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	if cfg.AuditDB == "" {
		return nil, errAuditDisabled
	}
	return audit.Open(cfg.AuditDB, []byte(cfg.SessionSecret))
}

func printEvents(w io.Writer, events []audit.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No audit events.")
		return
	}
	for _, e := range events {
		mark := "✓"
		if !e.Success {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s %-14s %-8s %s %s\n",
			e.Timestamp.Local().Format(time.DateTime), mark, e.Type, e.Source, e.Actor, e.Action)
	}
}
