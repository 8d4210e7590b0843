package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the mailbox and stage new contacts",
	Long:  "Searches the mailbox from the last checkpoint up to today, extracts sender phone numbers, and stages contacts that still need reconciliation.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("scan"); err != nil {
			return err
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mb, err := initSearcher(ctx, cfg)
		if err != nil {
			return err
		}

		run, err := newScanner(st, mb, cfg).Run(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "scan %s: %d messages, %d senders, %d staged\n",
			truncateID(run.ID), run.Stats.Messages, run.Stats.Senders, run.Stats.Staged)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
